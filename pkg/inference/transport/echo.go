package transport

import (
	"context"
	"io"
	"time"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/inference/request"
	"github.com/embernet/sidekick-sub000/pkg/inference/stream"
	"github.com/pkg/errors"
)

// EchoTransport answers every prompt with the prompt itself. Streams are
// delivered word by word, TimePerChunk apart.
type EchoTransport struct {
	TimePerChunk time.Duration
	// Prefix is prepended to every answer.
	Prefix string
}

var _ Transport = &EchoTransport{}

func NewEchoTransport() *EchoTransport {
	return &EchoTransport{
		TimePerChunk: 50 * time.Millisecond,
	}
}

func (e *EchoTransport) answer(req *request.Request) (string, error) {
	if req == nil || req.Prompt == "" {
		return "", NewTransportError("echo", 0, errors.New("no input"))
	}
	return e.Prefix + req.Prompt, nil
}

func (e *EchoTransport) SendNonStreaming(ctx context.Context, req *request.Request) (*Response, error) {
	text, err := e.answer(req)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, NewTransportError("echo", 0, ctx.Err())
	case <-time.After(e.TimePerChunk):
	}
	return &Response{Message: conversation.NewAssistantMessage(text)}, nil
}

func (e *EchoTransport) SendStreaming(ctx context.Context, req *request.Request, cancel *stream.CancelSignal) (*stream.Decoder, error) {
	text, err := e.answer(req)
	if err != nil {
		return nil, err
	}

	chunks := SplitWords(text)
	idx := 0
	src := stream.ChunkSourceFunc(func(ctx context.Context) (string, error) {
		if idx >= len(chunks) {
			return "", io.EOF
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(e.TimePerChunk):
		}
		c := chunks[idx]
		idx++
		return c, nil
	})

	return stream.NewDecoder(src, stream.WithCancelSignal(cancel)), nil
}

// SplitWords cuts text into chunks that each start at a word boundary and
// keep their leading whitespace, so joining them restores the text.
func SplitWords(text string) []string {
	var ret []string
	start := 0
	inSpace := false
	for i, r := range text {
		isSpace := r == ' ' || r == '\n' || r == '\t'
		if isSpace && !inSpace && i > start {
			ret = append(ret, text[start:i])
			start = i
		}
		inSpace = isSpace
	}
	if start < len(text) {
		ret = append(ret, text[start:])
	}
	return ret
}
