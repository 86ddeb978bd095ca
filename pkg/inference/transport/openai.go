package transport

import (
	"context"
	"io"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/inference/request"
	"github.com/embernet/sidekick-sub000/pkg/inference/stream"
	"github.com/embernet/sidekick-sub000/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// OpenAITransport sends requests to any OpenAI compatible endpoint, which
// includes local servers such as ollama when BaseURL points at them.
type OpenAITransport struct {
	client *go_openai.Client
	opts   *options
}

var _ Transport = &OpenAITransport{}

func NewOpenAITransport(cs *settings.ClientSettings, opts ...Option) (*OpenAITransport, error) {
	if cs == nil {
		return nil, errors.New("no client settings")
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}

	o := newOptions(opts...)
	if o.limiter == nil {
		o.limiter = NewLimiter(cs.RequestsPerMinute)
	}
	o.timeout = cs.GetTimeout()

	config := go_openai.DefaultConfig(cs.APIKey)
	if cs.BaseURL != "" {
		config.BaseURL = cs.BaseURL
	}
	client := o.httpClient
	if client == nil {
		client = NewHTTPClient(o.timeout)
	}
	config.HTTPClient = client

	return &OpenAITransport{
		client: go_openai.NewClientWithConfig(config),
		opts:   o,
	}, nil
}

// MakeCompletionRequest maps a request onto the OpenAI chat completion shape.
func MakeCompletionRequest(req *request.Request, streaming bool) (*go_openai.ChatCompletionRequest, error) {
	if req == nil || req.ModelSettings == nil {
		return nil, errors.New("no model settings in request")
	}
	ms := req.ModelSettings

	var msgs []go_openai.ChatCompletionMessage
	for _, m := range req.Messages() {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	ret := &go_openai.ChatCompletionRequest{
		Model:    ms.Model,
		Messages: msgs,
		Stream:   streaming,
	}
	if ms.Temperature != nil {
		ret.Temperature = float32(*ms.Temperature)
	}
	if ms.TopP != nil {
		ret.TopP = float32(*ms.TopP)
	}
	if ms.MaxResponseTokens != nil {
		ret.MaxTokens = *ms.MaxResponseTokens
	}
	if len(ms.Stop) > 0 {
		ret.Stop = ms.Stop
	}

	return ret, nil
}

func wrapOpenAIError(op string, err error) error {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		return NewTransportError(op, apiErr.HTTPStatusCode, err)
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		return NewTransportError(op, reqErr.HTTPStatusCode, err)
	}
	return NewTransportError(op, 0, err)
}

func (t *OpenAITransport) SendNonStreaming(ctx context.Context, req *request.Request) (*Response, error) {
	const op = "openai chat"

	if err := t.opts.wait(ctx, op); err != nil {
		return nil, err
	}
	oreq, err := MakeCompletionRequest(req, false)
	if err != nil {
		return nil, NewTransportError(op, 0, err)
	}

	ctx, cancel := t.opts.withTimeout(ctx)
	defer cancel()

	resp, err := t.client.CreateChatCompletion(ctx, *oreq)
	if err != nil {
		return nil, wrapOpenAIError(op, err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewTransportError(op, 0, errors.New("response has no choices"))
	}

	log.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Msg("openai completion finished")

	return &Response{
		Message: conversation.NewAssistantMessage(resp.Choices[0].Message.Content),
	}, nil
}

func (t *OpenAITransport) SendStreaming(ctx context.Context, req *request.Request, cancel *stream.CancelSignal) (*stream.Decoder, error) {
	const op = "openai chat stream"

	if err := t.opts.wait(ctx, op); err != nil {
		return nil, err
	}
	oreq, err := MakeCompletionRequest(req, true)
	if err != nil {
		return nil, NewTransportError(op, 0, err)
	}

	s, err := t.client.CreateChatCompletionStream(ctx, *oreq)
	if err != nil {
		return nil, wrapOpenAIError(op, err)
	}

	return stream.NewDecoder(&openAISource{stream: s, op: op}, stream.WithCancelSignal(cancel)), nil
}

// openAISource adapts a chat completion stream to a ChunkSource. Responses
// without content (role announcements, usage) are skipped.
type openAISource struct {
	stream *go_openai.ChatCompletionStream
	op     string
}

func (s *openAISource) Recv(ctx context.Context) (string, error) {
	for {
		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", wrapOpenAIError(s.op, err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			if response.Choices[0].FinishReason != "" {
				return "", io.EOF
			}
			continue
		}
		return delta, nil
	}
}

func (s *openAISource) Close() error {
	s.stream.Close()
	return nil
}
