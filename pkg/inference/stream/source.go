package stream

import (
	"context"
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// ChunkSource is an ordered source of text chunks. Recv returns io.EOF once the
// stream has ended.
type ChunkSource interface {
	Recv(ctx context.Context) (string, error)
}

type ChunkSourceFunc func(ctx context.Context) (string, error)

func (f ChunkSourceFunc) Recv(ctx context.Context) (string, error) {
	return f(ctx)
}

type sliceSource struct {
	chunks []string
	pos    int
}

// NewSliceSource replays a fixed list of chunks.
func NewSliceSource(chunks ...string) ChunkSource {
	return &sliceSource{chunks: chunks}
}

func (s *sliceSource) Recv(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

const DefaultReaderBufferSize = 4096

type readerSource struct {
	r     io.Reader
	buf   []byte
	carry []byte
	eof   bool
	err   error
}

// NewReaderSource turns a raw text body into chunks, one per Read call.
// A multi-byte UTF-8 sequence split across two reads is held back until it is
// complete, so every chunk is valid text on its own.
func NewReaderSource(r io.Reader, bufSize int) ChunkSource {
	if bufSize <= 0 {
		bufSize = DefaultReaderBufferSize
	}
	return &readerSource{r: r, buf: make([]byte, bufSize)}
}

func (s *readerSource) Recv(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if s.err != nil {
			return "", s.err
		}
		if s.eof {
			if len(s.carry) > 0 {
				chunk := string(s.carry)
				s.carry = nil
				return chunk, nil
			}
			return "", io.EOF
		}

		n, err := s.r.Read(s.buf)
		data := append(s.carry, s.buf[:n]...)
		s.carry = nil
		if err != nil {
			if !errors.Is(err, io.EOF) {
				if len(data) == 0 {
					return "", err
				}
				// deliver what was read, fail on the next call
				s.err = err
				return string(data), nil
			}
			s.eof = true
		}
		if len(data) == 0 {
			continue
		}

		cut := incompleteSuffix(data)
		if cut > 0 && !s.eof {
			s.carry = append([]byte(nil), data[len(data)-cut:]...)
			data = data[:len(data)-cut]
		}
		if len(data) == 0 {
			continue
		}
		return string(data), nil
	}
}

func (s *readerSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// incompleteSuffix returns how many trailing bytes form the start of a UTF-8
// sequence that is not complete yet.
func incompleteSuffix(b []byte) int {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if utf8.RuneStart(c) {
			if utf8.FullRune(b[len(b)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}

type channelSource struct {
	chunks <-chan string
	errs   <-chan error
}

// NewChannelSource reads chunks from a channel. The producer closes chunks at
// the end of the stream and may report a failure on errs before doing so.
func NewChannelSource(chunks <-chan string, errs <-chan error) ChunkSource {
	return &channelSource{chunks: chunks, errs: errs}
}

func (s *channelSource) Recv(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if s.errs != nil {
			select {
			case err, ok := <-s.errs:
				if ok && err != nil {
					return "", err
				}
			default:
			}
		}
		return "", io.EOF
	}
}
