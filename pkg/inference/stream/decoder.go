package stream

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Decoder turns a ChunkSource into a sequence of deltas. Each chunk becomes one
// text delta, unchanged, followed by a single Done delta. When the source
// fails mid-stream the decoder still ends with a Done delta and keeps the
// error for Err.
//
// A Decoder is consumed by a single goroutine.
type Decoder struct {
	src    ChunkSource
	cancel *CancelSignal

	done      bool
	pending   bool
	cancelled bool
	err       error
	count     int
}

type DecoderOption func(*Decoder)

// WithCancelSignal makes the decoder stop reading once the signal is set.
func WithCancelSignal(c *CancelSignal) DecoderOption {
	return func(d *Decoder) {
		d.cancel = c
	}
}

func NewDecoder(src ChunkSource, options ...DecoderOption) *Decoder {
	ret := &Decoder{src: src}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Next blocks until the next delta is available. After the Done delta has been
// returned, Next keeps returning Done.
func (d *Decoder) Next(ctx context.Context) Delta {
	if d.done {
		return doneDelta
	}
	if d.pending {
		return d.finish()
	}
	if d.cancel.IsSet() || ctx.Err() != nil {
		d.cancelled = true
		return d.finish()
	}

	text, err := d.src.Recv(ctx)
	if d.cancel.IsSet() {
		// a chunk that arrives after the stop request is dropped
		d.cancelled = true
		return d.finish()
	}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		if text == "" {
			return d.finish()
		}
		d.pending = true
	case ctx.Err() != nil:
		d.cancelled = true
		return d.finish()
	default:
		log.Debug().Err(err).Int("delta_count", d.count).Msg("chunk source failed mid-stream")
		d.err = err
		return d.finish()
	}

	d.count++
	return Delta{Text: text}
}

func (d *Decoder) finish() Delta {
	d.done = true
	d.pending = false
	return doneDelta
}

// Err returns the source error that ended the stream early, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Cancelled reports whether the stream ended because of a stop request or a
// cancelled context rather than reaching its end.
func (d *Decoder) Cancelled() bool {
	return d.cancelled
}

func (d *Decoder) Done() bool {
	return d.done
}

// Count is the number of text deltas returned so far.
func (d *Decoder) Count() int {
	return d.count
}

func (d *Decoder) Close() error {
	if c, ok := d.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Collect drains the decoder and returns the concatenated text.
func (d *Decoder) Collect(ctx context.Context) (string, error) {
	var sb strings.Builder
	for {
		delta := d.Next(ctx)
		if delta.Done {
			return sb.String(), d.Err()
		}
		sb.WriteString(delta.Text)
	}
}
