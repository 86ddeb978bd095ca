package stream

import (
	"context"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, d *Decoder) []Delta {
	t.Helper()
	var ret []Delta
	for i := 0; i < 10000; i++ {
		delta := d.Next(context.Background())
		ret = append(ret, delta)
		if delta.Done {
			return ret
		}
	}
	t.Fatal("decoder never finished")
	return nil
}

func TestDecoder_EmitsChunksThenDone(t *testing.T) {
	d := NewDecoder(NewSliceSource("Hi", " there"))
	deltas := drain(t, d)

	require.Equal(t, []Delta{{Text: "Hi"}, {Text: " there"}, {Done: true}}, deltas)
	require.NoError(t, d.Err())
	assert.False(t, d.Cancelled())
	assert.Equal(t, 2, d.Count())

	// stays terminal
	assert.Equal(t, Delta{Done: true}, d.Next(context.Background()))
}

func TestDecoder_ConcatenationRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	alphabet := []rune("abc xyz\n\tÅß日本語🙂")

	for iter := 0; iter < 200; iter++ {
		var chunks []string
		n := r.Intn(20)
		for i := 0; i < n; i++ {
			l := r.Intn(8)
			var sb strings.Builder
			for j := 0; j < l; j++ {
				sb.WriteRune(alphabet[r.Intn(len(alphabet))])
			}
			chunks = append(chunks, sb.String())
		}

		deltas := drain(t, NewDecoder(NewSliceSource(chunks...)))

		var sb strings.Builder
		doneCount := 0
		for i, delta := range deltas {
			if delta.Done {
				doneCount++
				assert.Equal(t, len(deltas)-1, i, "done must be last")
				continue
			}
			sb.WriteString(delta.Text)
		}
		require.Equal(t, 1, doneCount)
		require.Equal(t, strings.Join(chunks, ""), sb.String())
		require.Len(t, deltas, len(chunks)+1)
	}
}

func TestDecoder_SourceErrorEndsWithDone(t *testing.T) {
	calls := 0
	src := ChunkSourceFunc(func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "partial", nil
		}
		return "", errors.New("connection reset")
	})

	d := NewDecoder(src)
	deltas := drain(t, d)
	require.Equal(t, []Delta{{Text: "partial"}, {Done: true}}, deltas)
	require.EqualError(t, d.Err(), "connection reset")
	assert.False(t, d.Cancelled())
}

func TestDecoder_CancelStopsBeforeNextRead(t *testing.T) {
	cancel := NewCancelSignal()
	reads := 0
	src := ChunkSourceFunc(func(ctx context.Context) (string, error) {
		reads++
		return "x", nil
	})
	d := NewDecoder(src, WithCancelSignal(cancel))

	assert.Equal(t, Delta{Text: "x"}, d.Next(context.Background()))
	assert.True(t, cancel.Set())
	assert.False(t, cancel.Set())

	assert.Equal(t, Delta{Done: true}, d.Next(context.Background()))
	assert.Equal(t, 1, reads)
	assert.True(t, d.Cancelled())
	assert.NoError(t, d.Err())
}

func TestDecoder_ChunkArrivingAfterCancelIsDropped(t *testing.T) {
	cancel := NewCancelSignal()
	src := ChunkSourceFunc(func(ctx context.Context) (string, error) {
		// the stop request lands while this read is in flight
		cancel.Set()
		return "late", nil
	})
	d := NewDecoder(src, WithCancelSignal(cancel))
	assert.Equal(t, Delta{Done: true}, d.Next(context.Background()))
	assert.True(t, d.Cancelled())
	assert.Equal(t, 0, d.Count())
}

func TestDecoder_ContextCancellationIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chunks := make(chan string)
	d := NewDecoder(NewChannelSource(chunks, nil))

	cancel()
	assert.Equal(t, Delta{Done: true}, d.Next(ctx))
	assert.True(t, d.Cancelled())
	assert.NoError(t, d.Err())
}

func TestDecoder_TextWithEOF(t *testing.T) {
	calls := 0
	src := ChunkSourceFunc(func(ctx context.Context) (string, error) {
		calls++
		return "last", io.EOF
	})
	deltas := drain(t, NewDecoder(src))
	require.Equal(t, []Delta{{Text: "last"}, {Done: true}}, deltas)
	assert.Equal(t, 1, calls)
}

func TestDecoder_Collect(t *testing.T) {
	s, err := NewDecoder(NewSliceSource("a", "b", "c")).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", s)
}

func TestChannelSource_ReportsProducerError(t *testing.T) {
	chunks := make(chan string, 2)
	errs := make(chan error, 1)
	chunks <- "one"
	errs <- errors.New("upstream closed")
	close(chunks)

	d := NewDecoder(NewChannelSource(chunks, errs))
	deltas := drain(t, d)
	require.Equal(t, []Delta{{Text: "one"}, {Done: true}}, deltas)
	require.EqualError(t, d.Err(), "upstream closed")
}

func TestReaderSource_KeepsRunesWhole(t *testing.T) {
	text := "héllo 日本語 🙂 done"
	// one byte per Read splits every multi-byte rune
	src := NewReaderSource(iotest.OneByteReader(strings.NewReader(text)), 16)
	d := NewDecoder(src)

	var sb strings.Builder
	for _, delta := range drain(t, d) {
		if delta.Done {
			continue
		}
		require.True(t, utf8.ValidString(delta.Text), "chunk %q is not valid utf-8", delta.Text)
		sb.WriteString(delta.Text)
	}
	require.NoError(t, d.Err())
	assert.Equal(t, text, sb.String())
}

func TestReaderSource_ReadError(t *testing.T) {
	r := io.MultiReader(strings.NewReader("abc"), iotest.ErrReader(errors.New("broken pipe")))
	d := NewDecoder(NewReaderSource(r, 2))

	s, err := d.Collect(context.Background())
	require.EqualError(t, err, "broken pipe")
	assert.Equal(t, "abc", s)
}

func TestCancelSignal_NilSafe(t *testing.T) {
	var c *CancelSignal
	assert.False(t, c.IsSet())
	assert.False(t, c.Set())
}
