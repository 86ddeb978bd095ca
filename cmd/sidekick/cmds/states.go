package cmds

import (
	"context"
	"fmt"
	"io"

	"github.com/embernet/sidekick-sub000/pkg/events"
	"github.com/rs/zerolog/log"
)

// stateReporter prints session state transitions for --show-states and logs
// how each request ended.
type stateReporter struct {
	w io.Writer
}

var _ events.ChatEventHandler = &stateReporter{}

func (s *stateReporter) HandleStateChanged(_ context.Context, e *events.EventStateChanged) error {
	_, err := fmt.Fprintf(s.w, "[%s -> %s]\n", e.Previous, e.State)
	return err
}

func (s *stateReporter) HandlePartialCompletion(context.Context, *events.EventPartialCompletion) error {
	return nil
}

func (s *stateReporter) HandleFinal(_ context.Context, e *events.EventFinal) error {
	log.Debug().Str("inference_id", e.Metadata().InferenceID).Int("length", len(e.Text)).Msg("answer completed")
	return nil
}

func (s *stateReporter) HandleError(_ context.Context, e *events.EventError) error {
	log.Debug().Str("inference_id", e.Metadata().InferenceID).Str("error", e.ErrorString).Msg("answer failed")
	return nil
}

func (s *stateReporter) HandleInterrupt(_ context.Context, e *events.EventInterrupt) error {
	log.Debug().Str("inference_id", e.Metadata().InferenceID).Msg("answer stopped")
	return nil
}
