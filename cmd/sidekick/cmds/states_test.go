package cmds

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/embernet/sidekick-sub000/pkg/events"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateReporter_PrintsTransitionsOnly(t *testing.T) {
	var buf bytes.Buffer
	handle := events.DispatchTo(&stateReporter{w: &buf})
	meta := events.NewEventMetadata("", "inf-1")

	for _, e := range []events.Event{
		events.NewStateChangedEvent(meta, "ready", "waiting"),
		events.NewPartialCompletionEvent(meta, "Hi", "Hi"),
		events.NewFinalEvent(meta, "Hi"),
		events.NewErrorEvent(meta, errors.New("boom")),
		events.NewInterruptEvent(meta, "Hi (stopped by user)"),
		events.NewStateChangedEvent(meta, "waiting", "ready"),
	} {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		require.NoError(t, handle(message.NewMessage(watermill.NewUUID(), b)))
	}

	assert.Equal(t, "[ready -> waiting]\n[waiting -> ready]\n", buf.String())
}
