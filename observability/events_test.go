package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"dripfarm/core/events"
	"dripfarm/core/types"
)

type stubEvent string

func (e stubEvent) EventType() string { return string(e) }

func (e stubEvent) Event() *types.Event { return &types.Event{Type: string(e)} }

func TestCountingEmitterForwardsAndCounts(t *testing.T) {
	rec := events.NewRecorder(0)
	emitter := CountingEmitter{Next: rec}
	counter := Events().emitted.WithLabelValues("test.counted")
	before := testutil.ToFloat64(counter)

	emitter.Emit(stubEvent("test.counted"))
	emitter.Emit(stubEvent("test.counted"))
	emitter.Emit(nil)

	require.Len(t, rec.Events(), 2)
	require.Equal(t, before+2, testutil.ToFloat64(counter))

	// A missing downstream emitter still counts.
	CountingEmitter{}.Emit(stubEvent("test.counted"))
	require.Equal(t, before+3, testutil.ToFloat64(counter))
}
