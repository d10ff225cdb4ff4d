package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageSiteStart))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(sampleEvent(StagePageDone))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageRunStart))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int64(1), hub.Dropped(), "first drop is logged and reset, second is counted")
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)

	hub.Emit(sampleEvent(StageImageDone))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, sink.Batches(), 1)
	assert.Len(t, sink.Batches()[0], 1)
	assert.True(t, sink.closed)

	hub.Emit(sampleEvent(StageImageDone))
	assert.Len(t, sink.Batches(), 1, "emits after close are ignored")
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Stage: StageRunStart})
	evt := sampleEvent(StagePageDone)
	evt.Verdict = ""
	hub.Emit(evt)
	require.NoError(t, hub.Close(context.Background()))
	assert.Empty(t, sink.Batches())

	var nilHub *Hub
	nilHub.Emit(sampleEvent(StageRunStart))
	assert.NoError(t, nilHub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	for _, stage := range []Stage{StageRunStart, StageRunDone, StageSiteStart, StageSiteDone, StageSiteError, StagePageDone, StageImageDone} {
		assert.NoError(t, sampleEvent(stage).Validate(), stage)
	}
	evt := sampleEvent(StageSiteDone)
	evt.Site = ""
	assert.Error(t, evt.Validate())
	evt = sampleEvent(StageImageDone)
	evt.Outcome = ""
	assert.Error(t, evt.Validate())
	evt = sampleEvent(StageRunDone)
	evt.Dur = -time.Second
	assert.Error(t, evt.Validate())
	evt.Stage = "BOGUS"
	assert.Error(t, evt.Validate())
}

func TestParseRunID(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	parsed, err := ParseRunID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, Event{RunID: parsed}.RunUUID())
	_, err = ParseRunID("nope")
	assert.Error(t, err)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID:   UUIDToBytes(uuid.New()),
		TS:      time.Now(),
		Stage:   stage,
		Site:    "Acme",
		Verdict: "product",
		Outcome: "kept",
	}
}
