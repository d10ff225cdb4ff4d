package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type keptCounter struct {
	kept int
}

func (s *keptCounter) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage == StageImageDone && evt.Outcome == "kept" {
			s.kept++
		}
	}
	return nil
}

func (s *keptCounter) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit counts kept images reported by a worker.
func ExampleHub_Emit() {
	sink := &keptCounter{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 2, MaxBatchWait: time.Second}, sink)

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	for _, outcome := range []string{"kept", "duplicate", "kept"} {
		hub.Emit(Event{RunID: runID, TS: time.Unix(0, 0), Stage: StageImageDone, Site: "Acme", Outcome: outcome})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("kept images: %d\n", sink.kept)
	// Output:
	// kept images: 2
}
