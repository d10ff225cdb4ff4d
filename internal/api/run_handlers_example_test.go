package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-image-harvester/internal/store"
)

// ExampleRunHandler_ListRuns shows how to serve the /v1/runs endpoint.
func ExampleRunHandler_ListRuns() {
	runID := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	repo := &fakeRunRepo{
		runs: []store.Run{{
			ID:        runID,
			Status:    store.RunSuccess,
			StartedAt: time.Unix(0, 0),
		}},
	}
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	var payload struct {
		Runs []map[string]any `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned runs: %d\n", len(payload.Runs))
	// Output:
	// returned runs: 1
}
