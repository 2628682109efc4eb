package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pathakanu/callMemo/internal/stats"
	"github.com/rs/zerolog"
)

type fakeSource struct {
	st  stats.Statistics
	err error
}

func (f fakeSource) GetStatistics(context.Context, stats.Filters) (stats.Statistics, error) {
	return f.st, f.err
}

func TestHandlerReportsBacklog(t *testing.T) {
	t.Parallel()
	h := Handler(fakeSource{st: stats.Statistics{Pending: 1, CallMade: 3}}, "vapi", zerolog.Nop())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" || body.Provider != "vapi" || body.Pending != 1 || body.CallMade != 3 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHandlerDegradedWhenLedgerFails(t *testing.T) {
	t.Parallel()
	h := Handler(fakeSource{err: errors.New("db closed")}, "twilio", zerolog.Nop())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHandlerRejectsWrites(t *testing.T) {
	t.Parallel()
	h := Handler(fakeSource{}, "vapi", zerolog.Nop())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
