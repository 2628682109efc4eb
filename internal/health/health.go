// Package health serves the liveness endpoint with a snapshot of the ledger backlog.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pathakanu/callMemo/internal/stats"
	"github.com/rs/zerolog"
)

// StatisticsSource is satisfied by *stats.Aggregator.
type StatisticsSource interface {
	GetStatistics(ctx context.Context, f stats.Filters) (stats.Statistics, error)
}

type response struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Pending  int64  `json:"pending"`
	CallMade int64  `json:"callMade"`
	Error    string `json:"error,omitempty"`
}

// Handler reports 200 while the ledger is readable and 503 otherwise.
func Handler(src StatisticsSource, providerName string, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := response{Status: "ok", Provider: providerName}
		code := http.StatusOK
		st, err := src.GetStatistics(ctx, stats.Filters{})
		if err != nil {
			log.Error().Err(err).Msg("health: ledger unavailable")
			resp.Status, resp.Error = "degraded", "ledger unavailable"
			code = http.StatusServiceUnavailable
		} else {
			resp.Pending, resp.CallMade = st.Pending, st.CallMade
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
