package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/quantora/go-liquidity-bridge/domain"
)

const (
	defaultDepthLimit = 20
	maxDepthLimit     = 1000
)

type levelDTO struct {
	Price   string             `json:"price"`
	Size    float64            `json:"size"`
	Sources map[string]float64 `json:"sources"`
}

type depthResponse struct {
	Bids []levelDTO `json:"bids"`
	Asks []levelDTO `json:"asks"`
}

type bbaResponse struct {
	Available bool   `json:"available"`
	Bid       string `json:"bid,omitempty"`
	Ask       string `json:"ask,omitempty"`
	Spread    string `json:"spread,omitempty"`
}

type venueStatusDTO struct {
	domain.VenueMetricsSnapshot
	State domain.SyncState `json:"state"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBookDepth(w http.ResponseWriter, r *http.Request) {
	limit := defaultDepthLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > maxDepthLimit {
		limit = maxDepthLimit
	}

	bids, asks := s.agg.Depth(limit)
	s.writeJSON(w, http.StatusOK, depthResponse{
		Bids: s.toDTOs(bids),
		Asks: s.toDTOs(asks),
	})
}

func (s *Server) handleBookBBA(w http.ResponseWriter, r *http.Request) {
	bid, ask, ok := s.agg.BestBidAsk()
	if !ok {
		s.writeJSON(w, http.StatusOK, bbaResponse{Available: false})
		return
	}

	resp := bbaResponse{
		Available: true,
		Bid:       bid.Format(s.precision),
		Ask:       ask.Format(s.precision),
	}
	if spread, ok := s.agg.Spread(); ok {
		resp.Spread = spread.Format(s.precision)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVenueMetrics(w http.ResponseWriter, r *http.Request) {
	states := s.agg.VenueStates()
	snaps := s.agg.VenueMetricsSnapshots()

	statuses := make([]venueStatusDTO, 0, len(snaps))
	for _, snap := range snaps {
		statuses = append(statuses, venueStatusDTO{
			VenueMetricsSnapshot: snap,
			State:                states[snap.Venue],
		})
	}
	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) toDTOs(levels []domain.PriceLevel) []levelDTO {
	out := make([]levelDTO, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, levelDTO{
			Price:   lvl.Price.Format(s.precision),
			Size:    lvl.Size(),
			Sources: lvl.Sources,
		})
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encoding failed")
	}
}
