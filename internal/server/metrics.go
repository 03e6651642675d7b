package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ssd-technologies/gitagent/internal/storage"
)

type saveMetricRequest struct {
	identityRef
	Decision      string   `json:"decision"`
	Price         *float64 `json:"price"`
	TradeExecuted bool     `json:"trade_executed"`
	TradeTxHash   *string  `json:"trade_tx_hash"`
	TradeAmount   *float64 `json:"trade_amount"`
}

func (s *Server) handleSaveMetric(w http.ResponseWriter, r *http.Request) {
	if !s.metricsLimiter.Allow(getIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var req saveMetricRequest
	if !decodeBody(w, r, &req) {
		return
	}
	hash := req.hash()
	if hash == "" || req.Decision == "" {
		writeError(w, http.StatusBadRequest, "Missing branch_hash (or repo_url+branch_name) or decision")
		return
	}
	agent, ok := s.agentByHash(w, hash)
	if !ok {
		return
	}
	m := &storage.Metric{
		AgentID:       agent.ID,
		Decision:      req.Decision,
		Price:         req.Price,
		Timestamp:     time.Now().UTC(),
		TradeExecuted: req.TradeExecuted,
		TradeTxHash:   req.TradeTxHash,
		TradeAmount:   req.TradeAmount,
	}
	if err := s.db.SaveMetric(m); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleListMetrics(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.lookupAgent(w, r)
	if !ok {
		return
	}
	limit := storage.DefaultMetricLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	metrics, err := s.db.ListMetrics(agent.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": metrics})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.lookupAgent(w, r)
	if !ok {
		return
	}
	stats, err := s.db.GetAgentStats(agent.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}
