package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/GoofyComponent/GoofyChain/internal/service"
)

// AnalyzeWalletRequest is the body of POST /api/v1/wallet-analysis/analyze.
type AnalyzeWalletRequest struct {
	WalletAddress string `json:"walletAddress"`
	Currency      string `json:"currency,omitempty"`
}

// handleAnalyzeWallet runs (or reuses) a full wallet analysis.
func (s *Server) handleAnalyzeWallet(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeWalletRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body: "+err.Error(), nil)
		return
	}
	if req.WalletAddress == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "walletAddress is required", nil)
		return
	}

	analysis, err := s.analysisService.AnalyzeWallet(r.Context(), req.WalletAddress, req.Currency)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, analysis)
}

// handleGetAnalysis returns the persisted analysis without rebuilding it.
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	analysis, err := s.analysisService.GetAnalysis(r.Context(), address)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, analysis)
}

// handleGetHistory returns the portfolio value series for an address in the
// requested currency (query param, optional).
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	currency := r.URL.Query().Get("currency")

	history, err := s.portfolioService.GetHistory(r.Context(), address, currency)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"walletAddress": address,
		"dataPoints":    history,
	})
}

// handleGetStats returns portfolio statistics for an address.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	stats, err := s.portfolioService.GetStats(r.Context(), address)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// handleGetSummary returns monthly activity buckets for an address.
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	summary, err := s.portfolioService.GetSummary(r.Context(), address)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"walletAddress": address,
		"months":        service.MonthKeys(summary),
		"summary":       summary,
	})
}
