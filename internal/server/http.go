package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/core"
	"BasketLedger/internal/ingestion"
	"BasketLedger/internal/observability"
	"BasketLedger/internal/projection"
	"BasketLedger/internal/query"
)

// HTTPServer serves the JSON query/admin API plus health probes. Operations
// submitted over HTTP take the same parse-then-channel path as NATS ingest.
type HTTPServer struct {
	httpServer *http.Server
	deps       *HTTPDeps
	log        zerolog.Logger
}

// HTTPDeps holds everything the HTTP handlers reach into.
type HTTPDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	OpChan        chan<- core.Operation
	Cranks        *ingestion.CrankService
	HealthChecker *observability.HealthChecker
}

func NewHTTPServer(httpAddr string, deps *HTTPDeps, log zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		deps: deps,
		log:  log.With().Str("component", "http_server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
	mux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)

	mux.HandleFunc("GET /v1/baskets/{basket}/notifications", s.handleNotifications)
	mux.HandleFunc("GET /v1/baskets/{basket}/auctions", s.handleAuctionActivity)
	mux.HandleFunc("GET /v1/baskets/{basket}/vault/{asset}", s.handleVaultBalance)
	mux.HandleFunc("GET /v1/baskets/{basket}/recipients/{recipient}/payout", s.handleRecipientPayout)
	mux.HandleFunc("GET /v1/journal", s.handleJournal)
	mux.HandleFunc("POST /v1/operations", s.handleSubmitOperation)

	mux.HandleFunc("GET /v1/admin/integrity", s.handleIntegrity)
	mux.HandleFunc("POST /v1/admin/rebuild-projections", s.handleRebuild)
	mux.HandleFunc("POST /v1/admin/baskets/{basket}/poke", s.handlePoke)
	mux.HandleFunc("POST /v1/admin/baskets/{basket}/close-auction", s.handleCloseAuction)
	mux.HandleFunc("POST /v1/admin/baskets/{basket}/distribute", s.handleDistribute)
	mux.HandleFunc("POST /v1/admin/baskets/{basket}/crank", s.handleCrank)

	s.httpServer = &http.Server{
		Addr:    httpAddr,
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	basketRef, ok := s.pathAddress(w, r, "basket")
	if !ok {
		return
	}

	entries, err := s.deps.QueryService.GetNotifications(
		r.Context(), basketRef, limitParam(r, 50, 500), beforeParam(r))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": entries})
}

func (s *HTTPServer) handleAuctionActivity(w http.ResponseWriter, r *http.Request) {
	basketRef, ok := s.pathAddress(w, r, "basket")
	if !ok {
		return
	}

	entries, err := s.deps.QueryService.GetAuctionActivity(r.Context(), basketRef, limitParam(r, 50, 500))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"auctions": entries})
}

func (s *HTTPServer) handleVaultBalance(w http.ResponseWriter, r *http.Request) {
	basketRef, ok := s.pathAddress(w, r, "basket")
	if !ok {
		return
	}
	asset, ok := s.pathAddress(w, r, "asset")
	if !ok {
		return
	}

	balance, err := s.deps.QueryService.GetVaultBalance(r.Context(), basketRef, asset)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *HTTPServer) handleRecipientPayout(w http.ResponseWriter, r *http.Request) {
	basketRef, ok := s.pathAddress(w, r, "basket")
	if !ok {
		return
	}
	recipient, ok := s.pathAddress(w, r, "recipient")
	if !ok {
		return
	}

	payout, err := s.deps.QueryService.GetRecipientPayout(r.Context(), recipient, basketRef)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

func (s *HTTPServer) handleJournal(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account query parameter is required")
		return
	}

	entries, err := s.deps.QueryService.GetJournalHistory(
		r.Context(), account, limitParam(r, 100, 500), beforeParam(r))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

func (s *HTTPServer) handleSubmitOperation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	op, err := ingestion.ParseOperation(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	select {
	case s.deps.OpChan <- op:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"accepted":     true,
			"operation_id": op.Header().OperationID.String(),
		})
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	}
}

func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := projection.Rebuild(r.Context(), s.deps.DB, s.log); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

type crankRequest struct {
	Caller     string   `json:"caller"`
	Auction    string   `json:"auction,omitempty"`
	Index      uint64   `json:"index,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}

func (s *HTTPServer) decodeCrank(w http.ResponseWriter, r *http.Request) (crankRequest, addr.Address, bool) {
	var req crankRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode body: "+err.Error())
		return req, addr.Zero, false
	}
	caller, err := addr.FromString(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller: "+err.Error())
		return req, addr.Zero, false
	}
	return req, caller, true
}

func (s *HTTPServer) handlePoke(w http.ResponseWriter, r *http.Request) {
	basketRef, ok := s.pathAddress(w, r, "basket")
	if !ok {
		return
	}
	_, caller, ok := s.decodeCrank(w, r)
	if !ok {
		return
	}
	if err := s.deps.Cranks.Poke(r.Context(), caller, basketRef); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

func (s *HTTPServer) handleCloseAuction(w http.ResponseWriter, r *http.Request) {
	basketRef, ok := s.pathAddress(w, r, "basket")
	if !ok {
		return
	}
	req, caller, ok := s.decodeCrank(w, r)
	if !ok {
		return
	}
	auction, err := addr.FromString(req.Auction)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction: "+err.Error())
		return
	}
	if err := s.deps.Cranks.CloseAuction(r.Context(), caller, basketRef, auction); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

func (s *HTTPServer) handleDistribute(w http.ResponseWriter, r *http.Request) {
	basketRef, ok := s.pathAddress(w, r, "basket")
	if !ok {
		return
	}
	req, caller, ok := s.decodeCrank(w, r)
	if !ok {
		return
	}
	if err := s.deps.Cranks.DistributeFees(r.Context(), caller, basketRef, req.Index); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

func (s *HTTPServer) handleCrank(w http.ResponseWriter, r *http.Request) {
	basketRef, ok := s.pathAddress(w, r, "basket")
	if !ok {
		return
	}
	req, caller, ok := s.decodeCrank(w, r)
	if !ok {
		return
	}
	recipients := make([]addr.Address, 0, len(req.Recipients))
	for _, raw := range req.Recipients {
		recipient, err := addr.FromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid recipient: "+err.Error())
			return
		}
		recipients = append(recipients, recipient)
	}
	if err := s.deps.Cranks.CrankDistribution(r.Context(), caller, basketRef, req.Index, recipients); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

// --- helpers ---

func (s *HTTPServer) pathAddress(w http.ResponseWriter, r *http.Request, name string) (addr.Address, bool) {
	parsed, err := addr.FromString(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+": "+err.Error())
		return addr.Zero, false
	}
	return parsed, true
}

func (s *HTTPServer) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func limitParam(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func beforeParam(r *http.Request) *int64 {
	raw := r.URL.Query().Get("before")
	if raw == "" {
		return nil
	}
	before, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || before <= 0 {
		return nil
	}
	return &before
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
