// Package server exposes retrieval sessions over HTTP and streams progress
// over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/debookshq/statement-engine/internal/core/domain"
	"github.com/debookshq/statement-engine/internal/core/service"
	"github.com/debookshq/statement-engine/internal/export"
)

const dateLayout = "2006-01-02"

// Server is the HTTP surface over a retrieval engine.
type Server struct {
	engine   *service.Engine
	issuer   *TokenIssuer
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New builds the server.
func New(engine *service.Engine, issuer *TokenIssuer, log *zap.Logger) *Server {
	return &Server{
		engine: engine,
		issuer: issuer,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/retrievals", s.handleSubmit)
	mux.HandleFunc("GET /api/retrievals/current", s.withSession(s.handleStatus))
	mux.HandleFunc("PUT /api/retrievals/current/filters", s.withSession(s.handleFilters))
	mux.HandleFunc("PUT /api/retrievals/current/page", s.withSession(s.handlePage))
	mux.HandleFunc("PUT /api/retrievals/current/conversion", s.withSession(s.handleConversion))
	mux.HandleFunc("GET /api/retrievals/current/export", s.withSession(s.handleExport))
	mux.HandleFunc("GET /ws/progress", s.handleProgress)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type submitRequest struct {
	Account string `json:"account"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

type submitResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validateAccount(req.Account); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	rng, err := parseRange(req.Start, req.End)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The session outlives this request; it is bounded by the engine, not the
	// request context.
	sess, err := s.engine.Submit(context.WithoutCancel(r.Context()), req.Account, rng)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := s.issuer.Issue(sess.ID)
	if err != nil {
		s.log.Error("token issue failed", zap.Error(err))
		httpError(w, http.StatusInternalServerError, "could not issue session token")
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{SessionID: sess.ID, Token: token})
}

type statusResponse struct {
	SessionID  string                    `json:"session_id"`
	Account    string                    `json:"account"`
	Start      string                    `json:"start"`
	End        string                    `json:"end"`
	Done       bool                      `json:"done"`
	Error      string                    `json:"error,omitempty"`
	Records    []domain.ClassifiedRecord `json:"records"`
	Page       int                       `json:"page"`
	PageSize   int                       `json:"page_size"`
	TotalPages int                       `json:"total_pages"`
	Total      int                       `json:"total"`
	Conversion bool                      `json:"conversion"`
	Filters    domain.FilterOptions      `json:"filters"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, sess *service.Session) {
	done := true
	select {
	case <-sess.Done():
	default:
		done = false
	}

	display := sess.Display()
	resp := statusResponse{
		SessionID:  sess.ID,
		Account:    sess.Account,
		Start:      sess.Range.Start.Format(dateLayout),
		End:        sess.Range.End.Format(dateLayout),
		Done:       done,
		Records:    display.Page(),
		Page:       display.CurrentPage,
		PageSize:   display.PageSize,
		TotalPages: display.TotalPages(),
		Total:      len(display.Records),
		Conversion: sess.ConversionEnabled(),
		Filters:    sess.Filters(),
	}
	if err := sess.Err(); err != nil {
		resp.Error = userFacing(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request, sess *service.Session) {
	var opts domain.FilterOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess.SetFilters(opts)
	s.handleStatus(w, r, sess)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request, sess *service.Session) {
	var req struct {
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PageSize > 0 {
		sess.SetPageSize(req.PageSize)
	}
	if req.Page > 0 {
		sess.SetPage(req.Page)
	}
	s.handleStatus(w, r, sess)
}

func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request, sess *service.Session) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := sess.SetConversionEnabled(r.Context(), req.Enabled); err != nil {
		if errors.Is(err, domain.ErrPriceSourceUnavailable) {
			httpError(w, http.StatusServiceUnavailable, "price source unavailable, conversion disabled")
			return
		}
		httpError(w, http.StatusInternalServerError, userFacing(err))
		return
	}
	s.handleStatus(w, r, sess)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, sess *service.Session) {
	name := export.Filename(sess.Account, sess.Range)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := export.WriteCSV(w, sess.Account, sess.Display(), sess.ConversionEnabled()); err != nil {
		s.log.Error("csv export failed", zap.String("session", sess.ID), zap.Error(err))
	}
}

// handleProgress upgrades to WebSocket and relays the session's progress
// events until the retrieval finishes. The token travels in the query string
// because browser WebSocket clients cannot set headers.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.authorize(w, r, r.URL.Query().Get("token"))
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for ev := range sess.Progress() {
		if err := conn.WriteJSON(ev); err != nil {
			s.log.Debug("progress client gone", zap.Error(err))
			return
		}
	}

	final := domain.ProgressEvent{Stage: "done", Percent: 100, Message: "done"}
	if err := sess.Err(); err != nil {
		final = domain.ProgressEvent{Stage: "error", Message: userFacing(err)}
	}
	_ = conn.WriteJSON(final)
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// withSession authenticates a request against the current session.
func (s *Server) withSession(next func(http.ResponseWriter, *http.Request, *service.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		sess, ok := s.authorize(w, r, raw)
		if !ok {
			return
		}
		next(w, r, sess)
	}
}

func (s *Server) authorize(w http.ResponseWriter, _ *http.Request, raw string) (*service.Session, bool) {
	if raw == "" {
		httpError(w, http.StatusUnauthorized, "missing session token")
		return nil, false
	}
	sessionID, err := s.issuer.Verify(raw)
	if err != nil {
		httpError(w, http.StatusUnauthorized, "invalid session token")
		return nil, false
	}
	sess := s.engine.Current()
	if sess == nil || sess.ID != sessionID {
		httpError(w, http.StatusConflict, "session superseded by a newer retrieval")
		return nil, false
	}
	return sess, true
}

func validateAccount(account string) error {
	key, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		return fmt.Errorf("invalid account address")
	}
	if !key.IsOnCurve() {
		return fmt.Errorf("account address is not on the ed25519 curve")
	}
	return nil
}

func parseRange(start, end string) (domain.DateRange, error) {
	s, err := time.ParseInLocation(dateLayout, start, time.UTC)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("invalid start date %q", start)
	}
	e, err := time.ParseInLocation(dateLayout, end, time.UTC)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("invalid end date %q", end)
	}
	return domain.NewDateRange(s, e)
}

// userFacing maps pipeline errors to the two distinct user-visible outcomes.
func userFacing(err error) string {
	switch {
	case errors.Is(err, domain.ErrBracketNotFound):
		return "could not resolve the date range on the ledger"
	case errors.Is(err, domain.ErrSessionReplaced):
		return "session superseded by a newer retrieval"
	case errors.Is(err, domain.ErrInvalidRange):
		return "start date must be before end date"
	default:
		return err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
