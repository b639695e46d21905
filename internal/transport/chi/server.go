package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/credex/internal/domain"
	channeluc "github.com/kailas-cloud/credex/internal/usecase/channel"
	healthuc "github.com/kailas-cloud/credex/internal/usecase/health"
	"github.com/kailas-cloud/credex/internal/version"
)

// LedgerService is the admission/settlement surface exposed over HTTP.
type LedgerService interface {
	Reserve(ctx context.Context, agent, session, task string, estimated int64) (domain.Transaction, error)
	Settle(ctx context.Context, agent, task string, actual int64) (domain.Transaction, error)
	Reset(ctx context.Context, agent string) (domain.Transaction, bool, error)
	Status(ctx context.Context, agent string) (domain.BalanceStatus, error)
	Transactions(ctx context.Context, agent string, count int) ([]domain.Transaction, error)
}

// ManifestService is the coordination manifest surface.
type ManifestService interface {
	Publish(ctx context.Context, agent, commitRef string) error
	Snapshot(ctx context.Context) (domain.ManifestSnapshot, error)
}

// ChannelService is the cross-agent message surface.
type ChannelService interface {
	Send(ctx context.Context, msg domain.Message) (string, error)
	Poll(ctx context.Context, agent, cursor string, limit int) (channeluc.PollResult, error)
	Acknowledge(ctx context.Context, messageID, agent string) error
}

// HealthService aggregates component health.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// Server handles the credex HTTP API.
type Server struct {
	ledger   LedgerService
	manifest ManifestService
	channel  ChannelService
	health   HealthService
	logger   *zap.Logger
}

// NewServer creates an HTTP server over the given services.
func NewServer(
	ledger LedgerService,
	manifest ManifestService,
	channel ChannelService,
	health HealthService,
	logger *zap.Logger,
) *Server {
	return &Server{
		ledger:   ledger,
		manifest: manifest,
		channel:  channel,
		health:   health,
		logger:   logger,
	}
}

// Routes mounts all API handlers on the router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/agents/{agent}", func(r chi.Router) {
			r.Post("/reserve", s.handleReserve)
			r.Post("/settle", s.handleSettle)
			r.Post("/reset", s.handleReset)
			r.Get("/balance", s.handleBalance)
			r.Get("/transactions", s.handleTransactions)
			r.Post("/manifest", s.handlePublishManifest)
		})
		r.Get("/manifest", s.handleManifest)
		r.Post("/messages", s.handleSendMessage)
		r.Get("/messages", s.handlePollMessages)
		r.Post("/messages/{id}/ack", s.handleAcknowledge)
	})
}

type reserveRequest struct {
	SessionID      string `json:"session_id"`
	TaskID         string `json:"task_id"`
	EstimatedUnits int64  `json:"estimated_units"`
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	tx, err := s.ledger.Reserve(r.Context(), agent, req.SessionID, req.TaskID, req.EstimatedUnits)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

type settleRequest struct {
	TaskID      string `json:"task_id"`
	ActualUnits int64  `json:"actual_units"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	tx, err := s.ledger.Settle(r.Context(), agent, req.TaskID, req.ActualUnits)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")

	tx, reset, err := s.ledger.Reset(r.Context(), agent)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := resetResponse{Reset: reset}
	if reset {
		dto := toTransactionDTO(tx)
		resp.Transaction = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")

	st, err := s.ledger.Status(r.Context(), agent)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(st))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	txs, err := s.ledger.Transactions(r.Context(), agent, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	out := make([]transactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, transactionListResponse{Transactions: out})
}

type publishManifestRequest struct {
	CommitRef string `json:"commit_ref"`
}

func (s *Server) handlePublishManifest(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")

	var req publishManifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	if err := s.manifest.Publish(r.Context(), agent, req.CommitRef); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manifest.Snapshot(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toManifestDTO(snap))
}

type sendMessageRequest struct {
	From     string            `json:"from"`
	To       string            `json:"to"`
	Kind     string            `json:"kind"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	id, err := s.channel.Send(r.Context(), domain.Message{
		From:     req.From,
		To:       req.To,
		Kind:     domain.MessageKind(req.Kind),
		Title:    req.Title,
		Body:     req.Body,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sendMessageResponse{ID: id})
}

func (s *Server) handlePollMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agent := q.Get("agent")
	cursor := q.Get("cursor")
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := s.channel.Poll(r.Context(), agent, cursor, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	out := make([]messageDTO, len(result.Messages))
	for i, msg := range result.Messages {
		out[i] = toMessageDTO(msg)
	}
	writeJSON(w, http.StatusOK, pollResponse{Messages: out, Cursor: result.Cursor})
}

type acknowledgeRequest struct {
	Agent string `json:"agent"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")

	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	if err := s.channel.Acknowledge(r.Context(), messageID, req.Agent); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMetrics serves the Prometheus scrape endpoint.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}

	checks := make(map[string]string, len(report.Checks))
	for name, result := range report.Checks {
		checks[name] = string(result)
	}
	writeJSON(w, status, healthResponse{
		Status:  string(report.Status),
		Version: version.Version,
		Checks:  checks,
	})
}

// writeDomainError maps domain errors to HTTP status codes. Budget denials
// and settlement conflicts are caller-recoverable; storage loss is 503 so the
// caller fails closed rather than proceeding unaccounted.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, codeInsufficientBalance, err.Error())
	case errors.Is(err, domain.ErrUnknownTask):
		writeError(w, http.StatusNotFound, codeUnknownTask, err.Error())
	case errors.Is(err, domain.ErrAlreadySettled):
		writeError(w, http.StatusConflict, codeAlreadySettled, err.Error())
	case errors.Is(err, domain.ErrTaskReserved):
		writeError(w, http.StatusConflict, codeTaskReserved, err.Error())
	case errors.Is(err, domain.ErrUnknownAgent):
		writeError(w, http.StatusNotFound, codeUnknownAgent, err.Error())
	case errors.Is(err, domain.ErrInvalidKind), errors.Is(err, domain.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		s.logger.Error("storage unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, codeStorageUnavailable, "storage unavailable")
	default:
		s.logger.Error("internal error", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	}
}

// --- DTOs ---

type transactionDTO struct {
	ID               int64  `json:"id"`
	AgentID          string `json:"agent_id"`
	SessionID        string `json:"session_id,omitempty"`
	TaskID           string `json:"task_id,omitempty"`
	Kind             string `json:"kind"`
	EstimatedUnits   int64  `json:"estimated_units"`
	ActualUnits      int64  `json:"actual_units"`
	ResultingBalance int64  `json:"resulting_balance"`
	CreatedAt        string `json:"created_at"`
}

func toTransactionDTO(tx domain.Transaction) transactionDTO {
	return transactionDTO{
		ID:               tx.ID,
		AgentID:          tx.AgentID,
		SessionID:        tx.SessionID,
		TaskID:           tx.TaskID,
		Kind:             string(tx.Kind),
		EstimatedUnits:   tx.EstimatedUnits,
		ActualUnits:      tx.ActualUnits,
		ResultingBalance: tx.ResultingBalance,
		CreatedAt:        tx.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type resetResponse struct {
	Reset       bool            `json:"reset"`
	Transaction *transactionDTO `json:"transaction,omitempty"`
}

type transactionListResponse struct {
	Transactions []transactionDTO `json:"transactions"`
}

type balanceDTO struct {
	AgentID    string  `json:"agent_id"`
	Balance    int64   `json:"balance"`
	DailyLimit int64   `json:"daily_limit"`
	Used       int64   `json:"used"`
	UsageRatio float64 `json:"usage_ratio"`
	Warning    bool    `json:"warning"`
	Exhausted  bool    `json:"exhausted"`
	Degraded   bool    `json:"degraded,omitempty"`
	ResetsAt   string  `json:"resets_at"`
}

func toBalanceDTO(st domain.BalanceStatus) balanceDTO {
	return balanceDTO{
		AgentID:    st.AgentID,
		Balance:    st.Balance,
		DailyLimit: st.DailyLimit,
		Used:       st.Used,
		UsageRatio: st.UsageRatio,
		Warning:    st.Warning,
		Exhausted:  st.Exhausted,
		Degraded:   st.Degraded,
		ResetsAt:   st.ResetsAt.UTC().Format(time.RFC3339),
	}
}

type agentStatusDTO struct {
	AgentID       string `json:"agent_id"`
	LastCommitRef string `json:"last_commit_ref,omitempty"`
	DailyUsed     int64  `json:"daily_used"`
	DailyLimit    int64  `json:"daily_limit"`
	LastHeartbeat string `json:"last_heartbeat"`
	Stale         bool   `json:"stale,omitempty"`
}

type manifestDTO struct {
	CoreVersion   string                    `json:"core_version"`
	SchemaVersion string                    `json:"schema_version"`
	LastResetDate string                    `json:"last_reset_date"`
	Agents        map[string]agentStatusDTO `json:"agents"`
}

func toManifestDTO(snap domain.ManifestSnapshot) manifestDTO {
	agents := make(map[string]agentStatusDTO, len(snap.Agents))
	for id, st := range snap.Agents {
		agents[id] = agentStatusDTO{
			AgentID:       st.AgentID,
			LastCommitRef: st.LastCommitRef,
			DailyUsed:     st.DailyUsed,
			DailyLimit:    st.DailyLimit,
			LastHeartbeat: st.LastHeartbeat.UTC().Format(time.RFC3339),
			Stale:         st.Stale,
		}
	}
	return manifestDTO{
		CoreVersion:   snap.CoreVersion,
		SchemaVersion: snap.SchemaVersion,
		LastResetDate: snap.LastResetDate,
		Agents:        agents,
	}
}

type messageDTO struct {
	ID        string            `json:"id"`
	From      string            `json:"from"`
	To        string            `json:"to,omitempty"`
	Kind      string            `json:"kind"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at"`
}

func toMessageDTO(msg domain.Message) messageDTO {
	return messageDTO{
		ID:        msg.ID,
		From:      msg.From,
		To:        msg.To,
		Kind:      string(msg.Kind),
		Title:     msg.Title,
		Body:      msg.Body,
		Metadata:  msg.Metadata,
		CreatedAt: msg.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type sendMessageResponse struct {
	ID string `json:"id"`
}

type pollResponse struct {
	Messages []messageDTO `json:"messages"`
	Cursor   string       `json:"cursor"`
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}
