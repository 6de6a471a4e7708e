// Package httpapi exposes the minimal external HTTP surface spec.md §6
// describes: submitting a human gate decision, forcing a case reset to
// its last inbound message, manually re-triggering inbound processing,
// and an SSE stream of case activity. Routing is go-chi/chi, the router
// the retrieval pack's kubernaut repo uses for its own gateway surface —
// the teacher module has no HTTP server of its own, so this is enriched
// from the rest of the pack rather than grounded on semspec directly.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/dispatcher"
	"github.com/c360studio/caseworker/internal/model"
	"github.com/c360studio/caseworker/internal/notify"
)

// store is the subset of store.Store the HTTP surface depends on.
type store interface {
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)
	GetCase(ctx context.Context, id string) (*model.Case, error)
	ClearProcessed(ctx context.Context, messageID string) error
	GetLatestUnprocessedInbound(ctx context.Context, caseID string) (*model.Message, error)
}

// decisionerPort is the subset of decisioner.Decisioner the /decisions
// handler depends on.
type decisionerPort interface {
	Resolve(ctx context.Context, p *model.Proposal, token string, decision *model.HumanDecision) (model.ProposalStatus, error)
}

// executorPort is the subset of executor.Executor the /decisions handler
// depends on, to run an APPROVE decision's side effect immediately
// instead of waiting for a separate trigger.
type executorPort interface {
	Execute(ctx context.Context, p *model.Proposal) error
}

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	store      store
	decisioner decisionerPort
	executor   executorPort
	dispatcher *dispatcher.Dispatcher
	notify     *notify.Bus
	logger     *slog.Logger
	router     chi.Router
}

// New builds a Server and registers all routes.
func New(store store, dec decisionerPort, ex executorPort, disp *dispatcher.Dispatcher, nb *notify.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: store, decisioner: dec, executor: ex, dispatcher: disp, notify: nb, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Post("/decisions/{proposalID}", s.handleDecision)
	r.Post("/cases/{caseID}/reset-to-last-inbound", s.handleResetToLastInbound)
	r.Post("/cases/{caseID}/trigger-inbound/{messageID}", s.handleTriggerInbound)
	r.Get("/events", s.handleEvents)

	s.router = r
	return s
}

// Handler returns the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

type decisionRequest struct {
	Token       string `json:"token"`
	Action      string `json:"action"`
	Instruction string `json:"instruction,omitempty"`
	Reason      string `json:"reason,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	proposalID := chi.URLParam(r, "proposalID")

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.store.GetProposal(r.Context(), proposalID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	decision := &model.HumanDecision{
		Action:      model.GateOption(req.Action),
		Instruction: req.Instruction,
		Reason:      req.Reason,
		UserID:      req.UserID,
	}

	status, err := s.decisioner.Resolve(r.Context(), p, req.Token, decision)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	switch status {
	case model.ProposalApproved:
		if err := s.executor.Execute(r.Context(), p); err != nil {
			writeStoreError(w, err)
			return
		}
	case model.ProposalAdjustmentRequested:
		// ADJUST/RETRY_RESEARCH re-enter planning with the human's
		// instruction folded in, rather than stopping or executing.
		task := dispatcher.Task{CaseID: p.CaseID, TriggerType: model.TriggerHumanReview, ProposalID: p.ID}
		idempotencyKey := fmt.Sprintf("adjust:%s", p.ID)
		if err := s.dispatcher.TriggerNow(r.Context(), task, idempotencyKey); err != nil {
			writeStoreError(w, err)
			return
		}
	}

	s.notify.Publish(notify.Event{CaseID: p.CaseID, Type: "decision_resolved", Summary: string(status), Timestamp: time.Now().UTC()})

	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) handleResetToLastInbound(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")

	msg, err := s.store.GetLatestUnprocessedInbound(r.Context(), caseID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "no inbound message to reset to")
		return
	}

	if err := s.store.ClearProcessed(r.Context(), msg.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	task := dispatcher.Task{CaseID: caseID, TriggerType: model.TriggerResetToLastInbound, MessageID: msg.ID}
	idempotencyKey := fmt.Sprintf("reset:%s:%s", caseID, msg.ID)
	if err := s.dispatcher.TriggerNow(r.Context(), task, idempotencyKey); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": msg.ID})
}

func (s *Server) handleTriggerInbound(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")
	messageID := chi.URLParam(r, "messageID")

	task := dispatcher.Task{CaseID: caseID, TriggerType: model.TriggerForceNewRun, MessageID: messageID}
	idempotencyKey := fmt.Sprintf("force:%s:%s", caseID, messageID)
	if err := s.dispatcher.TriggerNow(r.Context(), task, idempotencyKey); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": messageID})
}

// handleEvents streams case activity as server-sent events, relayed from
// the NotificationBus's NATS subscription.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, ch, err := s.notify.Subscribe()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "subscribe to events")
		return
	}
	if sub != nil {
		defer sub.Unsubscribe()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg.Data)
			flusher.Flush()
		}
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case caseerr.Is(err, caseerr.NotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case caseerr.Is(err, caseerr.Conflict):
		writeError(w, http.StatusConflict, err.Error())
	case caseerr.Is(err, caseerr.Validation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
