// Package server exposes the gateway over HTTP: a single chat-completion
// endpoint that augments, forwards, and schedules the deferred
// extraction/audit work after the response is written.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/policy"
	"github.com/m-mizutani/mnemo/pkg/repository"
	"github.com/m-mizutani/mnemo/pkg/usecase/gateway"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/m-mizutani/mnemo/pkg/utils/tasks"
)

const (
	headerMemoryStore = "X-Memory-Store"
	headerContextID   = "X-Context-Id"

	// maxBodyBytes caps inbound request bodies
	maxBodyBytes = 4 * 1024 * 1024
)

// Server handles the gateway HTTP surface.
type Server struct {
	uc    *gateway.UseCase
	repo  repository.Repository
	gate  *policy.Gate
	tasks *tasks.Supervisor
	mux   *http.ServeMux
}

// Input contains the collaborators for creating a Server
type Input struct {
	UseCase    *gateway.UseCase
	Repo       repository.Repository
	Gate       *policy.Gate
	Supervisor *tasks.Supervisor
}

// New creates a new Server and registers its routes. Requests arriving
// with any method other than POST on the completion endpoint get a 405
// from the router.
func New(input Input) *Server {
	s := &Server{
		uc:    input.UseCase,
		repo:  input.Repo,
		gate:  input.Gate,
		tasks: input.Supervisor,
		mux:   http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChat)
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	// Request-scoped logger; the attributes follow the context into the
	// deferred reconcile/audit tasks.
	ctx = logging.Append(ctx, "request_id", uuid.New().String(), "user_id", user.ID)
	logger := logging.From(ctx)

	storeID := r.Header.Get(headerMemoryStore)
	contextID := r.Header.Get(headerContextID)

	var req model.ChatRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, goerr.Wrap(err, "invalid request body"))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, goerr.New("messages must not be empty"))
		return
	}

	allowed, err := s.gate.Allow(ctx, policy.NewInput(user, storeID, contextID, &req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, goerr.New("request denied by policy"))
		return
	}

	// Synchronous critical path: embed, retrieve, assemble.
	augmented, candidates, err := s.uc.Augment(ctx, &req, user, storeID, contextID)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}

	if req.Stream {
		s.serveStream(ctx, w, user, &req, augmented)
		return
	}

	resp, err := s.uc.Forward(ctx, augmented)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warn("failed to write response", "error", err)
	}

	// Deferred phase: the client has its response; extraction and audit
	// run detached and in parallel, isolated from each other.
	if storeID != "" {
		userText := req.UserText()
		s.tasks.Dispatch(ctx, "reconcile", func(ctx context.Context) error {
			s.uc.ProcessTurn(ctx, user, storeID, userText, candidates)
			return nil
		})
	}
	s.tasks.Dispatch(ctx, "audit", func(ctx context.Context) error {
		s.uc.Audit(ctx, gateway.AuditInput{User: user, Request: &req, Response: resp})
		return nil
	})
}

// serveStream relays provider chunks to the client as server-sent
// events. The body is never buffered, so streamed turns are excluded
// from memory reconciliation; only the audit event is scheduled. An
// abort mid-stream is still audited, so every turn that reached the
// provider leaves a usage record.
func (s *Server) serveStream(ctx context.Context, w http.ResponseWriter, user *model.User, req, augmented *model.ChatRequest) {
	logger := logging.From(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, goerr.New("streaming unsupported by connection"))
		return
	}

	started := false
	for chunk, err := range s.uc.ForwardStream(ctx, augmented) {
		if err != nil {
			if !started {
				// Nothing sent yet: surface the upstream failure as-is.
				writeError(w, statusOf(err), err)
				return
			}
			logger.Warn("stream aborted", "error", err)
			s.dispatchStreamAudit(ctx, user, req)
			return
		}

		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			logger.Warn("failed to marshal chunk", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	if !started {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	s.dispatchStreamAudit(ctx, user, req)
}

func (s *Server) dispatchStreamAudit(ctx context.Context, user *model.User, req *model.ChatRequest) {
	s.tasks.Dispatch(ctx, "audit", func(ctx context.Context) error {
		s.uc.Audit(ctx, gateway.AuditInput{User: user, Request: req, Streamed: true})
		return nil
	})
}

func (s *Server) authenticate(r *http.Request) (*model.User, error) {
	auth := r.Header.Get("Authorization")
	key, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || key == "" {
		return nil, goerr.New("missing access key")
	}

	user, err := s.repo.GetUserByAPIKey(r.Context(), key)
	if err != nil {
		return nil, err
	}

	return user, nil
}

// statusOf maps pipeline errors onto HTTP statuses. Upstream HTTP
// failures reuse the upstream's own status when it was captured.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUpstreamHTTP):
		if code, ok := errValues(err)["status"].(int); ok && code >= 400 {
			return code
		}
		return http.StatusBadGateway
	case errors.Is(err, model.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload := map[string]any{"error": err.Error()}
	if values := errValues(err); values != nil {
		if upstream, ok := values["payload"]; ok {
			payload["upstream"] = upstream
		}
	}

	_ = json.NewEncoder(w).Encode(payload)
}

// errValues extracts the structured values attached along the error
// chain, or nil for plain errors.
func errValues(err error) map[string]any {
	if ge := goerr.Unwrap(err); ge != nil {
		return ge.Values()
	}
	return nil
}
