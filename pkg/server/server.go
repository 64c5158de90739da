// Package server is the HTTP surface of the gateway: credential
// endpoints, the delegation flow, the secured agent execution path, and
// the admin audit API.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/finllm-labs/gateway/pkg/api"
	"github.com/finllm-labs/gateway/pkg/auth"
	"github.com/finllm-labs/gateway/pkg/credentials"
	"github.com/finllm-labs/gateway/pkg/delegation"
	"github.com/finllm-labs/gateway/pkg/directory"
	"github.com/finllm-labs/gateway/pkg/intent"
	"github.com/finllm-labs/gateway/pkg/ledger"
	"github.com/finllm-labs/gateway/pkg/observability"
	"github.com/finllm-labs/gateway/pkg/pipeline"
	"github.com/finllm-labs/gateway/pkg/policy"
)

// Server wires the gateway's collaborators behind the HTTP mux.
type Server struct {
	creds     *credentials.Service
	store     *directory.Store
	parser    *intent.Parser
	authority *delegation.Authority
	pipe      *pipeline.Pipeline
	ledger    *ledger.Ledger
	metrics   *observability.Provider
	logger    *slog.Logger
}

func New(
	creds *credentials.Service,
	store *directory.Store,
	parser *intent.Parser,
	authority *delegation.Authority,
	pipe *pipeline.Pipeline,
	led *ledger.Ledger,
	metrics *observability.Provider,
) *Server {
	return &Server{
		creds:     creds,
		store:     store,
		parser:    parser,
		authority: authority,
		pipe:      pipe,
		ledger:    led,
		metrics:   metrics,
		logger:    slog.Default().With("component", "server"),
	}
}

// Handler assembles the full middleware chain and route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/intent", s.handleIntent)
	mux.HandleFunc("POST /auth/delegate", s.handleDelegate)
	mux.HandleFunc("POST /agent/execute", s.handleExecute)
	mux.HandleFunc("GET /employee/me", s.handleMe)
	mux.HandleFunc("POST /employee/financial-action", auth.RequireAnyRole(s.handleFinancialAction, "teller"))
	mux.HandleFunc("GET /agent/audit", auth.RequireAnyRole(s.handleAuditList, "auditor", "admin"))
	mux.HandleFunc("GET /agent/audit/{id}", auth.RequireAnyRole(s.handleAuditGet, "auditor", "admin"))

	var h http.Handler = mux
	h = auth.NewMiddleware(s.creds)(h)
	h = s.metricsMiddleware(h)
	h = auth.RequestIDMiddleware(h)
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordRequest(r.Context(), r.URL.Path, rec.status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		api.WriteBadRequest(w, "Malformed form body")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	op, err := s.store.GetByUsername(r.Context(), username)
	if err != nil {
		api.WriteInternal(w, "Operator store unavailable", err)
		return
	}
	// Unknown user and wrong password are indistinguishable on the wire.
	if op == nil || !s.creds.VerifyPassword(password, op.PasswordHash) {
		api.WriteUnauthorized(w, "Incorrect username or password")
		return
	}

	token, err := s.creds.EncodeSession(op.Username, op.Roles)
	if err != nil {
		api.WriteInternal(w, "Could not issue session token", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, loginResponse{AccessToken: token, TokenType: "bearer"})
}

type intentRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.GetClaims(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		api.WriteBadRequest(w, "A non-empty 'prompt' field is required")
		return
	}

	it, err := s.parser.Parse(r.Context(), req.Prompt, claims.Roles)
	switch {
	case errors.Is(err, intent.ErrNoAction):
		api.WriteBadRequest(w, "No clear financial action detected in prompt")
	case errors.Is(err, intent.ErrUnparsable), errors.Is(err, intent.ErrSchema):
		api.WriteInternal(w, "Could not interpret LLM response", err)
	case err != nil:
		api.WriteInternal(w, "Intent extraction failed", err)
	default:
		api.WriteJSON(w, http.StatusOK, it)
	}
}

type delegateRequest struct {
	UserToken string        `json:"user_token"`
	Intent    intent.Intent `json:"intent"`
}

type delegateResponse struct {
	AgentToken string `json:"agent_token"`
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	var req delegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Malformed JSON body")
		return
	}

	// The user_token in the body is re-verified independently of the
	// session header; delegation binds to the credential presented here.
	claims, err := s.creds.Decode(req.UserToken)
	if err != nil {
		api.WriteUnauthorized(w, "Could not validate credentials")
		return
	}

	token, err := s.authority.Mint(claims, &req.Intent)
	switch {
	case errors.Is(err, delegation.ErrUnsafeIntent):
		api.WriteBadRequest(w, "Intent is not marked safe for execution")
	case errors.Is(err, delegation.ErrNotAuthorized):
		if _, lerr := s.ledger.Log(r.Context(), ledger.EventSecurityFail, map[string]any{
			"user_sub": claims.Subject,
			"action":   req.Intent.Action,
			"reason":   "authorization denied at delegation",
		}); lerr != nil {
			api.WriteInternal(w, "Audit ledger unavailable", lerr)
			return
		}
		api.WriteForbidden(w, "Operator roles do not permit this action")
	case err != nil:
		api.WriteInternal(w, "Could not mint delegation token", err)
	default:
		if s.metrics != nil {
			s.metrics.RecordDelegationMinted(r.Context(), req.Intent.Action)
		}
		api.WriteJSON(w, http.StatusOK, delegateResponse{AgentToken: token})
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r)
	if token == "" {
		if s.metrics != nil {
			s.metrics.RecordUnauthenticatedExecute(r.Context())
		}
		api.WriteUnauthorized(w, "")
		return
	}

	var req pipeline.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Malformed JSON body")
		return
	}

	out, err := s.pipe.Execute(r.Context(), token, req)
	if err != nil {
		var pErr *pipeline.Error
		if errors.As(err, &pErr) {
			if s.metrics != nil {
				if pErr.Unauthenticated() {
					s.metrics.RecordUnauthenticatedExecute(r.Context())
				} else {
					s.metrics.RecordPipelineOutcome(r.Context(), "rejected")
				}
			}
			if pErr.Status == http.StatusUnauthorized {
				api.WriteUnauthorized(w, pErr.Detail)
				return
			}
			s.logger.WarnContext(r.Context(), "pipeline rejection",
				"status", pErr.Status, "detail", pErr.Detail)
			api.WriteError(w, pErr.Status, pErr.Detail)
			return
		}
		api.WriteInternal(w, "Execution failed", err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordPipelineOutcome(r.Context(), "query_success")
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.GetClaims(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"username": claims.Subject,
		"roles":    delegation.OperatorRoles(claims.Roles),
	})
}

type financialActionRequest struct {
	Action    string `json:"action"`
	AccountID string `json:"account_id"`
	Amount    *int64 `json:"amount"`
}

// handleFinancialAction is the direct, non-delegated action path for
// tellers. It bypasses the LLM flow but not the policy matrix.
func (s *Server) handleFinancialAction(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.GetClaims(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	var req financialActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		api.WriteBadRequest(w, "A non-empty 'action' field is required")
		return
	}
	if !policy.Authorize(policy.Action(req.Action), claims.Roles) {
		api.WriteForbidden(w, "Operator roles do not permit this action")
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "completed",
		"action":   req.Action,
		"operator": claims.Subject,
	})
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			api.WriteBadRequest(w, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	events, err := s.ledger.Recent(r.Context(), limit)
	if err != nil {
		api.WriteInternal(w, "Audit ledger unavailable", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		api.WriteBadRequest(w, "Event id must be an integer")
		return
	}

	event, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		api.WriteInternal(w, "Audit ledger unavailable", err)
		return
	}
	if event == nil {
		api.WriteError(w, http.StatusNotFound, "Audit event not found")
		return
	}
	api.WriteJSON(w, http.StatusOK, event)
}
