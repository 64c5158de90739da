// Package pipeline is the secured execution path between a delegation
// token and the downstream financial agent. Every request runs the same
// fixed stage order: decode token, canonicalize, filter input, sign and
// self-verify, invoke the agent, screen output, audit. Each stage fails
// closed, and every rejection after token validation writes exactly one
// audit row. Token-decode failures are the one exception: they predate
// a validated subject, so no attacker-controlled data reaches the
// ledger and the caller only gets a 401.
package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/finllm-labs/gateway/pkg/credentials"
	"github.com/finllm-labs/gateway/pkg/delegation"
	"github.com/finllm-labs/gateway/pkg/filter"
	"github.com/finllm-labs/gateway/pkg/ledger"
	"github.com/finllm-labs/gateway/pkg/signing"
)

// ActionRequest is the body presented alongside a delegation token. It
// is the agent's claim of what to do; the token scope is authoritative,
// and a body action that disagrees with the scope is rejected.
type ActionRequest struct {
	Action    string `json:"action"`
	AccountID string `json:"account_id"`
	Amount    *int64 `json:"amount"`
}

// Outcome is a successful pipeline run.
type Outcome struct {
	Response string `json:"response"`
	EventID  int64  `json:"event_id"`
	Status   string `json:"status"`
}

// Error is a terminal pipeline failure with its HTTP mapping.
type Error struct {
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// Unauthenticated reports whether the failure happened before a
// validated subject existed (and therefore left no audit row).
func (e *Error) Unauthenticated() bool { return e.Status == http.StatusUnauthorized }

// Pipeline wires the collaborators of one execution run.
type Pipeline struct {
	creds  *credentials.Service
	filter *filter.Filter
	signer signing.Signer
	ledger *ledger.Ledger
	logger *slog.Logger
}

func New(creds *credentials.Service, f *filter.Filter, signer signing.Signer, l *ledger.Ledger) *Pipeline {
	return &Pipeline{
		creds:  creds,
		filter: f,
		signer: signer,
		ledger: l,
		logger: slog.Default().With("component", "pipeline"),
	}
}

// Execute runs the full pipeline for one delegation token and action
// request. On failure it returns a *Error carrying the HTTP status.
func (p *Pipeline) Execute(ctx context.Context, token string, req ActionRequest) (*Outcome, error) {
	// Stage 1: decode and validate the delegation token. Failures here
	// are not audited; see the package comment.
	claims, err := p.creds.Decode(token)
	if err != nil {
		return nil, &Error{Status: http.StatusUnauthorized, Detail: "Could not validate credentials", Err: err}
	}

	action, target, err := delegation.DecodeScope(claims.Roles)
	if err != nil {
		return nil, p.fail(ctx, ledger.EventSecurityFail, http.StatusBadRequest, "Malformed delegation scope", map[string]any{
			"user_sub": claims.Subject,
			"reason":   "malformed scope_data claim",
		}, err)
	}

	// The token scope is what policy approved; a body that names a
	// different action is evidence of agent tampering.
	if req.Action != "" && req.Action != action {
		return nil, p.fail(ctx, ledger.EventSecurityFail, http.StatusBadRequest, "Action does not match delegated scope", map[string]any{
			"user_sub":         claims.Subject,
			"delegated_action": action,
			"body_action":      req.Action,
			"reason":           "body/scope action mismatch",
		}, nil)
	}

	// Stage 2: canonicalize.
	userInput := canonicalInput(action, target, req.Amount)

	// Stage 3: sanitize and screen the canonical input. Injection
	// detection runs on the original text, before masking.
	in := p.filter.InputCheck(userInput)
	reason := in.Reason
	if reason == "" {
		if inj := p.filter.DetectInjection(userInput); inj.Status == filter.StatusBlocked {
			reason = inj.Reason
		}
	}
	if reason != "" {
		return nil, p.fail(ctx, ledger.EventQueryBlocked, http.StatusBadRequest, reason, map[string]any{
			"user_sub": claims.Subject,
			"input":    userInput,
			"reason":   reason,
		}, nil)
	}

	// Stage 4: sign the masked input and verify our own signature
	// before anything leaves the gateway.
	signature, err := p.signer.Sign(in.MaskedInput)
	verified := err == nil && p.signer.Verify(in.MaskedInput, signature)
	if !verified {
		return nil, p.fail(ctx, ledger.EventSecurityFail, http.StatusInternalServerError, "Internal security error", map[string]any{
			"user_sub": claims.Subject,
			"reason":   "signature generation or verification failed",
		}, err)
	}

	// Stage 5: invoke the financial agent (simulated).
	response := invokeAgent(claims.Subject, action, target, verified)

	// Stage 6: screen the agent output.
	if out := p.filter.OutputCheck(response); out.Status == filter.StatusBlocked {
		return nil, p.fail(ctx, ledger.EventOutputBlocked, http.StatusInternalServerError, "Agent response was blocked", map[string]any{
			"user_sub": claims.Subject,
			"reason":   out.Reason,
		}, nil)
	}

	// Stage 7: audit the full envelope.
	eventID, err := p.ledger.Log(ctx, ledger.EventQuerySuccess, map[string]any{
		"user_sub":         claims.Subject,
		"delegated_action": action,
		"input_original":   userInput,
		"input_masked":     in.MaskedInput,
		"signature_hex":    hex.EncodeToString(signature),
		"atv_verified":     verified,
		"agent_response":   response,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "audit write failed", "error", err)
		return nil, &Error{Status: http.StatusInternalServerError, Detail: "Audit ledger unavailable", Err: err}
	}

	return &Outcome{Response: response, EventID: eventID, Status: "success"}, nil
}

// fail writes the single audit row for a rejection and returns the
// mapped error. A ledger failure overrides the rejection with a 500 so
// no terminal state goes unrecorded.
func (p *Pipeline) fail(ctx context.Context, event ledger.EventType, status int, detail string, payload map[string]any, cause error) *Error {
	if _, err := p.ledger.Log(ctx, event, payload); err != nil {
		p.logger.ErrorContext(ctx, "audit write failed", "event_type", event, "error", err)
		return &Error{Status: http.StatusInternalServerError, Detail: "Audit ledger unavailable", Err: err}
	}
	return &Error{Status: status, Detail: detail, Err: cause}
}

// canonicalInput renders the token scope and claimed amount in the
// fixed form every later stage operates on.
func canonicalInput(action, target string, amount *int64) string {
	amt := "N/A"
	if amount != nil {
		amt = fmt.Sprintf("%d", *amount)
	}
	return fmt.Sprintf("Action:%s Target:%s Amount:%s", action, target, amt)
}

// invokeAgent simulates the downstream financial agent.
func invokeAgent(sub, action, target string, verified bool) string {
	return fmt.Sprintf("FCA: Successfully executed '%s' for user %s on target '%s'. Signed message verified: %t",
		action, sub, target, verified)
}
