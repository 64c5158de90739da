// Package delegation mints agent delegation tokens from a confirmed
// intent and enforces the hard authorization gate in front of minting.
//
// The delegated scope is the string "{action}:{target}". Because the
// roles claim is a flat list whose serializers historically used commas
// and colons as delimiters, the scope is base64-encoded (URL-safe,
// padding stripped) and carried as a single synthetic role entry
// "scope_data=<b64>". Targets may contain colons; only the first colon
// of the decoded scope separates action from target.
package delegation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/finllm-labs/gateway/pkg/credentials"
	"github.com/finllm-labs/gateway/pkg/intent"
	"github.com/finllm-labs/gateway/pkg/policy"
)

const scopePrefix = "scope_data="

var (
	// ErrUnsafeIntent rejects minting for an intent not marked safe.
	ErrUnsafeIntent = errors.New("intent is not marked safe")
	// ErrNotAuthorized rejects minting when the role matrix denies the
	// action. This gate is authoritative regardless of is_safe.
	ErrNotAuthorized = errors.New("operator roles do not permit this action")
	// ErrMalformedScope covers a missing or undecodable scope entry.
	ErrMalformedScope = errors.New("malformed scope")
)

// Authority mints delegation tokens.
type Authority struct {
	creds *credentials.Service
}

func NewAuthority(creds *credentials.Service) *Authority {
	return &Authority{creds: creds}
}

// Mint validates the intent against the session claims and returns a
// short-lived delegation token scoped to exactly that intent.
func (a *Authority) Mint(claims *credentials.Claims, it *intent.Intent) (string, error) {
	if !it.IsSafe {
		return "", ErrUnsafeIntent
	}
	action := policy.Action(it.Action)
	if !policy.Known(action) || !policy.Authorize(action, claims.Roles) {
		return "", fmt.Errorf("%w: action %q", ErrNotAuthorized, it.Action)
	}

	target := ""
	if it.Target != nil {
		target = *it.Target
	}

	roles := make([]string, 0, len(claims.Roles)+1)
	roles = append(roles, claims.Roles...)
	roles = append(roles, EncodeScope(it.Action, target))

	token, err := a.creds.EncodeDelegation(claims.Subject, roles)
	if err != nil {
		return "", fmt.Errorf("delegation: mint: %w", err)
	}
	return token, nil
}

// EncodeScope wraps "{action}:{target}" as a scope_data role entry.
func EncodeScope(action, target string) string {
	raw := action + ":" + target
	return scopePrefix + base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeScope extracts the delegated action and target from a roles
// list. The target keeps any colons it contains; only the first colon
// splits action from target.
func DecodeScope(roles []string) (action, target string, err error) {
	var encoded string
	for _, r := range roles {
		if strings.HasPrefix(r, scopePrefix) {
			encoded = strings.TrimPrefix(r, scopePrefix)
			break
		}
	}
	if encoded == "" {
		return "", "", fmt.Errorf("%w: no scope entry in roles", ErrMalformedScope)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedScope, err)
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: missing action delimiter", ErrMalformedScope)
	}
	return parts[0], parts[1], nil
}

// OperatorRoles strips the scope entry, returning the original roles.
func OperatorRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if !strings.HasPrefix(r, scopePrefix) {
			out = append(out, r)
		}
	}
	return out
}
