package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorize(t *testing.T) {
	assert.True(t, Authorize(ActionTransfer, []string{"teller"}))
	assert.True(t, Authorize(ActionTransfer, []string{"customer_service", "teller"}))
	assert.False(t, Authorize(ActionTransfer, []string{"advisor"}))
	assert.False(t, Authorize(ActionTransfer, nil))
}

func TestAuthorizeUnknownActionDenied(t *testing.T) {
	assert.False(t, Authorize(Action("format_hard_drive"), []string{"admin"}))
	assert.False(t, Authorize(ActionNone, []string{"admin"}))
}

func TestEveryActionHasRoles(t *testing.T) {
	for action, roles := range roleActionMap {
		assert.NotEmpty(t, roles, "action %s must name at least one role", action)
	}
}

func TestKnown(t *testing.T) {
	assert.True(t, Known(ActionInformational))
	assert.False(t, Known(ActionNone))
	assert.False(t, Known(Action("rm_rf")))
}

func TestRequiredRoles(t *testing.T) {
	assert.Contains(t, RequiredRoles(ActionAuditTransaction), "auditor")
	assert.Nil(t, RequiredRoles(Action("nope")))
}
