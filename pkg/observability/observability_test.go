package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledProviderStillRecords(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, &Config{Enabled: false})
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(ctx) }()

	// Instruments exist even without an exporter; none of these panic.
	p.RecordRequest(ctx, "/agent/execute", 200, 12*time.Millisecond)
	p.RecordPipelineOutcome(ctx, "query_success")
	p.RecordUnauthenticatedExecute(ctx)
	p.RecordDelegationMinted(ctx, "transfer")
}

func TestNewNilConfigUsesDefaults(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(ctx) }()

	assert.Equal(t, "finllm-gateway", p.config.ServiceName)
	assert.False(t, p.config.Enabled)
}

func TestShutdownIdempotentOnEmptyProvider(t *testing.T) {
	p := &Provider{}
	assert.NoError(t, p.Shutdown(context.Background()))
}
