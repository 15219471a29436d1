//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "tr-1")
	ctx = WithOrderRef(ctx, "SO-1")
	ctx = WithPaymentID(ctx, "pay-1")

	With(ctx, &base).Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "tr-1", line["trace_id"])
	assert.Equal(t, "SO-1", line["order_ref"])
	assert.Equal(t, "pay-1", line["payment_id"])
	assert.NotContains(t, line, "event_id")
	assert.Equal(t, "tr-1", TraceID(ctx))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "sk_live_abcdef", Redact("sk_live_abcdef", true))
	assert.Equal(t, "***", Redact("short", false))
	assert.Equal(t, "sk_l...ef", Redact("sk_live_abcdef", false))
}
