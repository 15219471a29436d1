//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-payments/internal/domain"
	"order-payments/internal/domain/model"
)

func TestWebhookEventRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewWebhookEventRepo(testPool)

	t.Run("should dedupe by event id", func(t *testing.T) {
		cleanup(t)
		rec := &model.WebhookEventRecord{EventID: "evt_1", Type: "payment_intent.succeeded", Outcome: model.WebhookNoop}
		require.NoError(t, repo.Record(ctx, nil, rec))
		assert.NotEmpty(t, rec.ID)

		err := repo.Record(ctx, nil, &model.WebhookEventRecord{EventID: "evt_1", Type: "payment_intent.succeeded", Outcome: model.WebhookNoop})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("should set the outcome of a recorded event", func(t *testing.T) {
		cleanup(t)
		require.NoError(t, repo.Record(ctx, nil, &model.WebhookEventRecord{EventID: "evt_2", Type: "charge.refunded", Outcome: model.WebhookNoop}))
		require.NoError(t, repo.SetOutcome(ctx, nil, "evt_2", model.WebhookApplied, nil))

		err := repo.SetOutcome(ctx, nil, "evt_missing", model.WebhookApplied, nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
