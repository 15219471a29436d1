//go:build !integration

package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-payments/internal/config"
	"order-payments/internal/domain/model"
	"order-payments/internal/infra/api"
	"order-payments/internal/infra/api/apiv1"
	"order-payments/internal/usecase"
)

const testSecret = "operator-secret"

// stubPaymentUC answers GetPaymentByID only; any other call panics.
type stubPaymentUC struct {
	usecase.PaymentUseCase
	get func(ctx context.Context, id string) (*model.Payment, error)
}

func (s *stubPaymentUC) GetPaymentByID(ctx context.Context, id string) (*model.Payment, error) {
	return s.get(ctx, id)
}

type stubWebhookUC struct{}

func (stubWebhookUC) HandleWebhook(context.Context, []byte, string) (usecase.WebhookResult, error) {
	return usecase.WebhookResult{EventID: "evt_1", Outcome: model.WebhookApplied}, nil
}

type countingLimiter struct {
	mu    sync.Mutex
	seen  map[string]int
	err   error
	limit int
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	l.seen[key]++
	l.limit = limit
	return l.seen[key] <= limit, nil
}

const paymentID = "6f1c2b1e-3d4a-4c55-9a0e-0b7f5d2f1a10"

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

func newHandler(t *testing.T, limiter api.Limiter, perMin int) (http.Handler, *api.Authenticator) {
	t.Helper()
	pay := &stubPaymentUC{get: func(_ context.Context, id string) (*model.Payment, error) {
		if id == paymentID {
			return &model.Payment{ID: id, OrderRef: "SO-1", Amount: 100, Currency: "usd", Status: model.PaymentStatusPending}, nil
		}
		panic("unexpected id")
	}}
	v1 := apiv1.NewServer(pay, nil, stubWebhookUC{}, 0, newLogger())
	auth := api.NewAuthenticator(testSecret, "order-payments")
	cfg := config.ServerConfig{RequestTimeout: 5 * time.Second, RateLimitPerMin: perMin}
	return api.NewRouter(cfg, v1, auth, limiter, newLogger()), auth
}

func get(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_PublicRoutes(t *testing.T) {
	h, _ := newHandler(t, nil, 0)

	t.Run("health needs no token", func(t *testing.T) {
		rec := get(h, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
	})

	t.Run("metrics are served", func(t *testing.T) {
		rec := get(h, "/metrics", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("webhook is reachable without a token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("trace id is echoed back", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

		rec = get(h, "/health", "")
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})
}

func TestRouter_OperatorAuth(t *testing.T) {
	h, auth := newHandler(t, nil, 0)
	path := "/api/v1/payments/" + paymentID

	t.Run("401 without a token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get(h, path, "").Code)
	})

	t.Run("200 with an operator token", func(t *testing.T) {
		tok, err := auth.Mint("ops@example.com", time.Minute)
		require.NoError(t, err)
		rec := get(h, path, tok)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("401 with an expired token", func(t *testing.T) {
		tok, err := auth.Mint("ops@example.com", -time.Minute)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, get(h, path, tok).Code)
	})

	t.Run("401 with a token signed by another key", func(t *testing.T) {
		tok, err := api.NewAuthenticator("other", "order-payments").Mint("ops", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, get(h, path, tok).Code)
	})

	t.Run("401 without the operator role", func(t *testing.T) {
		claims := api.OperatorClaims{
			Role: "viewer",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "order-payments",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, get(h, path, tok).Code)
	})

	t.Run("panics become 500", func(t *testing.T) {
		tok, err := auth.Mint("ops", time.Minute)
		require.NoError(t, err)
		rec := get(h, "/api/v1/payments/00000000-0000-4000-8000-000000000000", tok)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestRouter_RateLimit(t *testing.T) {
	t.Run("429 after the per-minute budget", func(t *testing.T) {
		lim := &countingLimiter{seen: map[string]int{}}
		h, auth := newHandler(t, lim, 2)
		tok, err := auth.Mint("ops", time.Minute)
		require.NoError(t, err)
		path := "/api/v1/payments/" + paymentID

		assert.Equal(t, http.StatusOK, get(h, path, tok).Code)
		assert.Equal(t, http.StatusOK, get(h, path, tok).Code)
		rec := get(h, path, tok)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		assert.Equal(t, 2, lim.limit)
	})

	t.Run("limiter errors let requests through", func(t *testing.T) {
		lim := &countingLimiter{seen: map[string]int{}, err: errors.New("redis down")}
		h, auth := newHandler(t, lim, 1)
		tok, err := auth.Mint("ops", time.Minute)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			assert.Equal(t, http.StatusOK, get(h, "/api/v1/payments/"+paymentID, tok).Code)
		}
	})

	t.Run("health is never limited", func(t *testing.T) {
		lim := &countingLimiter{seen: map[string]int{}}
		h, _ := newHandler(t, lim, 1)
		for i := 0; i < 3; i++ {
			assert.Equal(t, http.StatusOK, get(h, "/health", "").Code)
		}
	})
}
