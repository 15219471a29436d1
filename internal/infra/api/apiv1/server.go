package apiv1

import (
	_ "embed"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/rs/zerolog"

	"order-payments/internal/domain"
	"order-payments/internal/domain/money"
	"order-payments/internal/domain/ports/adapter"
	"order-payments/internal/infra/adapters/payment"
	"order-payments/internal/infra/logging"
	"order-payments/internal/usecase"
)

//go:embed openapi.yaml
var openAPIDoc []byte

// Server exposes the payment use cases over JSON.
type Server struct {
	payUC           usecase.PaymentUseCase
	totalsUC        usecase.OrderTotalsUseCase
	hookUC          usecase.WebhookUseCase
	maxWebhookBytes int64
	log             *zerolog.Logger
}

func NewServer(
	payUC usecase.PaymentUseCase,
	totalsUC usecase.OrderTotalsUseCase,
	hookUC usecase.WebhookUseCase,
	maxWebhookBytes int64,
	logger *zerolog.Logger,
) *Server {
	if maxWebhookBytes <= 0 {
		maxWebhookBytes = 64 << 10
	}
	return &Server{
		payUC:           payUC,
		totalsUC:        totalsUC,
		hookUC:          hookUC,
		maxWebhookBytes: maxWebhookBytes,
		log:             logging.Component(logger, "APIv1"),
	}
}

// RegisterAPIV1 mounts the operator routes. Authentication is the caller's
// middleware.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/openapi.yaml", serveOpenAPI)
		r.Route("/orders/{orderRef}", func(r chi.Router) {
			r.Post("/payment-links", s.createPaymentLink)
			r.Post("/charges", s.chargeOrder)
			r.Get("/payments", s.listOrderPayments)
			r.Post("/totals/recompute", s.recomputeTotals)
		})
		r.Route("/payments/{id}", func(r chi.Router) {
			r.Get("/", s.getPayment)
			r.Post("/refunds", s.refundPayment)
			r.Post("/cancel", s.cancelPayment)
			r.Post("/sync", s.syncPayment)
		})
		r.Post("/customers/{customerId}/setup-intents", s.createSetupIntent)
	})
}

// RegisterWebhook mounts the gateway callback. It is authenticated by its
// signature only.
func RegisterWebhook(r chi.Router, s *Server) {
	r.Post("/webhooks/gateway", s.handleWebhook)
}

func serveOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openAPIDoc)
}

// pathParam binds a simple-style path parameter as documented in
// openapi.yaml, then applies the validator rules.
func pathParam(r *http.Request, key, field, rules string) (string, error) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", key, chi.URLParam(r, key), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", domain.NewValidationError(field, "malformed path parameter")
	}
	if err := validate.Var(v, rules); err != nil {
		return "", domain.NewValidationError(field, "malformed path parameter")
	}
	return v, nil
}

func (s *Server) orderRef(r *http.Request) (string, error) {
	return pathParam(r, "orderRef", "order_ref", "required,max=64,printascii")
}

func (s *Server) createPaymentLink(w http.ResponseWriter, r *http.Request) {
	ref, err := s.orderRef(r)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	var req createLinkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	p, err := s.payUC.CreatePaymentLink(r.Context(), ref, req.ReturnURL)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayment(p))
}

func (s *Server) chargeOrder(w http.ResponseWriter, r *http.Request) {
	ref, err := s.orderRef(r)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	var req chargeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	res, err := s.payUC.ChargeSalesOrder(r.Context(), ref, usecase.ChargeRequest{
		PaymentMethodID: req.PaymentMethodID,
		SaveCard:        req.SaveCard,
		CustomerID:      req.CustomerID,
		CustomerRef:     req.CustomerRef,
		Email:           req.Email,
		ReturnURL:       req.ReturnURL,
	})
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	status := http.StatusCreated
	if res.RequiresAction {
		status = http.StatusAccepted
	}
	writeJSON(w, status, toChargeResult(res))
}

func (s *Server) listOrderPayments(w http.ResponseWriter, r *http.Request) {
	ref, err := s.orderRef(r)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	list, err := s.payUC.GetPaymentsByOrder(r.Context(), ref)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	items := make([]Payment, 0, len(list))
	for _, p := range list {
		items = append(items, toPayment(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) recomputeTotals(w http.ResponseWriter, r *http.Request) {
	ref, err := s.orderRef(r)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	t, err := s.totalsUC.Recompute(r.Context(), ref)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderTotals(t))
}

func (s *Server) paymentID(r *http.Request) (string, error) {
	return pathParam(r, "id", "payment_id", "required,uuid")
}

func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := s.paymentID(r)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	p, err := s.payUC.GetPaymentByID(r.Context(), id)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayment(p))
}

func (s *Server) refundPayment(w http.ResponseWriter, r *http.Request) {
	id, err := s.paymentID(r)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	var req refundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	amount := req.Amount
	if req.AmountDecimal != "" {
		cur, err := s.payUC.GetPaymentByID(r.Context(), id)
		if err != nil {
			writeError(w, r, s.log, err)
			return
		}
		minor, err := money.Parse(req.AmountDecimal, cur.Currency)
		if err == nil {
			err = money.ValidateMinor(minor)
		}
		if err != nil {
			writeError(w, r, s.log, domain.NewValidationError("amount_decimal", "must be a positive amount in "+cur.Currency))
			return
		}
		amount = &minor
	}
	p, err := s.payUC.RefundPayment(r.Context(), id, amount, adapter.RefundReason(req.Reason))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayment(p))
}

func (s *Server) cancelPayment(w http.ResponseWriter, r *http.Request) {
	id, err := s.paymentID(r)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	p, err := s.payUC.CancelPaymentLink(r.Context(), id)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayment(p))
}

func (s *Server) syncPayment(w http.ResponseWriter, r *http.Request) {
	id, err := s.paymentID(r)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	p, err := s.payUC.SyncPaymentLinkStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayment(p))
}

func (s *Server) createSetupIntent(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathParam(r, "customerId", "customer_id", "required,startswith=cus_")
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	si, err := s.payUC.CreateSetupIntent(r.Context(), customerID)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, SetupIntent{ID: si.ID, ClientSecret: si.ClientSecret})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, Error{Code: "too_large", Message: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, Error{Code: "bad_request", Message: "could not read payload"})
		return
	}
	res, err := s.hookUC.HandleWebhook(r.Context(), body, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookAck{Received: true, EventID: res.EventID, Outcome: string(res.Outcome)})
}
