package mpesa

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/audit"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/mpesa"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/validation"
)

const maxBodyBytes = 1 << 20

const (
	callbackAccepted = "Callback received successfully"
	callbackFailed   = "Error processing callback"
)

type Handler struct {
	svc    *payment.Service
	audit  audit.Recorder
	logger *slog.Logger
}

func NewHandler(svc *payment.Service, recorder audit.Recorder, logger *slog.Logger) *Handler {
	if recorder == nil {
		recorder = audit.Nop{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{svc: svc, audit: recorder, logger: logger.With("component", "mpesa_handler")}
}

// Routes mounts the push endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/stkpush", h.stkPush)
}

// CallbackRoutes mounts the provider callback, which must stay unauthenticated.
func (h *Handler) CallbackRoutes(r chi.Router) {
	r.Post("/callback", h.callback)
}

type stkPushRequest struct {
	Phone  any `json:"phone"`
	Amount any `json:"amount"`
}

type stkPushResponse struct {
	OK                bool   `json:"ok"`
	CheckoutID        string `json:"checkout_id"`
	MerchantRequestID string `json:"merchant_request_id,omitempty"`
	PaymentID         string `json:"payment_id,omitempty"`
	ResponseCode      string `json:"response_code"`
	Message           string `json:"message"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func (h *Handler) stkPush(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var req stkPushRequest
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	h.audit.Record(audit.CategorySTKPush, map[string]any{"request": req})

	receipt, err := h.svc.Push(r.Context(), payment.PushParams{Amount: req.Amount, Phone: req.Phone})
	if err != nil {
		h.audit.Record(audit.CategorySTKPush, map[string]any{"error": err.Error()})
		h.writePushError(w, err)

		return
	}

	resp := stkPushResponse{
		OK:                true,
		CheckoutID:        receipt.Result.ProviderReference,
		MerchantRequestID: receipt.Result.MerchantRequestID,
		ResponseCode:      receipt.Result.ResponseCode,
		Message:           receipt.Result.CustomerMessage,
	}

	if resp.Message == "" {
		resp.Message = receipt.Result.Description
	}

	if receipt.Payment != nil {
		resp.PaymentID = receipt.Payment.ID
	}

	h.audit.Record(audit.CategorySTKPush, map[string]any{"response": resp})

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writePushError(w http.ResponseWriter, err error) {
	var (
		vErr    *validation.Error
		authErr *mpesa.AuthenticationError
		pushErr *mpesa.PushFailedError
	)

	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: strings.Join(vErr.Violations, "; ")})
	case errors.As(err, &authErr):
		h.logger.Error("provider authentication failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: authErr.Error()})
	case errors.As(err, &pushErr):
		h.logger.Warn("push rejected", "code", pushErr.Code, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: pushErr.Description})
	default:
		h.logger.Error("push failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// callback always answers 200; processing failures are reported in the body.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("callback handler panicked", "panic", rec)
			writeJSON(w, http.StatusOK, callbackAck{ResultCode: 1, ResultDesc: callbackFailed})
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("failed to read callback", "error", err)
		writeJSON(w, http.StatusOK, callbackAck{ResultCode: 1, ResultDesc: callbackFailed})

		return
	}

	h.audit.Record(audit.CategoryCallback, body)

	cb, err := mpesa.ParseCallback(body)
	if err != nil {
		h.logger.Warn("failed to parse callback", "error", err)
		writeJSON(w, http.StatusOK, callbackAck{ResultCode: 1, ResultDesc: callbackFailed})

		return
	}

	if err := h.svc.Reconcile(r.Context(), cb.Outcome()); err != nil {
		h.logger.Error("failed to reconcile callback", "checkout_id", cb.CheckoutRequestID, "error", err)
		writeJSON(w, http.StatusOK, callbackAck{ResultCode: 1, ResultDesc: callbackFailed})

		return
	}

	writeJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: callbackAccepted})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
