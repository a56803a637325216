package payment

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/audit"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/validation"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	svc   *payment.Service
	audit audit.Recorder
}

// NewHandler builds the payments handler. Initiate requests are recorded in
// the mock audit category; pass audit.Nop{} to skip them.
func NewHandler(svc *payment.Service, recorder audit.Recorder) *Handler {
	if recorder == nil {
		recorder = audit.Nop{}
	}

	return &Handler{svc: svc, audit: recorder}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.initiate)
	r.Get("/{id}", h.get)
}

type initiateRequest struct {
	Amount    any    `json:"amount"`
	Phone     any    `json:"phone"`
	Reference string `json:"reference"`
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var req initiateRequest
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorsEnvelope{Errors: []string{"invalid JSON body"}})
		return
	}

	h.audit.Record(audit.CategoryMock, req)

	p, err := h.svc.Initiate(r.Context(), payment.InitiateParams{
		Amount:    req.Amount,
		Phone:     req.Phone,
		Reference: req.Reference,
	})
	if err != nil {
		var vErr *validation.Error
		if errors.As(err, &vErr) {
			writeJSON(w, http.StatusBadRequest, errorsEnvelope{Errors: vErr.Violations})
			return
		}

		slog.Error("failed to initiate payment", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: "internal error"})

		return
	}

	writeJSON(w, http.StatusCreated, paymentEnvelope{OK: true, Payment: toResponse(p)})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorEnvelope{Error: "Not found"})
			return
		}

		slog.Error("failed to get payment", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: "internal error"})

		return
	}

	writeJSON(w, http.StatusOK, paymentEnvelope{OK: true, Payment: toResponse(p)})
}
