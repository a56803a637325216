package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment"
)

type paymentResponse struct {
	ID                string         `json:"id"`
	Amount            json.Number    `json:"amount"`
	Phone             string         `json:"phone"`
	Reference         string         `json:"reference"`
	Status            payment.Status `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	ProviderReference string         `json:"provider_reference,omitempty"`
	ResultDescription string         `json:"result_description,omitempty"`
	Receipt           string         `json:"receipt,omitempty"`
}

func toResponse(p *payment.Payment) paymentResponse {
	return paymentResponse{
		ID:                p.ID,
		Amount:            json.Number(p.Amount.String()),
		Phone:             p.Phone,
		Reference:         p.Reference,
		Status:            p.Status,
		CreatedAt:         p.CreatedAt,
		CompletedAt:       p.CompletedAt,
		ProviderReference: p.ProviderReference,
		ResultDescription: p.ResultDescription,
		Receipt:           p.Receipt,
	}
}

type paymentEnvelope struct {
	OK      bool            `json:"ok"`
	Payment paymentResponse `json:"payment"`
}

type errorsEnvelope struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}

type errorEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
