package payment_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment"
)

func TestPayment_Complete(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		start     payment.Status
		target    payment.Status
		wantErr   error
		wantFinal payment.Status
	}{
		{name: "pending to success", start: payment.StatusPending, target: payment.StatusSuccess, wantFinal: payment.StatusSuccess},
		{name: "pending to failed", start: payment.StatusPending, target: payment.StatusFailed, wantFinal: payment.StatusFailed},
		{name: "pending to pending", start: payment.StatusPending, target: payment.StatusPending, wantErr: payment.ErrInvalidStatus, wantFinal: payment.StatusPending},
		{name: "success is final", start: payment.StatusSuccess, target: payment.StatusFailed, wantErr: payment.ErrAlreadyCompleted, wantFinal: payment.StatusSuccess},
		{name: "failed is final", start: payment.StatusFailed, target: payment.StatusSuccess, wantErr: payment.ErrAlreadyCompleted, wantFinal: payment.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &payment.Payment{Status: tt.start}

			err := p.Complete(tt.target, at, "done")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.wantFinal, p.Status)
				assert.Nil(t, p.CompletedAt)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantFinal, p.Status)
			require.NotNil(t, p.CompletedAt)
			assert.Equal(t, at, *p.CompletedAt)
			assert.Equal(t, "done", p.ResultDescription)
		})
	}
}

func TestPayment_AttachProviderReference(t *testing.T) {
	p := &payment.Payment{}

	require.NoError(t, p.AttachProviderReference("ws_CO_1"))
	require.NoError(t, p.AttachProviderReference("ws_CO_1"))
	assert.ErrorIs(t, p.AttachProviderReference("ws_CO_2"), payment.ErrReferenceTaken)
	assert.Equal(t, "ws_CO_1", p.ProviderReference)
}

func TestPayment_Clone(t *testing.T) {
	at := time.Now()
	p := &payment.Payment{ID: "abc", CompletedAt: &at}

	c := p.Clone()
	*c.CompletedAt = at.Add(time.Hour)

	assert.Equal(t, at, *p.CompletedAt)
}
