package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment/store"
)

func newPayment(id string) *payment.Payment {
	return &payment.Payment{
		ID:        id,
		Amount:    decimal.NewFromInt(100),
		Phone:     "254712345678",
		Reference: "PAY-20240101000000",
		Status:    payment.StatusPending,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMemory_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	p := newPayment("abc")
	require.NoError(t, s.Create(ctx, p))

	got, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	// Mutating either copy must not leak into the store.
	p.Status = payment.StatusFailed
	got.Phone = "000"

	again, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, again.Status)
	assert.Equal(t, "254712345678", again.Phone)
}

func TestMemory_Create_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	require.NoError(t, s.Create(ctx, newPayment("abc")))
	assert.ErrorIs(t, s.Create(ctx, newPayment("abc")), payment.ErrDuplicateID)
	assert.Equal(t, 1, s.Len())
}

func TestMemory_Get_NotFound(t *testing.T) {
	s := store.NewMemory()

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, payment.ErrNotFound)

	_, err = s.GetByProviderReference(context.Background(), "ws_CO_missing")
	assert.ErrorIs(t, err, payment.ErrNotFound)
}

func TestMemory_Update_IndexesProviderReference(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	require.NoError(t, s.Create(ctx, newPayment("abc")))

	updated, err := s.Update(ctx, "abc", func(p *payment.Payment) error {
		return p.AttachProviderReference("ws_CO_1")
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", updated.ProviderReference)

	got, err := s.GetByProviderReference(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ID)
}

func TestMemory_Update_MutatorErrorDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	require.NoError(t, s.Create(ctx, newPayment("abc")))

	boom := errors.New("boom")
	_, err := s.Update(ctx, "abc", func(p *payment.Payment) error {
		p.Status = payment.StatusSuccess
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, got.Status)
}

func TestMemory_Update_NotFound(t *testing.T) {
	s := store.NewMemory()

	_, err := s.Update(context.Background(), "missing", func(*payment.Payment) error { return nil })
	assert.ErrorIs(t, err, payment.ErrNotFound)
}

func TestMemory_Update_ReferenceTaken(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	first := newPayment("one")
	first.ProviderReference = "ws_CO_1"
	require.NoError(t, s.Create(ctx, first))
	require.NoError(t, s.Create(ctx, newPayment("two")))

	_, err := s.Update(ctx, "two", func(p *payment.Payment) error {
		p.ProviderReference = "ws_CO_1"
		return nil
	})
	assert.ErrorIs(t, err, payment.ErrReferenceTaken)
}

func TestMemory_ConcurrentCompletionAppliesOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	require.NoError(t, s.Create(ctx, newPayment("abc")))

	const writers = 50

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for i := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			status := payment.StatusSuccess
			if i%2 == 1 {
				status = payment.StatusFailed
			}

			_, err := s.Update(ctx, "abc", func(p *payment.Payment) error {
				return p.Complete(status, time.Now(), fmt.Sprintf("writer %d", i))
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()

				return
			}

			assert.ErrorIs(t, err, payment.ErrAlreadyCompleted)
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)

	got, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
	assert.NotNil(t, got.CompletedAt)
}
