package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=payment
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	GetByProviderReference(ctx context.Context, ref string) (*Payment, error)
	// Update applies mutate to the latest committed state of the payment.
	// Mutations of the same id never run concurrently. If mutate returns an
	// error nothing is written and the error is returned.
	Update(ctx context.Context, id string, mutate func(p *Payment) error) (*Payment, error)
}

// Provider submits push requests to the mobile-money provider.
type Provider interface {
	Push(ctx context.Context, req PushRequest) (*PushResult, error)
}

type PushRequest struct {
	Amount      decimal.Decimal
	Phone       string
	Reference   string
	Description string
}

// PushResult is the provider's synchronous acknowledgment of an accepted push.
type PushResult struct {
	ProviderReference string
	MerchantRequestID string
	ResponseCode      string
	Description       string
	CustomerMessage   string
}

// Outcome is the final result of a push as reported by the provider's callback.
type Outcome struct {
	ProviderReference string
	ResultCode        int
	Description       string
	Receipt           string
	// Amount is the amount the provider reports as paid, zero when absent.
	Amount decimal.Decimal
}

func (o Outcome) Status() Status {
	if o.ResultCode == 0 {
		return StatusSuccess
	}

	return StatusFailed
}

type InitiateParams struct {
	Amount    any
	Phone     any
	Reference string
}

type PushParams struct {
	Amount any
	Phone  any
}

// PushReceipt pairs the provider's acknowledgment with the payment recorded
// for it. Payment is nil if recording failed.
type PushReceipt struct {
	Payment *Payment
	Result  *PushResult
}

const (
	createAttempts  = 3
	demoDescription = "demo completion"
)

type Service struct {
	repo      Repository
	provider  Provider
	scheduler Scheduler
	opts      Options
	logger    *slog.Logger

	// attaching counts pushes whose checkout id is not yet stored.
	attaching atomic.Int64
}

func NewService(repo Repository, provider Provider, scheduler Scheduler, opts Options) (*Service, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if opts.Mode == ModeProvider && provider == nil {
		return nil, errors.New("provider mode requires a provider")
	}

	return &Service{
		repo:      repo,
		provider:  provider,
		scheduler: scheduler,
		opts:      opts,
		logger:    opts.Logger.With("component", "payment"),
	}, nil
}

// Initiate validates the request, records a pending payment and schedules
// its completion. The returned payment is always PENDING.
func (s *Service) Initiate(ctx context.Context, params InitiateParams) (*Payment, error) {
	amount, phone, err := s.opts.Validator.Validate(params.Amount, params.Phone)
	if err != nil {
		return nil, err
	}

	if s.opts.Mode == ModeProvider {
		amount = chargeable(amount)
	}

	now := s.opts.Now()

	reference := params.Reference
	if reference == "" {
		reference = s.opts.IDs.Reference(s.opts.ReferencePrefix, now)
	}

	p := &Payment{
		Amount:    amount,
		Phone:     phone,
		Reference: reference,
		Status:    StatusPending,
		CreatedAt: now,
	}

	if err := s.create(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("payment initiated", "id", p.ID, "reference", p.Reference, "mode", s.opts.Mode)

	id := p.ID

	switch s.opts.Mode {
	case ModeDemo:
		s.scheduler.After(s.opts.DemoDelay, func(ctx context.Context) {
			s.complete(ctx, id, StatusSuccess, demoDescription)
		})
	case ModeProvider:
		req := PushRequest{
			Amount:      amount,
			Phone:       phone,
			Reference:   reference,
			Description: s.opts.Description,
		}

		s.scheduler.Go(func(ctx context.Context) {
			s.submit(ctx, id, req)
		})
	}

	return p.Clone(), nil
}

// Push validates the request against the provider profile and submits it
// synchronously. Accepted pushes are recorded as pending payments so the
// provider's callback can complete them.
func (s *Service) Push(ctx context.Context, params PushParams) (*PushReceipt, error) {
	if s.provider == nil {
		return nil, errors.New("no provider configured")
	}

	amount, phone, err := s.opts.PushValidator.Validate(params.Amount, params.Phone)
	if err != nil {
		return nil, err
	}

	amount = chargeable(amount)

	now := s.opts.Now()
	reference := s.opts.IDs.Reference(s.opts.ReferencePrefix, now)

	s.attaching.Add(1)
	defer s.attaching.Add(-1)

	result, err := s.provider.Push(ctx, PushRequest{
		Amount:      amount,
		Phone:       phone,
		Reference:   reference,
		Description: s.opts.Description,
	})
	if err != nil {
		s.logger.Warn("push request failed", "phone", phone, "error", err)
		return nil, err
	}

	receipt := &PushReceipt{Result: result}

	p := &Payment{
		Amount:            amount,
		Phone:             phone,
		Reference:         reference,
		Status:            StatusPending,
		CreatedAt:         now,
		ProviderReference: result.ProviderReference,
	}

	// The prompt has already reached the payer, so the record must be
	// written even if the caller goes away, and a storage failure is logged
	// rather than reported as a failed push.
	if err := s.create(context.WithoutCancel(ctx), p); err != nil {
		s.logger.Error("failed to record accepted push", "checkout_id", result.ProviderReference, "error", err)
		return receipt, nil
	}

	receipt.Payment = p.Clone()

	s.logger.Info("push accepted", "id", p.ID, "checkout_id", result.ProviderReference)

	return receipt, nil
}

// Reconcile applies a provider callback outcome. Unknown references and
// already completed payments are logged and ignored.
func (s *Service) Reconcile(ctx context.Context, outcome Outcome) error {
	if outcome.ProviderReference == "" {
		s.logger.Warn("callback without checkout id discarded")
		return nil
	}

	p, err := s.findByProviderReference(ctx, outcome.ProviderReference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("callback for unknown checkout discarded", "checkout_id", outcome.ProviderReference)
			return nil
		}

		return fmt.Errorf("finding payment by checkout id: %w", err)
	}

	if !outcome.Amount.IsZero() && !outcome.Amount.Equal(p.Amount) {
		s.logger.Warn("callback amount differs from recorded amount",
			"id", p.ID, "recorded", p.Amount.String(), "reported", outcome.Amount.String())
	}

	status := outcome.Status()

	_, err = s.repo.Update(ctx, p.ID, func(p *Payment) error {
		if err := p.Complete(status, s.opts.Now(), outcome.Description); err != nil {
			return err
		}

		p.Receipt = outcome.Receipt

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyCompleted) {
			s.logger.Info("callback for completed payment ignored", "id", p.ID, "checkout_id", outcome.ProviderReference)
			return nil
		}

		return fmt.Errorf("reconciling payment %s: %w", p.ID, err)
	}

	s.logger.Info("payment reconciled", "id", p.ID, "status", status, "result_code", outcome.ResultCode)

	return nil
}

// findByProviderReference looks the checkout id up, retrying briefly while a
// submission is still attaching its reference so an early callback is not lost.
func (s *Service) findByProviderReference(ctx context.Context, ref string) (*Payment, error) {
	for attempt := 0; ; attempt++ {
		// Read before the lookup so an attach landing in between is retried.
		inFlight := s.attaching.Load() > 0

		p, err := s.repo.GetByProviderReference(ctx, ref)
		if !errors.Is(err, ErrNotFound) || !inFlight || attempt >= s.opts.LookupRetries {
			return p, err
		}

		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(s.opts.LookupRetryDelay):
		}
	}
}

// Get returns the current state of a payment.
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) create(ctx context.Context, p *Payment) error {
	var err error

	for range createAttempts {
		p.ID = s.opts.IDs.ID()

		err = s.repo.Create(ctx, p)
		if !errors.Is(err, ErrDuplicateID) {
			break
		}
	}

	if err != nil {
		return fmt.Errorf("creating payment: %w", err)
	}

	return nil
}

func (s *Service) submit(ctx context.Context, id string, req PushRequest) {
	s.attaching.Add(1)
	defer s.attaching.Add(-1)

	result, err := s.provider.Push(ctx, req)
	if err != nil {
		s.logger.Warn("push submission failed", "id", id, "error", err)

		if s.opts.RejectPolicy == RejectMarkFailed {
			s.complete(ctx, id, StatusFailed, err.Error())
		}

		return
	}

	_, err = s.repo.Update(ctx, id, func(p *Payment) error {
		return p.AttachProviderReference(result.ProviderReference)
	})
	if err != nil {
		s.logger.Error("failed to attach checkout id", "id", id, "checkout_id", result.ProviderReference, "error", err)
		return
	}

	s.logger.Info("push submitted", "id", id, "checkout_id", result.ProviderReference)
}

// chargeable rounds up to the whole units the provider charges, so the stored
// amount is the amount the payer is prompted for.
func chargeable(amount decimal.Decimal) decimal.Decimal {
	return amount.Ceil()
}

func (s *Service) complete(ctx context.Context, id string, status Status, description string) {
	_, err := s.repo.Update(ctx, id, func(p *Payment) error {
		return p.Complete(status, s.opts.Now(), description)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyCompleted) {
			s.logger.Debug("payment already completed", "id", id)
			return
		}

		s.logger.Error("failed to complete payment", "id", id, "status", status, "error", err)

		return
	}

	s.logger.Info("payment completed", "id", id, "status", status)
}
