package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/ident"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/validation"
)

// Mode selects how an initiated payment reaches a terminal state.
type Mode string

const (
	// ModeDemo completes every payment successfully after a fixed delay.
	ModeDemo Mode = "demo"
	// ModeProvider pushes the payment to the provider and waits for its callback.
	ModeProvider Mode = "provider"
)

// RejectPolicy decides what happens to a payment whose push the provider refused.
type RejectPolicy string

const (
	RejectLeavePending RejectPolicy = "leave_pending"
	RejectMarkFailed   RejectPolicy = "mark_failed"
)

// Scheduler runs work detached from the caller.
type Scheduler interface {
	Go(task func(ctx context.Context))
	After(d time.Duration, task func(ctx context.Context))
}

// IDGenerator issues payment ids and reference labels.
type IDGenerator interface {
	ID() string
	Reference(prefix string, t time.Time) string
}

type Options struct {
	Mode            Mode
	DemoDelay       time.Duration
	RejectPolicy    RejectPolicy
	ReferencePrefix string
	// Description is sent to the provider as the transaction description.
	Description string

	// Validator checks Initiate input. PushValidator checks Push input and
	// should use the provider profile.
	Validator     *validation.Validator
	PushValidator *validation.Validator

	// LookupRetries bounds how often Reconcile looks a checkout id up again
	// while a submission is still attaching its reference.
	LookupRetries    int
	LookupRetryDelay time.Duration

	IDs    IDGenerator
	Logger *slog.Logger
	Now    func() time.Time
}

const (
	defaultDemoDelay        = 5 * time.Second
	defaultPrefix           = "PAY"
	defaultLookupRetries    = 10
	defaultLookupRetryDelay = 100 * time.Millisecond
)

func (o *Options) setDefaults() {
	if o.Mode == "" {
		o.Mode = ModeDemo
	}

	if o.DemoDelay <= 0 {
		o.DemoDelay = defaultDemoDelay
	}

	if o.RejectPolicy == "" {
		o.RejectPolicy = RejectLeavePending
	}

	if o.ReferencePrefix == "" {
		o.ReferencePrefix = defaultPrefix
	}

	if o.LookupRetries == 0 {
		o.LookupRetries = defaultLookupRetries
	}

	if o.LookupRetryDelay <= 0 {
		o.LookupRetryDelay = defaultLookupRetryDelay
	}

	if o.Validator == nil {
		o.Validator = validation.MustNew(validation.ProfileGeneric)
	}

	if o.PushValidator == nil {
		o.PushValidator = validation.MustNew(validation.ProfileProvider)
	}

	if o.IDs == nil {
		o.IDs = ident.New()
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o *Options) validate() error {
	switch o.Mode {
	case ModeDemo, ModeProvider:
	default:
		return fmt.Errorf("unknown payment mode %q", o.Mode)
	}

	switch o.RejectPolicy {
	case RejectLeavePending, RejectMarkFailed:
	default:
		return fmt.Errorf("unknown reject policy %q", o.RejectPolicy)
	}

	if o.LookupRetries < 0 {
		return fmt.Errorf("lookup retries must not be negative, got %d", o.LookupRetries)
	}

	return nil
}
