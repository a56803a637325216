package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = errors.New("payment not found")
	ErrDuplicateID      = errors.New("payment id already exists")
	ErrAlreadyCompleted = errors.New("payment already completed")
	ErrInvalidStatus    = errors.New("invalid terminal status")
	ErrReferenceTaken   = errors.New("provider reference already attached")
)

// Status represents the lifecycle state of a payment.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Payment is a single push-payment request and its outcome.
type Payment struct {
	ID                string
	Amount            decimal.Decimal
	Phone             string
	Reference         string
	Status            Status
	CreatedAt         time.Time
	CompletedAt       *time.Time
	ProviderReference string
	ResultDescription string
	Receipt           string
}

// Complete moves a pending payment to a terminal status. It is the only
// place CompletedAt is set.
func (p *Payment) Complete(status Status, at time.Time, description string) error {
	if !status.Terminal() {
		return ErrInvalidStatus
	}

	if p.Status.Terminal() {
		return ErrAlreadyCompleted
	}

	p.Status = status
	p.CompletedAt = &at
	p.ResultDescription = description

	return nil
}

// AttachProviderReference records the provider's checkout id. Re-attaching
// the same reference is a no-op.
func (p *Payment) AttachProviderReference(ref string) error {
	if p.ProviderReference != "" && p.ProviderReference != ref {
		return ErrReferenceTaken
	}

	p.ProviderReference = ref

	return nil
}

// Clone returns a deep copy of p.
func (p *Payment) Clone() *Payment {
	c := *p
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		c.CompletedAt = &at
	}

	return &c
}
