package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Profile selects the rule set applied to amount and phone fields.
type Profile string

const (
	// ProfileGeneric accepts any positive amount and international phone numbers.
	ProfileGeneric Profile = "generic"
	// ProfileProvider enforces the mobile-money provider's limits and national number format.
	ProfileProvider Profile = "provider"
)

const (
	MinProviderAmount = 1
	MaxProviderAmount = 150000
)

var (
	genericPhone  = regexp.MustCompile(`^\+?\d{7,15}$`)
	providerPhone = regexp.MustCompile(`^2547\d{8}$`)

	minProviderAmount = decimal.NewFromInt(MinProviderAmount)
	maxProviderAmount = decimal.NewFromInt(MaxProviderAmount)

	errMissing = errors.New("missing value")
)

// Error lists every rule an input violated.
type Error struct {
	Violations []string
}

func (e *Error) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

type Validator struct {
	profile Profile
}

func New(profile Profile) (*Validator, error) {
	switch profile {
	case ProfileGeneric, ProfileProvider:
		return &Validator{profile: profile}, nil
	default:
		return nil, fmt.Errorf("unknown validation profile %q", profile)
	}
}

// MustNew is like New but panics on an unknown profile.
func MustNew(profile Profile) *Validator {
	v, err := New(profile)
	if err != nil {
		panic(err)
	}

	return v
}

// Validate checks both fields and returns the normalized values. On failure
// the returned error is an *Error holding all violations.
func (v *Validator) Validate(amount, phone any) (decimal.Decimal, string, error) {
	var violations []string

	amt, problems := v.Amount(amount)
	violations = append(violations, problems...)

	ph, problems := v.Phone(phone)
	violations = append(violations, problems...)

	if len(violations) > 0 {
		return decimal.Zero, "", &Error{Violations: violations}
	}

	return amt, ph, nil
}

func (v *Validator) Amount(raw any) (decimal.Decimal, []string) {
	amount, err := ParseAmount(raw)
	if err != nil {
		if errors.Is(err, errMissing) {
			return decimal.Zero, []string{"amount is required"}
		}

		return decimal.Zero, []string{"amount must be a number"}
	}

	if v.profile == ProfileProvider {
		if amount.LessThan(minProviderAmount) || amount.GreaterThan(maxProviderAmount) {
			return decimal.Zero, []string{fmt.Sprintf("amount must be between %d and %d", MinProviderAmount, MaxProviderAmount)}
		}

		return amount, nil
	}

	if !amount.IsPositive() {
		return decimal.Zero, []string{"amount must be greater than 0"}
	}

	return amount, nil
}

func (v *Validator) Phone(raw any) (string, []string) {
	phone, ok := phoneString(raw)
	if !ok || phone == "" {
		return "", []string{"phone is required"}
	}

	if v.profile == ProfileProvider {
		if !providerPhone.MatchString(phone) {
			return "", []string{"phone must be in the format 2547XXXXXXXX"}
		}

		return phone, nil
	}

	if !genericPhone.MatchString(phone) {
		return "", []string{"phone must be 7-15 digits with an optional leading +"}
	}

	return phone, nil
}

// ParseAmount converts a loosely typed amount, as decoded from JSON or a
// form value, into a decimal.
func ParseAmount(raw any) (decimal.Decimal, error) {
	switch a := raw.(type) {
	case nil:
		return decimal.Zero, errMissing
	case decimal.Decimal:
		return a, nil
	case json.Number:
		return decimal.NewFromString(a.String())
	case string:
		s := strings.TrimSpace(a)
		if s == "" {
			return decimal.Zero, errMissing
		}

		return decimal.NewFromString(s)
	case float64:
		return decimal.NewFromFloat(a), nil
	case float32:
		return decimal.NewFromFloat32(a), nil
	case int:
		return decimal.NewFromInt(int64(a)), nil
	case int64:
		return decimal.NewFromInt(a), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", raw)
	}
}

func phoneString(raw any) (string, bool) {
	switch p := raw.(type) {
	case string:
		return strings.TrimSpace(p), true
	case json.Number:
		return p.String(), true
	case int64:
		return strconv.FormatInt(p, 10), true
	case int:
		return strconv.Itoa(p), true
	default:
		return "", false
	}
}
