package mpesa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment"
)

var ErrMalformedCallback = errors.New("malformed stk callback")

const (
	ItemAmount          = "Amount"
	ItemReceipt         = "MpesaReceiptNumber"
	ItemTransactionDate = "TransactionDate"
	ItemPhoneNumber     = "PhoneNumber"
)

type callbackEnvelope struct {
	Body struct {
		STKCallback *Callback `json:"stkCallback"`
	} `json:"Body"`
}

// Callback is the asynchronous result of an STK push.
type Callback struct {
	MerchantRequestID string   `json:"MerchantRequestID"`
	CheckoutRequestID string   `json:"CheckoutRequestID"`
	ResultCode        int      `json:"ResultCode"`
	ResultDesc        string   `json:"ResultDesc"`
	Metadata          Metadata `json:"CallbackMetadata"`
}

type Metadata struct {
	Items []MetadataItem `json:"Item"`
}

// MetadataItem values arrive as numbers or strings depending on the item.
type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// ParseCallback decodes the Body.stkCallback envelope the provider posts.
func ParseCallback(body []byte) (*Callback, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	if env.Body.STKCallback == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", ErrMalformedCallback)
	}

	return env.Body.STKCallback, nil
}

// Value returns the named metadata item as a string.
func (c *Callback) Value(name string) (string, bool) {
	for _, item := range c.Metadata.Items {
		if item.Name != name || len(item.Value) == 0 {
			continue
		}

		raw := bytes.TrimSpace(item.Value)
		if bytes.Equal(raw, []byte("null")) {
			return "", false
		}

		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return "", false
			}

			return s, true
		}

		return string(raw), true
	}

	return "", false
}

// Receipt is the provider receipt number, present only on success.
func (c *Callback) Receipt() string {
	v, _ := c.Value(ItemReceipt)
	return v
}

// Amount returns the paid amount reported in the metadata, if any.
func (c *Callback) Amount() (decimal.Decimal, bool) {
	v, ok := c.Value(ItemAmount)
	if !ok {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, false
	}

	return d, true
}

func (c *Callback) Outcome() payment.Outcome {
	amount, _ := c.Amount()

	return payment.Outcome{
		ProviderReference: c.CheckoutRequestID,
		ResultCode:        c.ResultCode,
		Description:       c.ResultDesc,
		Receipt:           c.Receipt(),
		Amount:            amount,
	}
}
