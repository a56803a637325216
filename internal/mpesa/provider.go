package mpesa

import (
	"context"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment"
)

// Push submits a tracker push request as an STK push. The provider only
// accepts whole shillings, so callers round before pushing.
func (c *Client) Push(ctx context.Context, req payment.PushRequest) (*payment.PushResult, error) {
	if !req.Amount.Equal(req.Amount.Truncate(0)) {
		return nil, &PushFailedError{Description: "amount must be a whole number, got " + req.Amount.String()}
	}

	accountRef := req.Reference
	if accountRef == "" {
		accountRef = c.cfg.AccountReference
	}

	resp, err := c.STKPush(ctx, PushRequest{
		Phone:            req.Phone,
		Amount:           req.Amount.IntPart(),
		AccountReference: accountRef,
		TransactionDesc:  req.Description,
	})
	if err != nil {
		return nil, err
	}

	return &payment.PushResult{
		ProviderReference: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		ResponseCode:      resp.ResponseCode,
		Description:       resp.ResponseDescription,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}
