package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Environment selects the Daraja deployment the client talks to.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	tokenPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	// TransactionType for pay-bill STK pushes.
	TransactionType = "CustomerPayBillOnline"
	// TimestampLayout is the YYYYMMDDHHMMSS format the API expects.
	TimestampLayout = "20060102150405"

	// ResponseAccepted is the push response code meaning accepted for processing.
	ResponseAccepted = "0"

	tokenExpiryMargin = time.Minute
	defaultTimeout    = 30 * time.Second
	maxResponseBytes  = 1 << 20
)

// BaseURL resolves the environment to its API root.
func (e Environment) BaseURL() (string, error) {
	switch e {
	case Sandbox:
		return sandboxBaseURL, nil
	case Production:
		return productionBaseURL, nil
	default:
		return "", fmt.Errorf("unknown mpesa environment %q", e)
	}
}

type Config struct {
	BaseURL          string
	ConsumerKey      string
	ConsumerSecret   string
	Shortcode        string
	Passkey          string
	CallbackURL      string
	AccountReference string
	TransactionDesc  string
	Timeout          time.Duration
}

// Client talks to the Daraja OAuth and STK push endpoints.
type Client struct {
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithClock sets the time source used for timestamps and token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type tokenResponse struct {
	AccessToken      string      `json:"access_token"`
	ExpiresIn        json.Number `json:"expires_in"`
	ErrorCode        string      `json:"errorCode"`
	ErrorMessage     string      `json:"errorMessage"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
}

func (r tokenResponse) providerMessage() string {
	for _, msg := range []string{r.ErrorMessage, r.ErrorDescription, r.Error} {
		if msg != "" {
			return msg
		}
	}

	return ""
}

// Token returns a bearer token, reusing a cached one until shortly before it expires.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", &AuthenticationError{Message: err.Error()}
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+credentials)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &AuthenticationError{Message: err.Error()}
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil && err != io.EOF {
		return "", &AuthenticationError{Message: fmt.Sprintf("decoding token response (status %d): %v", resp.StatusCode, err)}
	}

	if body.AccessToken == "" {
		msg := body.providerMessage()
		if msg == "" {
			msg = fmt.Sprintf("no access token in response (status %d)", resp.StatusCode)
		}

		return "", &AuthenticationError{Message: msg}
	}

	c.token = body.AccessToken
	c.tokenExpiry = c.now().Add(tokenLifetime(body.ExpiresIn))

	return c.token, nil
}

func tokenLifetime(expiresIn json.Number) time.Duration {
	seconds, err := strconv.ParseInt(expiresIn.String(), 10, 64)
	if err != nil || seconds <= 0 {
		return 0
	}

	lifetime := time.Duration(seconds)*time.Second - tokenExpiryMargin
	if lifetime < 0 {
		return 0
	}

	return lifetime
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = ""
	c.tokenExpiry = time.Time{}
}

// Password derives the STK push password for the given timestamp.
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

type PushRequest struct {
	Phone            string
	Amount           int64
	AccountReference string
	TransactionDesc  string
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// PushResponse is the synchronous acknowledgment of an STK push.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`

	RequestID    string `json:"requestId,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// STKPush asks the provider to prompt the payer's phone. A nil error means
// the request was accepted for processing; the outcome arrives by callback.
func (c *Client) STKPush(ctx context.Context, req PushRequest) (*PushResponse, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format(TimestampLayout)

	accountRef := req.AccountReference
	if accountRef == "" {
		accountRef = c.cfg.AccountReference
	}

	desc := req.TransactionDesc
	if desc == "" {
		desc = c.cfg.TransactionDesc
	}

	payload, err := json.Marshal(stkPushRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          Password(c.cfg.Shortcode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   TransactionType,
		Amount:            req.Amount,
		PartyA:            req.Phone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   desc,
	})
	if err != nil {
		return nil, &PushFailedError{Description: fmt.Sprintf("encoding request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+stkPushPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &PushFailedError{Description: err.Error()}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &PushFailedError{Description: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
	}

	var body PushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, &PushFailedError{
			StatusCode:  resp.StatusCode,
			Description: fmt.Sprintf("unexpected response (status %d)", resp.StatusCode),
		}
	}

	if body.ResponseCode != ResponseAccepted {
		code := body.ResponseCode
		if code == "" {
			code = body.ErrorCode
		}

		desc := body.ErrorMessage
		if desc == "" {
			desc = body.ResponseDescription
		}

		if desc == "" {
			desc = fmt.Sprintf("push request rejected (status %d)", resp.StatusCode)
		}

		return nil, &PushFailedError{StatusCode: resp.StatusCode, Code: code, Description: desc}
	}

	return &body, nil
}
