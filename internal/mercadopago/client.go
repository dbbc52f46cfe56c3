package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Payment statuses as Mercado Pago reports them.
const (
	PaymentApproved    = "approved"
	PaymentPending     = "pending"
	PaymentRejected    = "rejected"
	PaymentCancelled   = "cancelled"
	PaymentInProcess   = "in_process"
	PaymentRefunded    = "refunded"
	PaymentInMediation = "in_mediation"
)

var ErrPaymentNotFound = errors.New("payment not found")

type Payment struct {
	ID           json.Number `json:"id"`
	Status       string      `json:"status"`
	StatusDetail string      `json:"status_detail"`
	ExternalRef  string      `json:"external_reference"`
}

// Client queries the Mercado Pago REST API. Constructed once at startup and
// injected; the HTTP client carries the request timeout so a slow provider
// cannot hang the webhook endpoint.
type Client struct {
	HTTP        *http.Client
	BaseURL     string
	AccessToken string
}

func NewClient(baseURL, accessToken string, timeout time.Duration) *Client {
	return &Client{
		HTTP:        &http.Client{Timeout: timeout},
		BaseURL:     baseURL,
		AccessToken: accessToken,
	}
}

// GetPayment fetches the authoritative payment record by id. Webhook bodies
// are never trusted for status; this is the only status source.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/payments/%s", c.BaseURL, paymentID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, ErrPaymentNotFound
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("mercadopago: get payment %s: %s", paymentID, res.Status)
	}

	var p Payment
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
