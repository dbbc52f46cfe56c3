package orders

import "time"

type DeliveryType string

const (
	DeliveryPickup  DeliveryType = "pickup"
	DeliveryCourier DeliveryType = "delivery"
)

type PaymentMethod string

const (
	PaymentPix    PaymentMethod = "pix"
	PaymentCredit PaymentMethod = "credit"
	PaymentDebit  PaymentMethod = "debit"
	PaymentCash   PaymentMethod = "cash"
	PaymentOnline PaymentMethod = "online"
)

// Online methods go through the payment provider and start life in
// AWAITING_PAYMENT with an expiry window. Cash settles at the door.
func (m PaymentMethod) Online() bool { return m != PaymentCash }

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentPix, PaymentCredit, PaymentDebit, PaymentCash, PaymentOnline:
		return true
	}
	return false
}

type Address struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	District   string `json:"district"`
	City       string `json:"city"`
	Complement string `json:"complement,omitempty"`
}

type Order struct {
	ID            string        `json:"id"`
	CustomerID    string        `json:"customer_id"`
	DeliveryType  DeliveryType  `json:"delivery_type"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        Status        `json:"status"` // see status.go
	TotalCents    int           `json:"total_cents"`
	Address       *Address      `json:"address,omitempty"` // delivery orders only
	CancelReason  string        `json:"cancel_reason,omitempty"`
	ExternalRef   string        `json:"external_ref"` // equals ID for online orders, immutable
	PaymentID     string        `json:"payment_id,omitempty"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"` // set iff AWAITING_PAYMENT on an online order
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type Item struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	Name           string `json:"name"`
	UnitPriceCents int    `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
	ImageURL       string `json:"image_url,omitempty"`
	Type           string `json:"type,omitempty"`
}

// TotalCents is the source of the order total at creation time; it is
// never recomputed afterwards.
func TotalCents(items []Item) int {
	total := 0
	for _, it := range items {
		total += it.UnitPriceCents * it.Qty
	}
	return total
}
