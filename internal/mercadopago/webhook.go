package mercadopago

import (
	"encoding/json"
	"strings"
)

// Notification is the parsed form of one inbound webhook call. Recognized is
// false when the payload carries no payment id or a non-payment event type;
// callers must treat that as a no-op, not an error.
type Notification struct {
	Recognized bool
	EventType  string
	PaymentID  string
}

// webhookBody tolerates the payload shapes Mercado Pago has shipped over the
// years: the event type under type, topic or action, and the payment id under
// data.id, resource.id or a top-level id.
type webhookBody struct {
	Type     string          `json:"type"`
	Topic    string          `json:"topic"`
	Action   string          `json:"action"`
	ID       json.Number     `json:"id"`
	Data     json.RawMessage `json:"data"`
	Resource json.RawMessage `json:"resource"`
}

type idHolder struct {
	ID json.Number `json:"id"`
}

// ParseWebhook decodes a raw webhook body into a Notification. Pure: no I/O,
// no mutation of the input.
func ParseWebhook(body []byte) (Notification, error) {
	var b webhookBody
	if err := json.Unmarshal(body, &b); err != nil {
		return Notification{}, err
	}

	eventType := b.Type
	if eventType == "" {
		eventType = b.Topic
	}
	if eventType == "" {
		eventType = b.Action
	}

	paymentID := extractID(b.Data)
	if paymentID == "" {
		paymentID = extractID(b.Resource)
	}
	if paymentID == "" {
		paymentID = b.ID.String()
	}

	// Provider event taxonomies vary ("payment", "payment.updated", ...);
	// substring match is the stable part.
	if paymentID == "" || !strings.Contains(strings.ToLower(eventType), "payment") {
		return Notification{EventType: eventType}, nil
	}
	return Notification{Recognized: true, EventType: eventType, PaymentID: paymentID}, nil
}

// extractID pulls an id out of data/resource, which arrive either as an
// object with an id field or as a bare string id.
func extractID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var h idHolder
	if err := json.Unmarshal(raw, &h); err == nil && h.ID.String() != "" {
		return h.ID.String()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
