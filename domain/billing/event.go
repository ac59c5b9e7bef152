package billing

import (
	"encoding/json"
	"errors"
	"time"
)

// EventType identifies a provider webhook event.
type EventType string

const (
	EventSubscriptionCreated   EventType = "subscription_created"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionResumed   EventType = "subscription_resumed"
	EventSubscriptionExpired   EventType = "subscription_expired"
	EventSubscriptionPaused    EventType = "subscription_paused"
	EventSubscriptionUnpaused  EventType = "subscription_unpaused"
	EventPaymentSuccess        EventType = "subscription_payment_success"
	EventPaymentFailed         EventType = "subscription_payment_failed"
	EventPaymentRecovered      EventType = "subscription_payment_recovered"
)

// Known reports whether the event type is one the state machine handles.
// Unknown types are acknowledged without processing.
func (t EventType) Known() bool {
	switch t {
	case EventSubscriptionCreated, EventSubscriptionUpdated,
		EventSubscriptionCancelled, EventSubscriptionResumed,
		EventSubscriptionExpired, EventSubscriptionPaused,
		EventSubscriptionUnpaused, EventPaymentSuccess,
		EventPaymentFailed, EventPaymentRecovered:
		return true
	}
	return false
}

// IsPayment reports whether the event concerns an invoice rather than
// the subscription record itself.
func (t EventType) IsPayment() bool {
	switch t {
	case EventPaymentSuccess, EventPaymentFailed, EventPaymentRecovered:
		return true
	}
	return false
}

// Event is the validated form of a provider webhook payload. Optional
// fields are explicit; handlers never reach into raw maps.
type Event struct {
	Type           EventType
	SubscriptionID string // data.id; for payment events, derived subscription id
	InvoiceID      string // data.id on payment events, one per billing period
	UserID         string // meta.custom_data.user_id, set at checkout
	CustomerID     string
	ItemID         string // first subscription item, for metered reporting
	VariantID      string // plan variant purchased
	Status         string // provider-reported status, verbatim
	RenewsAt       *time.Time
	EndsAt         *time.Time
	BillingAnchor  int
	Raw            json.RawMessage // payload snapshot for the ledger
}

// Key derives the idempotency ledger key for the event. The first
// committed transaction for a key wins; every redelivery maps to the
// same key. Payment events key on the invoice id so each billing
// period's invoice applies once while redeliveries still dedupe.
func (e Event) Key() string {
	if e.Type.IsPayment() && e.InvoiceID != "" {
		return string(e.Type) + ":" + e.InvoiceID
	}
	return string(e.Type) + ":" + e.SubscriptionID
}

// Parsing errors. ErrUnknownEvent is an acknowledge-and-skip signal,
// not a failure.
var (
	ErrUnknownEvent = errors.New("unrecognized event type")
	ErrBadPayload   = errors.New("malformed webhook payload")
)

type rawPayload struct {
	Meta struct {
		EventName  string `json:"event_name"`
		CustomData struct {
			UserID string `json:"user_id"`
		} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string        `json:"id"`
		Attributes rawAttributes `json:"attributes"`
	} `json:"data"`
}

type rawAttributes struct {
	Status         string `json:"status"`
	CustomerID     flexID `json:"customer_id"`
	SubscriptionID flexID `json:"subscription_id"`
	VariantID      flexID `json:"variant_id"`
	FirstItem      struct {
		ID flexID `json:"id"`
	} `json:"first_subscription_item"`
	RenewsAt      string `json:"renews_at"`
	EndsAt        string `json:"ends_at"`
	BillingAnchor int    `json:"billing_anchor"`
}

// flexID absorbs provider ids that arrive as JSON numbers in webhook
// attributes but as strings in JSON:API resource ids.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// ParseEvent validates a raw webhook body into a typed Event. Signature
// verification happens before this at the transport layer. A payload
// whose event type is not handled returns ErrUnknownEvent with the type
// still populated so the caller can acknowledge it.
func ParseEvent(body []byte) (Event, error) {
	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, ErrBadPayload
	}
	if raw.Meta.EventName == "" {
		return Event{}, ErrBadPayload
	}

	ev := Event{
		Type:          EventType(raw.Meta.EventName),
		UserID:        raw.Meta.CustomData.UserID,
		CustomerID:    string(raw.Data.Attributes.CustomerID),
		VariantID:     string(raw.Data.Attributes.VariantID),
		Status:        raw.Data.Attributes.Status,
		ItemID:        string(raw.Data.Attributes.FirstItem.ID),
		BillingAnchor: raw.Data.Attributes.BillingAnchor,
		Raw:           json.RawMessage(body),
	}

	// For subscription_* events data.id is the subscription id. Payment
	// events carry the invoice id there; the subscription id lives in
	// the attributes.
	switch ev.Type {
	case EventPaymentSuccess, EventPaymentFailed, EventPaymentRecovered:
		ev.SubscriptionID = string(raw.Data.Attributes.SubscriptionID)
		ev.InvoiceID = raw.Data.ID
	default:
		ev.SubscriptionID = raw.Data.ID
	}
	if ev.SubscriptionID == "" {
		return Event{}, ErrBadPayload
	}

	// Billing dates come from the provider verbatim; the core never
	// recomputes them (month-end and leap-year arithmetic stays on the
	// provider's side).
	ev.RenewsAt = parseProviderTime(raw.Data.Attributes.RenewsAt)
	ev.EndsAt = parseProviderTime(raw.Data.Attributes.EndsAt)

	if !ev.Type.Known() {
		return ev, ErrUnknownEvent
	}
	return ev, nil
}

func parseProviderTime(s string) *time.Time {
	if s == "" || s == "null" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
