// Package thrivecart parses ThriveCart webhook deliveries into typed events.
package thrivecart

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const Provider = "thrivecart"

type Kind int

const (
	KindUnknown Kind = iota
	KindOrderSuccess
	KindSubscriptionCharge
	KindCancelled
	KindRefund
)

func (k Kind) String() string {
	switch k {
	case KindOrderSuccess:
		return "order_success"
	case KindSubscriptionCharge:
		return "subscription_charge"
	case KindCancelled:
		return "cancelled"
	case KindRefund:
		return "refund"
	default:
		return "unknown"
	}
}

// Grants reports whether the event adds a product grant to the balance.
func (k Kind) Grants() bool {
	return k == KindOrderSuccess || k == KindSubscriptionCharge
}

func kindOf(event string) Kind {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "order.success":
		return KindOrderSuccess
	case "subscription.charge.success", "order.subscription_payment":
		return KindSubscriptionCharge
	case "subscription.cancelled", "order.subscription_paused":
		return KindCancelled
	case "order.refund":
		return KindRefund
	default:
		return KindUnknown
	}
}

var (
	ErrMalformed      = errors.New("malformed webhook payload")
	ErrMissingEmail   = errors.New("customer email is required")
	ErrMissingProduct = errors.New("product id is required")
)

// Event is one webhook delivery reduced to the fields the ledger acts on.
type Event struct {
	Name      string
	Kind      Kind
	Email     string
	ProductID string
	OrderID   string
	InvoiceID string
	Secret    string
	// Raw is the delivered body with the shared secret redacted.
	Raw string
}

// Key identifies the delivery for deduplication. Redeliveries of the same
// order, invoice and event share a key; a fresh subscription invoice does not.
// A delivery without an order or invoice id cannot be told apart from a new
// purchase, so it gets a key of its own and is never treated as a duplicate.
func (e Event) Key() string {
	if !e.Referenced() {
		return fmt.Sprintf("%s:unreferenced:%s", Provider, uuid.NewString())
	}
	order := e.OrderID
	if order == "" {
		order = "-"
	}
	invoice := e.InvoiceID
	if invoice == "" {
		invoice = "-"
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s", Provider, order, invoice, strings.ToLower(e.Name), e.ProductID)
}

// Referenced reports whether the delivery carries an order or invoice id.
func (e Event) Referenced() bool {
	return e.OrderID != "" || e.InvoiceID != ""
}

// Validate checks the fields every actionable event needs.
func (e Event) Validate() error {
	if e.Email == "" {
		return ErrMissingEmail
	}
	if e.ProductID == "" {
		return ErrMissingProduct
	}
	return nil
}

// VerifySecret compares the delivered token with the configured one. An empty
// configured secret disables the check.
func (e Event) VerifySecret(expected string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(e.Secret), []byte(expected)) == 1
}

type customer struct {
	Email string `json:"email"`
}

type jsonPayload struct {
	Event         string          `json:"event"`
	ProductID     json.RawMessage `json:"product_id"`
	BaseProduct   json.RawMessage `json:"base_product"`
	OrderID       json.RawMessage `json:"order_id"`
	InvoiceID     json.RawMessage `json:"invoice_id"`
	Secret        string          `json:"thrivecart_secret"`
	Customer      customer        `json:"customer"`
	CustomerEmail string          `json:"customer_email"`
}

// Parse decodes a delivery. ThriveCart posts form-encoded bodies with bracketed
// keys; JSON bodies are accepted for replays and tests.
func Parse(contentType string, body []byte) (Event, error) {
	ct := strings.ToLower(contentType)
	trimmed := strings.TrimSpace(string(body))
	if strings.Contains(ct, "json") || strings.HasPrefix(trimmed, "{") {
		return parseJSON(body)
	}
	return parseForm(body)
}

func parseJSON(body []byte) (Event, error) {
	var p jsonPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	product := scalar(p.ProductID)
	if product == "" {
		product = scalar(p.BaseProduct)
	}
	email := p.Customer.Email
	if email == "" {
		email = p.CustomerEmail
	}
	return newEvent(p.Event, email, product, scalar(p.OrderID), scalar(p.InvoiceID), p.Secret, body), nil
}

func parseForm(body []byte) (Event, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	email := values.Get("customer[email]")
	if email == "" {
		email = values.Get("customer_email")
	}
	product := values.Get("product_id")
	if product == "" {
		product = values.Get("base_product")
	}
	return newEvent(
		values.Get("event"),
		email,
		product,
		values.Get("order_id"),
		values.Get("invoice_id"),
		values.Get("thrivecart_secret"),
		body,
	), nil
}

func newEvent(name, email, product, order, invoice, secret string, raw []byte) Event {
	name = strings.TrimSpace(name)
	stored := string(raw)
	if secret != "" {
		stored = strings.ReplaceAll(stored, url.QueryEscape(secret), "[redacted]")
		stored = strings.ReplaceAll(stored, secret, "[redacted]")
	}
	return Event{
		Name:      name,
		Kind:      kindOf(name),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		ProductID: strings.TrimSpace(product),
		OrderID:   strings.TrimSpace(order),
		InvoiceID: strings.TrimSpace(invoice),
		Secret:    secret,
		Raw:       stored,
	}
}

// scalar renders a JSON string or number as text. Anything else is treated as absent.
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}
