package payment

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

type EventType string

const (
	EventTypeCheckoutCompleted   EventType = "checkout.session.completed"
	EventTypeSubscriptionDeleted EventType = "customer.subscription.deleted"
)

// Event is a processor webhook notification normalized to what the
// reconciler needs. Metadata is echoed back verbatim from the checkout
// session and is the sole correlation with domain entities.
type Event struct {
	Type             EventType
	SessionID        string
	SubscriptionID   string
	CustomerID       string
	AmountTotalCents int64
	Metadata         map[string]string
}

type CheckoutParams struct {
	Title         string
	Description   string
	AmountCents   int64
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// SessionStatus is the provider's view of a checkout session, used by the
// join-confirmation fallback when the webhook never arrived.
type SessionStatus struct {
	ID               string
	Paid             bool
	SubscriptionID   string
	CustomerID       string
	AmountTotalCents int64
	Metadata         map[string]string
}

type SubscriptionInfo struct {
	ID         string
	CustomerID string
	PeriodEnd  *time.Time
}

// Provider hides the external payment processor. Implementations must not
// touch domain storage.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	GetCheckoutSession(ctx context.Context, sessionID string) (*SessionStatus, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error)
	// ParseWebhookEvent verifies the signature over the raw body before any
	// parsing. Returns ErrInvalidSignature on mismatch.
	ParseWebhookEvent(payload []byte, signature string) (*Event, error)
}
