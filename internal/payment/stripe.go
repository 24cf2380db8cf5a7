package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/subscription"
	"github.com/stripe/stripe-go/v81/webhook"
)

type stripeProvider struct {
	webhookSecret string
}

func NewStripeProvider(secretKey, webhookSecret string) Provider {
	stripe.Key = secretKey
	return &stripeProvider{webhookSecret: webhookSecret}
}

func (s *stripeProvider) CreateCheckoutSession(ctx context.Context, p *CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(p.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(p.Title),
						Description: stripe.String(p.Description),
					},
					UnitAmount: stripe.Int64(p.AmountCents),
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx

	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create checkout session")
	}

	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *stripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := subscription.Cancel(subscriptionID, params); err != nil {
		return errors.Wrap(err, "failed to cancel subscription")
	}
	return nil
}

func (s *stripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := session.Get(sessionID, params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get checkout session")
	}

	status := &SessionStatus{
		ID:               sess.ID,
		Paid:             sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotalCents: sess.AmountTotal,
		Metadata:         sess.Metadata,
	}
	if sess.Subscription != nil {
		status.SubscriptionID = sess.Subscription.ID
	}
	if sess.Customer != nil {
		status.CustomerID = sess.Customer.ID
	}
	return status, nil
}

func (s *stripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get subscription")
	}

	info := &SubscriptionInfo{ID: sub.ID}
	if sub.Customer != nil {
		info.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		info.PeriodEnd = &periodEnd
	}
	return info, nil
}

func (s *stripeProvider) ParseWebhookEvent(payload []byte, signature string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidSignature, err.Error())
	}

	switch stripeEvent.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err = json.Unmarshal(stripeEvent.Data.Raw, &sess); err != nil {
			return nil, errors.Wrap(ErrMalformedEvent, err.Error())
		}

		event := &Event{
			Type:             EventTypeCheckoutCompleted,
			SessionID:        sess.ID,
			AmountTotalCents: sess.AmountTotal,
			Metadata:         sess.Metadata,
		}
		if sess.Subscription != nil {
			event.SubscriptionID = sess.Subscription.ID
		}
		if sess.Customer != nil {
			event.CustomerID = sess.Customer.ID
		}
		return event, nil

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err = json.Unmarshal(stripeEvent.Data.Raw, &sub); err != nil {
			return nil, errors.Wrap(ErrMalformedEvent, err.Error())
		}

		event := &Event{
			Type:           EventTypeSubscriptionDeleted,
			SubscriptionID: sub.ID,
			Metadata:       sub.Metadata,
		}
		if sub.Customer != nil {
			event.CustomerID = sub.Customer.ID
		}
		return event, nil

	default:
		// Unhandled event types are surfaced so the reconciler can
		// acknowledge them without acting.
		return &Event{Type: EventType(stripeEvent.Type)}, nil
	}
}
