package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/yakoovad/taskcrew/internal/db"
	"github.com/yakoovad/taskcrew/internal/model"
	"github.com/yakoovad/taskcrew/internal/payment"
	"github.com/yakoovad/taskcrew/internal/repository"
	"github.com/yakoovad/taskcrew/pkg/logger"
	"go.uber.org/zap"
)

// ReconcilerService consumes asynchronous payment events and is the sole
// webhook-driven writer of active/cancelled ledger transitions. Delivery is
// at-least-once, possibly duplicated and out of order, so every mutation is
// a conditional upsert or delete that no-ops on redundant application.
//
// It runs as a trusted system-to-system caller: no per-user access checks.
type ReconcilerService struct {
	tx db.Transactor

	teams         repository.TeamRepository
	memberships   repository.MembershipRepository
	subscriptions repository.SubscriptionRepository
	intents       repository.IntentRepository

	provider payment.Provider
}

func NewReconcilerService(tx db.Transactor, provider payment.Provider) *ReconcilerService {
	return &ReconcilerService{
		tx:       tx,
		provider: provider,
	}
}

// HandleEvent verifies and applies one webhook delivery. A non-nil error
// with ErrorCodeSignature is the only outcome the transport may answer with
// a non-200 status; every other error must still be acknowledged so the
// processor stops redelivering what retries cannot fix.
func (r *ReconcilerService) HandleEvent(ctx context.Context, payload []byte, signature string) *Error {
	l := logger.FromContext(ctx)

	event, err := r.provider.ParseWebhookEvent(payload, signature)
	if errors.Is(err, payment.ErrInvalidSignature) {
		l.Warn("webhook signature verification failed", zap.Error(err))
		return NewError(ErrorCodeSignature, "invalid webhook signature")
	}
	if errors.Is(err, payment.ErrMalformedEvent) {
		l.Warn("malformed webhook event", zap.Error(err))
		return NewError(ErrorCodeMalformedEvent, "malformed webhook event")
	}
	if err != nil {
		l.Error("failed to parse webhook event", zap.Error(err))
		return NewError(ErrorCodeUnspecified, "failed to parse webhook event")
	}

	switch event.Type {
	case payment.EventTypeCheckoutCompleted:
		if event.Metadata[metadataKeyType] == checkoutTypeOwner {
			return r.handleOwnerCheckoutCompleted(ctx, event)
		}
		return r.handleMemberCheckoutCompleted(ctx, event)
	case payment.EventTypeSubscriptionDeleted:
		return r.handleSubscriptionDeleted(ctx, event)
	default:
		l.Debug("ignoring unhandled event type", zap.String("event_type", string(event.Type)))
		return nil
	}
}

func (r *ReconcilerService) handleMemberCheckoutCompleted(ctx context.Context, event *payment.Event) *Error {
	l := logger.FromContext(ctx)

	teamID := event.Metadata[metadataKeyTeamID]
	userID := event.Metadata[metadataKeyUserID]
	if teamID == "" || userID == "" {
		l.Warn("checkout event missing correlation metadata", zap.String("session_id", event.SessionID))
		return NewError(ErrorCodeMalformedEvent, "missing team_id or user_id metadata")
	}

	l.Info("reconciling completed member checkout",
		zap.String("team_id", teamID),
		zap.String("user_id", userID),
		zap.String("session_id", event.SessionID))

	expiresAt := r.lookupPeriodEnd(ctx, event.SubscriptionID)

	err := r.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := r.subscriptions.Activate(txCtx, &repository.SubscriptionActivation{
			TeamID:         teamID,
			UserID:         userID,
			SessionID:      event.SessionID,
			SubscriptionID: event.SubscriptionID,
			CustomerID:     event.CustomerID,
			AmountCents:    event.AmountTotalCents,
			ExpiresAt:      expiresAt,
		}); err != nil {
			return errors.Wrap(err, "failed to activate subscription")
		}

		err := r.memberships.Insert(txCtx, &repository.Membership{
			TeamID: teamID,
			UserID: userID,
			Role:   model.RoleMember,
		})
		// Duplicate delivery: the membership already exists, which is the
		// desired end state.
		if err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
			return errors.Wrap(err, "failed to insert membership")
		}

		return nil
	})
	if err != nil {
		l.Error("failed to reconcile member checkout",
			zap.String("team_id", teamID),
			zap.String("user_id", userID),
			zap.Error(err))
		return NewError(ErrorCodeUnspecified, "failed to reconcile checkout")
	}

	l.Debug("member checkout reconciled", zap.String("team_id", teamID), zap.String("user_id", userID))

	return nil
}

func (r *ReconcilerService) handleOwnerCheckoutCompleted(ctx context.Context, event *payment.Event) *Error {
	l := logger.FromContext(ctx)

	intentID := event.Metadata[metadataKeyIntentID]
	if intentID == "" {
		l.Warn("owner checkout event missing intent id", zap.String("session_id", event.SessionID))
		return NewError(ErrorCodeMalformedEvent, "missing intent_id metadata")
	}

	l.Info("reconciling completed owner checkout",
		zap.String("intent_id", intentID),
		zap.String("session_id", event.SessionID))

	expiresAt := r.lookupPeriodEnd(ctx, event.SubscriptionID)

	err := r.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		intent, err := r.intents.Consume(txCtx, intentID)
		if errors.Is(err, repository.ErrNotFound) {
			// Already consumed by a duplicate delivery, or expired.
			l.Debug("team intent not consumable, skipping", zap.String("intent_id", intentID))
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to consume intent")
		}

		team := &repository.Team{
			ID:              uuid.NewString(),
			Name:            intent.TeamName,
			AccessMode:      model.AccessModePaid,
			Tier:            intent.Tier,
			TierPriceCents:  intent.TierPriceCents,
			JoiningFeeCents: intent.JoiningFeeCents,
			CreatedBy:       intent.UserID,
		}
		if err = r.teams.Create(txCtx, team); err != nil {
			return errors.Wrap(err, "failed to materialize team")
		}

		if err = r.memberships.Insert(txCtx, &repository.Membership{
			TeamID: team.ID,
			UserID: intent.UserID,
			Role:   model.RoleAdmin,
		}); err != nil {
			return errors.Wrap(err, "failed to insert admin membership")
		}

		if err = r.subscriptions.Activate(txCtx, &repository.SubscriptionActivation{
			TeamID:         team.ID,
			UserID:         intent.UserID,
			SessionID:      event.SessionID,
			SubscriptionID: event.SubscriptionID,
			CustomerID:     event.CustomerID,
			AmountCents:    intent.TierPriceCents,
			ExpiresAt:      expiresAt,
		}); err != nil {
			return errors.Wrap(err, "failed to activate owner subscription")
		}

		l.Info("team materialized from intent",
			zap.String("intent_id", intentID),
			zap.String("team_id", team.ID),
			zap.String("owner_id", intent.UserID))

		return nil
	})
	if err != nil {
		l.Error("failed to reconcile owner checkout", zap.String("intent_id", intentID), zap.Error(err))
		return NewError(ErrorCodeUnspecified, "failed to reconcile owner checkout")
	}

	return nil
}

func (r *ReconcilerService) handleSubscriptionDeleted(ctx context.Context, event *payment.Event) *Error {
	l := logger.FromContext(ctx)

	if event.SubscriptionID == "" {
		l.Warn("subscription deleted event missing subscription id")
		return NewError(ErrorCodeMalformedEvent, "missing subscription id")
	}

	l.Info("reconciling deleted subscription", zap.String("subscription_id", event.SubscriptionID))

	err := r.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		sub, err := r.subscriptions.CancelBySubscriptionID(txCtx, event.SubscriptionID)
		if errors.Is(err, repository.ErrNotFound) {
			// No active row matches: duplicate delivery, or the user-initiated
			// cancellation already won the race.
			l.Debug("no active subscription to cancel", zap.String("subscription_id", event.SubscriptionID))
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to cancel subscription")
		}

		err = r.memberships.Delete(txCtx, sub.TeamID, sub.UserID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return errors.Wrap(err, "failed to delete membership")
		}

		l.Debug("membership revoked",
			zap.String("team_id", sub.TeamID),
			zap.String("user_id", sub.UserID))

		return nil
	})
	if err != nil {
		l.Error("failed to reconcile subscription deletion",
			zap.String("subscription_id", event.SubscriptionID),
			zap.Error(err))
		return NewError(ErrorCodeUnspecified, "failed to reconcile subscription deletion")
	}

	return nil
}

// lookupPeriodEnd resolves the subscription's current period end for the
// ledger expiry. Failures degrade to a null expiry rather than blocking
// reconciliation.
func (r *ReconcilerService) lookupPeriodEnd(ctx context.Context, subscriptionID string) *time.Time {
	if subscriptionID == "" {
		return nil
	}

	info, err := r.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to resolve subscription period end",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
		return nil
	}
	return info.PeriodEnd
}

func (r *ReconcilerService) WithTeamRepo(repo repository.TeamRepository) *ReconcilerService {
	r.teams = repo
	return r
}

func (r *ReconcilerService) WithMembershipRepo(repo repository.MembershipRepository) *ReconcilerService {
	r.memberships = repo
	return r
}

func (r *ReconcilerService) WithSubscriptionRepo(repo repository.SubscriptionRepository) *ReconcilerService {
	r.subscriptions = repo
	return r
}

func (r *ReconcilerService) WithIntentRepo(repo repository.IntentRepository) *ReconcilerService {
	r.intents = repo
	return r
}
