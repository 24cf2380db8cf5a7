package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yakoovad/taskcrew/internal/db"
	"github.com/yakoovad/taskcrew/internal/model"
	"github.com/yakoovad/taskcrew/internal/payment"
	"github.com/yakoovad/taskcrew/internal/repository"
	"github.com/yakoovad/taskcrew/pkg/logger"
	"go.uber.org/zap"
)

// Checkout session metadata keys. The processor echoes metadata back
// verbatim on webhook delivery; it is the sole correlation between a
// session and the domain entities.
const (
	metadataKeyType       = "type"
	metadataKeyTeamID     = "team_id"
	metadataKeyUserID     = "user_id"
	metadataKeyIntentID   = "intent_id"
	metadataKeyTeamName   = "team_name"
	metadataKeyTier       = "tier"
	metadataKeyJoiningFee = "joining_fee_cents"

	checkoutTypeMember = "member_checkout"
	checkoutTypeOwner  = "owner_checkout"
)

type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
	Currency   string
	IntentTTL  time.Duration
}

// CheckoutService starts external payment sessions and records the pending
// state they will later be reconciled against.
type CheckoutService struct {
	tx db.Transactor

	subscriptions repository.SubscriptionRepository
	intents       repository.IntentRepository

	provider payment.Provider
	cfg      CheckoutConfig
}

func NewCheckoutService(tx db.Transactor, provider payment.Provider, cfg CheckoutConfig) *CheckoutService {
	return &CheckoutService{
		tx:       tx,
		provider: provider,
		cfg:      cfg,
	}
}

func (c *CheckoutService) StartMemberCheckout(ctx context.Context, teamID, teamName, userID string, amountCents int64, userEmail string) (string, *Error) {
	l := logger.FromContext(ctx)
	l.Info("starting member checkout",
		zap.String("team_id", teamID),
		zap.String("user_id", userID),
		zap.Int64("amount_cents", amountCents))

	if amountCents <= 0 {
		return "", NewError(ErrorCodeValidation, "checkout amount must be positive")
	}

	sess, err := c.provider.CreateCheckoutSession(ctx, &payment.CheckoutParams{
		Title:         fmt.Sprintf("Join Team: %s", teamName),
		Description:   "Recurring monthly membership fee",
		AmountCents:   amountCents,
		Currency:      c.cfg.Currency,
		CustomerEmail: userEmail,
		SuccessURL:    fmt.Sprintf("%s?session_id={CHECKOUT_SESSION_ID}&team_id=%s", c.cfg.SuccessURL, teamID),
		CancelURL:     fmt.Sprintf("%s?team_id=%s", c.cfg.CancelURL, teamID),
		Metadata: map[string]string{
			metadataKeyType:   checkoutTypeMember,
			metadataKeyTeamID: teamID,
			metadataKeyUserID: userID,
		},
	})
	if err != nil {
		l.Error("failed to create checkout session",
			zap.String("team_id", teamID),
			zap.String("user_id", userID),
			zap.Error(err))
		return "", NewError(ErrorCodePaymentProvider, "failed to create checkout session")
	}

	// Keyed by (team, user), never by session: repeated attempts overwrite
	// the same pending row. A lost write here is recovered by the
	// reconciler's insert-or-update activation.
	if err = c.subscriptions.UpsertPending(ctx, &repository.Subscription{
		TeamID:      teamID,
		UserID:      userID,
		SessionID:   sess.ID,
		AmountCents: amountCents,
	}); err != nil {
		l.Error("failed to record pending subscription",
			zap.String("team_id", teamID),
			zap.String("user_id", userID),
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}

	l.Debug("member checkout session created", zap.String("session_id", sess.ID))

	return sess.URL, nil
}

type OwnerCheckoutParams struct {
	TeamName        string
	Tier            model.Tier
	TierPriceCents  int64
	JoiningFeeCents int64
}

func (c *CheckoutService) StartOwnerCheckout(ctx context.Context, userID, userEmail string, params *OwnerCheckoutParams) (string, *Error) {
	l := logger.FromContext(ctx)
	l.Info("starting owner checkout",
		zap.String("user_id", userID),
		zap.String("team_name", params.TeamName),
		zap.String("tier", string(params.Tier)))

	if params.TeamName == "" {
		return "", NewError(ErrorCodeValidation, "team name must not be empty")
	}
	if params.TierPriceCents <= 0 {
		return "", NewError(ErrorCodeValidation, "tier price must be positive")
	}
	if params.JoiningFeeCents <= 0 {
		return "", NewError(ErrorCodeValidation, "joining fee must be positive")
	}
	switch params.Tier {
	case model.TierBasic, model.TierPro, model.TierEnterprise:
	default:
		return "", NewError(ErrorCodeValidation, "tier must be basic, pro or enterprise")
	}

	// No team exists yet, so there is no ledger row to write. The durable
	// intent row is what the webhook consumes to materialize the team.
	expiresAt := time.Now().UTC().Add(c.cfg.IntentTTL)
	intent := &repository.TeamIntent{
		ID:              uuid.NewString(),
		UserID:          userID,
		TeamName:        params.TeamName,
		Tier:            params.Tier,
		TierPriceCents:  params.TierPriceCents,
		JoiningFeeCents: params.JoiningFeeCents,
		ExpiresAt:       &expiresAt,
	}
	if err := c.intents.Create(ctx, intent); err != nil {
		l.Error("failed to record team intent", zap.String("user_id", userID), zap.Error(err))
		return "", NewError(ErrorCodeUnspecified, "failed to record team intent")
	}

	sess, err := c.provider.CreateCheckoutSession(ctx, &payment.CheckoutParams{
		Title:         fmt.Sprintf("%s Team: %s", capitalizeTier(params.Tier), params.TeamName),
		Description:   fmt.Sprintf("Monthly subscription for %s team features", params.Tier),
		AmountCents:   params.TierPriceCents,
		Currency:      c.cfg.Currency,
		CustomerEmail: userEmail,
		SuccessURL:    fmt.Sprintf("%s?session_id={CHECKOUT_SESSION_ID}&intent_id=%s", c.cfg.SuccessURL, intent.ID),
		CancelURL:     c.cfg.CancelURL,
		Metadata: map[string]string{
			metadataKeyType:       checkoutTypeOwner,
			metadataKeyIntentID:   intent.ID,
			metadataKeyUserID:     userID,
			metadataKeyTeamName:   params.TeamName,
			metadataKeyTier:       string(params.Tier),
			metadataKeyJoiningFee: strconv.FormatInt(params.JoiningFeeCents, 10),
		},
	})
	if err != nil {
		l.Error("failed to create owner checkout session",
			zap.String("user_id", userID),
			zap.String("intent_id", intent.ID),
			zap.Error(err))
		return "", NewError(ErrorCodePaymentProvider, "failed to create checkout session")
	}

	l.Debug("owner checkout session created",
		zap.String("session_id", sess.ID),
		zap.String("intent_id", intent.ID))

	return sess.URL, nil
}

func capitalizeTier(tier model.Tier) string {
	s := string(tier)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (c *CheckoutService) WithSubscriptionRepo(r repository.SubscriptionRepository) *CheckoutService {
	c.subscriptions = r
	return c
}

func (c *CheckoutService) WithIntentRepo(r repository.IntentRepository) *CheckoutService {
	c.intents = r
	return c
}
