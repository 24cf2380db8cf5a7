package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/yakoovad/taskcrew/internal/db"
	"github.com/yakoovad/taskcrew/internal/model"
	"github.com/yakoovad/taskcrew/internal/payment"
	"github.com/yakoovad/taskcrew/internal/repository"
	"github.com/yakoovad/taskcrew/pkg/logger"
	"go.uber.org/zap"
)

// MembershipService is the single entry point for join requests. It hides
// the free/paid branching: free joins complete synchronously, paid joins
// return a checkout redirect and membership is granted by the reconciler.
type MembershipService struct {
	tx db.Transactor

	teams         repository.TeamRepository
	memberships   repository.MembershipRepository
	subscriptions repository.SubscriptionRepository

	checkout *CheckoutService
	provider payment.Provider

	pollAttempts int
	pollInterval time.Duration
}

func NewMembershipService(tx db.Transactor, provider payment.Provider, pollAttempts int, pollInterval time.Duration) *MembershipService {
	return &MembershipService{
		tx:           tx,
		provider:     provider,
		pollAttempts: pollAttempts,
		pollInterval: pollInterval,
	}
}

func (m *MembershipService) RequestJoin(ctx context.Context, teamID, userID, userEmail string) (*model.JoinOutcome, *Error) {
	l := logger.FromContext(ctx)
	l.Info("join requested", zap.String("team_id", teamID), zap.String("user_id", userID))

	team, err := m.teams.Get(ctx, teamID)
	if errors.Is(err, repository.ErrNotFound) {
		l.Warn("team not found", zap.String("team_id", teamID))
		return nil, NewError(ErrorCodeNotFound, "team not found")
	}
	if err != nil {
		l.Error("failed to get team", zap.String("team_id", teamID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to get team")
	}

	if team.AccessMode == model.AccessModeFree {
		err = m.memberships.Insert(ctx, &repository.Membership{
			TeamID: teamID,
			UserID: userID,
			Role:   model.RoleMember,
		})
		if errors.Is(err, repository.ErrAlreadyExists) {
			l.Info("already a member", zap.String("team_id", teamID), zap.String("user_id", userID))
			return nil, NewError(ErrorCodeAlreadyMember, "already a member of this team")
		}
		if err != nil {
			l.Error("failed to insert membership",
				zap.String("team_id", teamID),
				zap.String("user_id", userID),
				zap.Error(err))
			return nil, NewError(ErrorCodeUnspecified, "failed to join team")
		}

		return &model.JoinOutcome{Joined: true}, nil
	}

	if _, err = m.memberships.Get(ctx, teamID, userID); err == nil {
		l.Info("already a member", zap.String("team_id", teamID), zap.String("user_id", userID))
		return nil, NewError(ErrorCodeAlreadyMember, "already a member of this team")
	} else if !errors.Is(err, repository.ErrNotFound) {
		l.Error("failed to check membership", zap.String("team_id", teamID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to check membership")
	}

	url, serviceErr := m.checkout.StartMemberCheckout(ctx, teamID, team.Name, userID, team.JoiningFeeCents, userEmail)
	if serviceErr != nil {
		return nil, serviceErr
	}

	// Membership is NOT granted yet: the caller must complete checkout and
	// the reconciler grants it when the processor confirms.
	return &model.JoinOutcome{Pending: true, RedirectURL: url}, nil
}

func (m *MembershipService) AddMemberDirectly(ctx context.Context, teamID, adminUserID, targetUserID string) *Error {
	l := logger.FromContext(ctx)
	l.Info("adding member directly",
		zap.String("team_id", teamID),
		zap.String("admin_id", adminUserID),
		zap.String("target_id", targetUserID))

	if serviceErr := m.requireAdmin(ctx, teamID, adminUserID); serviceErr != nil {
		return serviceErr
	}

	// Admin additions bypass payment regardless of the team's access mode.
	err := m.memberships.Insert(ctx, &repository.Membership{
		TeamID: teamID,
		UserID: targetUserID,
		Role:   model.RoleMember,
	})
	if errors.Is(err, repository.ErrAlreadyExists) {
		return NewError(ErrorCodeAlreadyMember, "user is already a member of this team")
	}
	if err != nil {
		l.Error("failed to add member",
			zap.String("team_id", teamID),
			zap.String("target_id", targetUserID),
			zap.Error(err))
		return NewError(ErrorCodeUnspecified, "failed to add member")
	}

	return nil
}

func (m *MembershipService) RemoveMember(ctx context.Context, teamID, adminUserID, targetUserID string) *Error {
	l := logger.FromContext(ctx)
	l.Info("removing member",
		zap.String("team_id", teamID),
		zap.String("admin_id", adminUserID),
		zap.String("target_id", targetUserID))

	// Self-removal goes through subscription cancellation so the ledger
	// stays consistent with the membership store.
	if adminUserID == targetUserID {
		return NewError(ErrorCodeSelfRemoval, "admins cannot remove themselves, cancel the subscription instead")
	}

	if serviceErr := m.requireAdmin(ctx, teamID, adminUserID); serviceErr != nil {
		return serviceErr
	}

	err := m.memberships.Delete(ctx, teamID, targetUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return NewError(ErrorCodeNotFound, "user is not a member of this team")
	}
	if err != nil {
		l.Error("failed to remove member",
			zap.String("team_id", teamID),
			zap.String("target_id", targetUserID),
			zap.Error(err))
		return NewError(ErrorCodeUnspecified, "failed to remove member")
	}

	return nil
}

func (m *MembershipService) CancelOwnSubscription(ctx context.Context, teamID, userID string) *Error {
	l := logger.FromContext(ctx)
	l.Info("cancelling subscription", zap.String("team_id", teamID), zap.String("user_id", userID))

	sub, err := m.subscriptions.Get(ctx, teamID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return NewError(ErrorCodeNotFound, "no subscription for this team")
	}
	if err != nil {
		l.Error("failed to get subscription", zap.String("team_id", teamID), zap.Error(err))
		return NewError(ErrorCodeUnspecified, "failed to get subscription")
	}
	if sub.Status != model.SubscriptionStatusActive || sub.SubscriptionID == nil {
		return NewError(ErrorCodeNotFound, "no active subscription for this team")
	}

	if err = m.provider.CancelSubscription(ctx, *sub.SubscriptionID); err != nil {
		l.Error("failed to cancel subscription at provider",
			zap.String("subscription_id", *sub.SubscriptionID),
			zap.Error(err))
		return NewError(ErrorCodePaymentProvider, "failed to cancel subscription")
	}

	// The processor will also deliver its own deletion event; both writers
	// race on the same rows, so both use no-op-if-absent semantics.
	err = m.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := m.subscriptions.CancelPair(txCtx, teamID, userID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return errors.Wrap(err, "failed to mark subscription cancelled")
		}
		if err := m.memberships.Delete(txCtx, teamID, userID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return errors.Wrap(err, "failed to delete membership")
		}
		return nil
	})
	if err != nil {
		l.Error("failed to apply cancellation",
			zap.String("team_id", teamID),
			zap.String("user_id", userID),
			zap.Error(err))
		return NewError(ErrorCodeUnspecified, "failed to apply cancellation")
	}

	return nil
}

// ConfirmJoin is the bounded poll the confirmation screen relies on: wait
// for the reconciler to grant membership, and when the webhook never
// arrives, verify the session with the provider and apply the activation
// directly. A documented consistency compromise, not a guarantee.
func (m *MembershipService) ConfirmJoin(ctx context.Context, teamID, userID, sessionID string) (*model.Membership, *Error) {
	l := logger.FromContext(ctx)
	l.Info("confirming join",
		zap.String("team_id", teamID),
		zap.String("user_id", userID),
		zap.String("session_id", sessionID))

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < m.pollAttempts; attempt++ {
		membership, err := m.memberships.Get(ctx, teamID, userID)
		if err == nil {
			return membershipToModel(membership), nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			l.Error("failed to poll membership", zap.String("team_id", teamID), zap.Error(err))
			return nil, NewError(ErrorCodeUnspecified, "failed to poll membership")
		}

		select {
		case <-ctx.Done():
			return nil, NewError(ErrorCodeUnspecified, "confirmation cancelled")
		case <-ticker.C:
		}
	}

	l.Warn("membership poll exhausted, falling back to session verification",
		zap.String("team_id", teamID),
		zap.String("user_id", userID))

	if sessionID == "" {
		return nil, NewError(ErrorCodePaymentPending, "payment not confirmed yet")
	}

	status, err := m.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		l.Error("failed to verify checkout session", zap.String("session_id", sessionID), zap.Error(err))
		return nil, NewError(ErrorCodePaymentProvider, "failed to verify checkout session")
	}
	if status.Metadata[metadataKeyTeamID] != teamID || status.Metadata[metadataKeyUserID] != userID {
		return nil, NewError(ErrorCodeValidation, "checkout session does not match this join")
	}
	if !status.Paid {
		return nil, NewError(ErrorCodePaymentPending, "payment not confirmed yet")
	}

	var expiresAt *time.Time
	if status.SubscriptionID != "" {
		if info, infoErr := m.provider.GetSubscription(ctx, status.SubscriptionID); infoErr == nil {
			expiresAt = info.PeriodEnd
		}
	}

	// Same idempotent writes the reconciler performs, so a late webhook
	// delivery afterwards is a harmless duplicate.
	err = m.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := m.subscriptions.Activate(txCtx, &repository.SubscriptionActivation{
			TeamID:         teamID,
			UserID:         userID,
			SessionID:      status.ID,
			SubscriptionID: status.SubscriptionID,
			CustomerID:     status.CustomerID,
			AmountCents:    status.AmountTotalCents,
			ExpiresAt:      expiresAt,
		}); err != nil {
			return errors.Wrap(err, "failed to activate subscription")
		}

		err := m.memberships.Insert(txCtx, &repository.Membership{
			TeamID: teamID,
			UserID: userID,
			Role:   model.RoleMember,
		})
		if err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
			return errors.Wrap(err, "failed to insert membership")
		}
		return nil
	})
	if err != nil {
		l.Error("failed to apply fallback activation",
			zap.String("team_id", teamID),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to apply fallback activation")
	}

	l.Info("membership recovered via session verification",
		zap.String("team_id", teamID),
		zap.String("user_id", userID))

	return &model.Membership{TeamID: teamID, UserID: userID, Role: model.RoleMember}, nil
}

func (m *MembershipService) GetMembership(ctx context.Context, teamID, userID string) (*model.Membership, *Error) {
	membership, err := m.memberships.Get(ctx, teamID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewError(ErrorCodeNotFound, "not a member of this team")
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to get membership", zap.String("team_id", teamID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to get membership")
	}
	return membershipToModel(membership), nil
}

func (m *MembershipService) ListMembers(ctx context.Context, teamID, callerID string) ([]*model.Membership, *Error) {
	l := logger.FromContext(ctx)

	if _, err := m.memberships.Get(ctx, teamID, callerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewError(ErrorCodePermission, "only members can list the team roster")
		}
		l.Error("failed to check membership", zap.String("team_id", teamID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to check membership")
	}

	membersRepo, err := m.memberships.ListByTeam(ctx, teamID)
	if err != nil {
		l.Error("failed to list members", zap.String("team_id", teamID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to list members")
	}

	members := make([]*model.Membership, 0, len(membersRepo))
	for _, member := range membersRepo {
		members = append(members, membershipToModel(member))
	}
	return members, nil
}

func (m *MembershipService) requireAdmin(ctx context.Context, teamID, userID string) *Error {
	membership, err := m.memberships.Get(ctx, teamID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return NewError(ErrorCodePermission, "caller is not an admin of this team")
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to check admin role", zap.String("team_id", teamID), zap.Error(err))
		return NewError(ErrorCodeUnspecified, "failed to check admin role")
	}
	if membership.Role != model.RoleAdmin {
		return NewError(ErrorCodePermission, "caller is not an admin of this team")
	}
	return nil
}

func membershipToModel(m *repository.Membership) *model.Membership {
	return &model.Membership{
		TeamID:   m.TeamID,
		UserID:   m.UserID,
		Role:     m.Role,
		JoinedAt: m.JoinedAt,
	}
}

func (m *MembershipService) WithTeamRepo(r repository.TeamRepository) *MembershipService {
	m.teams = r
	return m
}

func (m *MembershipService) WithMembershipRepo(r repository.MembershipRepository) *MembershipService {
	m.memberships = r
	return m
}

func (m *MembershipService) WithSubscriptionRepo(r repository.SubscriptionRepository) *MembershipService {
	m.subscriptions = r
	return m
}

func (m *MembershipService) WithCheckoutService(c *CheckoutService) *MembershipService {
	m.checkout = c
	return m
}
