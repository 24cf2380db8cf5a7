package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/yakoovad/taskcrew/internal/model"
	"github.com/yakoovad/taskcrew/internal/payment"
	"github.com/yakoovad/taskcrew/internal/repository"
)

func newMembershipServiceForTest(
	memberships *MockMembershipRepository,
	teams *MockTeamRepository,
	subs *MockSubscriptionRepository,
	provider *MockPaymentProvider,
) *MembershipService {
	checkout := NewCheckoutService(new(MockTransactor), provider, CheckoutConfig{
		SuccessURL: "https://app.test/payment/success",
		CancelURL:  "https://app.test/payment/cancel",
		Currency:   "usd",
		IntentTTL:  time.Hour,
	}).WithSubscriptionRepo(subs).WithIntentRepo(new(MockIntentRepository))

	return NewMembershipService(new(MockTransactor), provider, 2, time.Millisecond).
		WithTeamRepo(teams).
		WithMembershipRepo(memberships).
		WithSubscriptionRepo(subs).
		WithCheckoutService(checkout)
}

func TestMembershipService_RequestJoin(t *testing.T) {
	freeTeam := &repository.Team{ID: "team-1", Name: "Alpha", AccessMode: model.AccessModeFree}
	paidTeam := &repository.Team{ID: "team-2", Name: "Beta", AccessMode: model.AccessModePaid, JoiningFeeCents: 1000}

	tests := []struct {
		name          string
		teamID        string
		userID        string
		setupMocks    func(*MockTeamRepository, *MockMembershipRepository, *MockSubscriptionRepository, *MockPaymentProvider)
		expectedError bool
		errorCode     ErrorCode
		check         func(*testing.T, *model.JoinOutcome)
	}{
		{
			name:   "free team joins immediately",
			teamID: "team-1",
			userID: "user-b",
			setupMocks: func(tr *MockTeamRepository, mr *MockMembershipRepository, sr *MockSubscriptionRepository, pp *MockPaymentProvider) {
				tr.On("Get", mock.Anything, "team-1").Return(freeTeam, nil)
				mr.On("Insert", mock.Anything, mock.MatchedBy(func(m *repository.Membership) bool {
					return m.TeamID == "team-1" && m.UserID == "user-b" && m.Role == model.RoleMember
				})).Return(nil)
			},
			check: func(t *testing.T, outcome *model.JoinOutcome) {
				assert.True(t, outcome.Joined)
				assert.False(t, outcome.Pending)
				assert.Empty(t, outcome.RedirectURL)
			},
		},
		{
			name:   "second free join reports already member",
			teamID: "team-1",
			userID: "user-b",
			setupMocks: func(tr *MockTeamRepository, mr *MockMembershipRepository, sr *MockSubscriptionRepository, pp *MockPaymentProvider) {
				tr.On("Get", mock.Anything, "team-1").Return(freeTeam, nil)
				mr.On("Insert", mock.Anything, mock.Anything).Return(repository.ErrAlreadyExists)
			},
			expectedError: true,
			errorCode:     ErrorCodeAlreadyMember,
		},
		{
			name:   "paid team returns redirect and pending ledger row",
			teamID: "team-2",
			userID: "user-c",
			setupMocks: func(tr *MockTeamRepository, mr *MockMembershipRepository, sr *MockSubscriptionRepository, pp *MockPaymentProvider) {
				tr.On("Get", mock.Anything, "team-2").Return(paidTeam, nil)
				mr.On("Get", mock.Anything, "team-2", "user-c").Return(nil, repository.ErrNotFound)
				pp.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p *payment.CheckoutParams) bool {
					return p.AmountCents == 1000 &&
						p.Metadata["team_id"] == "team-2" &&
						p.Metadata["user_id"] == "user-c" &&
						p.Metadata["type"] == "member_checkout"
				})).Return(&payment.CheckoutSession{ID: "cs_1", URL: "https://pay.test/cs_1"}, nil)
				sr.On("UpsertPending", mock.Anything, mock.MatchedBy(func(s *repository.Subscription) bool {
					return s.TeamID == "team-2" && s.UserID == "user-c" && s.SessionID == "cs_1" && s.AmountCents == 1000
				})).Return(nil)
			},
			check: func(t *testing.T, outcome *model.JoinOutcome) {
				assert.False(t, outcome.Joined)
				assert.True(t, outcome.Pending)
				assert.Equal(t, "https://pay.test/cs_1", outcome.RedirectURL)
			},
		},
		{
			name:   "paid team already member",
			teamID: "team-2",
			userID: "user-c",
			setupMocks: func(tr *MockTeamRepository, mr *MockMembershipRepository, sr *MockSubscriptionRepository, pp *MockPaymentProvider) {
				tr.On("Get", mock.Anything, "team-2").Return(paidTeam, nil)
				mr.On("Get", mock.Anything, "team-2", "user-c").Return(&repository.Membership{
					TeamID: "team-2", UserID: "user-c", Role: model.RoleMember,
				}, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeAlreadyMember,
		},
		{
			name:   "paid team provider failure",
			teamID: "team-2",
			userID: "user-c",
			setupMocks: func(tr *MockTeamRepository, mr *MockMembershipRepository, sr *MockSubscriptionRepository, pp *MockPaymentProvider) {
				tr.On("Get", mock.Anything, "team-2").Return(paidTeam, nil)
				mr.On("Get", mock.Anything, "team-2", "user-c").Return(nil, repository.ErrNotFound)
				pp.On("CreateCheckoutSession", mock.Anything, mock.Anything).Return(nil, errors.New("provider down"))
			},
			expectedError: true,
			errorCode:     ErrorCodePaymentProvider,
		},
		{
			name:   "team not found",
			teamID: "missing",
			userID: "user-b",
			setupMocks: func(tr *MockTeamRepository, mr *MockMembershipRepository, sr *MockSubscriptionRepository, pp *MockPaymentProvider) {
				tr.On("Get", mock.Anything, "missing").Return(nil, repository.ErrNotFound)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockTeamRepo := new(MockTeamRepository)
			mockMembershipRepo := new(MockMembershipRepository)
			mockSubscriptionRepo := new(MockSubscriptionRepository)
			mockProvider := new(MockPaymentProvider)

			tt.setupMocks(mockTeamRepo, mockMembershipRepo, mockSubscriptionRepo, mockProvider)

			service := newMembershipServiceForTest(mockMembershipRepo, mockTeamRepo, mockSubscriptionRepo, mockProvider)

			outcome, err := service.RequestJoin(context.Background(), tt.teamID, tt.userID, "user@example.com")

			if tt.expectedError {
				assert.Error(t, err)
				assert.Equal(t, tt.errorCode, err.Code)
				assert.Nil(t, outcome)
			} else {
				assert.Nil(t, err)
				tt.check(t, outcome)
			}

			mockTeamRepo.AssertExpectations(t)
			mockMembershipRepo.AssertExpectations(t)
			mockSubscriptionRepo.AssertExpectations(t)
			mockProvider.AssertExpectations(t)
		})
	}
}

func TestMembershipService_AddMemberDirectly(t *testing.T) {
	admin := &repository.Membership{TeamID: "team-1", UserID: "admin-1", Role: model.RoleAdmin}
	member := &repository.Membership{TeamID: "team-1", UserID: "member-1", Role: model.RoleMember}

	tests := []struct {
		name          string
		adminID       string
		targetID      string
		setupMocks    func(*MockMembershipRepository)
		expectedError bool
		errorCode     ErrorCode
	}{
		{
			name:     "success",
			adminID:  "admin-1",
			targetID: "user-x",
			setupMocks: func(mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "admin-1").Return(admin, nil)
				mr.On("Insert", mock.Anything, mock.MatchedBy(func(m *repository.Membership) bool {
					return m.UserID == "user-x" && m.Role == model.RoleMember
				})).Return(nil)
			},
		},
		{
			name:     "caller is not a member",
			adminID:  "stranger",
			targetID: "user-x",
			setupMocks: func(mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "stranger").Return(nil, repository.ErrNotFound)
			},
			expectedError: true,
			errorCode:     ErrorCodePermission,
		},
		{
			name:     "caller is a plain member",
			adminID:  "member-1",
			targetID: "user-x",
			setupMocks: func(mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "member-1").Return(member, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodePermission,
		},
		{
			name:     "target already member",
			adminID:  "admin-1",
			targetID: "user-x",
			setupMocks: func(mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "admin-1").Return(admin, nil)
				mr.On("Insert", mock.Anything, mock.Anything).Return(repository.ErrAlreadyExists)
			},
			expectedError: true,
			errorCode:     ErrorCodeAlreadyMember,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockMembershipRepo := new(MockMembershipRepository)
			tt.setupMocks(mockMembershipRepo)

			service := newMembershipServiceForTest(mockMembershipRepo, new(MockTeamRepository), new(MockSubscriptionRepository), new(MockPaymentProvider))

			err := service.AddMemberDirectly(context.Background(), "team-1", tt.adminID, tt.targetID)

			if tt.expectedError {
				assert.Error(t, err)
				assert.Equal(t, tt.errorCode, err.Code)
			} else {
				assert.Nil(t, err)
			}

			mockMembershipRepo.AssertExpectations(t)
		})
	}
}

func TestMembershipService_RemoveMember(t *testing.T) {
	admin := &repository.Membership{TeamID: "team-1", UserID: "admin-1", Role: model.RoleAdmin}

	tests := []struct {
		name          string
		adminID       string
		targetID      string
		setupMocks    func(*MockMembershipRepository)
		expectedError bool
		errorCode     ErrorCode
	}{
		{
			name:     "success",
			adminID:  "admin-1",
			targetID: "user-b",
			setupMocks: func(mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "admin-1").Return(admin, nil)
				mr.On("Delete", mock.Anything, "team-1", "user-b").Return(nil)
			},
		},
		{
			name:          "self removal rejected before anything else",
			adminID:       "admin-1",
			targetID:      "admin-1",
			setupMocks:    func(mr *MockMembershipRepository) {},
			expectedError: true,
			errorCode:     ErrorCodeSelfRemoval,
		},
		{
			name:     "not an admin",
			adminID:  "user-b",
			targetID: "user-c",
			setupMocks: func(mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "user-b").Return(&repository.Membership{
					TeamID: "team-1", UserID: "user-b", Role: model.RoleMember,
				}, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodePermission,
		},
		{
			name:     "target not a member",
			adminID:  "admin-1",
			targetID: "ghost",
			setupMocks: func(mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "admin-1").Return(admin, nil)
				mr.On("Delete", mock.Anything, "team-1", "ghost").Return(repository.ErrNotFound)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockMembershipRepo := new(MockMembershipRepository)
			tt.setupMocks(mockMembershipRepo)

			service := newMembershipServiceForTest(mockMembershipRepo, new(MockTeamRepository), new(MockSubscriptionRepository), new(MockPaymentProvider))

			err := service.RemoveMember(context.Background(), "team-1", tt.adminID, tt.targetID)

			if tt.expectedError {
				assert.Error(t, err)
				assert.Equal(t, tt.errorCode, err.Code)
			} else {
				assert.Nil(t, err)
			}

			mockMembershipRepo.AssertExpectations(t)
		})
	}
}

func TestMembershipService_CancelOwnSubscription(t *testing.T) {
	subID := "sub_123"
	activeSub := &repository.Subscription{
		TeamID:         "team-2",
		UserID:         "user-c",
		SubscriptionID: &subID,
		Status:         model.SubscriptionStatusActive,
	}

	tests := []struct {
		name          string
		setupMocks    func(*MockSubscriptionRepository, *MockMembershipRepository, *MockPaymentProvider)
		expectedError bool
		errorCode     ErrorCode
	}{
		{
			name: "success",
			setupMocks: func(sr *MockSubscriptionRepository, mr *MockMembershipRepository, pp *MockPaymentProvider) {
				sr.On("Get", mock.Anything, "team-2", "user-c").Return(activeSub, nil)
				pp.On("CancelSubscription", mock.Anything, "sub_123").Return(nil)
				sr.On("CancelPair", mock.Anything, "team-2", "user-c").Return(nil)
				mr.On("Delete", mock.Anything, "team-2", "user-c").Return(nil)
			},
		},
		{
			name: "idempotent when webhook already cancelled",
			setupMocks: func(sr *MockSubscriptionRepository, mr *MockMembershipRepository, pp *MockPaymentProvider) {
				sr.On("Get", mock.Anything, "team-2", "user-c").Return(activeSub, nil)
				pp.On("CancelSubscription", mock.Anything, "sub_123").Return(nil)
				sr.On("CancelPair", mock.Anything, "team-2", "user-c").Return(repository.ErrNotFound)
				mr.On("Delete", mock.Anything, "team-2", "user-c").Return(repository.ErrNotFound)
			},
		},
		{
			name: "no subscription",
			setupMocks: func(sr *MockSubscriptionRepository, mr *MockMembershipRepository, pp *MockPaymentProvider) {
				sr.On("Get", mock.Anything, "team-2", "user-c").Return(nil, repository.ErrNotFound)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotFound,
		},
		{
			name: "subscription not active",
			setupMocks: func(sr *MockSubscriptionRepository, mr *MockMembershipRepository, pp *MockPaymentProvider) {
				sr.On("Get", mock.Anything, "team-2", "user-c").Return(&repository.Subscription{
					TeamID: "team-2", UserID: "user-c", Status: model.SubscriptionStatusPending,
				}, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotFound,
		},
		{
			name: "provider failure leaves state untouched",
			setupMocks: func(sr *MockSubscriptionRepository, mr *MockMembershipRepository, pp *MockPaymentProvider) {
				sr.On("Get", mock.Anything, "team-2", "user-c").Return(activeSub, nil)
				pp.On("CancelSubscription", mock.Anything, "sub_123").Return(errors.New("provider down"))
			},
			expectedError: true,
			errorCode:     ErrorCodePaymentProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSubscriptionRepo := new(MockSubscriptionRepository)
			mockMembershipRepo := new(MockMembershipRepository)
			mockProvider := new(MockPaymentProvider)

			tt.setupMocks(mockSubscriptionRepo, mockMembershipRepo, mockProvider)

			service := newMembershipServiceForTest(mockMembershipRepo, new(MockTeamRepository), mockSubscriptionRepo, mockProvider)

			err := service.CancelOwnSubscription(context.Background(), "team-2", "user-c")

			if tt.expectedError {
				assert.Error(t, err)
				assert.Equal(t, tt.errorCode, err.Code)
			} else {
				assert.Nil(t, err)
			}

			mockSubscriptionRepo.AssertExpectations(t)
			mockMembershipRepo.AssertExpectations(t)
			mockProvider.AssertExpectations(t)
		})
	}
}

func TestMembershipService_ConfirmJoin(t *testing.T) {
	membership := &repository.Membership{TeamID: "team-2", UserID: "user-c", Role: model.RoleMember}

	t.Run("membership appears while polling", func(t *testing.T) {
		mockMembershipRepo := new(MockMembershipRepository)
		mockMembershipRepo.On("Get", mock.Anything, "team-2", "user-c").Return(nil, repository.ErrNotFound).Once()
		mockMembershipRepo.On("Get", mock.Anything, "team-2", "user-c").Return(membership, nil).Once()

		service := newMembershipServiceForTest(mockMembershipRepo, new(MockTeamRepository), new(MockSubscriptionRepository), new(MockPaymentProvider))

		got, err := service.ConfirmJoin(context.Background(), "team-2", "user-c", "cs_1")
		assert.Nil(t, err)
		assert.Equal(t, model.RoleMember, got.Role)

		mockMembershipRepo.AssertExpectations(t)
	})

	t.Run("fallback applies activation when session is paid", func(t *testing.T) {
		mockMembershipRepo := new(MockMembershipRepository)
		mockSubscriptionRepo := new(MockSubscriptionRepository)
		mockProvider := new(MockPaymentProvider)

		mockMembershipRepo.On("Get", mock.Anything, "team-2", "user-c").Return(nil, repository.ErrNotFound)
		mockProvider.On("GetCheckoutSession", mock.Anything, "cs_1").Return(&payment.SessionStatus{
			ID:               "cs_1",
			Paid:             true,
			SubscriptionID:   "sub_123",
			CustomerID:       "cus_1",
			AmountTotalCents: 1000,
			Metadata:         map[string]string{"team_id": "team-2", "user_id": "user-c"},
		}, nil)
		mockProvider.On("GetSubscription", mock.Anything, "sub_123").Return(&payment.SubscriptionInfo{ID: "sub_123"}, nil)
		mockSubscriptionRepo.On("Activate", mock.Anything, mock.MatchedBy(func(act *repository.SubscriptionActivation) bool {
			return act.TeamID == "team-2" && act.UserID == "user-c" && act.SubscriptionID == "sub_123"
		})).Return(nil)
		mockMembershipRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

		service := newMembershipServiceForTest(mockMembershipRepo, new(MockTeamRepository), mockSubscriptionRepo, mockProvider)

		got, err := service.ConfirmJoin(context.Background(), "team-2", "user-c", "cs_1")
		assert.Nil(t, err)
		assert.Equal(t, "team-2", got.TeamID)

		mockProvider.AssertExpectations(t)
		mockSubscriptionRepo.AssertExpectations(t)
	})

	t.Run("unpaid session reports payment pending", func(t *testing.T) {
		mockMembershipRepo := new(MockMembershipRepository)
		mockProvider := new(MockPaymentProvider)

		mockMembershipRepo.On("Get", mock.Anything, "team-2", "user-c").Return(nil, repository.ErrNotFound)
		mockProvider.On("GetCheckoutSession", mock.Anything, "cs_1").Return(&payment.SessionStatus{
			ID:       "cs_1",
			Paid:     false,
			Metadata: map[string]string{"team_id": "team-2", "user_id": "user-c"},
		}, nil)

		service := newMembershipServiceForTest(mockMembershipRepo, new(MockTeamRepository), new(MockSubscriptionRepository), mockProvider)

		got, err := service.ConfirmJoin(context.Background(), "team-2", "user-c", "cs_1")
		assert.Error(t, err)
		assert.Equal(t, ErrorCodePaymentPending, err.Code)
		assert.Nil(t, got)
	})

	t.Run("session for a different pair is rejected", func(t *testing.T) {
		mockMembershipRepo := new(MockMembershipRepository)
		mockProvider := new(MockPaymentProvider)

		mockMembershipRepo.On("Get", mock.Anything, "team-2", "user-c").Return(nil, repository.ErrNotFound)
		mockProvider.On("GetCheckoutSession", mock.Anything, "cs_1").Return(&payment.SessionStatus{
			ID:       "cs_1",
			Paid:     true,
			Metadata: map[string]string{"team_id": "other-team", "user_id": "user-c"},
		}, nil)

		service := newMembershipServiceForTest(mockMembershipRepo, new(MockTeamRepository), new(MockSubscriptionRepository), mockProvider)

		_, err := service.ConfirmJoin(context.Background(), "team-2", "user-c", "cs_1")
		assert.Error(t, err)
		assert.Equal(t, ErrorCodeValidation, err.Code)
	})
}
