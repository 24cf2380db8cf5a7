package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/yakoovad/taskcrew/internal/db"
	"github.com/yakoovad/taskcrew/internal/model"
	"github.com/yakoovad/taskcrew/internal/repository"
	"github.com/yakoovad/taskcrew/pkg/logger"
	"go.uber.org/zap"
)

// TeamService is the team registry: it owns team metadata and the atomic
// team-plus-admin-membership creation step.
type TeamService struct {
	tx db.Transactor

	teams       repository.TeamRepository
	memberships repository.MembershipRepository
}

func NewTeamService(tx db.Transactor) *TeamService {
	return &TeamService{
		tx: tx,
	}
}

type CreateTeamParams struct {
	Name            string
	AccessMode      model.AccessMode
	Tier            model.Tier
	TierPriceCents  int64
	JoiningFeeCents int64
}

func (t *TeamService) CreateTeam(ctx context.Context, creatorID string, params *CreateTeamParams) (*model.Team, *Error) {
	l := logger.FromContext(ctx)
	l.Info("creating team",
		zap.String("team_name", params.Name),
		zap.String("creator_id", creatorID),
		zap.String("access_mode", string(params.AccessMode)))

	if params.Name == "" {
		return nil, NewError(ErrorCodeValidation, "team name must not be empty")
	}
	switch params.AccessMode {
	case model.AccessModeFree:
		if params.JoiningFeeCents != 0 {
			return nil, NewError(ErrorCodeValidation, "free team must not have a joining fee")
		}
	case model.AccessModePaid:
		if params.JoiningFeeCents <= 0 {
			return nil, NewError(ErrorCodeValidation, "paid team must have a positive joining fee")
		}
	default:
		return nil, NewError(ErrorCodeValidation, "access mode must be free or paid")
	}

	tier := params.Tier
	if tier == "" {
		tier = model.TierFree
	}

	team := &model.Team{
		ID:              uuid.NewString(),
		Name:            params.Name,
		AccessMode:      params.AccessMode,
		Tier:            tier,
		TierPriceCents:  params.TierPriceCents,
		JoiningFeeCents: params.JoiningFeeCents,
		CreatedBy:       creatorID,
	}

	// Team and its admin membership must not be observably separated,
	// otherwise a team could exist ownerless.
	err := t.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := t.teams.Create(txCtx, &repository.Team{
			ID:              team.ID,
			Name:            team.Name,
			AccessMode:      team.AccessMode,
			Tier:            team.Tier,
			TierPriceCents:  team.TierPriceCents,
			JoiningFeeCents: team.JoiningFeeCents,
			CreatedBy:       team.CreatedBy,
		}); err != nil {
			l.Error("failed to create team", zap.String("team_name", team.Name), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to create team")
		}

		if err := t.memberships.Insert(txCtx, &repository.Membership{
			TeamID: team.ID,
			UserID: creatorID,
			Role:   model.RoleAdmin,
		}); err != nil {
			l.Error("failed to create admin membership",
				zap.String("team_id", team.ID),
				zap.String("creator_id", creatorID),
				zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to create admin membership")
		}

		return nil
	})

	if err != nil {
		var res *Error
		if errors.As(err, &res) {
			return nil, res
		}
		return nil, NewError(ErrorCodeUnspecified, "failed to create team")
	}

	l.Debug("team created", zap.String("team_id", team.ID))

	return team, nil
}

func (t *TeamService) GetTeamInfo(ctx context.Context, teamID string) (*model.TeamSummary, *Error) {
	l := logger.FromContext(ctx)
	l.Debug("getting team info", zap.String("team_id", teamID))

	teamRepo, err := t.teams.Get(ctx, teamID)
	if errors.Is(err, repository.ErrNotFound) {
		l.Warn("team not found", zap.String("team_id", teamID))
		return nil, NewError(ErrorCodeNotFound, "team not found")
	}
	if err != nil {
		l.Error("failed to get team", zap.String("team_id", teamID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to get team")
	}

	count, err := t.memberships.CountByTeam(ctx, teamID)
	if err != nil {
		l.Error("failed to count team members", zap.String("team_id", teamID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to count team members")
	}

	return &model.TeamSummary{
		ID:              teamRepo.ID,
		Name:            teamRepo.Name,
		AccessMode:      teamRepo.AccessMode,
		Tier:            teamRepo.Tier,
		JoiningFeeCents: teamRepo.JoiningFeeCents,
		MemberCount:     count,
	}, nil
}

func (t *TeamService) ListTeams(ctx context.Context) ([]*model.TeamSummary, *Error) {
	l := logger.FromContext(ctx)

	teamsRepo, err := t.teams.List(ctx)
	if err != nil {
		l.Error("failed to list teams", zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to list teams")
	}

	summaries := make([]*model.TeamSummary, 0, len(teamsRepo))
	for _, teamRepo := range teamsRepo {
		count, err := t.memberships.CountByTeam(ctx, teamRepo.ID)
		if err != nil {
			l.Error("failed to count team members", zap.String("team_id", teamRepo.ID), zap.Error(err))
			return nil, NewError(ErrorCodeUnspecified, "failed to count team members")
		}
		summaries = append(summaries, &model.TeamSummary{
			ID:              teamRepo.ID,
			Name:            teamRepo.Name,
			AccessMode:      teamRepo.AccessMode,
			Tier:            teamRepo.Tier,
			JoiningFeeCents: teamRepo.JoiningFeeCents,
			MemberCount:     count,
		})
	}

	return summaries, nil
}

func (t *TeamService) WithTeamRepo(r repository.TeamRepository) *TeamService {
	t.teams = r
	return t
}

func (t *TeamService) WithMembershipRepo(r repository.MembershipRepository) *TeamService {
	t.memberships = r
	return t
}
