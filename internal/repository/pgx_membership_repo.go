package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dm"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/yakoovad/taskcrew/internal/db"
	"github.com/yakoovad/taskcrew/internal/model"
)

type Membership struct {
	TeamID   string     `db:"team_id"`
	UserID   string     `db:"user_id"`
	Role     model.Role `db:"role"`
	JoinedAt *time.Time `db:"joined_at"`
}

type MembershipRepository interface {
	Insert(ctx context.Context, m *Membership) error
	Get(ctx context.Context, teamID, userID string) (*Membership, error)
	Delete(ctx context.Context, teamID, userID string) error
	ListByTeam(ctx context.Context, teamID string) ([]*Membership, error)
	CountByTeam(ctx context.Context, teamID string) (int, error)
}

type pgxMembershipRepository struct {
	pool *pgxpool.Pool
}

func NewPgxMembershipRepository(pool *pgxpool.Pool) MembershipRepository {
	return &pgxMembershipRepository{pool: pool}
}

func (p *pgxMembershipRepository) Insert(ctx context.Context, m *Membership) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("memberships", "team_id", "user_id", "role"),
		im.Values(psql.Arg(m.TeamID), psql.Arg(m.UserID), psql.Arg(m.Role)),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return err
	}

	_, err = e.Exec(ctx, sql, args...)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}

	return err
}

func (p *pgxMembershipRepository) Get(ctx context.Context, teamID, userID string) (*Membership, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("team_id", "user_id", "role", "joined_at"),
		sm.From("memberships"),
		sm.Where(
			psql.Quote("team_id").EQ(psql.Arg(teamID)).
				And(psql.Quote("user_id").EQ(psql.Arg(userID))),
		),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	m := &Membership{}
	if err = e.QueryRow(ctx, sql, args...).Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (p *pgxMembershipRepository) Delete(ctx context.Context, teamID, userID string) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Delete(
		dm.From("memberships"),
		dm.Where(
			psql.Quote("team_id").EQ(psql.Arg(teamID)).
				And(psql.Quote("user_id").EQ(psql.Arg(userID))),
		),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return err
	}

	commandTag, err := e.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}

	if commandTag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (p *pgxMembershipRepository) ListByTeam(ctx context.Context, teamID string) ([]*Membership, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("team_id", "user_id", "role", "joined_at"),
		sm.From("memberships"),
		sm.Where(psql.Quote("team_id").EQ(psql.Arg(teamID))),
		sm.OrderBy("joined_at"),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := e.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Membership, error) {
		m := &Membership{}
		if err = row.Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	return members, nil
}

func (p *pgxMembershipRepository) CountByTeam(ctx context.Context, teamID string) (int, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("count(*)"),
		sm.From("memberships"),
		sm.Where(psql.Quote("team_id").EQ(psql.Arg(teamID))),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	if err = e.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
