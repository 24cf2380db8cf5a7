package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/yakoovad/taskcrew/internal/db"
	"github.com/yakoovad/taskcrew/internal/model"
)

type Team struct {
	ID              string           `db:"id"`
	Name            string           `db:"name"`
	AccessMode      model.AccessMode `db:"access_mode"`
	Tier            model.Tier       `db:"tier"`
	TierPriceCents  int64            `db:"tier_price_cents"`
	JoiningFeeCents int64            `db:"joining_fee_cents"`
	CreatedBy       string           `db:"created_by"`
	CreatedAt       *time.Time       `db:"created_at"`
}

type TeamRepository interface {
	Create(ctx context.Context, team *Team) error
	Get(ctx context.Context, id string) (*Team, error)
	List(ctx context.Context) ([]*Team, error)
}

type pgxTeamRepository struct {
	pool *pgxpool.Pool
}

func NewPgxTeamRepository(pool *pgxpool.Pool) TeamRepository {
	return &pgxTeamRepository{pool: pool}
}

func (p *pgxTeamRepository) Create(ctx context.Context, team *Team) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("teams", "id", "name", "access_mode", "tier", "tier_price_cents", "joining_fee_cents", "created_by"),
		im.Values(
			psql.Arg(team.ID),
			psql.Arg(team.Name),
			psql.Arg(team.AccessMode),
			psql.Arg(team.Tier),
			psql.Arg(team.TierPriceCents),
			psql.Arg(team.JoiningFeeCents),
			psql.Arg(team.CreatedBy),
		),
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

func (p *pgxTeamRepository) Get(ctx context.Context, id string) (*Team, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("id", "name", "access_mode", "tier", "tier_price_cents", "joining_fee_cents", "created_by", "created_at"),
		sm.From("teams"),
		sm.Where(psql.Quote("id").EQ(psql.Arg(id))),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	team := &Team{}
	if err = e.QueryRow(ctx, sql, args...).Scan(
		&team.ID,
		&team.Name,
		&team.AccessMode,
		&team.Tier,
		&team.TierPriceCents,
		&team.JoiningFeeCents,
		&team.CreatedBy,
		&team.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return team, nil
}

func (p *pgxTeamRepository) List(ctx context.Context) ([]*Team, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("id", "name", "access_mode", "tier", "tier_price_cents", "joining_fee_cents", "created_by", "created_at"),
		sm.From("teams"),
		sm.OrderBy("created_at"),
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

	teams, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Team, error) {
		team := &Team{}
		if err = row.Scan(
			&team.ID,
			&team.Name,
			&team.AccessMode,
			&team.Tier,
			&team.TierPriceCents,
			&team.JoiningFeeCents,
			&team.CreatedBy,
			&team.CreatedAt,
		); err != nil {
			return nil, err
		}
		return team, nil
	})
	if err != nil {
		return nil, err
	}

	return teams, nil
}
