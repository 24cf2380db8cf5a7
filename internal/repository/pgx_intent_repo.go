package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dm"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/um"
	"github.com/yakoovad/taskcrew/internal/db"
	"github.com/yakoovad/taskcrew/internal/model"
)

type TeamIntent struct {
	ID              string             `db:"id"`
	UserID          string             `db:"user_id"`
	TeamName        string             `db:"team_name"`
	Tier            model.Tier         `db:"tier"`
	TierPriceCents  int64              `db:"tier_price_cents"`
	JoiningFeeCents int64              `db:"joining_fee_cents"`
	Status          model.IntentStatus `db:"status"`
	ExpiresAt       *time.Time         `db:"expires_at"`
}

type IntentRepository interface {
	Create(ctx context.Context, intent *TeamIntent) error
	// Consume flips a live pending intent to consumed and returns it.
	// Returns ErrNotFound when the intent is absent, expired, or already
	// consumed, making consumption exactly-once under concurrent delivery.
	Consume(ctx context.Context, id string) (*TeamIntent, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type pgxIntentRepository struct {
	pool *pgxpool.Pool
}

func NewPgxIntentRepository(pool *pgxpool.Pool) IntentRepository {
	return &pgxIntentRepository{pool: pool}
}

func (p *pgxIntentRepository) Create(ctx context.Context, intent *TeamIntent) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("team_intents", "id", "user_id", "team_name", "tier", "tier_price_cents", "joining_fee_cents", "status", "expires_at"),
		im.Values(
			psql.Arg(intent.ID),
			psql.Arg(intent.UserID),
			psql.Arg(intent.TeamName),
			psql.Arg(intent.Tier),
			psql.Arg(intent.TierPriceCents),
			psql.Arg(intent.JoiningFeeCents),
			psql.Arg(model.IntentStatusPending),
			psql.Arg(intent.ExpiresAt),
		),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return err
	}

	if _, err = e.Exec(ctx, sql, args...); err != nil {
		return err
	}

	return nil
}

func (p *pgxIntentRepository) Consume(ctx context.Context, id string) (*TeamIntent, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Update(
		um.Table("team_intents"),
		um.SetCol("status").ToArg(model.IntentStatusConsumed),
		um.SetCol("consumed_at").ToArg(time.Now().UTC()),
		um.Where(
			psql.Quote("id").EQ(psql.Arg(id)).
				And(psql.Quote("status").EQ(psql.Arg(model.IntentStatusPending))).
				And(psql.Quote("expires_at").GT(psql.Arg(time.Now().UTC()))),
		),
		um.Returning("id", "user_id", "team_name", "tier", "tier_price_cents", "joining_fee_cents", "status", "expires_at"),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	intent := &TeamIntent{}
	if err = e.QueryRow(ctx, sql, args...).Scan(
		&intent.ID,
		&intent.UserID,
		&intent.TeamName,
		&intent.Tier,
		&intent.TierPriceCents,
		&intent.JoiningFeeCents,
		&intent.Status,
		&intent.ExpiresAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return intent, nil
}

func (p *pgxIntentRepository) DeleteExpired(ctx context.Context) (int64, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Delete(
		dm.From("team_intents"),
		dm.Where(
			psql.Quote("status").EQ(psql.Arg(model.IntentStatusPending)).
				And(psql.Quote("expires_at").LTE(psql.Arg(time.Now().UTC()))),
		),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return 0, err
	}

	commandTag, err := e.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}

	return commandTag.RowsAffected(), nil
}
