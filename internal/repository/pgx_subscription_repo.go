package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/stephenafamo/bob/dialect/psql/um"
	"github.com/yakoovad/taskcrew/internal/db"
	"github.com/yakoovad/taskcrew/internal/model"
)

type Subscription struct {
	TeamID         string                   `db:"team_id"`
	UserID         string                   `db:"user_id"`
	SessionID      string                   `db:"session_id"`
	SubscriptionID *string                  `db:"subscription_id"`
	CustomerID     *string                  `db:"customer_id"`
	AmountCents    int64                    `db:"amount_cents"`
	Status         model.SubscriptionStatus `db:"status"`
	ExpiresAt      *time.Time               `db:"expires_at"`
	CreatedAt      *time.Time               `db:"created_at"`
	UpdatedAt      *time.Time               `db:"updated_at"`
	CancelledAt    *time.Time               `db:"cancelled_at"`
}

// SubscriptionActivation carries everything the processor reports when a
// checkout completes. Used for the insert-or-update activation write, which
// must succeed even when no pending row exists yet.
type SubscriptionActivation struct {
	TeamID         string
	UserID         string
	SessionID      string
	SubscriptionID string
	CustomerID     string
	AmountCents    int64
	ExpiresAt      *time.Time
}

type SubscriptionRepository interface {
	UpsertPending(ctx context.Context, sub *Subscription) error
	Activate(ctx context.Context, act *SubscriptionActivation) error
	Get(ctx context.Context, teamID, userID string) (*Subscription, error)
	// CancelBySubscriptionID transitions active -> cancelled for the row
	// matching the external subscription id. Returns ErrNotFound when no
	// active row matches, which callers treat as an idempotent no-op.
	CancelBySubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error)
	// CancelPair transitions active -> cancelled for the (team, user) row.
	// Returns ErrNotFound when no active row matches.
	CancelPair(ctx context.Context, teamID, userID string) error
}

type pgxSubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewPgxSubscriptionRepository(pool *pgxpool.Pool) SubscriptionRepository {
	return &pgxSubscriptionRepository{pool: pool}
}

func (p *pgxSubscriptionRepository) UpsertPending(ctx context.Context, sub *Subscription) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	now := time.Now().UTC()

	q := psql.Insert(
		im.Into("subscriptions", "team_id", "user_id", "session_id", "amount_cents", "status", "updated_at"),
		im.Values(
			psql.Arg(sub.TeamID),
			psql.Arg(sub.UserID),
			psql.Arg(sub.SessionID),
			psql.Arg(sub.AmountCents),
			psql.Arg(model.SubscriptionStatusPending),
			psql.Arg(now),
		),
		im.OnConflict(psql.Quote("team_id"), psql.Quote("user_id")).DoUpdate(
			im.SetCol("session_id").ToArg(sub.SessionID),
			im.SetCol("amount_cents").ToArg(sub.AmountCents),
			im.SetCol("status").ToArg(model.SubscriptionStatusPending),
			im.SetCol("updated_at").ToArg(now),
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

func (p *pgxSubscriptionRepository) Activate(ctx context.Context, act *SubscriptionActivation) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	now := time.Now().UTC()

	// The recorded amount is kept when a pending row already exists; the
	// insert path only fires when the webhook outran the pending upsert.
	q := psql.Insert(
		im.Into("subscriptions",
			"team_id", "user_id", "session_id", "subscription_id", "customer_id",
			"amount_cents", "status", "expires_at", "updated_at"),
		im.Values(
			psql.Arg(act.TeamID),
			psql.Arg(act.UserID),
			psql.Arg(act.SessionID),
			psql.Arg(act.SubscriptionID),
			psql.Arg(act.CustomerID),
			psql.Arg(act.AmountCents),
			psql.Arg(model.SubscriptionStatusActive),
			psql.Arg(act.ExpiresAt),
			psql.Arg(now),
		),
		im.OnConflict(psql.Quote("team_id"), psql.Quote("user_id")).DoUpdate(
			im.SetCol("session_id").ToArg(act.SessionID),
			im.SetCol("subscription_id").ToArg(act.SubscriptionID),
			im.SetCol("customer_id").ToArg(act.CustomerID),
			im.SetCol("status").ToArg(model.SubscriptionStatusActive),
			im.SetCol("expires_at").ToArg(act.ExpiresAt),
			im.SetCol("updated_at").ToArg(now),
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

func (p *pgxSubscriptionRepository) Get(ctx context.Context, teamID, userID string) (*Subscription, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("team_id", "user_id", "session_id", "subscription_id", "customer_id",
			"amount_cents", "status", "expires_at", "created_at", "updated_at", "cancelled_at"),
		sm.From("subscriptions"),
		sm.Where(
			psql.Quote("team_id").EQ(psql.Arg(teamID)).
				And(psql.Quote("user_id").EQ(psql.Arg(userID))),
		),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{}
	if err = e.QueryRow(ctx, sql, args...).Scan(
		&sub.TeamID,
		&sub.UserID,
		&sub.SessionID,
		&sub.SubscriptionID,
		&sub.CustomerID,
		&sub.AmountCents,
		&sub.Status,
		&sub.ExpiresAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
		&sub.CancelledAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (p *pgxSubscriptionRepository) CancelBySubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	now := time.Now().UTC()

	q := psql.Update(
		um.Table("subscriptions"),
		um.SetCol("status").ToArg(model.SubscriptionStatusCancelled),
		um.SetCol("cancelled_at").ToArg(now),
		um.SetCol("updated_at").ToArg(now),
		um.Where(
			psql.Quote("subscription_id").EQ(psql.Arg(subscriptionID)).
				And(psql.Quote("status").EQ(psql.Arg(model.SubscriptionStatusActive))),
		),
		um.Returning("team_id", "user_id"),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{Status: model.SubscriptionStatusCancelled}
	if err = e.QueryRow(ctx, sql, args...).Scan(&sub.TeamID, &sub.UserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (p *pgxSubscriptionRepository) CancelPair(ctx context.Context, teamID, userID string) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	now := time.Now().UTC()

	q := psql.Update(
		um.Table("subscriptions"),
		um.SetCol("status").ToArg(model.SubscriptionStatusCancelled),
		um.SetCol("cancelled_at").ToArg(now),
		um.SetCol("updated_at").ToArg(now),
		um.Where(
			psql.Quote("team_id").EQ(psql.Arg(teamID)).
				And(psql.Quote("user_id").EQ(psql.Arg(userID))).
				And(psql.Quote("status").EQ(psql.Arg(model.SubscriptionStatusActive))),
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
