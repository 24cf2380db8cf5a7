package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dialect"
	"github.com/stephenafamo/bob/dialect/psql/dm"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/stephenafamo/bob/dialect/psql/um"
	"github.com/yakoovad/taskcrew/internal/db"
	"github.com/yakoovad/taskcrew/internal/model"
)

type Task struct {
	ID          string           `db:"id"`
	TeamID      string           `db:"team_id"`
	Title       string           `db:"title"`
	Description string           `db:"description"`
	Status      model.TaskStatus `db:"status"`
	CreatedBy   string           `db:"created_by"`
	CreatedAt   *time.Time       `db:"created_at"`
	UpdatedAt   *time.Time       `db:"updated_at"`
}

type TaskPatch struct {
	ID          string            `db:"id"`
	Title       *string           `db:"title"`
	Description *string           `db:"description"`
	Status      *model.TaskStatus `db:"status"`
}

type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	ListByTeam(ctx context.Context, teamID string) ([]*Task, error)
	Patch(ctx context.Context, patch *TaskPatch) (*Task, error)
	Delete(ctx context.Context, id string) error
}

type pgxTaskRepository struct {
	pool *pgxpool.Pool
}

func NewPgxTaskRepository(pool *pgxpool.Pool) TaskRepository {
	return &pgxTaskRepository{pool: pool}
}

func (p *pgxTaskRepository) Create(ctx context.Context, task *Task) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("tasks", "id", "team_id", "title", "description", "status", "created_by"),
		im.Values(
			psql.Arg(task.ID),
			psql.Arg(task.TeamID),
			psql.Arg(task.Title),
			psql.Arg(task.Description),
			psql.Arg(task.Status),
			psql.Arg(task.CreatedBy),
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

func (p *pgxTaskRepository) Get(ctx context.Context, id string) (*Task, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("id", "team_id", "title", "description", "status", "created_by", "created_at", "updated_at"),
		sm.From("tasks"),
		sm.Where(psql.Quote("id").EQ(psql.Arg(id))),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	task := &Task{}
	if err = e.QueryRow(ctx, sql, args...).Scan(
		&task.ID,
		&task.TeamID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.CreatedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

func (p *pgxTaskRepository) ListByTeam(ctx context.Context, teamID string) ([]*Task, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("id", "team_id", "title", "description", "status", "created_by", "created_at", "updated_at"),
		sm.From("tasks"),
		sm.Where(psql.Quote("team_id").EQ(psql.Arg(teamID))),
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

	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Task, error) {
		task := &Task{}
		if err = row.Scan(
			&task.ID,
			&task.TeamID,
			&task.Title,
			&task.Description,
			&task.Status,
			&task.CreatedBy,
			&task.CreatedAt,
			&task.UpdatedAt,
		); err != nil {
			return nil, err
		}
		return task, nil
	})
	if err != nil {
		return nil, err
	}

	return tasks, nil
}

func (p *pgxTaskRepository) Patch(ctx context.Context, patch *TaskPatch) (*Task, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	sets := make([]bob.Mod[*dialect.UpdateQuery], 0, 4)

	if patch.Title != nil {
		sets = append(sets, um.SetCol("title").ToArg(*patch.Title))
	}
	if patch.Description != nil {
		sets = append(sets, um.SetCol("description").ToArg(*patch.Description))
	}
	if patch.Status != nil {
		sets = append(sets, um.SetCol("status").ToArg(*patch.Status))
	}
	sets = append(sets, um.SetCol("updated_at").ToArg(time.Now().UTC()))

	q := psql.Update(
		um.Table("tasks"),
		um.Where(psql.Quote("id").EQ(psql.Arg(patch.ID))),
		um.Returning("id", "team_id", "title", "description", "status", "created_by", "created_at", "updated_at"),
	)

	q.Apply(sets...)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	task := &Task{}
	if err = e.QueryRow(ctx, sql, args...).Scan(
		&task.ID,
		&task.TeamID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.CreatedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return task, nil
}

func (p *pgxTaskRepository) Delete(ctx context.Context, id string) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Delete(
		dm.From("tasks"),
		dm.Where(psql.Quote("id").EQ(psql.Arg(id))),
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
