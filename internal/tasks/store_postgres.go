package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			registered_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NULL,
			completed_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_session_registered ON tasks (session_id, registered_at DESC);`,
		`CREATE TABLE IF NOT EXISTS task_steps (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			description TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NULL,
			completed_at TIMESTAMPTZ NULL,
			PRIMARY KEY (task_id, idx)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTask(ctx context.Context, task Task) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO tasks (
			id, session_id, user_id, command, status, result,
			registered_at, updated_at, started_at, completed_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
		)
		ON CONFLICT (id) DO UPDATE SET
			session_id=EXCLUDED.session_id,
			user_id=EXCLUDED.user_id,
			command=EXCLUDED.command,
			status=EXCLUDED.status,
			result=EXCLUDED.result,
			registered_at=EXCLUDED.registered_at,
			updated_at=EXCLUDED.updated_at,
			started_at=EXCLUDED.started_at,
			completed_at=EXCLUDED.completed_at`,
		task.ID,
		task.SessionID,
		task.UserID,
		task.Command,
		string(task.Status),
		task.Result,
		task.RegisteredAt,
		task.UpdatedAt,
		task.StartedAt,
		task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM task_steps WHERE task_id=$1`, task.ID); err != nil {
		return fmt.Errorf("delete prior steps: %w", err)
	}

	for _, step := range task.Steps {
		_, err := tx.Exec(ctx,
			`INSERT INTO task_steps (
				task_id, idx, description, command, status, result, error,
				created_at, started_at, completed_at
			) VALUES (
				$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
			)`,
			task.ID,
			step.Index,
			step.Description,
			step.Command,
			string(step.Status),
			step.Result,
			step.Error,
			step.CreatedAt,
			step.StartedAt,
			step.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("insert task step: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, session_id, user_id, command, status, result,
		        registered_at, updated_at, started_at, completed_at
		   FROM tasks WHERE id=$1`,
		taskID,
	)
	task, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	task.Steps, err = s.loadSteps(ctx, task.ID)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) ListTasksBySession(ctx context.Context, sessionID string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, command, status, result,
		        registered_at, updated_at, started_at, completed_at
		   FROM tasks WHERE session_id=$1 ORDER BY registered_at DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		steps, err := s.loadSteps(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		task.Steps = steps
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) loadSteps(ctx context.Context, taskID string) ([]TaskStep, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT idx, description, command, status, result, error,
		        created_at, started_at, completed_at
		   FROM task_steps WHERE task_id=$1 ORDER BY idx ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list task steps: %w", err)
	}
	defer rows.Close()

	steps := make([]TaskStep, 0, 4)
	for rows.Next() {
		var (
			step              TaskStep
			status            string
			startedNullable   *time.Time
			completedNullable *time.Time
		)
		if err := rows.Scan(
			&step.Index,
			&step.Description,
			&step.Command,
			&status,
			&step.Result,
			&step.Error,
			&step.CreatedAt,
			&startedNullable,
			&completedNullable,
		); err != nil {
			return nil, fmt.Errorf("scan task step: %w", err)
		}
		step.TaskID = taskID
		step.Status = StepStatus(status)
		step.StartedAt = startedNullable
		step.CompletedAt = completedNullable
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task step rows: %w", err)
	}
	return steps, nil
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		task              Task
		status            string
		startedNullable   *time.Time
		completedNullable *time.Time
	)
	if err := row.Scan(
		&task.ID,
		&task.SessionID,
		&task.UserID,
		&task.Command,
		&status,
		&task.Result,
		&task.RegisteredAt,
		&task.UpdatedAt,
		&startedNullable,
		&completedNullable,
	); err != nil {
		return Task{}, err
	}
	task.Status = TaskStatus(status)
	task.StartedAt = startedNullable
	task.CompletedAt = completedNullable
	return task, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
