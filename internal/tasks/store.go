package tasks

import (
	"context"
	"errors"
	"strings"
)

var ErrStoreNotFound = errors.New("task not found in store")

type Store interface {
	SaveTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	ListTasksBySession(ctx context.Context, sessionID string, limit int) ([]Task, error)
	Close() error
}

// NewStore returns a Postgres-backed store when a database URL is configured,
// or nil (memory-only operation) when it is empty.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
