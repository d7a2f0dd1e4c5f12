package health

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/limitgate/pkg/limits"
	"mercator-hq/limitgate/pkg/limits/storage"
)

// TableCheck fails while admission control is required and no rule table
// is installed. A nil required means a table is always required.
func TableCheck(current func() *limits.Table, required func() bool) CheckFunc {
	return func(context.Context) error {
		if required != nil && !required() {
			return nil
		}
		if current() == nil {
			return errors.New("no rule table loaded")
		}
		return nil
	}
}

// PingCheck adapts a ping function, such as a Redis client's, to a check.
func PingCheck[T interface{ Err() error }](ping func(ctx context.Context) T) CheckFunc {
	return func(ctx context.Context) error {
		if err := ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		return nil
	}
}

// BackendCheck lists the snapshots of table to verify the storage backend
// answers queries.
func BackendCheck(backend storage.Backend, table string) CheckFunc {
	return func(ctx context.Context) error {
		if _, err := backend.List(ctx, table); err != nil {
			return fmt.Errorf("snapshot backend: %w", err)
		}
		return nil
	}
}
