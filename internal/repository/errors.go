package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/simulacro-backend/internal/service"
)

// notFound maps pgx.ErrNoRows onto service.ErrNotFound so callers can match
// it without importing pgx.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, service.ErrNotFound)
	}
	return err
}
