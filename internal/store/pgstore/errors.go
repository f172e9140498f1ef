package pgstore

import (
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"catalog.evalgo.org/internal/catalogerr"
)

// PostgreSQL error codes the catalog translates into typed errors; anything
// else propagates unchanged.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgSerializationError  = "40001"
)

// mapConstraintError lifts raw constraint violations into the closed error
// taxonomy so no caller ever branches on a backend error string.
func mapConstraintError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return catalogerr.ErrNameAlreadyExists
		case pgForeignKeyViolation:
			return catalogerr.ErrDatabaseInvariantViolated
		case pgSerializationError:
			return catalogerr.ErrConcurrentModification
		}
	}
	return err
}

func marshalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", catalogerr.ErrSerialization
	}
	return string(raw), nil
}

func unmarshalJSON(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return catalogerr.ErrSerialization
	}
	return nil
}
