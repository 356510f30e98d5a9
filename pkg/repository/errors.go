package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes mapped by MapError.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// MapError translates database errors to domain errors. sql.ErrNoRows and
// foreign key violations (23503) map to notFoundErr, since both mean a
// referenced row is missing. Unique violations (23505) map to duplicateErr.
// Other errors are returned unchanged.
func MapError(err error, notFoundErr, duplicateErr error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return notFoundErr
	}

	switch Code(err) {
	case codeUniqueViolation:
		return duplicateErr
	case codeForeignKeyViolation:
		return notFoundErr
	}

	return err
}

// Code returns the PostgreSQL SQLSTATE of err, or "" when err does not
// wrap a *pgconn.PgError.
func Code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
