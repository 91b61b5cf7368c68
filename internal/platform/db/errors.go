package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsConstraintViolation reports whether err is a Postgres integrity
// constraint violation (SQLSTATE class 23).
func IsConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23")
}

// IsUniqueViolation reports whether err is a unique_violation (23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ConstraintDetail renders a constraint violation for client diagnostics.
func ConstraintDetail(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err.Error()
	}
	msg := pgErr.Message
	if pgErr.ConstraintName != "" {
		msg += " (constraint " + pgErr.ConstraintName + ")"
	}
	if pgErr.Detail != "" {
		msg += ": " + pgErr.Detail
	}
	return msg
}
