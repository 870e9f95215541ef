package sqlstore

import (
	"errors"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/drawbook/go-datastore/core"
)

const pgUniqueViolation = "23505"

// translateConstraintError maps driver-level uniqueness violations to the
// duplicate-key domain error, carrying the constraint name when the driver
// exposes one. Anything else passes through untouched.
func translateConstraintError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return core.NewDuplicateKey("", err)
		}
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return core.NewDuplicateKey(pgErr.Constraint, err)
	}

	return err
}
