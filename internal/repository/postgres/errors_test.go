package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestSQLStateMapping(t *testing.T) {
	sessionConflict := &pgconn.PgError{
		Code:           uniqueViolation,
		ConstraintName: "orders_stripe_session_id_key",
		Message:        `duplicate key value violates unique constraint "orders_stripe_session_id_key"`,
	}
	missingCoupon := &pgconn.PgError{Code: foreignKeyViolation, ConstraintName: "coupon_usages_coupon_id_fkey"}

	tests := []struct {
		name       string
		err        error
		code       string
		unique     bool
		foreignKey bool
	}{
		{"unique violation", sessionConflict, "23505", true, false},
		{"wrapped unique violation", fmt.Errorf("insert order: %w", sessionConflict), "23505", true, false},
		{"foreign key violation", missingCoupon, "23503", false, true},
		{"other sqlstate", &pgconn.PgError{Code: "40001"}, "40001", false, false},
		{"no rows", pgx.ErrNoRows, "", false, false},
		{"plain error", errors.New("connection refused"), "", false, false},
		{"nil", nil, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, pgErrorCode(tt.err))
			assert.Equal(t, tt.unique, isUniqueViolation(tt.err))
			assert.Equal(t, tt.foreignKey, isForeignKeyViolation(tt.err))
		})
	}
}

// Идемпотентность репозиториев держится на этих ограничениях схемы
func TestSchema_IdempotencyConstraints(t *testing.T) {
	tests := []struct {
		table      string
		constraint string
	}{
		{"bots", "UNIQUE (user_id, name)"},
		{"orders", "stripe_session_id TEXT NOT NULL UNIQUE"},
		{"coupon_usages", "stripe_session_id TEXT NOT NULL UNIQUE"},
		{"coupons", "code       TEXT NOT NULL UNIQUE"},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			table := tableDefinition(t, tt.table)
			assert.Contains(t, table, tt.constraint)
		})
	}
}

func tableDefinition(t *testing.T, table string) string {
	t.Helper()
	start := strings.Index(schemaSQL, "CREATE TABLE IF NOT EXISTS "+table+" (")
	if !assert.GreaterOrEqual(t, start, 0, "table %s is missing", table) {
		return ""
	}
	end := strings.Index(schemaSQL[start:], ");")
	if !assert.Greater(t, end, 0) {
		return ""
	}
	return schemaSQL[start : start+end]
}
