package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	pgUnique := &pgconn.PgError{Code: "23505", ConstraintName: "metal_usages_line_unique"}
	cases := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "postgres matching constraint", err: fmt.Errorf("insert: %w", pgUnique), constraint: "metal_usages_line_unique", want: true},
		{name: "postgres other constraint", err: pgUnique, constraint: "metal_batches_pkey", want: false},
		{name: "postgres any constraint", err: pgUnique, want: true},
		{name: "postgres other code", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "sqlite unique", err: errors.New("UNIQUE constraint failed: metal_usages.consumption_id, metal_usages.line_no"), constraint: "metal_usages_line_unique", want: true},
		{name: "message fallback", err: errors.New(`duplicate key value violates unique constraint "metal_usages_line_unique"`), constraint: "metal_usages_line_unique", want: true},
		{name: "unrelated", err: errors.New("connection reset"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsUniqueViolation(tc.err, tc.constraint); got != tc.want {
				t.Fatalf("IsUniqueViolation() = %v, want %v", got, tc.want)
			}
		})
	}
}
