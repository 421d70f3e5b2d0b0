package repositories

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "sentinel", err: fmt.Errorf("create: %w", ErrDuplicate), want: true},
		{name: "gorm translated", err: gorm.ErrDuplicatedKey, want: true},
		{name: "postgres unique violation", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: true},
		{name: "postgres fk violation", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "other", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDuplicateError(tc.err); got != tc.want {
				t.Errorf("IsDuplicateError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsNotFoundError(t *testing.T) {
	if !IsNotFoundError(fmt.Errorf("get: %w", gorm.ErrRecordNotFound)) {
		t.Error("wrapped gorm.ErrRecordNotFound should be not found")
	}
	if !IsNotFoundError(ErrNotFound) {
		t.Error("ErrNotFound should be not found")
	}
	if IsNotFoundError(ErrDuplicate) {
		t.Error("ErrDuplicate should not be not found")
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "bad conn", err: fmt.Errorf("query: %w", driver.ErrBadConn), want: true},
		{name: "net error", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: true},
		{name: "not found", err: ErrNotFound, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsConnectionError(tc.err); got != tc.want {
				t.Errorf("IsConnectionError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
