package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"numeric code", &pq.Error{Code: "23505"}, true},
		{"wrapped numeric code", fmt.Errorf("Create: %w", &pq.Error{Code: "23505"}), true},
		{"message substring duplicate key", errors.New(`pq: duplicate key value violates unique constraint "idx_transfers_external_ref"`), true},
		{"message substring unique constraint", errors.New("insert failed: violates unique constraint"), true},
		{"other pq error", &pq.Error{Code: "23503"}, false},
		{"unrelated", errors.New("connection reset by peer"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUniqueViolation(tc.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"deadlock", &pq.Error{Code: "40P01"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"connection exception class", &pq.Error{Code: "08006"}, true},
		{"bad conn", driver.ErrBadConn, true},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("step: %w", context.DeadlineExceeded), true},
		{"connection reset text", errors.New("read tcp: connection reset by peer"), true},
		{"timeout text", errors.New("dial: i/o timeout"), true},
		{"write conflict text", errors.New("write conflict, please retry"), true},
		{"unique violation is not transient", &pq.Error{Code: "23505"}, false},
		{"business error", errors.New("insufficient funds"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}
