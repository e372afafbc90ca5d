package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	var syntaxErr error = json.Unmarshal([]byte("{"), &struct{}{})

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"json syntax", fmt.Errorf("decode: %w", syntaxErr), "json_decode_error"},
		{"no rows", pgx.ErrNoRows, "not_found"},
		{"too long", &pgconn.PgError{Code: "22001"}, "value_too_long"},
		{"check violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23514"}), "constraint_violation"},
		{"other pg", &pgconn.PgError{Code: "40001"}, "db_error"},
		{"breaker open", gobreaker.ErrOpenState, "circuit_open"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"canceled", context.Canceled, "context_canceled"},
		{"net", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, "network_error"},
		{"unknown", errors.New("boom"), "unknown_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}
