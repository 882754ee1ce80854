package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/nalgeon/be"
)

func TestIsRetryableError(t *testing.T) {
	var syntaxErr error
	if err := json.Unmarshal([]byte("{"), &struct{}{}); err != nil {
		syntaxErr = err
	}

	cases := []struct {
		name      string
		err       error
		retryable bool
		tag       string
	}{
		{"nil", nil, false, ""},
		{"json syntax", syntaxErr, false, "json_decode_error"},
		{"no rows", pgx.ErrNoRows, false, "not_found"},
		{"wrapped no rows", fmt.Errorf("load state: %w", pgx.ErrNoRows), false, "not_found"},
		{"duplicate key", errors.New(`duplicate key value violates unique constraint "users_email_key"`), false, "duplicate_key"},
		{"connection refused", errors.New("dial tcp: connection refused"), true, "db_connection_error"},
		{"deadline", context.DeadlineExceeded, true, "deadline_exceeded"},
		{"unknown", errors.New("something odd"), true, "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, tag := IsRetryableError(tc.err)
			be.Equal(t, retryable, tc.retryable)
			be.Equal(t, tag, tc.tag)
		})
	}
}
