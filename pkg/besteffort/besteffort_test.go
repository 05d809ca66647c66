package besteffort

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestDo(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantLog string
	}{
		{"success", nil, ""},
		{"failure", errors.New("boom"), "best-effort operation failed"},
		{"canceled", context.Canceled, "best-effort operation canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			called := false
			Do(context.Background(), log, "react", func(context.Context) error {
				called = true
				return tt.err
			})

			if !called {
				t.Fatal("fn was not called")
			}
			if tt.wantLog == "" && buf.Len() != 0 {
				t.Errorf("unexpected log output: %s", buf.String())
			}
			if tt.wantLog != "" && !strings.Contains(buf.String(), tt.wantLog) {
				t.Errorf("log = %q, want it to contain %q", buf.String(), tt.wantLog)
			}
		})
	}
}
