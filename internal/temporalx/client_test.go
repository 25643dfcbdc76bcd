package temporalx

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

func TestIsRetryableRPC(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"exhausted", status.Error(codes.ResourceExhausted, "slow down"), true},
		{"permission", status.Error(codes.PermissionDenied, "no"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := isRetryableRPC(tc.err); got != tc.want {
			t.Fatalf("%s: isRetryableRPC=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestNewClientDisabledWithoutAddress(t *testing.T) {
	c, err := NewClient(context.Background(), Config{}, logger.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c != nil {
		t.Fatalf("expected nil client when TEMPORAL_ADDRESS is unset")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("TEMPORAL_ADDRESS", "")
	t.Setenv("TEMPORAL_NAMESPACE", "")
	t.Setenv("TEMPORAL_TASK_QUEUE", "")
	cfg := LoadConfig(logger.Nop())
	if cfg.Enabled() {
		t.Fatalf("expected temporal disabled")
	}
	if cfg.Namespace != "featurepulse" || cfg.TaskQueue != "featurepulse" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
