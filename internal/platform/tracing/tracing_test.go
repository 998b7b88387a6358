package tracing

import (
	"context"
	"testing"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	for _, tc := range []struct {
		name     string
		endpoint string
		enabled  bool
	}{
		{"empty endpoint", "", true},
		{"disabled", "http://collector:4318", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), "approvals", "test", tc.endpoint, tc.enabled)
			if err != nil {
				t.Fatalf("setup: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown: %v", err)
			}
		})
	}
}
