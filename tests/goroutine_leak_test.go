package tests

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"coalesce"
)

// TestNoGoroutineLeaks verifies that creating and closing a Coordinator
// leaves no goroutines running behind it, exercising a real component
// rather than a bare sleep/cancel pair.
func TestNoGoroutineLeaks(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/sirupsen/logrus.*"),
	)

	c := coalesce.NewCoordinator[string, string](5*time.Millisecond, 4, func(args []string) ([]string, error) {
		out := make([]string, len(args))
		copy(out, args)
		return out, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 8; i++ {
		if _, err := c.Execute(ctx, "leak-check"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error closing coordinator: %v", err)
	}
}
