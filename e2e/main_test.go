//go:build e2e

// Package e2e drives a real browser against BASE_URL. Run it with
//
//	BASE_URL=... QA_PASS=... go test -tags e2e ./e2e/...
package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/entrhq/authharness/pkg/config"
	"github.com/entrhq/authharness/pkg/fixture"
	"github.com/entrhq/authharness/pkg/lifecycle"
)

var (
	cfg *config.Config
	env *fixture.Env
)

func TestMain(m *testing.M) {
	os.Exit(runMain(m))
}

func runMain(m *testing.M) int {
	ctx := context.Background()

	var err error
	cfg, err = config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	h, err := lifecycle.Setup(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Global setup failed: %v\n", err)
		return 1
	}
	defer func() {
		if err := lifecycle.Teardown(ctx, h); err != nil {
			fmt.Fprintf(os.Stderr, "Global teardown: %v\n", err)
		}
	}()

	env, err = fixture.FromHandle(ctx, h)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start browser: %v\n", err)
		return 1
	}

	return m.Run()
}
