package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/policy"
)

const testPolicy = `package mnemo.authz

default allow := false

allow if {
	input.active
	input.plan == "pro"
}

allow if {
	input.active
	input.plan == "free"
	not input.stream
}
`

func writePolicy(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "authz.rego"), []byte(testPolicy), 0600))
	return dir
}

func TestNilGateAllowsEverything(t *testing.T) {
	gate, err := policy.New(context.Background(), "")
	gt.NoError(t, err)
	gt.True(t, gate == nil)

	allowed, err := gate.Allow(context.Background(), policy.Input{})
	gt.NoError(t, err)
	gt.True(t, allowed)
}

func TestEmptyPolicyDirYieldsNilGate(t *testing.T) {
	gate, err := policy.New(context.Background(), t.TempDir())
	gt.NoError(t, err)
	gt.True(t, gate == nil)
}

func TestGateAllowsProUser(t *testing.T) {
	gate, err := policy.New(context.Background(), writePolicy(t))
	gt.NoError(t, err)
	gt.True(t, gate != nil)

	allowed, err := gate.Allow(context.Background(), policy.Input{
		UserID: "user-1",
		Plan:   "pro",
		Active: true,
		Model:  "gemini-2.5-flash",
		Stream: true,
	})
	gt.NoError(t, err)
	gt.True(t, allowed)
}

func TestGateDeniesInactiveUser(t *testing.T) {
	gate, err := policy.New(context.Background(), writePolicy(t))
	gt.NoError(t, err)

	allowed, err := gate.Allow(context.Background(), policy.Input{
		UserID: "user-1",
		Plan:   "pro",
		Active: false,
	})
	gt.NoError(t, err)
	gt.False(t, allowed)
}

func TestGateDeniesStreamingForFreePlan(t *testing.T) {
	gate, err := policy.New(context.Background(), writePolicy(t))
	gt.NoError(t, err)

	allowed, err := gate.Allow(context.Background(), policy.Input{
		UserID: "user-1",
		Plan:   "free",
		Active: true,
		Stream: true,
	})
	gt.NoError(t, err)
	gt.False(t, allowed)

	allowed, err = gate.Allow(context.Background(), policy.Input{
		UserID: "user-1",
		Plan:   "free",
		Active: true,
		Stream: false,
	})
	gt.NoError(t, err)
	gt.True(t, allowed)
}
