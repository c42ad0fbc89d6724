package dependencies

import (
	"context"
	"testing"

	"startd/cmd/internal/db"
)

func TestComputeConfigErrs(t *testing.T) {
	t.Parallel()

	snap := db.Model{Public: db.Public{PackageData: map[string]db.PackageDataEntry{
		"lnd": {
			State: db.StateInstalled,
			CurrentDependencies: map[string]db.CurrentDependency{
				"bitcoind": {Kind: db.DependencyRunning},
				"tor":      {Kind: db.DependencyExists},
				"electrs":  {Kind: db.DependencyExists},
			},
		},
		"bitcoind": {State: db.StateInstalled, Status: db.Status{Main: "stopped"}},
		"tor":      {State: db.StateInstalled},
		"electrs":  {State: db.StateRemoving},
	}}}

	got, err := ComputeConfigErrs(context.Background(), snap, "lnd")
	if err != nil {
		t.Fatalf("ComputeConfigErrs: %v", err)
	}
	want := map[string]string{
		"bitcoind": ErrNotRunning,
		"electrs":  ErrNotInstalled,
	}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s: got %q want %q", k, got[k], v)
		}
	}

	none, err := ComputeConfigErrs(context.Background(), snap, "tor")
	if err != nil || len(none) != 0 {
		t.Fatalf("package without deps: %v %v", none, err)
	}
}

func TestComputeConfigErrs_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ComputeConfigErrs(ctx, db.Model{}, "x"); err == nil {
		t.Fatalf("expected context error")
	}
}
