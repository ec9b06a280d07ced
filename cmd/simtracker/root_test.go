package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"simtracker/internal/simulation"
	"simtracker/internal/store"

	"github.com/google/uuid"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	t.Parallel()
	cmd := newRootCommand()

	for _, name := range []string{"serve", "types", "history"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Errorf("Expected command %s, got %v (err %v)", name, sub, err)
		}
	}
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	t.Setenv("CATALOG_FILE", "")
	_, err := execute(t, "types", "--format", "xml")
	if err == nil || !strings.Contains(err.Error(), "invalid format") {
		t.Errorf("Expected invalid format error, got %v", err)
	}
}

func TestTypesCommand(t *testing.T) {
	t.Setenv("CATALOG_FILE", "")

	out, err := execute(t, "types")
	if err != nil {
		t.Fatalf("types failed: %v", err)
	}
	for _, key := range []string{"countdown", "custom_control"} {
		if !strings.Contains(out, key) {
			t.Errorf("Expected %s in output, got:\n%s", key, out)
		}
	}
	if strings.Contains(out, "container") {
		t.Errorf("Expected no container type without --docker, got:\n%s", out)
	}
}

func TestTypesCommand_CatalogJSON(t *testing.T) {
	catalog := filepath.Join(t.TempDir(), "catalog.yaml")
	data := "simulations:\n  - name: Long countdown\n    sim_key: countdown\n    kwargs:\n      ticks: 500\n"
	if err := os.WriteFile(catalog, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	out, err := execute(t, "types", "--catalog", catalog, "--format", "json")
	if err != nil {
		t.Fatalf("types failed: %v", err)
	}
	var types map[string]simulation.Config
	if err := json.Unmarshal([]byte(out), &types); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got := types["countdown"].Name; got != "Long countdown" {
		t.Errorf("Expected catalogue name, got %q", got)
	}
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "simtracker.db"))
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	now := time.Now().UTC()
	records := []simulation.Info{
		{ID: uuid.New(), Key: "countdown", Name: "ok run", State: "done", Created: now, IsDone: true},
		{ID: uuid.New(), Key: "countdown", Name: "bad run", State: "done", Created: now.Add(time.Second), IsDone: true, Failed: true},
	}
	for _, r := range records {
		if err := st.Record(context.Background(), r); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	st.Close()

	tests := []struct {
		name string
		args []string
		want []string
		skip []string
	}{
		{"all", nil, []string{"ok run", "bad run"}, nil},
		{"failed only", []string{"--failed"}, []string{"bad run"}, []string{"ok run"}},
		{"successful only", []string{"--failed=false"}, []string{"ok run"}, []string{"bad run"}},
	}

	for _, tt := range tests {
		args := append([]string{"history", "--project-dir", dir}, tt.args...)
		out, err := execute(t, args...)
		if err != nil {
			t.Fatalf("%s: history failed: %v", tt.name, err)
		}
		for _, s := range tt.want {
			if !strings.Contains(out, s) {
				t.Errorf("%s: Expected %q in output, got:\n%s", tt.name, s, out)
			}
		}
		for _, s := range tt.skip {
			if strings.Contains(out, s) {
				t.Errorf("%s: Expected %q filtered out, got:\n%s", tt.name, s, out)
			}
		}
	}
}

func TestHistoryCommand_NoDatabase(t *testing.T) {
	_, err := execute(t, "history", "--project-dir", t.TempDir())
	if err == nil {
		t.Error("Expected error for missing database")
	}
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		info simulation.Info
		want string
	}{
		{simulation.Info{IsDone: true}, "ok"},
		{simulation.Info{IsDone: true, Cancelled: true}, "cancelled"},
		{simulation.Info{IsDone: true, Failed: true}, "failed"},
		{simulation.Info{IsDone: true, Failed: true, ForceStopped: true}, "force-stopped"},
		{simulation.Info{}, "running"},
	}
	for _, tt := range tests {
		if got := outcome(tt.info); got != tt.want {
			t.Errorf("%+v: Expected %s, got %s", tt.info, tt.want, got)
		}
	}
}
