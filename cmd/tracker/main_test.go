package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antigravity-dev/tracker/internal/config"
	"github.com/antigravity-dev/tracker/internal/store"
	"github.com/antigravity-dev/tracker/internal/tracker"
)

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		logger := configureLogger(tt.level, true)
		if !logger.Enabled(context.Background(), tt.want) {
			t.Errorf("level %q: %v not enabled", tt.level, tt.want)
		}
		if tt.want > slog.LevelDebug && logger.Enabled(context.Background(), tt.want-4) {
			t.Errorf("level %q: %v should be disabled", tt.level, tt.want-4)
		}
	}
}

func TestValidateRuntimeConfigReload(t *testing.T) {
	base := config.Default()

	same := base.Clone()
	same.General.LogLevel = "debug"
	same.Priority.Default = 2
	if err := validateRuntimeConfigReload(base, same); err != nil {
		t.Fatalf("hot-reloadable change rejected: %v", err)
	}

	audit := base.Clone()
	audit.API.Security.AuditLog = "/tmp/audit.jsonl"
	if err := validateRuntimeConfigReload(base, audit); err == nil {
		t.Fatal("expected audit_log change to require restart")
	}

	moved := base.Clone()
	moved.API.Bind = "0.0.0.0:9999"
	if err := validateRuntimeConfigReload(base, moved); err == nil || !strings.Contains(err.Error(), "api.bind") {
		t.Fatalf("expected api.bind rejection, got %v", err)
	}

	backend := base.Clone()
	backend.Import.Backend = config.BackendTemporal
	if err := validateRuntimeConfigReload(base, backend); err == nil {
		t.Fatal("expected backend change to require restart")
	}

	if err := validateRuntimeConfigReload(nil, base); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestReloadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.toml")
	write := func(level, bind, token string, pri int) {
		t.Helper()
		body := fmt.Sprintf(`
[general]
log_level = %q
state_db = %q

[api]
bind = %q

[api.security]
enabled = true
tokens = { %q = "alice" }

[priority]
default = %d
`, level, filepath.Join(dir, "tracker.db"), bind, token, pri)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("info", "127.0.0.1:8900", "old-token-1234", 4)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	configureLogger(cfg.General.LogLevel, true)
	st, err := store.Open(filepath.Join(dir, "tracker.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	engine := tracker.NewEngine(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mgr := config.NewRWMutexManager(cfg)

	write("debug", "127.0.0.1:8900", "new-token-5678", 2)
	if err := reloadConfig(mgr, path, engine); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if logLevel.Level() != slog.LevelDebug {
		t.Fatalf("log level = %v, want debug", logLevel.Level())
	}
	if engine.DefaultPriority() != 2 {
		t.Fatalf("default priority = %d, want 2", engine.DefaultPriority())
	}
	if _, ok := mgr.Get().API.Security.Tokens["new-token-5678"]; !ok {
		t.Fatalf("tokens not reloaded: %v", mgr.Get().API.Security.Tokens)
	}

	write("error", "0.0.0.0:9999", "other-token-9999", 1)
	if err := reloadConfig(mgr, path, engine); err == nil || !strings.Contains(err.Error(), "api.bind") {
		t.Fatalf("expected api.bind rejection, got %v", err)
	}
	if _, ok := mgr.Get().API.Security.Tokens["new-token-5678"]; !ok {
		t.Fatal("rejected reload must keep the previous config")
	}
	if logLevel.Level() != slog.LevelDebug || engine.DefaultPriority() != 2 {
		t.Fatal("rejected reload must not apply any setting")
	}
}

// runCLI executes the root command against a config file in dir.
func runCLI(t *testing.T, cfgPath string, stdin string, args ...string) (string, error) {
	t.Helper()
	exportLabel, exportFormat, importSync, tableLabel, tableClosed, tableWhere = "", "json", false, "", false, ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.toml")
	body := fmt.Sprintf(`
[general]
log_level = "error"
state_db = %q

[import]
backend = %q
workers = 2
max_attempts = 1

[priority]
default = 3
`, filepath.Join(dir, "tracker.db"), backend)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleDump = `[
  {"id": "1", "summary": "Crash on save", "labels": ["Open", "pri-1"]},
  {"id": "2", "summary": "Typo", "labels": "Open,priority-low"},
  {"id": "3", "summary": "Old", "labels": ["Closed", "pri-2"]}
]`

func TestCLIImportExportRoundTrip(t *testing.T) {
	for _, backend := range []string{config.BackendSync, config.BackendLocal} {
		t.Run(backend, func(t *testing.T) {
			cfgPath := writeConfig(t, backend)

			out, err := runCLI(t, cfgPath, sampleDump, "import", "-")
			if err != nil {
				t.Fatalf("import: %v", err)
			}
			if !strings.Contains(out, "imported 3 item(s)") {
				t.Fatalf("unexpected import output %q", out)
			}

			out, err = runCLI(t, cfgPath, "", "export")
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			var items []map[string]any
			if err := json.Unmarshal([]byte(out), &items); err != nil {
				t.Fatalf("export is not JSON: %v\n%s", err, out)
			}
			if len(items) != 3 {
				t.Fatalf("expected 3 exported items, got %d", len(items))
			}
		})
	}
}

func TestCLIExportYAML(t *testing.T) {
	cfgPath := writeConfig(t, config.BackendSync)
	if _, err := runCLI(t, cfgPath, sampleDump, "import", "-"); err != nil {
		t.Fatalf("import: %v", err)
	}

	out, err := runCLI(t, cfgPath, "", "export", "--format", "yaml", "--label", "pri-1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(out, "- ") || !strings.Contains(out, "summary: Crash on save") {
		t.Fatalf("unexpected yaml export:\n%s", out)
	}
	if strings.Contains(out, "Typo") {
		t.Fatalf("label filter ignored:\n%s", out)
	}

	if _, err := runCLI(t, cfgPath, "", "export", "--format", "xml"); err == nil {
		t.Fatal("expected unknown format to fail")
	}
}

func TestCLISyncImportStopsAtBadItem(t *testing.T) {
	cfgPath := writeConfig(t, config.BackendLocal)
	dump := `[{"id": "1", "summary": "ok"}, {"id": "2", "date_created": "not a date"}, {"id": "3"}]`

	_, err := runCLI(t, cfgPath, dump, "import", "--sync", "-")
	if err == nil || !strings.Contains(err.Error(), "import item 2") {
		t.Fatalf("expected failure at item 2, got %v", err)
	}

	out, err := runCLI(t, cfgPath, "", "export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var items []map[string]any
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected only item 1 stored, got %d", len(items))
	}
}

func TestCLIFixPriorityAndTable(t *testing.T) {
	cfgPath := writeConfig(t, config.BackendSync)
	if _, err := runCLI(t, cfgPath, sampleDump, "import", "-"); err != nil {
		t.Fatalf("import: %v", err)
	}

	out, err := runCLI(t, cfgPath, "", "fixpriority")
	if err != nil {
		t.Fatalf("fixpriority: %v", err)
	}
	if !strings.Contains(out, "scanned 3 issue(s)") || !strings.Contains(out, "#2") {
		t.Fatalf("unexpected fixpriority output %q", out)
	}

	out, err = runCLI(t, cfgPath, "", "table")
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	if !strings.Contains(out, "Crash on save") || !strings.Contains(out, "Typo") {
		t.Fatalf("table misses open issues: %q", out)
	}
	if strings.Contains(out, "Old") {
		t.Fatalf("closed issue listed without --closed: %q", out)
	}
	if strings.Index(out, "Crash on save") > strings.Index(out, "Typo") {
		t.Fatalf("pri-1 issue should be listed before pri-4: %q", out)
	}

	if _, err := runCLI(t, cfgPath, "", "table", "--where", "priority =="); err == nil {
		t.Fatal("expected invalid where expression to fail")
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := runCLI(t, filepath.Join(t.TempDir(), "absent.toml"), "", "table")
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}
