package txlog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := validateConfig(DefaultConfig()); err != nil {
		t.Fatalf("DefaultConfig() is invalid: %v", err)
	}
}

func TestLoadConfigUsesDefaultsWhenNoFilesExist(t *testing.T) {
	dir := t.TempDir()

	cfg, sources, err := LoadConfig(dir, "", nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg != DefaultConfig() {
		t.Fatalf("got %+v, want defaults %+v", cfg, DefaultConfig())
	}

	if sources.Global != "" || sources.Project != "" {
		t.Fatalf("expected no sources loaded, got %+v", sources)
	}
}

func TestLoadConfigProjectFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()

	content := `{
		// trailing comments are fine, this is JSONC
		"device_path": "custom.img",
		"log_size": 40,
		"max_op_blocks": 8,
		"num_blocks": 2048,
	}`

	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	cfg, sources, err := LoadConfig(dir, "", nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.DevicePath != "custom.img" {
		t.Fatalf("DevicePath = %q, want custom.img", cfg.DevicePath)
	}

	if cfg.LogSize != 40 || cfg.MaxOpBlocks != 8 {
		t.Fatalf("got LogSize=%d MaxOpBlocks=%d, want 40/8", cfg.LogSize, cfg.MaxOpBlocks)
	}

	if sources.Project != path {
		t.Fatalf("sources.Project = %q, want %q", sources.Project, path)
	}
}

func TestLoadConfigProjectFileSettingOnlyLogSizeDoesNotResetLogStart(t *testing.T) {
	dir := t.TempDir()
	xdgHome := t.TempDir()

	globalDir := filepath.Join(xdgHome, "txlog")
	if err := os.MkdirAll(globalDir, 0o755); err != nil {
		t.Fatalf("mkdir global config dir: %v", err)
	}

	global := `{"log_start": 64, "log_size": 30, "num_blocks": 4096}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(global), 0o644); err != nil {
		t.Fatalf("write global config: %v", err)
	}

	project := `{"log_size": 40}`
	projectPath := filepath.Join(dir, ConfigFileName)

	if err := os.WriteFile(projectPath, []byte(project), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	cfg, _, err := LoadConfig(dir, "", []string{"XDG_CONFIG_HOME=" + xdgHome})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.LogStart != 64 {
		t.Fatalf("LogStart = %d, want 64 (project config naming only log_size must not reset it)", cfg.LogStart)
	}

	if cfg.LogSize != 40 {
		t.Fatalf("LogSize = %d, want 40 from project override", cfg.LogSize)
	}
}

func TestLoadConfigExplicitPathMustExist(t *testing.T) {
	dir := t.TempDir()

	_, _, err := LoadConfig(dir, "does-not-exist.json", nil)
	if err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestLoadConfigRejectsUndersizedRegion(t *testing.T) {
	dir := t.TempDir()

	content := `{"num_blocks": 4, "log_size": 30}`

	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	_, _, err := LoadConfig(dir, "", nil)
	if err == nil {
		t.Fatalf("expected validation error for undersized num_blocks")
	}
}

func TestFormatConfigRoundTrips(t *testing.T) {
	out, err := FormatConfig(DefaultConfig())
	if err != nil {
		t.Fatalf("FormatConfig: %v", err)
	}

	if out == "" {
		t.Fatalf("FormatConfig returned empty string")
	}

	parsed, _, err := parseConfig([]byte(out))
	if err != nil {
		t.Fatalf("parseConfig(FormatConfig output): %v", err)
	}

	if parsed != DefaultConfig() {
		t.Fatalf("round trip got %+v, want %+v", parsed, DefaultConfig())
	}
}
