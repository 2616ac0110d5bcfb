package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfigYAML() string {
	return "telescope: JCMT\n" +
		"manifest_dir: /tmp/manifests\n" +
		"simdb: true\n" +
		"backend:\n  kind: sim\n"
}

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte(validConfigYAML()), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(validConfigYAML()), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("telescope: JCMT\nmanifest_dir: /tmp/manifests\nsimdb: true\nbackend:\n  kind: sim\nproject_db:\n  base_url: ${OCSQUEUE_TEST_URL}\n"), 0600)
	os.Setenv("OCSQUEUE_TEST_URL", "http://db.example.test")
	defer os.Unsetenv("OCSQUEUE_TEST_URL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ProjectDB.BaseURL != "http://db.example.test" {
		t.Errorf("project_db.base_url = %q, want %q", cfg.ProjectDB.BaseURL, "http://db.example.test")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(validConfigYAML()), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.PollIntervalMS != 1000 {
		t.Errorf("poll_interval_ms = %d, want 1000", cfg.PollIntervalMS)
	}
	if cfg.QueueDurationThresholdMinutes != 40 {
		t.Errorf("queue_duration_threshold_minutes = %d, want 40", cfg.QueueDurationThresholdMinutes)
	}
	if cfg.Publisher.CellWidth != 110 || cfg.Publisher.MaxSlots != 200 {
		t.Errorf("publisher defaults = %+v, want {110 200 200}", cfg.Publisher)
	}
	if cfg.PendingAcceptsPath == "" {
		t.Error("expected a non-empty default pending_accepts_path")
	}
}

func TestValidate_RejectsBadTelescope(t *testing.T) {
	cfg := Default()
	cfg.Telescope = "VLT"
	cfg.ManifestDir = "/tmp"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unrecognized telescope")
	}
}

func TestValidate_RequiresManifestDir(t *testing.T) {
	cfg := Default()
	cfg.ManifestDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing manifest_dir")
	}
}

func TestValidate_RequiresBrokerForLiveBackend(t *testing.T) {
	cfg := Default()
	cfg.ManifestDir = "/tmp"
	cfg.Backend.Kind = "instrument"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for instrument backend without broker")
	}
}

func TestValidate_RequiresProjectDBUnlessSimDB(t *testing.T) {
	cfg := Default()
	cfg.ManifestDir = "/tmp"
	cfg.SimDB = false
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing project_db.base_url without simdb")
	}
}

func TestValidate_SimDBSkipsProjectDBRequirement(t *testing.T) {
	cfg := Default()
	cfg.ManifestDir = "/tmp"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestDefault_IsSelfConsistent(t *testing.T) {
	cfg := Default()
	cfg.ManifestDir = "/tmp/manifests"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config should validate once manifest_dir is set: %v", err)
	}
}
