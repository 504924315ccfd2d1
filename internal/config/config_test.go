package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeJobFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write job file: %v", err)
	}
	return path
}

func TestLoadJob(t *testing.T) {
	path := writeJobFile(t, `{"guild_id":"g1","backup_dir":"/tmp/b","creator":"alice","creator_id":"u1","server_name":"Test"}`)
	job, err := LoadJob(path)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.GuildID != "g1" || job.BackupDir != "/tmp/b" || job.Creator != "alice" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestLoadJobDefaultsCreator(t *testing.T) {
	path := writeJobFile(t, `{"guild_id":"g1","backup_dir":"/tmp/b"}`)
	job, err := LoadJob(path)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Creator != "SYSTEM" {
		t.Fatalf("expected SYSTEM default, got %q", job.Creator)
	}
}

func TestLoadJobRejectsIncomplete(t *testing.T) {
	tests := []string{
		`{"backup_dir":"/tmp/b"}`,
		`{"guild_id":"g1"}`,
		`not json`,
	}
	for _, content := range tests {
		if _, err := LoadJob(writeJobFile(t, content)); err == nil {
			t.Fatalf("expected error for job %q", content)
		}
	}
	if _, err := LoadJob(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOWNLOAD_ATTEMPTS", "5")
	t.Setenv("COMPACT_EXPORT", "true")
	t.Setenv("RUN_TIMEOUT_MINUTES", "3")

	cfg := DefaultConfig()
	applyEnv(&cfg)

	if cfg.Backup.DownloadAttempts != 5 {
		t.Fatalf("expected download attempts override, got %d", cfg.Backup.DownloadAttempts)
	}
	if !cfg.Backup.CompactExport {
		t.Fatalf("expected compact export enabled")
	}
	if cfg.RunTimeoutMinutes != 3 {
		t.Fatalf("expected run timeout override, got %d", cfg.RunTimeoutMinutes)
	}
}
