package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/datallboy/gonzbd/internal/infra/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "log:\n  path: test.log\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8092" {
		t.Fatalf("port = %q, want 8092", cfg.Port)
	}
	if cfg.Scan.IntervalSeconds != 7 || cfg.Scan.IdleDelaySeconds != 5 {
		t.Fatalf("scan cadence = %d/%d, want 7/5", cfg.Scan.IntervalSeconds, cfg.Scan.IdleDelaySeconds)
	}
	if cfg.Scan.Workers != 4 {
		t.Fatalf("workers = %d, want 4", cfg.Scan.Workers)
	}
	if cfg.Scan.StrictSubjectMatch {
		t.Fatal("strict subject matching must default off")
	}
	if cfg.Server.Host != "" || cfg.Server.Port != 119 {
		t.Fatalf("server defaults = %q:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Log.Path != "test.log" {
		t.Fatalf("log path = %q", cfg.Log.Path)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
port: "9000"
dirs:
  queue: /data/q
  current: /data/c
  working: /data/w
  postponed: /data/p
  temp: /data/t
  dest: /data/d
scan:
  interval_seconds: 30
  strict_subject_match: true
server:
  host: news.example.com
  port: 563
  tls: true
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9000" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.Dirs.Queue != "/data/q" || cfg.Dirs.Dest != "/data/d" {
		t.Fatalf("dirs = %+v", cfg.Dirs)
	}
	if cfg.Scan.IntervalSeconds != 30 || !cfg.Scan.StrictSubjectMatch {
		t.Fatalf("scan = %+v", cfg.Scan)
	}
	if !cfg.Server.TLS || cfg.Server.Host != "news.example.com" || cfg.Server.Port != 563 {
		t.Fatalf("server = %+v", cfg.Server)
	}
}

func TestLoadRejectsSharedDirs(t *testing.T) {
	path := writeConfig(t, `
dirs:
  queue: /data/same
  current: /data/same
`)

	if _, err := config.Load(path); err == nil {
		t.Fatal("shared queue/current dir must fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing config file must fail")
	}
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		Dirs: config.DirsConfig{
			Queue:     filepath.Join(root, "q"),
			Current:   filepath.Join(root, "c"),
			Working:   filepath.Join(root, "w"),
			Postponed: filepath.Join(root, "p"),
			Temp:      filepath.Join(root, "t"),
			Dest:      filepath.Join(root, "d"),
		},
	}
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs failed: %v", err)
	}
	for _, d := range []string{"q", "c", "w", "p", "t", "d"} {
		info, err := os.Stat(filepath.Join(root, d))
		if err != nil || !info.IsDir() {
			t.Fatalf("directory %s not created", d)
		}
	}
}
