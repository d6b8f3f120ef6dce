package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got error: %v", err)
	}

	if cfg.Listen != ":1935" {
		t.Errorf("expected listen ':1935', got '%s'", cfg.Listen)
	}
	if cfg.ChunkSize != 4096 {
		t.Errorf("expected chunk size 4096, got %d", cfg.ChunkSize)
	}
	if cfg.Stream.QueueLength != 30*time.Second {
		t.Errorf("expected queue length 30s, got %v", cfg.Stream.QueueLength)
	}
	if cfg.Stream.MWSleep != 350*time.Millisecond {
		t.Errorf("expected mw_sleep 350ms, got %v", cfg.Stream.MWSleep)
	}
	if cfg.Stream.TimeJitter != JitterFull {
		t.Errorf("expected jitter full, got %s", cfg.Stream.TimeJitter)
	}
	if cfg.Stream.MixQueueThreshold != 10 || cfg.Stream.GopPureAudioThreshold != 115 {
		t.Errorf("unexpected thresholds %d/%d", cfg.Stream.MixQueueThreshold, cfg.Stream.GopPureAudioThreshold)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtmplive.yaml")
	content := "listen: \":19350\"\nstream:\n  time_jitter: zero\n  queue_length: 10s\ndvr:\n  compress: zstd\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RTMPLIVE_CHUNK_SIZE", "60000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != ":19350" {
		t.Errorf("expected listen from file, got '%s'", cfg.Listen)
	}
	if cfg.Stream.TimeJitter != JitterZero {
		t.Errorf("expected jitter zero, got %s", cfg.Stream.TimeJitter)
	}
	if cfg.Stream.QueueLength != 10*time.Second {
		t.Errorf("expected queue length 10s, got %v", cfg.Stream.QueueLength)
	}
	if cfg.DVR.Compress != CompressZstd {
		t.Errorf("expected zstd, got %s", cfg.DVR.Compress)
	}
	if cfg.ChunkSize != 60000 {
		t.Errorf("expected chunk size from env, got %d", cfg.ChunkSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"noListen", func(c *Config) { c.Listen = "" }, false},
		{"chunkTooSmall", func(c *Config) { c.ChunkSize = 64 }, false},
		{"chunkTooLarge", func(c *Config) { c.ChunkSize = 70000 }, false},
		{"badJitter", func(c *Config) { c.Stream.TimeJitter = "smooth" }, false},
		{"badCompress", func(c *Config) { c.DVR.Compress = "gzip" }, false},
		{"zeroMixThreshold", func(c *Config) { c.Stream.MixQueueThreshold = 0 }, false},
		{"invertedChunkRange", func(c *Config) { c.Stream.MinChunkSize = 70000 }, false},
		{"zeroQueueLength", func(c *Config) { c.Stream.QueueLength = 0 }, true},
		{"negativeQueueLength", func(c *Config) { c.Stream.QueueLength = -time.Second }, false},
		{"zeroMWSleep", func(c *Config) { c.Stream.MWSleep = 0 }, false},
		{"negativeMWSleep", func(c *Config) { c.Stream.MWSleep = -time.Millisecond }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	if err := Dump(&buf, Default()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"listen:", "time_jitter: full", "queue_length: 30s", "http_api:"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump is missing %q:\n%s", want, out)
		}
	}
}
