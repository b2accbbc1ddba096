package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := GetConfig()
	if cfg.Server.Port == 0 {
		t.Fatal("default server port missing")
	}
	if cfg.Batch.Size <= 0 {
		t.Fatal("default batch size missing")
	}
	if cfg.Window.ChunkCapacity <= 0 {
		t.Fatal("default window chunk capacity missing")
	}
}

func TestDecode(t *testing.T) {
	t.Run("rejects non yaml files", func(t *testing.T) {
		if err := Decode("config.json"); err == nil {
			t.Fatal("expected error for non yaml file")
		}
	})

	t.Run("merges over defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "test.yaml")
		content := []byte("server:\n  port: 9191\nwindow:\n  chunk_capacity: 512\n")
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatal(err)
		}
		if err := Decode(path); err != nil {
			t.Fatal(err)
		}
		cfg := GetConfig()
		if cfg.Server.Port != 9191 {
			t.Fatalf("expected merged port 9191, got %d", cfg.Server.Port)
		}
		if cfg.Window.ChunkCapacity != 512 {
			t.Fatalf("expected merged chunk capacity 512, got %d", cfg.Window.ChunkCapacity)
		}
		// untouched sections keep their defaults
		if cfg.Batch.Size <= 0 {
			t.Fatal("batch defaults lost after merge")
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		if err := Decode("does-not-exist.yaml"); err == nil {
			t.Fatal("expected error for missing file")
		}
	})
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")
	t.Setenv("S3_BUCKET_NAME", "bkt")
	LoadSecrets()
	sec := GetConfig().Secrets
	if sec.AccessKey != "ak" || sec.SecretKey != "sk" || sec.BucketName != "bkt" {
		t.Fatalf("secrets not loaded from env: %+v", sec)
	}
}
