package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func mapEnv(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := fromEnv(mapEnv(nil))
	if err != nil {
		t.Fatalf("fromEnv: %v", err)
	}

	if cfg.AppPort != 8080 || cfg.MigrationDir != "migrations" || cfg.SeedDir != "seeds" {
		t.Fatalf("unexpected server defaults %+v", cfg)
	}
	if cfg.AccessTokenTTL != 24*time.Hour || cfg.RefreshTokenTTL != 720*time.Hour {
		t.Fatalf("unexpected token lifetimes %v/%v", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	}
	if cfg.MaxUploadBytes != 100<<20 || len(cfg.VideoContentTypes) != 1 || cfg.VideoContentTypes[0] != "video/mp4" {
		t.Fatalf("unexpected upload defaults %d %v", cfg.MaxUploadBytes, cfg.VideoContentTypes)
	}
	if cfg.TransferTimeout != 30*time.Minute {
		t.Fatalf("unexpected transfer timeout %v", cfg.TransferTimeout)
	}
	if cfg.Events.Stream != "vidshare:events" || cfg.Storage.Dir != "data/videos" {
		t.Fatalf("unexpected sink defaults %+v %+v", cfg.Events, cfg.Storage)
	}
	if err := cfg.ValidateServe(); err == nil {
		t.Fatal("expected missing secret to fail serve validation")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := fromEnv(mapEnv(map[string]string{
		"VIDSHARE_PORT":               "9090",
		"VIDSHARE_JWT_SECRET":         strings.Repeat("s", 32),
		"VIDSHARE_ACCESS_TOKEN_TTL":   "15m",
		"VIDSHARE_CORS_ORIGINS":       "https://a.example, ,https://b.example",
		"VIDSHARE_VIDEO_CONTENT_TYPE": "video/mp4,video/webm",
		"VIDSHARE_S3_BUCKET":          "clips",
		"VIDSHARE_REDIS_ADDR":         "localhost:6379",
	}))
	if err != nil {
		t.Fatalf("fromEnv: %v", err)
	}
	if cfg.AppPort != 9090 || cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("overrides not applied %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
	if len(cfg.VideoContentTypes) != 2 || cfg.Storage.S3Bucket != "clips" || cfg.Events.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected storage/events config %+v", cfg)
	}
	if err := cfg.ValidateServe(); err != nil {
		t.Fatalf("expected valid serve config got %v", err)
	}
}

func TestFromEnvRejectsMalformedValues(t *testing.T) {
	_, err := fromEnv(mapEnv(map[string]string{
		"VIDSHARE_PORT":             "eighty",
		"VIDSHARE_ROLE_CACHE_TTL":   "soon",
		"VIDSHARE_BCRYPT_COST":      "2",
		"VIDSHARE_MAX_UPLOAD_BYTES": "0",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"VIDSHARE_PORT", "VIDSHARE_ROLE_CACHE_TTL", "VIDSHARE_BCRYPT_COST", "VIDSHARE_MAX_UPLOAD_BYTES"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected error to mention %s: %v", key, err)
		}
	}
}

func TestLoadMergesEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("VIDSHARE_TEST_ONLY_PORT_HINT=1\nVIDSHARE_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("VIDSHARE_ENV_FILE", path)
	t.Setenv("VIDSHARE_LOG_LEVEL", "warn")
	t.Setenv("VIDSHARE_TEST_ONLY_PORT_HINT", "")
	os.Unsetenv("VIDSHARE_TEST_ONLY_PORT_HINT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected real environment to win got %q", cfg.LogLevel)
	}
	if os.Getenv("VIDSHARE_TEST_ONLY_PORT_HINT") != "1" {
		t.Fatal("expected env file values merged into the environment")
	}
}

func TestLoadIgnoresMissingEnvFile(t *testing.T) {
	t.Setenv("VIDSHARE_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	if _, err := Load(); err != nil {
		t.Fatalf("expected missing env file ignored got %v", err)
	}
}
