package app

import (
	"context"
	"strings"
	"testing"
)

func TestRunRequiresCommand(t *testing.T) {
	if err := Run(context.Background(), nil); err == nil {
		t.Fatal("expected error without command")
	}
	err := Run(context.Background(), []string{"launch"})
	if err == nil || !strings.Contains(err.Error(), "launch") {
		t.Fatalf("expected unknown command error got %v", err)
	}
}

func TestSeedRequiresName(t *testing.T) {
	if err := Run(context.Background(), []string{"seed"}); err == nil {
		t.Fatal("expected error without seed name")
	}
}

func TestServeRequiresSecret(t *testing.T) {
	t.Setenv("VIDSHARE_ENV_FILE", t.TempDir()+"/absent.env")
	t.Setenv("VIDSHARE_JWT_SECRET", "")

	err := Run(context.Background(), []string{"serve"})
	if err == nil || !strings.Contains(err.Error(), "VIDSHARE_JWT_SECRET") {
		t.Fatalf("expected secret validation error got %v", err)
	}
}

func TestResolveDir(t *testing.T) {
	abs, err := resolveDir("/srv/migrations")
	if err != nil || abs != "/srv/migrations" {
		t.Fatalf("expected absolute path kept got %q %v", abs, err)
	}
	rel, err := resolveDir("seeds")
	if err != nil || !strings.HasSuffix(rel, "/seeds") {
		t.Fatalf("expected resolved path got %q %v", rel, err)
	}
}
