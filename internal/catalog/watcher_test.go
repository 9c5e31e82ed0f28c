package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "schema.toml")
	registry := NewRegistry(ERP())
	w := NewWatcher(path, registry, nil)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for registry.Current().Name() != "retail" {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatal("catalog was not reloaded")
		}
		if err := os.WriteFile(path, []byte(sampleSchema), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestReloadKeepsPreviousCatalogOnParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.toml")
	if err := os.WriteFile(path, []byte("not = [valid"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	original := ERP()
	registry := NewRegistry(original)
	if NewWatcher(path, registry, nil).Reload(context.Background()) {
		t.Fatal("Reload() = true for invalid file")
	}
	if registry.Current() != original {
		t.Fatal("registry should keep the previous catalog")
	}
}
