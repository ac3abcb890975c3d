package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/fortress/internal/auth/session"
)

func testEnv(t *testing.T) {
	t.Helper()
	secret, err := session.NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	t.Setenv("FORTRESS_AUTH_DB_PATH", filepath.Join(t.TempDir(), "auth.db"))
	t.Setenv("FORTRESS_SESSION_SECRET", secret)
}

func TestServeUntilContextCancelled(t *testing.T) {
	testEnv(t)

	server, err := New("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if server.Addr() == "" {
		t.Fatal("expected listener address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx)
	}()

	// The session endpoint answers while the server runs.
	var response *http.Response
	for attempt := 0; attempt < 50; attempt++ {
		response, err = http.Get("http://" + server.Addr() + "/auth/session")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	_ = response.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestOpenAuthStoreCreatesDirectory(t *testing.T) {
	t.Setenv("FORTRESS_AUTH_DB_PATH", filepath.Join(t.TempDir(), "nested", "auth.db"))

	store, err := openAuthStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
}
