package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jazzmind/vibefunder/internal/services/auth/storage/sqlite"
	"github.com/jazzmind/vibefunder/internal/services/auth/user"
)

func openTempAuthStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := openAuthStore(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open auth store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenAuthStoreInvalidDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("data"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := openAuthStore(filepath.Join(file, "auth.db")); err == nil {
		t.Fatal("expected error for invalid storage dir")
	}
}

func TestBootstrapAdminUserSkipsWhenUnset(t *testing.T) {
	t.Setenv("VIBEFUNDER_ADMIN_EMAIL", "")
	t.Setenv("VIBEFUNDER_ADMIN_PASSWORD", "")

	store := openTempAuthStore(t)
	if err := bootstrapAdminUser(context.Background(), store); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
}

func TestBootstrapAdminUserCreatesAdmin(t *testing.T) {
	t.Setenv("VIBEFUNDER_ADMIN_EMAIL", "admin@example.com")
	t.Setenv("VIBEFUNDER_ADMIN_PASSWORD", "bootstrap-secret")

	store := openTempAuthStore(t)
	if err := bootstrapAdminUser(context.Background(), store); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}

	admin, err := store.GetUserByEmail(context.Background(), "admin@example.com")
	if err != nil {
		t.Fatalf("load admin: %v", err)
	}
	if admin.Role != user.RoleAdmin || !admin.EmailVerified || !admin.Active {
		t.Fatalf("unexpected admin: %+v", admin)
	}
	if !admin.CheckPassword("bootstrap-secret") {
		t.Fatal("expected bootstrap password to verify")
	}

	// Running again leaves the existing account untouched.
	if err := bootstrapAdminUser(context.Background(), store); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	again, err := store.GetUserByEmail(context.Background(), "admin@example.com")
	if err != nil {
		t.Fatalf("reload admin: %v", err)
	}
	if again.ID != admin.ID {
		t.Fatal("expected same admin account")
	}
}
