package keyring

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestStore_SystemKeyring(t *testing.T) {
	keyring.MockInit()
	s := New(t.TempDir())

	if err := s.Store("tunnel-1", "secret"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := s.Get("tunnel-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "secret" {
		t.Errorf("Get() = %q, want %q", got, "secret")
	}

	if !s.Exists("tunnel-1") {
		t.Error("Exists() should be true after Store")
	}

	if err := s.Delete("tunnel-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get("tunnel-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete("tunnel-1"); err != nil {
		t.Errorf("Delete() of missing secret error = %v", err)
	}
}

func TestStore_EmptyID(t *testing.T) {
	keyring.MockInit()
	s := New(t.TempDir())

	if err := s.Store("", "x"); !errors.Is(err, ErrEmptyID) {
		t.Errorf("Store(\"\") error = %v", err)
	}
	if _, err := s.Get(""); !errors.Is(err, ErrEmptyID) {
		t.Errorf("Get(\"\") error = %v", err)
	}
}

func TestStore_EncryptedFileFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	dir := t.TempDir()
	s := New(dir)

	if err := s.Store("tunnel-2", "private-key"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ".credentials"))
	if err != nil {
		t.Fatalf("credentials file not written: %v", err)
	}
	if strings.Contains(string(data), "private-key") {
		t.Error("credentials file must not contain the secret in clear")
	}

	reopened := New(dir)
	reopened.once.Do(reopened.initLocal)
	got, err := reopened.Get("tunnel-2")
	if err != nil {
		t.Fatalf("Get() from reopened store error = %v", err)
	}
	if got != "private-key" {
		t.Errorf("Get() = %q, want %q", got, "private-key")
	}
}
