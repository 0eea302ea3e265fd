package vault

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/vintaloop/go-listing-backend/internal/kv"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func newTestVault(t *testing.T) (*Vault, *kv.Memory, *time.Time) {
	t.Helper()
	store := kv.NewMemory()
	v, err := New(store, testKey(), 24*time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	v.Now = func() time.Time { return now }
	store.Now = func() time.Time { return now }
	return v, store, &now
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	sealed, err := c.Seal([]byte("hello"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	plain, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(plain, []byte("hello")) {
		t.Fatalf("roundtrip = %q", plain)
	}
}

func TestCipher_TamperFailsAuthentication(t *testing.T) {
	c, _ := NewCipher(testKey())
	sealed, _ := c.Seal([]byte("secret"))
	tampered := sealed[:len(sealed)-2] + "zz"
	if _, err := c.Open(tampered); err == nil {
		t.Fatal("expected authentication failure for tampered blob")
	}
}

func TestCipher_RejectsShortKey(t *testing.T) {
	if _, err := NewCipher([]byte("short")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestVault_SaveLoadInvalidate(t *testing.T) {
	ctx := context.Background()
	v, _, _ := newTestVault(t)

	if err := v.Save(ctx, "u1", "sid=abc; csrf=def", "Mozilla/5.0"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	sess, err := v.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sess.Cookie != "sid=abc; csrf=def" || sess.UserAgent != "Mozilla/5.0" || sess.OwnerID != "u1" {
		t.Fatalf("session = %+v", sess)
	}

	if err := v.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := v.Load(ctx, "u1"); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestVault_LoadMissing(t *testing.T) {
	v, _, _ := newTestVault(t)
	if _, err := v.Load(context.Background(), "nobody"); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestVault_SaveReplacesPrior(t *testing.T) {
	ctx := context.Background()
	v, _, _ := newTestVault(t)

	if err := v.Save(ctx, "u1", "sid=old", "UA-old"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := v.Save(ctx, "u1", "sid=new", "UA-new"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	sess, err := v.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sess.Cookie != "sid=new" || sess.UserAgent != "UA-new" {
		t.Fatalf("prior session not replaced: %+v", sess)
	}
}

func TestVault_ExpiredSessionIsUnauthenticated(t *testing.T) {
	ctx := context.Background()
	v, _, now := newTestVault(t)

	if err := v.Save(ctx, "u1", "sid=abc", "UA"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	*now = now.Add(25 * time.Hour)
	if _, err := v.Load(ctx, "u1"); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated after expiry, got %v", err)
	}
}

func TestVault_TamperedStoreValueIsUnauthenticated(t *testing.T) {
	ctx := context.Background()
	v, store, _ := newTestVault(t)

	if err := v.Save(ctx, "u1", "sid=abc", "UA"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = store.Set(ctx, "session:u1", "bm90LWEtcmVhbC1ibG9i", 0)
	if _, err := v.Load(ctx, "u1"); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated for tampered value, got %v", err)
	}
}

func TestVault_SaveValidatesInput(t *testing.T) {
	v, _, _ := newTestVault(t)
	if err := v.Save(context.Background(), "u1", "", "UA"); err == nil {
		t.Fatal("expected error for empty cookie")
	}
}
