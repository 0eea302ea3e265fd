// Package vault stores per-owner browser sessions (cookie + user agent)
// encrypted at rest in the shared store. Plaintext session material never
// reaches logs; log fields carry only lengths and digest prefixes.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vintaloop/go-listing-backend/internal/kv"
)

// ErrUnauthenticated is returned when no usable session exists for an owner:
// missing, expired, or failing authenticated decryption. The remedy is
// always the same: the owner must save a fresh session.
var ErrUnauthenticated = errors.New("unauthenticated: no valid session")

// Session is a decrypted browser session. One active session per owner;
// saving replaces any prior one entirely.
type Session struct {
	OwnerID   string    `json:"owner_id"`
	Cookie    string    `json:"cookie"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Vault encrypts sessions with an authenticated cipher and keeps them in the
// shared store under a per-owner key with the configured TTL.
type Vault struct {
	store  kv.Store
	cipher *Cipher
	ttl    time.Duration

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// New builds a Vault. The key must be 32 bytes.
func New(store kv.Store, key []byte, ttl time.Duration) (*Vault, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Vault{store: store, cipher: c, ttl: ttl, Now: time.Now}, nil
}

// Cipher returns the vault's sealing cipher, shared with the confirm-token
// workflow so tokens and sessions fail together on key rotation.
func (v *Vault) Cipher() *Cipher { return v.cipher }

func sessionKey(ownerID string) string { return "session:" + ownerID }

// Save encrypts and stores a session, overwriting any prior one.
func (v *Vault) Save(ctx context.Context, ownerID, cookie, userAgent string) error {
	if ownerID == "" || cookie == "" || userAgent == "" {
		return errors.New("vault: owner id, cookie, and user agent are required")
	}
	now := v.Now().UTC()
	sess := Session{
		OwnerID:   ownerID,
		Cookie:    cookie,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(v.ttl),
	}
	plain, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	sealed, err := v.cipher.Seal(plain)
	if err != nil {
		return err
	}
	if err := v.store.Set(ctx, sessionKey(ownerID), sealed, v.ttl); err != nil {
		return err
	}
	log.Info().
		Str("owner_id", ownerID).
		Int("cookie_len", len(cookie)).
		Str("cookie_sha256", digestPrefix(cookie)).
		Int("user_agent_len", len(userAgent)).
		Time("expires_at", sess.ExpiresAt).
		Msg("session saved")
	return nil
}

// Load decrypts and returns the owner's session. Missing, expired, or
// tampered blobs all surface as ErrUnauthenticated.
func (v *Vault) Load(ctx context.Context, ownerID string) (*Session, error) {
	sealed, err := v.store.Get(ctx, sessionKey(ownerID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	plain, err := v.cipher.Open(sealed)
	if err != nil {
		log.Warn().Str("owner_id", ownerID).Msg("session blob failed authentication")
		return nil, ErrUnauthenticated
	}
	var sess Session
	if err := json.Unmarshal(plain, &sess); err != nil {
		return nil, fmt.Errorf("vault: corrupt session payload: %w", err)
	}
	if !v.Now().Before(sess.ExpiresAt) {
		return nil, ErrUnauthenticated
	}
	return &sess, nil
}

// Invalidate removes the owner's session.
func (v *Vault) Invalidate(ctx context.Context, ownerID string) error {
	return v.store.Delete(ctx, sessionKey(ownerID))
}

// digestPrefix returns a short hash usable in logs to correlate a session
// value without revealing it.
func digestPrefix(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:6])
}
