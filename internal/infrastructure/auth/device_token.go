// Package auth holds the device credentials the engine presents to the ERP
// server. Tokens are issued by the server; the device never signs or
// verifies them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/golang-jwt/jwt/v5"
)

// SettingDeviceToken is the settings key holding the current bearer token.
const SettingDeviceToken = "device_token"

// Common errors
var (
	ErrNoToken      = errors.New("no device token configured")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the server-issued claims the engine reads. The signature is
// never checked locally.
type Claims struct {
	jwt.RegisteredClaims
	TenantID   string   `json:"tenant_id"`
	UserID     string   `json:"user_id"`
	Username   string   `json:"username,omitempty"`
	DeviceID   string   `json:"device_id,omitempty"`
	CompanyIDs []string `json:"company_ids,omitempty"`
}

// ExpiresAtTime returns the exp claim, or the zero time when absent
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// RemainingTTL returns the time left before exp at now. Tokens without exp
// report zero.
func (c *Claims) RemainingTTL(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	remaining := c.ExpiresAt.Time.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether exp has passed at now.
func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time)
}

// ParseClaims decodes the claims of a JWT without verifying its signature.
func ParseClaims(token string) (*Claims, error) {
	if strings.Count(token, ".") != 2 {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// SettingsStore is the part of the local store credentials are kept in.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// DeviceCredentials serves the persisted device token to the transport
// client and realtime channel. A configured fallback is used until a token
// has been stored.
type DeviceCredentials struct {
	store    SettingsStore
	fallback string
	clock    shared.Clock

	mu     sync.RWMutex
	cached string
	loaded bool
}

// NewDeviceCredentials creates credentials backed by store.
func NewDeviceCredentials(store SettingsStore, fallback string, clock shared.Clock) *DeviceCredentials {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &DeviceCredentials{store: store, fallback: fallback, clock: clock}
}

// Token implements transport.TokenSource. It returns an empty token when
// nothing is configured so requests go out unauthenticated.
func (d *DeviceCredentials) Token(ctx context.Context) (string, error) {
	d.mu.RLock()
	if d.loaded {
		token := d.cached
		d.mu.RUnlock()
		return token, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return d.cached, nil
	}
	token, ok, err := d.store.GetSetting(ctx, SettingDeviceToken)
	if err != nil {
		return "", fmt.Errorf("failed to load device token: %w", err)
	}
	if !ok || token == "" {
		token = d.fallback
	}
	d.cached = token
	d.loaded = true
	return token, nil
}

// SetToken stores a new token. JWTs that have already expired are
// rejected; opaque tokens are stored as is.
func (d *DeviceCredentials) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}
	if strings.Count(token, ".") == 2 {
		claims, err := ParseClaims(token)
		if err != nil {
			return err
		}
		if claims.Expired(d.clock.Now()) {
			return ErrExpiredToken
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.store.SetSetting(ctx, SettingDeviceToken, token); err != nil {
		return fmt.Errorf("failed to store device token: %w", err)
	}
	d.cached = token
	d.loaded = true
	return nil
}

// Clear forgets the stored token. The fallback applies again afterwards.
func (d *DeviceCredentials) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.store.SetSetting(ctx, SettingDeviceToken, ""); err != nil {
		return fmt.Errorf("failed to clear device token: %w", err)
	}
	d.cached = d.fallback
	d.loaded = true
	return nil
}

// Claims returns the claims of the current token.
func (d *DeviceCredentials) Claims(ctx context.Context) (*Claims, error) {
	token, err := d.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoToken
	}
	return ParseClaims(token)
}

// Status summarizes the current token for the control API.
type Status struct {
	Configured bool       `json:"configured"`
	Opaque     bool       `json:"opaque"`
	Expired    bool       `json:"expired"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	TenantID   string     `json:"tenantId,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	DeviceID   string     `json:"deviceId,omitempty"`
}

// Status reports whether a token is configured and when it expires.
func (d *DeviceCredentials) Status(ctx context.Context) (Status, error) {
	token, err := d.Token(ctx)
	if err != nil {
		return Status{}, err
	}
	if token == "" {
		return Status{}, nil
	}
	claims, err := ParseClaims(token)
	if err != nil {
		return Status{Configured: true, Opaque: true}, nil
	}
	st := Status{
		Configured: true,
		Expired:    claims.Expired(d.clock.Now()),
		TenantID:   claims.TenantID,
		UserID:     claims.UserID,
		DeviceID:   claims.DeviceID,
	}
	if exp := claims.ExpiresAtTime(); !exp.IsZero() {
		exp = exp.UTC()
		st.ExpiresAt = &exp
	}
	return st, nil
}
