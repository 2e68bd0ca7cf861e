package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"client-portal/internal/redis"
)

// Magic link types accepted by the auth callback
const (
	LinkTypeMagicLink = "magiclink"
	LinkTypeInvite    = "invite"
)

// ErrInvalidLink means a sign-in link is unknown, used, expired or of the wrong type
var ErrInvalidLink = errors.New("sign-in link is invalid or has expired")

// MagicLinkStore holds one-time sign-in tokens by hash
type MagicLinkStore interface {
	SaveMagicLink(ctx context.Context, tokenHash string, data *redis.MagicLinkData, ttl time.Duration) error
	// ConsumeMagicLink returns the data once and nil afterwards
	ConsumeMagicLink(ctx context.Context, tokenHash string) (*redis.MagicLinkData, error)
}

// LinkRequest describes a sign-in link to mint
type LinkRequest struct {
	Email      string
	Type       string
	Invitation string
	FullName   string
	TTL        time.Duration
}

// MagicLinks mints and redeems single-use sign-in links pointing at the auth callback
type MagicLinks struct {
	store   MagicLinkStore
	siteURL string
}

// NewMagicLinks creates a link issuer for the portal at siteURL
func NewMagicLinks(store MagicLinkStore, siteURL string) *MagicLinks {
	return &MagicLinks{store: store, siteURL: strings.TrimRight(siteURL, "/")}
}

// Issue stores a fresh token and returns the callback URL carrying it
func (m *MagicLinks) Issue(ctx context.Context, req LinkRequest) (string, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", err
	}
	data := &redis.MagicLinkData{
		Email:      req.Email,
		Type:       req.Type,
		Invitation: req.Invitation,
		FullName:   req.FullName,
	}
	if err := m.store.SaveMagicLink(ctx, hashToken(token), data, req.TTL); err != nil {
		return "", fmt.Errorf("failed to store sign-in link: %w", err)
	}

	q := url.Values{}
	q.Set("token_hash", token)
	q.Set("type", req.Type)
	if req.Invitation != "" {
		q.Set("invitation", req.Invitation)
	}
	return m.siteURL + "/auth/callback?" + q.Encode(), nil
}

// Revoke drops the token carried by a link returned from Issue so it can no longer be redeemed
func (m *MagicLinks) Revoke(ctx context.Context, link string) error {
	parsed, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("failed to parse sign-in link: %w", err)
	}
	token := parsed.Query().Get("token_hash")
	if token == "" {
		return ErrInvalidLink
	}
	if _, err := m.store.ConsumeMagicLink(ctx, hashToken(token)); err != nil {
		return fmt.Errorf("failed to revoke sign-in link: %w", err)
	}
	return nil
}

// Redeem consumes the token. linkType must match the type the link was minted with.
func (m *MagicLinks) Redeem(ctx context.Context, token, linkType string) (*redis.MagicLinkData, error) {
	if token == "" {
		return nil, ErrInvalidLink
	}
	data, err := m.store.ConsumeMagicLink(ctx, hashToken(token))
	if err != nil {
		return nil, err
	}
	if data == nil || data.Type != linkType {
		return nil, ErrInvalidLink
	}
	if !data.ExpiresAt.IsZero() && time.Now().After(data.ExpiresAt) {
		return nil, ErrInvalidLink
	}
	return data, nil
}

// MemoryMagicLinkStore keeps links in process for single-instance deployments
type MemoryMagicLinkStore struct {
	mu    sync.Mutex
	links map[string]redis.MagicLinkData
}

// NewMemoryMagicLinkStore creates an in-process link store
func NewMemoryMagicLinkStore() *MemoryMagicLinkStore {
	return &MemoryMagicLinkStore{links: make(map[string]redis.MagicLinkData)}
}

func (s *MemoryMagicLinkStore) SaveMagicLink(_ context.Context, tokenHash string, data *redis.MagicLinkData, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data.CreatedAt = time.Now()
	data.ExpiresAt = data.CreatedAt.Add(ttl)
	for hash, link := range s.links {
		if data.CreatedAt.After(link.ExpiresAt) {
			delete(s.links, hash)
		}
	}
	s.links[tokenHash] = *data
	return nil
}

// Len reports how many links are held, expired ones included until the next save
func (s *MemoryMagicLinkStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func (s *MemoryMagicLinkStore) ConsumeMagicLink(_ context.Context, tokenHash string) (*redis.MagicLinkData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.links[tokenHash]
	if !ok {
		return nil, nil
	}
	delete(s.links, tokenHash)
	return &data, nil
}

// generateToken returns n random bytes encoded as unpadded base64url
func generateToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
