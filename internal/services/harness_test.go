package services

import (
	"testing"
	"time"

	"client-portal/internal/config"
	"client-portal/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
)

const testSite = "https://portal.example.com"

type harness struct {
	db         *memoryDB
	mailer     *MockMailer
	changes    *changeRecorder
	linkStore  *MemoryMagicLinkStore
	links      *MagicLinks
	flows      *MemoryFlowStore
	storageDir string

	invitations *InvitationService
	onboarding  *OnboardingService
	auth        *AuthService
	businesses  *BusinessService
	profiles    *ProfileService
	audit       *AuditService
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:           "test-secret",
		Issuer:              "client-portal-test",
		SessionTTLHours:     8,
		RememberMeDays:      30,
		MaxFailedAttempts:   3,
		LockoutMinutes:      15,
		MagicLinkTTLMinutes: 60,
		TOTPIssuer:          "Client Portal",
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := quietLogger()
	h := &harness{
		db:         newMemoryDB(),
		mailer:     &MockMailer{},
		changes:    &changeRecorder{},
		linkStore:  NewMemoryMagicLinkStore(),
		flows:      NewMemoryFlowStore(time.Hour),
		storageDir: t.TempDir(),
	}
	h.links = NewMagicLinks(h.linkStore, testSite)
	audit := NewAuditService(auditStore{h.db}, logger)
	h.audit = audit
	metrics := NewMetrics(prometheus.NewRegistry())

	h.invitations = NewInvitationService(InvitationDeps{
		Invitations: h.db,
		Businesses:  h.db,
		Links:       h.links,
		Mailer:      h.mailer,
		Changes:     h.changes,
		Audit:       audit,
		Metrics:     metrics,
		Logger:      logger,
	})
	h.onboarding = NewOnboardingService(OnboardingDeps{
		Flows:       h.flows,
		Businesses:  h.db,
		Invitations: h.invitations,
		Changes:     h.changes,
		Audit:       audit,
		Metrics:     metrics,
		Logger:      logger,
	})
	h.auth = NewAuthService(AuthDeps{
		Users:    h.db,
		Sessions: sessionStore{h.db},
		Links:    h.links,
		Mailer:   h.mailer,
		Tokens:   NewTokenManager("test-secret", "client-portal-test"),
		Audit:    audit,
		Metrics:  metrics,
		Config:   testAuthConfig(),
		Logger:   logger,
	})
	h.businesses = NewBusinessService(h.db, h.db, h.changes, audit, logger)
	h.profiles = NewProfileService(ProfileDeps{
		Users:          h.db,
		Storage:        storage.NewLocalProvider(h.storageDir, "/storage"),
		AvatarBucket:   "avatars",
		MaxAvatarBytes: 1 << 20,
		Changes:        h.changes,
		Audit:          audit,
		Logger:         logger,
	})
	return h
}
