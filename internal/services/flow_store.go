package services

import (
	"context"
	"sync"
	"time"

	"client-portal/internal/redis"

	"github.com/google/uuid"
)

// FlowStore keeps onboarding flows between requests and guards submissions
type FlowStore interface {
	Save(ctx context.Context, flow *OnboardingFlow) error
	Get(ctx context.Context, id uuid.UUID) (*OnboardingFlow, error)
	// Lock takes the submission lock. It reports false while another submission holds it.
	Lock(ctx context.Context, id uuid.UUID) (bool, error)
	Unlock(ctx context.Context, id uuid.UUID) error
}

const flowLockTTL = 2 * time.Minute

// RedisFlowStore shares flows across instances
type RedisFlowStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisFlowStore creates a Redis backed flow store
func NewRedisFlowStore(client *redis.Client, ttl time.Duration) *RedisFlowStore {
	return &RedisFlowStore{client: client, ttl: ttl}
}

func (s *RedisFlowStore) Save(ctx context.Context, flow *OnboardingFlow) error {
	return s.client.SaveFlow(ctx, flow.ID.String(), flow, s.ttl)
}

func (s *RedisFlowStore) Get(ctx context.Context, id uuid.UUID) (*OnboardingFlow, error) {
	var flow OnboardingFlow
	found, err := s.client.GetFlow(ctx, id.String(), &flow)
	if err != nil || !found {
		return nil, err
	}
	return &flow, nil
}

func (s *RedisFlowStore) Lock(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.client.AcquireFlowLock(ctx, id.String(), flowLockTTL)
}

func (s *RedisFlowStore) Unlock(ctx context.Context, id uuid.UUID) error {
	return s.client.ReleaseFlowLock(ctx, id.String())
}

// MemoryFlowStore keeps flows in process for single-instance deployments
type MemoryFlowStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	flows  map[uuid.UUID]memoryFlow
	locked map[uuid.UUID]bool
}

type memoryFlow struct {
	flow      OnboardingFlow
	expiresAt time.Time
}

// NewMemoryFlowStore creates an in-process flow store
func NewMemoryFlowStore(ttl time.Duration) *MemoryFlowStore {
	return &MemoryFlowStore{
		ttl:    ttl,
		flows:  make(map[uuid.UUID]memoryFlow),
		locked: make(map[uuid.UUID]bool),
	}
}

func (s *MemoryFlowStore) Save(_ context.Context, flow *OnboardingFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flow.ID] = memoryFlow{flow: *flow, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryFlowStore) Get(_ context.Context, id uuid.UUID) (*OnboardingFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.flows[id]
	if !ok {
		return nil, nil
	}
	if s.ttl > 0 && time.Now().After(entry.expiresAt) {
		delete(s.flows, id)
		return nil, nil
	}
	flow := entry.flow
	return &flow, nil
}

func (s *MemoryFlowStore) Lock(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked[id] {
		return false, nil
	}
	s.locked[id] = true
	return true, nil
}

func (s *MemoryFlowStore) Unlock(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locked, id)
	return nil
}
