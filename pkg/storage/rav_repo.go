package storage

import (
	"context"
	"sync"

	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

// RAVRepo stores the latest signed RAV per sub-channel. SaveLatest
// replaces the stored record unconditionally; earlier records are not kept.
type RAVRepo interface {
	SaveLatest(ctx context.Context, signed model.SignedSubRAV) error
	GetLatest(ctx context.Context, channelID [32]byte, vmIDFragment string) (model.SignedSubRAV, bool, error)
}

// InMemoryRAVRepo is the reference RAVRepo backend.
type InMemoryRAVRepo struct {
	mu     sync.RWMutex
	latest map[subChannelKey]model.SignedSubRAV
}

// NewInMemoryRAVRepo constructs an empty repo.
func NewInMemoryRAVRepo() *InMemoryRAVRepo {
	return &InMemoryRAVRepo{latest: make(map[subChannelKey]model.SignedSubRAV)}
}

func (r *InMemoryRAVRepo) SaveLatest(_ context.Context, signed model.SignedSubRAV) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest[subChannelKey{signed.ChannelID, signed.VMIDFragment}] = signed
	return nil
}

func (r *InMemoryRAVRepo) GetLatest(_ context.Context, channelID [32]byte, vmIDFragment string) (model.SignedSubRAV, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.latest[subChannelKey{channelID, vmIDFragment}]
	return s, ok, nil
}

// Reset discards all stored RAVs.
func (r *InMemoryRAVRepo) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = make(map[subChannelKey]model.SignedSubRAV)
}

var _ RAVRepo = (*InMemoryRAVRepo)(nil)
