package storage

import (
	"context"
	"sync"
	"time"

	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

// pendingKey identifies a pending proposal by its full (channelId,
// vmIdFragment, nonce) triple.
type pendingKey struct {
	subChannelKey
	nonce uint64
}

// PendingRAVRepo stores server-generated unsigned SubRAVs awaiting a
// matching client signature.
type PendingRAVRepo interface {
	Save(ctx context.Context, p model.PendingProposal) error
	Find(ctx context.Context, channelID [32]byte, vmIDFragment string, nonce uint64) (model.PendingProposal, bool, error)
	FindLatestBySubChannel(ctx context.Context, channelID [32]byte, vmIDFragment string) (model.PendingProposal, bool, error)
	Remove(ctx context.Context, channelID [32]byte, vmIDFragment string, nonce uint64) error
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// InMemoryPendingRAVRepo is the reference PendingRAVRepo backend. Save is
// idempotent under its key, matching spec §4.9's cancellation contract.
type InMemoryPendingRAVRepo struct {
	mu      sync.Mutex
	pending map[pendingKey]model.PendingProposal
	// latestBySubChannel tracks the highest-nonce pending proposal so that
	// FindLatestBySubChannel observes any prior Save from the same writer
	// without scanning the whole map (spec §4.4 concurrency contract).
	latestBySubChannel map[subChannelKey]pendingKey
}

// NewInMemoryPendingRAVRepo constructs an empty repo.
func NewInMemoryPendingRAVRepo() *InMemoryPendingRAVRepo {
	return &InMemoryPendingRAVRepo{
		pending:            make(map[pendingKey]model.PendingProposal),
		latestBySubChannel: make(map[subChannelKey]pendingKey),
	}
}

func (r *InMemoryPendingRAVRepo) Save(_ context.Context, p model.PendingProposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sck := subChannelKey{p.SubRAV.ChannelID, p.SubRAV.VMIDFragment}
	key := pendingKey{sck, p.SubRAV.Nonce}
	r.pending[key] = p

	if prevKey, ok := r.latestBySubChannel[sck]; !ok || p.SubRAV.Nonce >= prevKey.nonce {
		r.latestBySubChannel[sck] = key
	}
	return nil
}

func (r *InMemoryPendingRAVRepo) Find(_ context.Context, channelID [32]byte, vmIDFragment string, nonce uint64) (model.PendingProposal, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[pendingKey{subChannelKey{channelID, vmIDFragment}, nonce}]
	return p, ok, nil
}

func (r *InMemoryPendingRAVRepo) FindLatestBySubChannel(_ context.Context, channelID [32]byte, vmIDFragment string) (model.PendingProposal, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sck := subChannelKey{channelID, vmIDFragment}
	key, ok := r.latestBySubChannel[sck]
	if !ok {
		return model.PendingProposal{}, false, nil
	}
	p, ok := r.pending[key]
	return p, ok, nil
}

func (r *InMemoryPendingRAVRepo) Remove(_ context.Context, channelID [32]byte, vmIDFragment string, nonce uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sck := subChannelKey{channelID, vmIDFragment}
	key := pendingKey{sck, nonce}
	delete(r.pending, key)
	if r.latestBySubChannel[sck] == key {
		delete(r.latestBySubChannel, sck)
	}
	return nil
}

func (r *InMemoryPendingRAVRepo) Cleanup(_ context.Context, maxAge time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for key, p := range r.pending {
		if p.CreatedAt.Before(cutoff) {
			delete(r.pending, key)
			if r.latestBySubChannel[key.subChannelKey] == key {
				delete(r.latestBySubChannel, key.subChannelKey)
			}
			removed++
		}
	}
	return removed, nil
}

// Reset discards all stored pending proposals.
func (r *InMemoryPendingRAVRepo) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(map[pendingKey]model.PendingProposal)
	r.latestBySubChannel = make(map[subChannelKey]pendingKey)
}

var _ PendingRAVRepo = (*InMemoryPendingRAVRepo)(nil)
