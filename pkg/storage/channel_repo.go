// Package storage implements the Storage Ports (spec §4.4): channel
// metadata, sub-channel state, signed-RAV history and pending-RAV
// repositories. The in-memory implementations here are the reference
// backend; SQL/IndexedDB-backed implementations are interchangeable behind
// the same interfaces (spec §1 Non-goals).
package storage

import (
	"context"
	"sync"

	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

// ChannelFilter narrows ListChannels results. A zero-value field is
// unconstrained.
type ChannelFilter struct {
	PayerDID string
	PayeeDID string
	Status   model.ChannelStatus
}

// Pagination bounds a list query.
type Pagination struct {
	Offset int
	Limit  int
}

// subChannelKey identifies a sub-channel within a channel.
type subChannelKey struct {
	channelID    [32]byte
	vmIDFragment string
}

// ChannelRepo manages channel and sub-channel metadata.
type ChannelRepo interface {
	GetChannel(ctx context.Context, channelID [32]byte) (model.Channel, bool, error)
	SetChannel(ctx context.Context, ch model.Channel) error
	ListChannels(ctx context.Context, filter ChannelFilter, page Pagination) ([]model.Channel, error)
	RemoveChannel(ctx context.Context, channelID [32]byte) error

	GetSubChannel(ctx context.Context, channelID [32]byte, vmIDFragment string) (model.SubChannel, bool, error)
	UpdateSubChannel(ctx context.Context, sc model.SubChannel) error
	ListSubChannels(ctx context.Context, channelID [32]byte) ([]model.SubChannel, error)
	RemoveSubChannel(ctx context.Context, channelID [32]byte, vmIDFragment string) error
}

// InMemoryChannelRepo is the reference ChannelRepo backend: a single mutex
// guards both maps, which is sufficient for the concurrency contract in
// spec §5 (single-writer per sub-channel, concurrent readers).
type InMemoryChannelRepo struct {
	mu          sync.RWMutex
	channels    map[[32]byte]model.Channel
	subChannels map[subChannelKey]model.SubChannel
}

// NewInMemoryChannelRepo constructs an empty repo.
func NewInMemoryChannelRepo() *InMemoryChannelRepo {
	return &InMemoryChannelRepo{
		channels:    make(map[[32]byte]model.Channel),
		subChannels: make(map[subChannelKey]model.SubChannel),
	}
}

func (r *InMemoryChannelRepo) GetChannel(_ context.Context, channelID [32]byte) (model.Channel, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[channelID]
	return ch, ok, nil
}

func (r *InMemoryChannelRepo) SetChannel(_ context.Context, ch model.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.ChannelID] = ch
	return nil
}

func (r *InMemoryChannelRepo) RemoveChannel(_ context.Context, channelID [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, channelID)
	return nil
}

func (r *InMemoryChannelRepo) ListChannels(_ context.Context, filter ChannelFilter, page Pagination) ([]model.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []model.Channel
	for _, ch := range r.channels {
		if filter.PayerDID != "" && ch.PayerDID != filter.PayerDID {
			continue
		}
		if filter.PayeeDID != "" && ch.PayeeDID != filter.PayeeDID {
			continue
		}
		if filter.Status != "" && ch.Status != filter.Status {
			continue
		}
		matched = append(matched, ch)
	}

	if page.Limit <= 0 {
		return matched, nil
	}
	start := page.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (r *InMemoryChannelRepo) GetSubChannel(_ context.Context, channelID [32]byte, vmIDFragment string) (model.SubChannel, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.subChannels[subChannelKey{channelID, vmIDFragment}]
	return sc, ok, nil
}

func (r *InMemoryChannelRepo) UpdateSubChannel(_ context.Context, sc model.SubChannel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subChannels[subChannelKey{sc.ChannelID, sc.VMIDFragment}] = sc
	return nil
}

func (r *InMemoryChannelRepo) ListSubChannels(_ context.Context, channelID [32]byte) ([]model.SubChannel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.SubChannel
	for k, sc := range r.subChannels {
		if k.channelID == channelID {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (r *InMemoryChannelRepo) RemoveSubChannel(_ context.Context, channelID [32]byte, vmIDFragment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subChannels, subChannelKey{channelID, vmIDFragment})
	return nil
}

// Reset discards all stored channels and sub-channels, letting a test
// suite tear a repo down deterministically between cases without
// constructing a fresh instance.
func (r *InMemoryChannelRepo) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = make(map[[32]byte]model.Channel)
	r.subChannels = make(map[subChannelKey]model.SubChannel)
}

var _ ChannelRepo = (*InMemoryChannelRepo)(nil)
