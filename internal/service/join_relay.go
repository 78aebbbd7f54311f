package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"flipfocus/internal/model"
	"flipfocus/internal/repository"
)

const (
	// RelayExpiry is how long a staged join intent stays valid.
	RelayExpiry = 60 * time.Second
	// RelayCheckInterval is how often staged intents are checked for
	// expiry; expiry is also applied lazily on every read.
	RelayCheckInterval = 15 * time.Second
)

// JoinRelay holds at most one pending join intent per user on this instance.
// It decouples "user tapped a join link" from the join executing, which may
// happen after navigation settles. Intents expire, can be cancelled, and are
// silently superseded by a newer one.
type JoinRelay struct {
	stats repository.StatsRepo

	mu      sync.Mutex
	pending map[string]*model.JoinRequest // userID -> staged intent

	stop chan struct{}
	done chan struct{}

	now func() time.Time
}

// NewJoinRelay creates a relay backed by the given stats source for the
// first-session prerequisite check.
func NewJoinRelay(stats repository.StatsRepo) *JoinRelay {
	return &JoinRelay{
		stats:   stats,
		pending: make(map[string]*model.JoinRequest),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// SetJoinSession stages a join intent for the user. A user who has never
// completed a session of their own gets ErrFirstSessionRequired and nothing
// is staged. A pending intent for the same user is silently superseded.
func (r *JoinRelay) SetJoinSession(ctx context.Context, userID, sessionID, ownerName string) error {
	stats, err := r.stats.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to check session history: %w", err)
	}
	if stats == nil || stats.CompletedSessions == 0 {
		return ErrFirstSessionRequired
	}

	r.mu.Lock()
	r.pending[userID] = &model.JoinRequest{
		SessionID:        sessionID,
		SessionOwnerName: ownerName,
		RequestedAt:      r.now(),
		Active:           true,
	}
	r.mu.Unlock()

	log.Printf("join relay: staged session %s for user %s", sessionID, userID)
	return nil
}

// Consume atomically returns and clears the user's pending intent. An intent
// past its expiry is cleared and nil is returned. Whatever the subsequent
// join's outcome, the relay is idle again for this user once Consume returns.
func (r *JoinRelay) Consume(userID string) *model.JoinRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[userID]
	if !ok {
		return nil
	}
	delete(r.pending, userID)

	if r.now().Sub(req.RequestedAt) >= RelayExpiry {
		return nil
	}
	return req
}

// Pending returns the user's staged intent without consuming it, applying
// expiry lazily.
func (r *JoinRelay) Pending(userID string) *model.JoinRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[userID]
	if !ok {
		return nil
	}
	if r.now().Sub(req.RequestedAt) >= RelayExpiry {
		delete(r.pending, userID)
		return nil
	}
	return req
}

// Cancel clears the user's staged intent immediately.
func (r *JoinRelay) Cancel(userID string) {
	r.mu.Lock()
	delete(r.pending, userID)
	r.mu.Unlock()
}

// Start launches the periodic expiry check.
func (r *JoinRelay) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(RelayCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.expire()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the expiry check.
func (r *JoinRelay) Stop() {
	close(r.stop)
	<-r.done
}

func (r *JoinRelay) expire() {
	now := r.now()
	r.mu.Lock()
	for userID, req := range r.pending {
		if now.Sub(req.RequestedAt) >= RelayExpiry {
			delete(r.pending, userID)
			log.Printf("join relay: expired staged session %s for user %s", req.SessionID, userID)
		}
	}
	r.mu.Unlock()
}
