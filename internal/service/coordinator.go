package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"flipfocus/internal/cache"
	"flipfocus/internal/model"
	"flipfocus/internal/repository"

	"golang.org/x/sync/semaphore"
)

// Protocol timeouts. Each is evaluated against its own reference timestamp;
// they do not compose.
const (
	// JoinStaleness is how long a session may go without a broadcast
	// before join attempts are refused.
	JoinStaleness = 120 * time.Second
	// DeleteGrace is how long a fully finished session stays readable so
	// straggling observers can render the terminal state.
	DeleteGrace = 10 * time.Second
)

// Coordinator owns the create/broadcast/join/terminate protocol for live
// sessions. Each app instance runs one Coordinator; there is no central
// ticking server, so every client broadcasts its own countdown and converges
// on whatever the store fans back out.
type Coordinator struct {
	repo        repository.SessionRepo
	stats       repository.StatsRepo
	sessions    cache.SessionCache
	leaderboard cache.LeaderboardCache
	broadcaster Broadcaster

	// ctx spans the coordinator's lifetime. Subscriptions are established
	// on it rather than on a caller's request context, so a stream opened
	// while serving an HTTP request survives the response.
	ctx    context.Context
	cancel context.CancelFunc

	// tracked holds immutable snapshots: entries are replaced, never
	// mutated in place, so readers may use a returned clone freely.
	mu      sync.RWMutex
	tracked map[string]*model.LiveSession
	streams map[string]*subscription
	guards  map[string]*semaphore.Weighted

	// now and grace are replaceable for tests.
	now   func() time.Time
	grace time.Duration
}

// subscription pairs a store stream with its teardown state. At most one
// exists per session id; registering a new one tears down the old one first.
type subscription struct {
	stream    repository.SessionStream
	onRemoved func(sessionID string)
	closeOnce sync.Once
}

func (s *subscription) close() {
	s.closeOnce.Do(func() {
		s.stream.Close()
	})
}

// NewCoordinator creates a coordinator. broadcaster may be set later via
// SetBroadcaster once the hub exists.
func NewCoordinator(
	repo repository.SessionRepo,
	stats repository.StatsRepo,
	sessions cache.SessionCache,
	leaderboard cache.LeaderboardCache,
) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		repo:        repo,
		stats:       stats,
		sessions:    sessions,
		leaderboard: leaderboard,
		ctx:         ctx,
		cancel:      cancel,
		tracked:     make(map[string]*model.LiveSession),
		streams:     make(map[string]*subscription),
		guards:      make(map[string]*semaphore.Weighted),
		now:         time.Now,
		grace:       DeleteGrace,
	}
}

// SetBroadcaster sets the fan-out sink for session events
func (c *Coordinator) SetBroadcaster(b Broadcaster) {
	c.broadcaster = b
}

// BroadcastState pushes one client's local countdown state to the store. The
// session owner calls this on every local tick; joiners call it to reflect
// their own pause state.
//
// If the document does not exist yet it is created wholesale from the local
// state (this is how a session comes into being). If it exists, only
// remainingSeconds, isPaused, the caller's own status entry, and
// lastUpdateTime are written, so a lagging client can never clobber another
// participant's concurrently written status or the membership fields.
//
// Failures are logged and dropped: the caller's local timer stays
// authoritative for its own UI, and the next tick re-broadcasts anyway.
func (c *Coordinator) BroadcastState(ctx context.Context, callerID string, local *model.LiveSession) {
	if local == nil || local.ID == "" {
		return
	}

	// One in-flight broadcast per session per client. A tick that finds
	// the previous write still running is dropped; the next tick carries
	// fresher state than this one anyway.
	guard := c.guard(local.ID)
	if !guard.TryAcquire(1) {
		return
	}
	defer guard.Release(1)

	current, err := c.repo.Get(ctx, local.ID)
	if err != nil {
		log.Printf("broadcast %s: read failed: %v", local.ID, err)
		return
	}

	now := c.now()

	if current == nil {
		if local.TargetDuration <= 0 {
			log.Printf("broadcast %s: dropping create without a target duration", local.ID)
			return
		}
		created := initialSession(local, callerID, now)
		if err := c.repo.Create(ctx, created); err != nil {
			log.Printf("broadcast %s: create failed: %v", local.ID, err)
			return
		}
		c.track(created)
		return
	}

	status := local.ParticipantStatus[callerID]
	if status == "" {
		status = model.StatusActive
	}
	remaining := clampRemaining(local.RemainingSeconds, current.TargetDuration)

	if err := c.repo.MergeTick(ctx, local.ID, callerID, remaining, local.IsPaused, status, now); err != nil {
		log.Printf("broadcast %s: update failed: %v", local.ID, err)
		return
	}

	current.RemainingSeconds = remaining
	current.IsPaused = local.IsPaused
	current.ParticipantStatus[callerID] = status
	current.LastUpdateTime = now
	c.track(current)
}

// initialSession builds the document for a session's very first broadcast:
// starter-only membership regardless of what the local view claims.
func initialSession(local *model.LiveSession, callerID string, now time.Time) *model.LiveSession {
	starterUsername := local.StarterUsername
	if starterUsername == "" {
		starterUsername = model.DefaultStarterUsername
	}
	startTime := local.StartTime
	if startTime.IsZero() {
		startTime = now
	}
	status := local.ParticipantStatus[callerID]
	if status == "" {
		status = model.StatusActive
	}
	remaining := clampRemaining(local.RemainingSeconds, local.TargetDuration)
	if remaining == 0 {
		remaining = local.TargetDuration * 60
	}
	return &model.LiveSession{
		ID:                local.ID,
		StarterID:         callerID,
		StarterUsername:   starterUsername,
		Participants:      []string{callerID},
		StartTime:         startTime,
		TargetDuration:    local.TargetDuration,
		RemainingSeconds:  remaining,
		IsPaused:          local.IsPaused,
		AllowPauses:       local.AllowPauses,
		MaxPauses:         local.MaxPauses,
		JoinTimes:         map[string]time.Time{callerID: startTime},
		ParticipantStatus: map[string]model.ParticipantStatus{callerID: status},
		LastUpdateTime:    now,
		BuildingID:        local.BuildingID,
		BuildingName:      local.BuildingName,
		Latitude:          local.Latitude,
		Longitude:         local.Longitude,
	}
}

// clampRemaining bounds a broadcast countdown value to the session's valid
// [0, targetDuration*60] range.
func clampRemaining(seconds, targetDuration int) int {
	if seconds < 0 {
		return 0
	}
	if max := targetDuration * 60; seconds > max {
		return max
	}
	return seconds
}

// JoinSession adds userID to a session after the precondition chain passes,
// in order: authenticated, session exists, not the starter, session not
// silent for over two minutes, and joinable (under the cap, over the
// three-minute floor).
//
// On success the membership write is additive and idempotent, a live
// subscription is established, and the just-fetched state is returned
// immediately so the caller can render without waiting for the stream's
// first event.
func (c *Coordinator) JoinSession(ctx context.Context, sessionID, userID, username string) (*model.LiveSession, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	current, err := c.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if current == nil {
		return nil, ErrSessionNotFound
	}
	if current.StarterID == userID {
		return nil, ErrSelfJoin
	}

	now := c.now()
	if now.Sub(current.LastUpdateTime) > JoinStaleness {
		return nil, ErrSessionStale
	}
	if current.IsFull() && !current.HasParticipant(userID) {
		return nil, ErrSessionFull
	}
	if current.RemainingSeconds <= model.JoinFloorSeconds {
		return nil, ErrTooLittleTime
	}

	if err := c.repo.AddParticipant(ctx, sessionID, userID, now); err != nil {
		return nil, fmt.Errorf("failed to join session: %w", err)
	}

	// Reflect the join in the returned snapshot without a second read. A
	// repeat join wrote nothing, so the snapshot stays as fetched.
	if !current.HasParticipant(userID) {
		current.Participants = append(current.Participants, userID)
		current.JoinTimes[userID] = now
		current.ParticipantStatus[userID] = model.StatusActive
		current.LastUpdateTime = now
	}
	c.track(current)

	if err := c.ObserveSession(sessionID, nil, nil); err != nil {
		// The join itself succeeded; the next list refresh will pick
		// the session up even without a live stream.
		log.Printf("join %s: subscribe failed for %s (%s): %v", sessionID, userID, username, err)
	}

	log.Printf("user %s (%s) joined session %s", userID, username, sessionID)
	return current, nil
}

// UpdateParticipantStatus writes one participant's status entry and refreshes
// lastUpdateTime, touching nothing else.
func (c *Coordinator) UpdateParticipantStatus(ctx context.Context, sessionID, userID string, status model.ParticipantStatus) error {
	now := c.now()
	if err := c.repo.SetParticipantStatus(ctx, sessionID, userID, status, now); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	// Replace the tracked snapshot rather than mutating it; concurrent
	// readers may still hold the old one.
	c.mu.Lock()
	if s, ok := c.tracked[sessionID]; ok {
		next := s.Clone()
		next.ParticipantStatus[userID] = status
		next.LastUpdateTime = now
		c.tracked[sessionID] = next
	}
	c.mu.Unlock()
	return nil
}

// EndSession marks a participant's terminal status and, when that leaves
// every participant terminal, schedules the document's deletion after a grace
// delay so observers still render the final state before it disappears.
//
// A completed participant's focus minutes are credited to their lifetime
// stats and the leaderboard; the completed-session counter is also what
// unlocks joining friend sessions later.
func (c *Coordinator) EndSession(ctx context.Context, sessionID, userID, username string, wasSuccessful bool) error {
	status := model.StatusFailed
	if wasSuccessful {
		status = model.StatusCompleted
	}

	if err := c.UpdateParticipantStatus(ctx, sessionID, userID, status); err != nil {
		return err
	}

	current, err := c.repo.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to read session after end: %w", err)
	}
	if current == nil {
		return nil // Already reaped
	}

	if wasSuccessful {
		minutes := current.ElapsedSeconds() / 60
		if minutes <= 0 {
			minutes = current.TargetDuration
		}
		if err := c.stats.IncrementCompleted(ctx, userID, username, minutes); err != nil {
			log.Printf("end %s: stats update failed for %s: %v", sessionID, userID, err)
		}
		if err := c.leaderboard.AddMinutes(ctx, userID, minutes); err != nil {
			log.Printf("end %s: leaderboard update failed for %s: %v", sessionID, userID, err)
		}
	}

	if current.AllTerminal() {
		log.Printf("session %s fully finished, deleting after grace delay", sessionID)
		time.AfterFunc(c.grace, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.repo.Delete(ctx, sessionID); err != nil {
				log.Printf("session %s: grace delete failed: %v", sessionID, err)
			}
			c.Evict(context.Background(), sessionID)
		})
	}
	return nil
}

// ObserveSession establishes the push subscription for a session. Inbound
// snapshots are validated, tracked, cached, and fanned out; a deleted or
// unparseable document fires onRemoved once and tears the stream down.
// Registering a second observer for the same id replaces the first.
//
// The stream runs on the coordinator's own context, not a request context:
// it stays live until Unobserve, a removal event, or Close.
func (c *Coordinator) ObserveSession(sessionID string, onUpdate func(*model.LiveSession), onRemoved func(sessionID string)) error {
	stream, err := c.repo.Watch(c.ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to watch session: %w", err)
	}

	sub := &subscription{stream: stream, onRemoved: onRemoved}

	c.mu.Lock()
	if prior, ok := c.streams[sessionID]; ok {
		prior.close()
	}
	c.streams[sessionID] = sub
	c.mu.Unlock()

	go func() {
		for ev := range stream.Events() {
			switch ev.Type {
			case repository.EventUpdated:
				c.track(ev.Session)
				if c.sessions != nil {
					if err := c.sessions.Set(c.ctx, ev.Session); err != nil {
						log.Printf("observe %s: cache set failed: %v", sessionID, err)
					}
				}
				if onUpdate != nil {
					onUpdate(ev.Session)
				}
				if c.broadcaster != nil {
					c.broadcaster.SessionUpdated(ev.Session)
				}
			case repository.EventRemoved:
				c.dropSession(c.ctx, sessionID, sub)
				return
			}
		}
		// Stream ended without a removal event (teardown or context
		// cancellation); just clear the registry slot.
		c.clearStream(sessionID, sub)
	}()

	return nil
}

// Unobserve tears down the subscription for a session, if any. Every
// ObserveSession must eventually be matched by Unobserve, a removal event, or
// coordinator Close.
func (c *Coordinator) Unobserve(sessionID string) {
	c.mu.Lock()
	sub, ok := c.streams[sessionID]
	if ok {
		delete(c.streams, sessionID)
	}
	c.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Evict removes a session from the local view and notifies observers it is
// gone. The reaper calls this after deleting a dead session's document.
func (c *Coordinator) Evict(ctx context.Context, sessionID string) {
	c.mu.Lock()
	sub := c.streams[sessionID]
	c.mu.Unlock()
	c.dropSession(ctx, sessionID, sub)
}

func (c *Coordinator) dropSession(ctx context.Context, sessionID string, sub *subscription) {
	c.mu.Lock()
	delete(c.tracked, sessionID)
	if sub != nil && c.streams[sessionID] == sub {
		delete(c.streams, sessionID)
	}
	delete(c.guards, sessionID)
	c.mu.Unlock()

	if sub != nil {
		sub.close()
	}
	if c.sessions != nil {
		if err := c.sessions.Delete(ctx, sessionID); err != nil {
			log.Printf("evict %s: cache delete failed: %v", sessionID, err)
		}
	}
	if sub != nil && sub.onRemoved != nil {
		sub.onRemoved(sessionID)
	}
	if c.broadcaster != nil {
		c.broadcaster.SessionRemoved(sessionID)
	}
}

func (c *Coordinator) clearStream(sessionID string, sub *subscription) {
	c.mu.Lock()
	if c.streams[sessionID] == sub {
		delete(c.streams, sessionID)
	}
	c.mu.Unlock()
}

// ListFriendSessions returns the live sessions any of the given friends is
// in. Before re-populating from a fresh query, locally tracked sessions past
// the loose refresh staleness bound are purged; surviving query results are
// filtered through the same liveness predicate so a technically undeleted
// but logically dead session is never surfaced.
func (c *Coordinator) ListFriendSessions(ctx context.Context, friendIDs []string) ([]*model.LiveSession, error) {
	c.purgeStale(ctx, RefreshStaleness)

	found, err := c.repo.FindByParticipants(ctx, friendIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query friend sessions: %w", err)
	}
	return c.surface(ctx, found), nil
}

// ListBuildingSessions returns live sessions scoped to a building, filtered
// the same way as ListFriendSessions.
func (c *Coordinator) ListBuildingSessions(ctx context.Context, buildingID string) ([]*model.LiveSession, error) {
	found, err := c.repo.FindByBuilding(ctx, buildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query building sessions: %w", err)
	}
	return c.surface(ctx, found), nil
}

func (c *Coordinator) surface(ctx context.Context, found []*model.LiveSession) []*model.LiveSession {
	now := c.now()
	live := make([]*model.LiveSession, 0, len(found))
	for _, s := range found {
		if isDead(s, now, RefreshStaleness) {
			continue
		}
		live = append(live, s)
		c.track(s)
		if c.sessions != nil {
			if err := c.sessions.Set(ctx, s); err != nil {
				log.Printf("list: cache set failed for %s: %v", s.ID, err)
			}
		}
	}
	return live
}

// purgeStale evicts tracked sessions silent past the given bound without
// deleting their documents; the continuous reaper owns remote deletion.
func (c *Coordinator) purgeStale(ctx context.Context, silence time.Duration) {
	now := c.now()
	c.mu.RLock()
	var dead []string
	for id, s := range c.tracked {
		if isDead(s, now, silence) {
			dead = append(dead, id)
		}
	}
	c.mu.RUnlock()

	for _, id := range dead {
		c.Evict(ctx, id)
	}
}

// TrackedSessions snapshots the sessions this instance currently tracks.
// Returned values are independent copies.
func (c *Coordinator) TrackedSessions() []*model.LiveSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.LiveSession, 0, len(c.tracked))
	for _, s := range c.tracked {
		out = append(out, s.Clone())
	}
	return out
}

// GetSession returns the locally tracked view of a session, falling back to
// a store read (which also starts tracking it).
func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (*model.LiveSession, error) {
	if s := c.Tracked(sessionID); s != nil {
		return s, nil
	}
	s, err := c.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	c.track(s)
	return s, nil
}

// Tracked returns an independent copy of the locally tracked view of one
// session, if any.
func (c *Coordinator) Tracked(sessionID string) *model.LiveSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracked[sessionID].Clone()
}

// Close tears down every live subscription and cancels the streams'
// lifetime context.
func (c *Coordinator) Close() {
	c.cancel()
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.streams))
	for id, sub := range c.streams {
		subs = append(subs, sub)
		delete(c.streams, id)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (c *Coordinator) track(s *model.LiveSession) {
	if s == nil {
		return
	}
	c.mu.Lock()
	c.tracked[s.ID] = s.Clone()
	c.mu.Unlock()
}

func (c *Coordinator) guard(sessionID string) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.guards[sessionID]
	if !ok {
		g = semaphore.NewWeighted(1)
		c.guards[sessionID] = g
	}
	return g
}
