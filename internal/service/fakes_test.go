package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"flipfocus/internal/cache"
	"flipfocus/internal/model"
	"flipfocus/internal/repository"
)

// fakeSessionRepo mimics the document store's field-level update semantics in
// memory: MergeTick and SetParticipantStatus touch only their own fields, and
// AddParticipant is an idempotent set union.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.LiveSession
	streams  map[string]*fakeStream

	failGet    bool
	failUpdate bool
	deleted    []string

	lastWatchCtx context.Context
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions: make(map[string]*model.LiveSession),
		streams:  make(map[string]*fakeStream),
	}
}

func cloneSession(s *model.LiveSession) *model.LiveSession {
	return s.Clone()
}

func (r *fakeSessionRepo) put(s *model.LiveSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = cloneSession(s)
}

func (r *fakeSessionRepo) stored(id string) *model.LiveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return cloneSession(s)
	}
	return nil
}

func (r *fakeSessionRepo) Get(ctx context.Context, id string) (*model.LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet {
		return nil, errors.New("store unavailable")
	}
	if s, ok := r.sessions[id]; ok {
		return cloneSession(s), nil
	}
	return nil, nil
}

func (r *fakeSessionRepo) Create(ctx context.Context, session *model.LiveSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate {
		return errors.New("store unavailable")
	}
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *fakeSessionRepo) MergeTick(ctx context.Context, id, userID string, remainingSeconds int, isPaused bool, status model.ParticipantStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate {
		return errors.New("store unavailable")
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	s.RemainingSeconds = remainingSeconds
	s.IsPaused = isPaused
	s.ParticipantStatus[userID] = status
	s.LastUpdateTime = at
	return nil
}

func (r *fakeSessionRepo) AddParticipant(ctx context.Context, id, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate {
		return errors.New("store unavailable")
	}
	s, ok := r.sessions[id]
	if !ok || s.HasParticipant(userID) {
		return nil
	}
	s.Participants = append(s.Participants, userID)
	s.JoinTimes[userID] = at
	s.ParticipantStatus[userID] = model.StatusActive
	s.LastUpdateTime = at
	return nil
}

func (r *fakeSessionRepo) SetParticipantStatus(ctx context.Context, id, userID string, status model.ParticipantStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate {
		return errors.New("store unavailable")
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	s.ParticipantStatus[userID] = status
	s.LastUpdateTime = at
	return nil
}

func (r *fakeSessionRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakeSessionRepo) DeleteAll(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.sessions, id)
		r.deleted = append(r.deleted, id)
	}
	return nil
}

func (r *fakeSessionRepo) FindByParticipants(ctx context.Context, userIDs []string) ([]*model.LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.LiveSession
	for _, s := range r.sessions {
		for _, id := range userIDs {
			if s.HasParticipant(id) {
				out = append(out, cloneSession(s))
				break
			}
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) FindByBuilding(ctx context.Context, buildingID string) ([]*model.LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.LiveSession
	for _, s := range r.sessions {
		if s.BuildingID == buildingID {
			out = append(out, cloneSession(s))
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) Watch(ctx context.Context, id string) (repository.SessionStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastWatchCtx = ctx
	stream := &fakeStream{events: make(chan repository.SessionEvent, 16)}
	r.streams[id] = stream
	return stream, nil
}

func (r *fakeSessionRepo) streamFor(id string) *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[id]
}

type fakeStream struct {
	events    chan repository.SessionEvent
	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

func (s *fakeStream) Events() <-chan repository.SessionEvent {
	return s.events
}

func (s *fakeStream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.events)
	})
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) push(ev repository.SessionEvent) {
	s.events <- ev
}

func sessionRemovedEvent() repository.SessionEvent {
	return repository.SessionEvent{Type: repository.EventRemoved}
}

type fakeStatsRepo struct {
	mu    sync.Mutex
	stats map[string]*model.UserStats
}

func newFakeStatsRepo() *fakeStatsRepo {
	return &fakeStatsRepo{stats: make(map[string]*model.UserStats)}
}

func (r *fakeStatsRepo) Get(ctx context.Context, userID string) (*model.UserStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[userID]; ok {
		c := *s
		return &c, nil
	}
	return nil, nil
}

func (r *fakeStatsRepo) IncrementCompleted(ctx context.Context, userID, username string, focusMinutes int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[userID]
	if !ok {
		s = &model.UserStats{UserID: userID}
		r.stats[userID] = s
	}
	s.Username = username
	s.CompletedSessions++
	s.TotalFocusMinutes += focusMinutes
	s.LastCompletedAt = time.Now()
	return nil
}

type fakeSessionCache struct {
	mu       sync.Mutex
	sessions map[string]*model.LiveSession
}

func newFakeSessionCache() *fakeSessionCache {
	return &fakeSessionCache{sessions: make(map[string]*model.LiveSession)}
}

func (c *fakeSessionCache) Set(ctx context.Context, session *model.LiveSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[session.ID] = cloneSession(session)
	return nil
}

func (c *fakeSessionCache) Get(ctx context.Context, id string) (*model.LiveSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[id]; ok {
		return cloneSession(s), nil
	}
	return nil, nil
}

func (c *fakeSessionCache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
	return nil
}

type fakeLeaderboard struct {
	mu      sync.Mutex
	minutes map[string]int
}

func newFakeLeaderboard() *fakeLeaderboard {
	return &fakeLeaderboard{minutes: make(map[string]int)}
}

func (l *fakeLeaderboard) AddMinutes(ctx context.Context, userID string, minutes int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minutes[userID] += minutes
	return nil
}

func (l *fakeLeaderboard) GetTop(ctx context.Context, limit int) ([]cache.LeaderboardEntry, error) {
	return nil, nil
}

func (l *fakeLeaderboard) GetRank(ctx context.Context, userID string) (int64, error) {
	return -1, nil
}
