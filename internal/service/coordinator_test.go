package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"flipfocus/internal/model"
	"flipfocus/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(repo *fakeSessionRepo) *Coordinator {
	c := NewCoordinator(repo, newFakeStatsRepo(), newFakeSessionCache(), newFakeLeaderboard())
	c.grace = 20 * time.Millisecond
	return c
}

func testSession(id, starter string, remaining int) *model.LiveSession {
	now := time.Now()
	return &model.LiveSession{
		ID:               id,
		StarterID:        starter,
		StarterUsername:  "starter",
		Participants:     []string{starter},
		StartTime:        now,
		TargetDuration:   25,
		RemainingSeconds: remaining,
		JoinTimes:        map[string]time.Time{starter: now},
		ParticipantStatus: map[string]model.ParticipantStatus{
			starter: model.StatusActive,
		},
		LastUpdateTime: now,
	}
}

func TestJoinSessionIdempotent(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.put(testSession("s1", "alice", 1400))
	coord := newTestCoordinator(repo)

	first, err := coord.JoinSession(context.Background(), "s1", "bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, first.Participants)

	second, err := coord.JoinSession(context.Background(), "s1", "bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, second.Participants)

	stored := repo.stored("s1")
	assert.Equal(t, []string{"alice", "bob"}, stored.Participants)
	assert.Len(t, stored.JoinTimes, 2)
	assert.Len(t, stored.ParticipantStatus, 2)
	assert.Equal(t, model.StatusActive, stored.ParticipantStatus["bob"])
}

func TestJoinSessionRejectsSelfJoin(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.put(testSession("s1", "alice", 1400))
	coord := newTestCoordinator(repo)

	_, err := coord.JoinSession(context.Background(), "s1", "alice", "Alice")
	assert.ErrorIs(t, err, ErrSelfJoin)
}

func TestJoinSessionRejectsUnauthenticated(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.put(testSession("s1", "alice", 1400))
	coord := newTestCoordinator(repo)

	_, err := coord.JoinSession(context.Background(), "s1", "", "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestJoinSessionRejectsMissing(t *testing.T) {
	coord := newTestCoordinator(newFakeSessionRepo())

	_, err := coord.JoinSession(context.Background(), "nope", "bob", "Bob")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestJoinSessionCapacity(t *testing.T) {
	repo := newFakeSessionRepo()
	s := testSession("s1", "alice", 1400)
	coord := newTestCoordinator(repo)
	repo.put(s)

	for _, u := range []string{"bob", "carol", "dave"} {
		_, err := coord.JoinSession(context.Background(), "s1", u, u)
		require.NoError(t, err)
	}

	_, err := coord.JoinSession(context.Background(), "s1", "eve", "Eve")
	assert.ErrorIs(t, err, ErrSessionFull)
	assert.Len(t, repo.stored("s1").Participants, model.MaxParticipants)

	// Re-join by an existing participant is still fine at capacity.
	_, err = coord.JoinSession(context.Background(), "s1", "dave", "Dave")
	assert.NoError(t, err)
}

func TestJoinSessionTimeFloor(t *testing.T) {
	repo := newFakeSessionRepo()
	coord := newTestCoordinator(repo)

	repo.put(testSession("low", "alice", model.JoinFloorSeconds))
	_, err := coord.JoinSession(context.Background(), "low", "bob", "Bob")
	assert.ErrorIs(t, err, ErrTooLittleTime)

	repo.put(testSession("ok", "alice", model.JoinFloorSeconds+1))
	_, err = coord.JoinSession(context.Background(), "ok", "bob", "Bob")
	assert.NoError(t, err)
}

func TestJoinSessionRejectsSilentSession(t *testing.T) {
	repo := newFakeSessionRepo()
	s := testSession("s1", "alice", 1400)
	s.LastUpdateTime = time.Now().Add(-121 * time.Second)
	repo.put(s)
	coord := newTestCoordinator(repo)

	_, err := coord.JoinSession(context.Background(), "s1", "bob", "Bob")
	assert.ErrorIs(t, err, ErrSessionStale)
}

func TestJoinSessionRepeatKeepsOriginalJoinTime(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.put(testSession("s1", "alice", 1400))
	coord := newTestCoordinator(repo)

	base := time.Now()
	coord.now = func() time.Time { return base }
	_, err := coord.JoinSession(context.Background(), "s1", "bob", "Bob")
	require.NoError(t, err)

	coord.now = func() time.Time { return base.Add(30 * time.Second) }
	_, err = coord.JoinSession(context.Background(), "s1", "bob", "Bob")
	require.NoError(t, err)

	assert.Equal(t, base, repo.stored("s1").JoinTimes["bob"],
		"a repeat join must not overwrite the original join timestamp")
}

func TestJoinSubscriptionSurvivesCallerContext(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.put(testSession("s1", "alice", 1400))
	coord := newTestCoordinator(repo)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := coord.JoinSession(ctx, "s1", "bob", "Bob")
	require.NoError(t, err)
	cancel()

	require.NotNil(t, repo.lastWatchCtx)
	assert.NoError(t, repo.lastWatchCtx.Err(),
		"the stream context must not die with the join request's context")

	// The stream keeps delivering after the caller's context is gone.
	updated := testSession("s1", "alice", 1200)
	updated.Participants = []string{"alice", "bob"}
	repo.streamFor("s1").push(repository.SessionEvent{Type: repository.EventUpdated, Session: updated})

	assert.Eventually(t, func() bool {
		s := coord.Tracked("s1")
		return s != nil && s.RemainingSeconds == 1200
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcastCreatesSessionOnFirstTick(t *testing.T) {
	repo := newFakeSessionRepo()
	coord := newTestCoordinator(repo)

	local := testSession("s1", "alice", 1500)
	local.Participants = []string{"alice", "ghost"} // Local view cannot invent members
	coord.BroadcastState(context.Background(), "alice", local)

	stored := repo.stored("s1")
	require.NotNil(t, stored)
	assert.Equal(t, []string{"alice"}, stored.Participants)
	assert.Equal(t, "alice", stored.StarterID)
	assert.Equal(t, 1500, stored.RemainingSeconds)
	assert.Equal(t, model.StatusActive, stored.ParticipantStatus["alice"])
}

func TestBroadcastFieldIsolation(t *testing.T) {
	repo := newFakeSessionRepo()
	s := testSession("s1", "alice", 1400)
	s.Participants = []string{"alice", "bob"}
	s.JoinTimes["bob"] = time.Now()
	s.ParticipantStatus["bob"] = model.StatusFailed
	repo.put(s)
	coord := newTestCoordinator(repo)

	// A stale local view from alice: she has not seen bob fail yet.
	local := testSession("s1", "alice", 1399)
	local.IsPaused = true
	coord.BroadcastState(context.Background(), "alice", local)

	stored := repo.stored("s1")
	assert.Equal(t, 1399, stored.RemainingSeconds)
	assert.True(t, stored.IsPaused)
	assert.Equal(t, model.StatusFailed, stored.ParticipantStatus["bob"], "broadcast must not clobber another participant's status")
	assert.Equal(t, []string{"alice", "bob"}, stored.Participants)
	assert.Len(t, stored.JoinTimes, 2)
}

func TestBroadcastRefusesCreateWithoutDuration(t *testing.T) {
	repo := newFakeSessionRepo()
	coord := newTestCoordinator(repo)

	local := testSession("s1", "alice", 1500)
	local.TargetDuration = 0
	coord.BroadcastState(context.Background(), "alice", local)

	assert.Nil(t, repo.stored("s1"), "a session without a target duration must never be created")
	assert.Nil(t, coord.Tracked("s1"))
}

func TestBroadcastClampsRemainingSeconds(t *testing.T) {
	repo := newFakeSessionRepo()
	coord := newTestCoordinator(repo)

	// Create path: an out-of-range countdown is clamped to the duration.
	over := testSession("s1", "alice", 99999)
	coord.BroadcastState(context.Background(), "alice", over)
	assert.Equal(t, 25*60, repo.stored("s1").RemainingSeconds)

	// Merge path: a negative countdown floors at zero.
	under := testSession("s1", "alice", -5)
	coord.BroadcastState(context.Background(), "alice", under)
	assert.Equal(t, 0, repo.stored("s1").RemainingSeconds)
}

func TestBroadcastSwallowsStoreErrors(t *testing.T) {
	repo := newFakeSessionRepo()
	s := testSession("s1", "alice", 1400)
	repo.put(s)
	repo.failUpdate = true
	coord := newTestCoordinator(repo)

	local := testSession("s1", "alice", 1399)
	coord.BroadcastState(context.Background(), "alice", local) // Must not panic or error out

	assert.Equal(t, 1400, repo.stored("s1").RemainingSeconds)
}

func TestEndSessionSchedulesDeletionAfterGrace(t *testing.T) {
	repo := newFakeSessionRepo()
	s := testSession("s1", "alice", 900)
	s.Participants = []string{"alice", "bob"}
	s.JoinTimes["bob"] = time.Now()
	s.ParticipantStatus["bob"] = model.StatusFailed
	repo.put(s)
	coord := newTestCoordinator(repo)

	require.NoError(t, coord.EndSession(context.Background(), "s1", "alice", "Alice", true))

	// The document must survive the grace window so observers can render
	// the terminal state.
	stored := repo.stored("s1")
	require.NotNil(t, stored)
	assert.Equal(t, model.StatusCompleted, stored.ParticipantStatus["alice"])

	assert.Eventually(t, func() bool {
		return repo.stored("s1") == nil
	}, time.Second, 5*time.Millisecond, "session should be deleted after the grace delay")
}

func TestEndSessionLeavesDocumentWhileOthersActive(t *testing.T) {
	repo := newFakeSessionRepo()
	s := testSession("s1", "alice", 900)
	s.Participants = []string{"alice", "bob"}
	s.JoinTimes["bob"] = time.Now()
	s.ParticipantStatus["bob"] = model.StatusActive
	repo.put(s)
	coord := newTestCoordinator(repo)

	require.NoError(t, coord.EndSession(context.Background(), "s1", "alice", "Alice", false))

	time.Sleep(60 * time.Millisecond)
	assert.NotNil(t, repo.stored("s1"), "document must stay while a participant is still active")
}

func TestEndSessionCreditsCompletedMinutes(t *testing.T) {
	repo := newFakeSessionRepo()
	s := testSession("s1", "alice", 900) // 10 of 25 minutes elapsed
	repo.put(s)

	stats := newFakeStatsRepo()
	lb := newFakeLeaderboard()
	coord := NewCoordinator(repo, stats, newFakeSessionCache(), lb)
	coord.grace = 10 * time.Millisecond

	require.NoError(t, coord.EndSession(context.Background(), "s1", "alice", "Alice", true))

	got, err := stats.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.CompletedSessions)
	assert.Equal(t, 10, got.TotalFocusMinutes)
	assert.Equal(t, 10, lb.minutes["alice"])
}

func TestObserveSessionReplacesPriorSubscription(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.put(testSession("s1", "alice", 1400))
	coord := newTestCoordinator(repo)

	require.NoError(t, coord.ObserveSession("s1", nil, nil))
	first := repo.streamFor("s1")
	require.NotNil(t, first)

	require.NoError(t, coord.ObserveSession("s1", nil, nil))
	assert.Eventually(t, first.isClosed, time.Second, 5*time.Millisecond,
		"registering a second observer must tear down the first stream")
}

func TestObserveSessionRemovalFiresOnce(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.put(testSession("s1", "alice", 1400))
	coord := newTestCoordinator(repo)

	removed := make(chan string, 2)
	require.NoError(t, coord.ObserveSession("s1", nil, func(id string) {
		removed <- id
	}))

	stream := repo.streamFor("s1")
	stream.push(sessionRemovedEvent())

	select {
	case id := <-removed:
		assert.Equal(t, "s1", id)
	case <-time.After(time.Second):
		t.Fatal("onRemoved never fired")
	}

	assert.Eventually(t, stream.isClosed, time.Second, 5*time.Millisecond)
	assert.Nil(t, coord.Tracked("s1"))

	select {
	case <-removed:
		t.Fatal("onRemoved fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnobserveTearsDownStream(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.put(testSession("s1", "alice", 1400))
	coord := newTestCoordinator(repo)

	require.NoError(t, coord.ObserveSession("s1", nil, nil))
	coord.Unobserve("s1")

	assert.Eventually(t, repo.streamFor("s1").isClosed, time.Second, 5*time.Millisecond)
}

func TestCloseTearsDownAllStreams(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.put(testSession("s1", "alice", 1400))
	repo.put(testSession("s2", "bob", 1400))
	coord := newTestCoordinator(repo)

	require.NoError(t, coord.ObserveSession("s1", nil, nil))
	require.NoError(t, coord.ObserveSession("s2", nil, nil))
	coord.Close()

	assert.Eventually(t, func() bool {
		return repo.streamFor("s1").isClosed() && repo.streamFor("s2").isClosed()
	}, time.Second, 5*time.Millisecond)
}

func TestTrackedSnapshotsAreIsolated(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.put(testSession("s1", "alice", 1400))
	coord := newTestCoordinator(repo)

	snap, err := coord.GetSession(context.Background(), "s1")
	require.NoError(t, err)

	require.NoError(t, coord.UpdateParticipantStatus(context.Background(), "s1", "alice", model.StatusPaused))
	assert.Equal(t, model.StatusActive, snap.ParticipantStatus["alice"],
		"an already returned snapshot must not change underfoot")

	// Nor does mutating a returned snapshot leak into the tracked view.
	snap.ParticipantStatus["alice"] = model.StatusFailed
	assert.Equal(t, model.StatusPaused, coord.Tracked("s1").ParticipantStatus["alice"])
}

func TestConcurrentStatusUpdatesAndSweeps(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.put(testSession("s1", "alice", 1400))
	coord := newTestCoordinator(repo)
	reaper := NewReaper(coord, repo)

	_, err := coord.GetSession(context.Background(), "s1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			status := model.StatusPaused
			if i%2 == 0 {
				status = model.StatusActive
			}
			_ = coord.UpdateParticipantStatus(context.Background(), "s1", "alice", status)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			reaper.Sweep(context.Background())
		}
	}()
	wg.Wait()

	assert.NotNil(t, repo.stored("s1"), "a live session must survive concurrent sweeps")
}

func TestListFriendSessionsFiltersDead(t *testing.T) {
	repo := newFakeSessionRepo()
	coord := newTestCoordinator(repo)

	live := testSession("live", "alice", 1400)
	repo.put(live)

	silent := testSession("silent", "bob", 1400)
	silent.LastUpdateTime = time.Now().Add(-6 * time.Minute)
	repo.put(silent)

	finished := testSession("done", "carol", 1400)
	finished.ParticipantStatus["carol"] = model.StatusCompleted
	repo.put(finished)

	sessions, err := coord.ListFriendSessions(context.Background(), []string{"alice", "bob", "carol"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "live", sessions[0].ID)
}

func TestListBuildingSessions(t *testing.T) {
	repo := newFakeSessionRepo()
	coord := newTestCoordinator(repo)

	s := testSession("s1", "alice", 1400)
	s.BuildingID = "bldg_library"
	repo.put(s)
	repo.put(testSession("s2", "bob", 1400))

	sessions, err := coord.ListBuildingSessions(context.Background(), "bldg_library")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
}

// Full lifecycle: create via broadcast, join, tick, fail, complete, reap.
func TestSessionLifecycle(t *testing.T) {
	repo := newFakeSessionRepo()
	coord := newTestCoordinator(repo)
	ctx := context.Background()

	local := testSession("s1", "alice", 1500)
	coord.BroadcastState(ctx, "alice", local)
	require.NotNil(t, repo.stored("s1"))

	local.RemainingSeconds = 1400
	coord.BroadcastState(ctx, "alice", local)

	joined, err := coord.JoinSession(ctx, "s1", "bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, joined.Participants)

	local.RemainingSeconds = 1399
	coord.BroadcastState(ctx, "alice", local)
	assert.Equal(t, 1399, repo.stored("s1").RemainingSeconds)

	require.NoError(t, coord.EndSession(ctx, "s1", "bob", "Bob", false))
	assert.Equal(t, model.StatusFailed, repo.stored("s1").ParticipantStatus["bob"])

	require.NoError(t, coord.EndSession(ctx, "s1", "alice", "Alice", true))

	assert.Eventually(t, func() bool {
		return repo.stored("s1") == nil
	}, time.Second, 5*time.Millisecond)
}
