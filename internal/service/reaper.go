package service

import (
	"context"
	"log"
	"time"

	"flipfocus/internal/model"
	"flipfocus/internal/repository"
)

const (
	// ReapInterval is how often the continuous sweep runs.
	ReapInterval = 15 * time.Second
	// ReapSilence is the tight staleness bound used by the continuous
	// sweep: one minute without a broadcast and a session is dead.
	ReapSilence = 60 * time.Second
	// RefreshStaleness is the looser bound used when a full list refresh
	// re-populates the view; keeping it wide prevents refresh flicker.
	RefreshStaleness = 5 * time.Minute
)

// isDead is the shared termination predicate: a session is dead when its
// countdown has hit zero, it has gone silent past the given bound, every
// participant is terminal, or its natural end time has passed.
func isDead(s *model.LiveSession, now time.Time, silence time.Duration) bool {
	if s.RemainingSeconds <= 0 {
		return true
	}
	if now.Sub(s.LastUpdateTime) > silence {
		return true
	}
	if s.AllTerminal() {
		return true
	}
	return now.After(s.NaturalEnd())
}

// Reaper periodically sweeps the coordinator's locally tracked sessions and
// deletes the ones that are dead. Every client reaps its own view; the shared
// store is only cleaned when some client decides a session is gone, and a
// failed delete is simply left for a later pass or another client.
type Reaper struct {
	coord *Coordinator
	repo  repository.SessionRepo

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}

	now func() time.Time
}

// NewReaper creates a reaper over the coordinator's tracked view.
func NewReaper(coord *Coordinator, repo repository.SessionRepo) *Reaper {
	return &Reaper{
		coord:    coord,
		repo:     repo,
		interval: ReapInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the periodic sweep. Stop it with Stop.
func (r *Reaper) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				r.Sweep(ctx)
				cancel()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep and waits for the current pass to finish.
func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

// Sweep runs one reap pass: evict every dead tracked session and delete its
// document. Exposed so tests and the refresh path can reap on demand.
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.now()

	var dead []string
	for _, s := range r.coord.TrackedSessions() {
		if isDead(s, now, ReapSilence) {
			dead = append(dead, s.ID)
		}
	}
	if len(dead) == 0 {
		return
	}

	log.Printf("reaper: removing %d dead session(s)", len(dead))
	if err := r.repo.DeleteAll(ctx, dead); err != nil {
		// Not retried here; a future pass or another client gets it.
		log.Printf("reaper: delete failed: %v", err)
	}
	for _, id := range dead {
		r.coord.Evict(ctx, id)
	}
}
