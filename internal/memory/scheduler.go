package memory

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
)

// Scheduler runs the time-driven memory upkeep spec.md leaves implicit:
// consolidation itself is event-driven (every 10 appends, see
// ShouldConsolidate), but a daily sweep catches users who append less
// than 10 times a day and would otherwise never consolidate. Grounded
// on teradata-labs/loom's cron wiring for periodic background jobs.
type Scheduler struct {
	cron   *cron.Cron
	sync   *Store
	lb     *providers.LoadBalancedProvider
	users  func(ctx context.Context) []string
	logger *slog.Logger
}

// NewScheduler wires a daily consolidation sweep at 03:00. users supplies
// the user ids to sweep (cmd/serve.go passes every known user id from the
// identity layer; kept as an injected func here to avoid a store->
// identity import cycle).
func NewScheduler(store *Store, lb *providers.LoadBalancedProvider, users func(ctx context.Context) []string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cron: cron.New(), sync: store, lb: lb, users: users, logger: logger}
}

// Start registers the daily job and begins running it in the
// background. Returns the cron entry id for Stop/inspection.
func (s *Scheduler) Start() (cron.EntryID, error) {
	id, err := s.cron.AddFunc("0 3 * * *", s.runDailySweep)
	if err != nil {
		return 0, err
	}
	s.cron.Start()
	return id, nil
}

func (s *Scheduler) runDailySweep() {
	ctx := context.Background()
	for _, userID := range s.users(ctx) {
		s.sync.Consolidate(ctx, s.lb, userID)
	}
}

// Stop halts the scheduler, waiting for any in-flight job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
