package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wakegate/wakegate/logger"
)

const (
	DefaultPruneSchedule = "@daily"
	DefaultRetention     = 720 * time.Hour
)

// Pruner deletes old events on a cron schedule
type Pruner struct {
	store     *Store
	retention time.Duration
	schedule  string
	cron      *cron.Cron
}

func NewPruner(store *Store, schedule string, retention time.Duration) (*Pruner, error) {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return &Pruner{store: store, retention: retention, schedule: schedule}, nil
}

// Start registers the prune job and starts the cron runner
func (p *Pruner) Start(ctx context.Context) error {
	p.cron = cron.New()
	if _, err := p.cron.AddFunc(p.schedule, func() { p.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule audit pruning: %w", err)
	}
	p.cron.Start()
	logger.Info("[AUDIT] Pruner started", "schedule", p.schedule, "retention", p.retention)
	return nil
}

// RunOnce prunes immediately
func (p *Pruner) RunOnce(ctx context.Context) {
	n, err := p.store.Prune(ctx, p.retention)
	if err != nil {
		logger.Error("[AUDIT] Prune failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("[AUDIT] Pruned power events", "deleted", n, "retention", p.retention)
	}
}

// Stop halts the cron runner and waits for a running prune
func (p *Pruner) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	logger.Info("[AUDIT] Pruner stopped")
}
