package datasync

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Reconciler refreshes every collection on a cron schedule, catching
// changes made outside the assistant.
type Reconciler struct {
	cron   *cron.Cron
	sync   *Synchronizer
	logger *slog.Logger
}

func NewReconciler(schedule string, s *Synchronizer, logger *slog.Logger) (*Reconciler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		cron:   cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
		sync:   s,
		logger: logger.With("component", "reconciler"),
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("reconcile schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Reconciler) run() {
	cols := r.sync.RefreshAll()
	r.logger.Info("reconcile started", "collections", len(cols))
}

func (r *Reconciler) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running job to return.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}
