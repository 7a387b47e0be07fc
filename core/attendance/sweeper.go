package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/mahudhurio/core"
)

// Sweeper periodically purges terminal sessions past the retention window.
// It runs on its own goroutine, never on the request path; a failed run is
// logged and does not block the next one.
type Sweeper struct {
	svc      *Service
	logger   core.Logger
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(svc *Service, logger core.Logger, conf *core.Config) *Sweeper {
	return &Sweeper{
		svc:      svc,
		logger:   logger,
		interval: conf.Attendance.SweepInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (sw *Sweeper) Start() {
	go sw.run()
}

func (sw *Sweeper) Stop() {
	close(sw.stop)
	<-sw.done
}

func (sw *Sweeper) run() {
	defer close(sw.done)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.RunOnce(context.Background(), "scheduled")
		case <-sw.stop:
			return
		}
	}
}

// RunOnce performs a single sweep and returns the number of sessions removed.
func (sw *Sweeper) RunOnce(ctx context.Context, label string) int {
	removed, err := sw.svc.Sweep(ctx)
	if err != nil {
		sw.logger.Error(fmt.Sprintf("attendance sweep (%s) failed: %v", label, err), err)
		return 0
	}
	sw.logger.Info(fmt.Sprintf("attendance sweep (%s): removed %d sessions", label, removed))
	return removed
}
