package compaction

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bookinglake/bookinglake/internal/partition"
)

// Config holds configuration for the compaction daemon.
type Config struct {
	// CheckInterval is how often the daemon looks for days to compact.
	CheckInterval time.Duration

	// LookbackDays is how many completed UTC days each cycle compacts,
	// counting back from yesterday (default: 1).
	LookbackDays int

	// DownloadConcurrency bounds parallel source downloads (default: 16).
	DownloadConcurrency int

	// WorkDir is the parent of per-run scratch directories.
	WorkDir string
}

// DefaultConfig returns the default compaction configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:       time.Hour,
		LookbackDays:        1,
		DownloadConcurrency: 16,
		WorkDir:             os.TempDir(),
	}
}

// Daemon runs compaction of completed days in the background.
type Daemon struct {
	config    Config
	compactor *Compactor
	clock     partition.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a new compaction daemon. A nil clock means wall time.
func NewDaemon(config Config, compactor *Compactor, clock partition.Clock, logger *zap.Logger) *Daemon {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultConfig().CheckInterval
	}
	if config.LookbackDays <= 0 {
		config.LookbackDays = 1
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{
		config:    config,
		compactor: compactor,
		clock:     clock,
		logger:    logger.Named("compaction-daemon"),
	}
}

// Start begins the compaction loop. It runs until the context is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("compaction: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop gracefully stops the compaction daemon.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.cancel()
	<-d.done
	d.running = false
	return nil
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	d.runOnce(ctx)

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

// runOnce compacts each completed day in the lookback window, oldest first.
// A failed day is logged and the cycle moves on.
func (d *Daemon) runOnce(ctx context.Context) []*Result {
	today := d.clock().UTC().Truncate(24 * time.Hour)

	var results []*Result
	for i := d.config.LookbackDays; i >= 1; i-- {
		if ctx.Err() != nil {
			return results
		}
		day := today.AddDate(0, 0, -i)
		res, err := d.compactor.CompactDay(ctx, day)
		if err != nil {
			d.logger.Error("compaction failed",
				zap.String("day", day.Format("2006-01-02")),
				zap.Error(err))
			continue
		}
		results = append(results, res)
	}
	return results
}

// TriggerCompaction compacts the UTC date of day immediately.
func (d *Daemon) TriggerCompaction(ctx context.Context, day time.Time) (*Result, error) {
	res, err := d.compactor.CompactDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("compaction: %s: %w", day.UTC().Format("2006-01-02"), err)
	}
	return res, nil
}

// RunOnce performs a single compaction cycle and returns the per-day results.
func (d *Daemon) RunOnce(ctx context.Context) []*Result {
	return d.runOnce(ctx)
}
