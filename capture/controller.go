package capture

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RyanBlaney/sonido-density/logging"
)

// Marker files polled by FileController. The operator creates them, e.g.
// with touch, to steer a running capture.
const (
	StopSoftFile   = "STOP_SOFT"
	StopHardFile   = "STOP_HARD"
	SkipSettleFile = "SKIP_SETTLE"
	StatusFile     = "status.txt"
)

// DefaultPollInterval throttles marker file checks.
const DefaultPollInterval = 500 * time.Millisecond

// FileController implements density.Controller with marker files in a
// directory. Requests are sticky: once seen they stay set until Reset.
type FileController struct {
	dir      string
	interval time.Duration
	logger   logging.Logger
	now      func() time.Time

	mu         sync.Mutex
	lastPoll   time.Time
	lastStatus time.Time
	stopSoft   bool
	stopHard   bool
	skipSettle bool
	status     string
}

// NewFileController watches dir. A zero interval uses DefaultPollInterval.
func NewFileController(dir string, interval time.Duration, logger logging.Logger) *FileController {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = &logging.NoOpLogger{}
	}
	return &FileController{
		dir:      dir,
		interval: interval,
		logger:   logger.WithFields(logging.Fields{"component": "controller"}),
		now:      time.Now,
	}
}

// Reset removes stale marker files and clears all requests.
func (c *FileController) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	var errs []error
	for _, name := range []string{StopSoftFile, StopHardFile, SkipSettleFile} {
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	c.stopSoft, c.stopHard, c.skipSettle = false, false, false
	c.lastPoll = time.Time{}
	return errors.Join(errs...)
}

// ResetSkipSettle consumes a skip request so it only affects one settle step.
func (c *FileController) ResetSkipSettle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(filepath.Join(c.dir, SkipSettleFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("Failed to remove marker", logging.Fields{"file": SkipSettleFile, "error": err.Error()})
	}
	c.skipSettle = false
}

func (c *FileController) exists(name string) bool {
	_, err := os.Stat(filepath.Join(c.dir, name))
	return err == nil
}

// poll must be called with c.mu held.
func (c *FileController) poll() {
	now := c.now()
	if !c.lastPoll.IsZero() && now.Sub(c.lastPoll) < c.interval {
		return
	}
	c.lastPoll = now

	if !c.stopSoft && c.exists(StopSoftFile) {
		c.stopSoft = true
		c.logger.Info("Soft stop requested")
	}
	if !c.stopHard && c.exists(StopHardFile) {
		c.stopHard = true
		c.logger.Warn("Hard stop requested")
	}
	if !c.skipSettle && c.exists(SkipSettleFile) {
		c.skipSettle = true
		c.logger.Info("Skip settle requested")
	}
}

func (c *FileController) RequestedStopSoft() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poll()
	return c.stopSoft
}

func (c *FileController) RequestedStopHard() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poll()
	return c.stopHard
}

func (c *FileController) RequestedSkipSettle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poll()
	return c.skipSettle
}

// UpdateStatus writes text to the status file, at most once per poll interval.
func (c *FileController) UpdateStatus(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status = text
	now := c.now()
	if !c.lastStatus.IsZero() && now.Sub(c.lastStatus) < c.interval {
		return
	}
	c.lastStatus = now
	if err := os.WriteFile(filepath.Join(c.dir, StatusFile), []byte(text+"\n"), 0o644); err != nil {
		c.logger.Warn("Failed to write status", logging.Fields{"error": err.Error()})
	}
}

// Status returns the last text passed to UpdateStatus.
func (c *FileController) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
