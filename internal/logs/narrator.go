package logs

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/narvanalabs/deploylogs/internal/models"
	"github.com/narvanalabs/deploylogs/internal/store"
)

// Default pacing between narrated entries.
const (
	DefaultMinDelay = 800 * time.Millisecond
	DefaultMaxDelay = 2000 * time.Millisecond
)

// Inserter is the single insertion contract shared by real log producers and
// the narrator. A nil entry with a nil error means nothing was inserted.
type Inserter interface {
	AddLog(ctx context.Context, e models.LogEntry) (*models.LogEntry, error)
}

// StoreInserter inserts entries straight into a store on behalf of UserID.
type StoreInserter struct {
	Store  store.LogStore
	UserID string
}

// AddLog implements Inserter.
func (s StoreInserter) AddLog(ctx context.Context, e models.LogEntry) (*models.LogEntry, error) {
	if s.UserID == "" {
		return nil, nil
	}
	row, err := EntryToRow(&e, s.UserID)
	if err != nil {
		return nil, err
	}
	stored, err := s.Store.Insert(ctx, row)
	if err != nil {
		return nil, &InsertError{DeploymentID: e.DeploymentID, Err: err}
	}
	return RowToEntry(stored)
}

// NarratedStep is one line of the deployment script.
type NarratedStep struct {
	Key     string
	Message string
	Level   models.LogLevel
	Source  string
	Step    int
	Total   int
}

// Entry builds the log entry for this step.
func (s NarratedStep) Entry(deploymentID, projectID string, at time.Time) models.LogEntry {
	return models.LogEntry{
		DeploymentID: deploymentID,
		ProjectID:    projectID,
		Level:        s.Level,
		Message:      s.Message,
		Source:       s.Source,
		Timestamp:    at,
		Metadata: map[string]any{
			"step":        s.Step,
			"total_steps": s.Total,
		},
	}
}

var deploymentScript = []struct {
	key, message string
	level        models.LogLevel
	source       string
}{
	{"start", "Starting deployment", models.LogLevelInfo, "system"},
	{"validate", "Validating project configuration", models.LogLevelInfo, "validator"},
	{"validated", "Project configuration is valid", models.LogLevelSuccess, "validator"},
	{"install", "Installing dependencies", models.LogLevelInfo, "build"},
	{"build", "Running build command", models.LogLevelInfo, "build"},
	{"build-warning", "Bundle size exceeds recommended limit", models.LogLevelWarn, "build"},
	{"build-success", "Build completed", models.LogLevelSuccess, "build"},
	{"upload", "Uploading files to storage bucket", models.LogLevelInfo, "storage"},
	{"configure", "Configuring CDN distribution", models.LogLevelInfo, "network"},
	{"complete", "Deployment completed successfully", models.LogLevelSuccess, "system"},
}

// DeploymentScript returns the fixed narrated deployment in order.
func DeploymentScript() []NarratedStep {
	steps := make([]NarratedStep, len(deploymentScript))
	for i, s := range deploymentScript {
		steps[i] = NarratedStep{
			Key:     s.key,
			Message: s.message,
			Level:   s.level,
			Source:  s.source,
			Step:    i + 1,
			Total:   len(deploymentScript),
		}
	}
	return steps
}

// NarratorOption configures a Narrator.
type NarratorOption func(*Narrator)

// WithDelayWindow sets the bounds of the random pause between entries.
func WithDelayWindow(min, max time.Duration) NarratorOption {
	return func(n *Narrator) {
		if min < 0 || max < min {
			return
		}
		n.minDelay, n.maxDelay = min, max
	}
}

// WithRand sets the source of pacing randomness.
func WithRand(r *rand.Rand) NarratorOption {
	return func(n *Narrator) {
		n.rand = r
	}
}

// WithSleeper replaces the pause between entries.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) NarratorOption {
	return func(n *Narrator) {
		if sleep != nil {
			n.sleep = sleep
		}
	}
}

// WithClock sets the clock used to timestamp entries.
func WithClock(now func() time.Time) NarratorOption {
	return func(n *Narrator) {
		if now != nil {
			n.now = now
		}
	}
}

// WithNarratorLogger sets the narrator logger.
func WithNarratorLogger(logger *slog.Logger) NarratorOption {
	return func(n *Narrator) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithNarratorMetrics sets the metrics the narrator records to.
func WithNarratorMetrics(m *Metrics) NarratorOption {
	return func(n *Narrator) {
		n.metrics = m
	}
}

// Narrator plays back the deployment script through an Inserter with
// randomized pacing, so a deployment can be simulated end to end.
type Narrator struct {
	inserter Inserter
	minDelay time.Duration
	maxDelay time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	logger   *slog.Logger
	metrics  *Metrics

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewNarrator creates a narrator writing through inserter.
func NewNarrator(inserter Inserter, opts ...NarratorOption) *Narrator {
	n := &Narrator{
		inserter: inserter,
		minDelay: DefaultMinDelay,
		maxDelay: DefaultMaxDelay,
		sleep:    sleepContext,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "narrator")
	return n
}

// Steps yields the script one step at a time, pausing before every step but
// the first. It stops early when ctx ends. Each call starts from the top.
func (n *Narrator) Steps(ctx context.Context) iter.Seq2[int, NarratedStep] {
	return func(yield func(int, NarratedStep) bool) {
		for i, step := range DeploymentScript() {
			if i > 0 {
				if err := n.sleep(ctx, n.delay()); err != nil {
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			if !yield(i, step) {
				return
			}
		}
	}
}

// Run narrates a deployment and returns how many entries were inserted.
// Cancelling ctx stops the script without an error. An insert failure ends
// the run with that error.
func (n *Narrator) Run(ctx context.Context, deploymentID, projectID string) (int, error) {
	inserted := 0
	for _, step := range n.Steps(ctx) {
		stored, err := n.inserter.AddLog(ctx, step.Entry(deploymentID, projectID, n.now()))
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				break
			}
			n.logger.Error("narrated step failed",
				"deployment_id", deploymentID,
				"step", step.Key,
				"error", err,
			)
			return inserted, err
		}
		if stored == nil {
			return inserted, ErrNoPrincipal
		}
		inserted++
		n.metrics.narrated()
	}

	n.logger.Info("narration finished",
		"deployment_id", deploymentID,
		"inserted", inserted,
		"cancelled", ctx.Err() != nil,
	)
	return inserted, nil
}

func (n *Narrator) delay() time.Duration {
	span := int64(n.maxDelay - n.minDelay)
	if span <= 0 {
		return n.minDelay
	}
	var off int64
	if n.rand != nil {
		n.randMu.Lock()
		off = n.rand.Int64N(span + 1)
		n.randMu.Unlock()
	} else {
		off = rand.Int64N(span + 1)
	}
	return n.minDelay + time.Duration(off)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
