// Package logs implements the deployment log streaming engine: a controller
// that merges push and poll delivery into one ordered, duplicate-free
// sequence, a narrator that plays back a synthetic deployment, and the
// search and filter views over the held sequence.
package logs

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/narvanalabs/deploylogs/internal/auth"
	"github.com/narvanalabs/deploylogs/internal/models"
	"github.com/narvanalabs/deploylogs/internal/store"
)

// DefaultPollInterval is the reconciliation poll period.
const DefaultPollInterval = 2 * time.Second

var errFeedClosed = errors.New("change feed closed")

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithPollInterval sets the reconciliation poll period.
func WithPollInterval(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics the controller records to.
func WithMetrics(m *Metrics) ControllerOption {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithStrictMapping makes malformed rows surface as the error state
// instead of only being logged and skipped.
func WithStrictMapping(strict bool) ControllerOption {
	return func(c *Controller) {
		c.strict = strict
	}
}

// Controller tails at most one deployment at a time. Rows reach it through
// the change feed and through a periodic poll of the store; both feed the
// same merge so the held sequence stays ordered by (Timestamp, ID) with each
// ID present once.
type Controller struct {
	store        store.LogStore
	feed         store.ChangeFeed
	identity     auth.IdentityProvider
	pollInterval time.Duration
	strict       bool
	logger       *slog.Logger
	metrics      *Metrics

	// lifecycleMu serialises Start, Stop and Close. The pump never takes it.
	lifecycleMu sync.Mutex

	mu         sync.Mutex
	session    *session
	generation uint64
	heldID     string
	entries    []*models.LogEntry
	err        error
	loading    bool
	closed     bool

	subsMu     sync.Mutex
	subs       map[uint64]chan struct{}
	nextSub    uint64
	subsClosed bool
}

// NewController creates a controller reading from st and feed on behalf of
// the principal supplied by identity.
func NewController(st store.LogStore, feed store.ChangeFeed, identity auth.IdentityProvider, opts ...ControllerOption) *Controller {
	if identity == nil {
		identity = auth.ContextIdentity{}
	}
	c := &Controller{
		store:        st,
		feed:         feed,
		identity:     identity,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
		subs:         make(map[uint64]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "log_stream")
	return c
}

// Start begins tailing deploymentID. Starting the deployment already being
// tailed is a no-op; starting another one stops the current session first.
// A failed seed fetch is returned as a *FetchError but the session stays
// open so the push feed and the poll can still converge.
func (c *Controller) Start(ctx context.Context, deploymentID string) error {
	if deploymentID == "" {
		return nil
	}
	p, ok := c.identity.Principal(ctx)
	if !ok {
		c.logger.Debug("start ignored without principal", "deployment_id", deploymentID)
		return nil
	}

	c.lifecycleMu.Lock()
	c.mu.Lock()
	if c.closed || (c.session != nil && c.session.deploymentID == deploymentID) {
		c.mu.Unlock()
		c.lifecycleMu.Unlock()
		return nil
	}
	old := c.detachLocked()
	c.mu.Unlock()
	c.release(old)

	sess := newSession(deploymentID, p.ID, c.pollInterval)
	var subErr error
	if c.feed != nil {
		sess.feed, sess.unsubscribe, subErr = c.feed.Subscribe(sess.ctx, deploymentID)
	}

	c.mu.Lock()
	c.generation++
	sess.generation = c.generation
	c.session = sess
	c.heldID = deploymentID
	c.entries = nil
	c.err = nil
	c.loading = true
	if subErr != nil {
		c.err = &FetchError{DeploymentID: deploymentID, Err: subErr}
		c.metrics.fetchError(channelPush)
		c.logger.Warn("push subscription failed, polling only",
			"deployment_id", deploymentID,
			"error", subErr,
		)
	}
	sess.started = true
	go c.pump(sess)
	c.mu.Unlock()
	c.metrics.sessionOpened()
	c.lifecycleMu.Unlock()

	c.logger.Info("log stream started",
		"deployment_id", deploymentID,
		"generation", sess.generation,
	)
	c.notify()

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sess.ctx, cancel)
	defer stop()

	return c.fetch(fctx, sess.generation, p.ID, deploymentID, channelSeed)
}

// Stop ends the active session. When it returns no result from the stopped
// session can change the held sequence. Safe to call without a session.
func (c *Controller) Stop() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	old := c.detachLocked()
	c.mu.Unlock()
	c.release(old)
	if old != nil {
		c.notify()
	}
}

// Close stops the active session and ends every change subscription.
// The controller cannot be started again.
func (c *Controller) Close() error {
	c.lifecycleMu.Lock()
	c.mu.Lock()
	c.closed = true
	old := c.detachLocked()
	c.mu.Unlock()
	c.release(old)
	c.lifecycleMu.Unlock()

	c.subsMu.Lock()
	c.subsClosed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()
	return nil
}

// detachLocked unpublishes the active session and advances the generation
// so results issued under it are discarded. c.mu must be held.
func (c *Controller) detachLocked() *session {
	sess := c.session
	if sess == nil {
		return nil
	}
	c.session = nil
	c.generation++
	c.loading = false
	return sess
}

func (c *Controller) release(sess *session) {
	if sess == nil {
		return
	}
	sess.close()
	c.metrics.sessionClosed()
	c.logger.Info("log stream stopped",
		"deployment_id", sess.deploymentID,
		"generation", sess.generation,
	)
}

// pump delivers push rows and poll ticks for one session until it closes.
func (c *Controller) pump(sess *session) {
	defer close(sess.exited)
	feed := sess.feed
	for {
		select {
		case <-sess.done:
			return
		case row, ok := <-feed:
			if !ok {
				feed = nil
				c.pushFailed(sess, errFeedClosed)
				continue
			}
			c.applyPush(sess, row)
		case <-sess.ticker.C:
			if !sess.polling.CompareAndSwap(false, true) {
				continue
			}
			go func() {
				defer sess.polling.Store(false)
				_ = c.fetch(sess.ctx, sess.generation, sess.userID, sess.deploymentID, channelPoll)
			}()
		}
	}
}

// applyPush merges a feed row into the held sequence. Feeds fan out by
// deployment only, so rows owned by anyone but the session's principal are
// dropped here, matching what the owner-scoped poll returns.
func (c *Controller) applyPush(sess *session, row *store.LogRow) {
	if row == nil || row.UserID != sess.userID {
		return
	}
	c.mu.Lock()
	if sess.generation != c.generation {
		c.mu.Unlock()
		c.metrics.stale()
		return
	}
	e, err := RowToEntry(row)
	if err != nil {
		c.mappingFailedLocked(err)
		c.mu.Unlock()
		return
	}
	changed := c.appendLocked(e)
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Controller) pushFailed(sess *session, err error) {
	c.mu.Lock()
	if sess.generation != c.generation {
		c.mu.Unlock()
		return
	}
	c.err = &FetchError{DeploymentID: sess.deploymentID, Err: err}
	c.mu.Unlock()
	c.metrics.fetchError(channelPush)
	c.logger.Warn("push delivery ended, polling only",
		"deployment_id", sess.deploymentID,
		"error", err,
	)
	c.notify()
}

// Append merges one entry into the held sequence. It reports false when the
// ID is already held or the entry belongs to another deployment.
func (c *Controller) Append(e *models.LogEntry) bool {
	if e == nil {
		return false
	}
	c.mu.Lock()
	changed := c.appendLocked(e)
	c.mu.Unlock()
	if changed {
		c.notify()
	}
	return changed
}

func (c *Controller) appendLocked(e *models.LogEntry) bool {
	if c.heldID != "" && e.DeploymentID != c.heldID {
		return false
	}
	next, ok := InsertEntry(c.entries, e)
	if !ok {
		c.metrics.duplicate()
		return false
	}
	if c.heldID == "" {
		c.heldID = e.DeploymentID
	}
	c.entries = next
	c.metrics.appended(1)
	return true
}

// AddLog inserts e through the store on behalf of the current principal.
// Nothing is held locally unless the insert is confirmed, and a confirmation
// arriving after the session changed is returned but not held. Without a
// principal it does nothing and returns (nil, nil).
func (c *Controller) AddLog(ctx context.Context, e models.LogEntry) (*models.LogEntry, error) {
	p, ok := c.identity.Principal(ctx)
	if !ok {
		c.logger.Debug("add log ignored without principal", "deployment_id", e.DeploymentID)
		return nil, nil
	}
	row, err := EntryToRow(&e, p.ID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	stored, err := c.store.Insert(ctx, row)
	if err != nil {
		c.logger.Error("failed to insert log",
			"deployment_id", e.DeploymentID,
			"error", err,
		)
		return nil, &InsertError{DeploymentID: e.DeploymentID, Err: err}
	}
	entry, err := RowToEntry(stored)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.metrics.stale()
		return entry, nil
	}
	changed := c.appendLocked(entry)
	c.mu.Unlock()
	if changed {
		c.notify()
	}
	return entry, nil
}

// FetchAll reconciles the held sequence with the store's contents for
// deploymentID. While that deployment is being tailed the result is merged
// by ID; with no active session it replaces the held sequence. A fetch for a
// deployment other than the active one is ignored.
func (c *Controller) FetchAll(ctx context.Context, deploymentID string) error {
	if deploymentID == "" {
		return nil
	}
	p, ok := c.identity.Principal(ctx)
	if !ok {
		return nil
	}

	c.mu.Lock()
	if c.session != nil && c.session.deploymentID != deploymentID {
		c.mu.Unlock()
		c.logger.Debug("fetch ignored for inactive deployment",
			"deployment_id", deploymentID,
			"active_deployment_id", c.DeploymentID(),
		)
		return nil
	}
	gen := c.generation
	c.loading = true
	c.mu.Unlock()

	return c.fetch(ctx, gen, p.ID, deploymentID, "")
}

// fetch lists the deployment's rows and applies them if gen is still live.
// channel is empty for consumer-requested fetches.
func (c *Controller) fetch(ctx context.Context, gen uint64, userID, deploymentID, channel string) error {
	rows, err := c.store.List(ctx, userID, deploymentID)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.metrics.stale()
		c.logger.Debug("discarding stale fetch result",
			"deployment_id", deploymentID,
			"generation", gen,
		)
		return nil
	}
	c.loading = false

	if err != nil {
		ferr := &FetchError{DeploymentID: deploymentID, Err: err}
		c.err = ferr
		c.mu.Unlock()
		if channel == "" {
			channel = "fetch"
		}
		c.metrics.fetchError(channel)
		c.logger.Warn("log fetch failed",
			"deployment_id", deploymentID,
			"channel", channel,
			"error", err,
		)
		c.notify()
		return ferr
	}

	if channel != channelSeed {
		c.err = nil
	}
	fetched := make([]*models.LogEntry, 0, len(rows))
	for _, row := range rows {
		e, err := RowToEntry(row)
		if err != nil {
			c.mappingFailedLocked(err)
			continue
		}
		fetched = append(fetched, e)
	}

	before := len(c.entries)
	if c.session != nil || c.heldID == deploymentID {
		c.entries = MergeEntries(c.entries, fetched)
		c.metrics.appended(len(c.entries) - before)
	} else {
		c.entries = MergeEntries(nil, fetched)
		c.metrics.appended(len(c.entries))
	}
	c.heldID = deploymentID
	c.mu.Unlock()

	c.notify()
	return nil
}

func (c *Controller) mappingFailedLocked(err error) {
	c.metrics.mappingError()
	c.logger.Warn("skipping malformed log row", "error", err)
	if c.strict {
		c.err = err
	}
}

// Clear empties the held sequence and the error state. The session, if any,
// keeps running.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.entries = nil
	c.err = nil
	c.mu.Unlock()
	c.notify()
}

// Logs returns a snapshot of the held sequence.
func (c *Controller) Logs() []*models.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// Err returns the last recorded error, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Loading reports whether a fetch for the current generation is pending.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// DeploymentID returns the deployment being tailed, or "" when stopped.
func (c *Controller) DeploymentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.deploymentID
}

// Generation returns the current session generation.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Search returns the held entries matching query. See Search.
func (c *Controller) Search(query string) []*models.LogEntry {
	return Search(c.Logs(), query)
}

// Filter returns the held entries at the selected level. See FilterByLevel.
func (c *Controller) Filter(level string) []*models.LogEntry {
	return FilterByLevel(c.Logs(), level)
}

// Subscribe returns a channel that receives a value whenever the held
// sequence, the error state or the session changes. Notifications are
// coalesced. The returned function unsubscribes and may be called more than once.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.subsMu.Lock()
	if c.subsClosed {
		c.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

func (c *Controller) notify() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
