package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"immich-sorter/internal/app/actionlog"
	"immich-sorter/internal/app/controller/planners"
	"immich-sorter/internal/app/queue"
	"immich-sorter/internal/immich"
)

// Config holds configuration values for controlling the triage session.
//
// It is organized to take advantage of TOML parsing, however this package does
// not handle parsing and has no expectation on how it will be initialized.
type Config struct {
	PrefetchWindow int
	PageSize       int
	PlanAlgorithm  planners.PlanAlgorithm
}

// Client is the immich API surface the Controller relies on.
type Client interface {
	queue.Source
	GetAsset(ctx context.Context, id immich.AssetID) (*immich.Asset, error)
	ApplyDisposition(ctx context.Context, id immich.AssetID, change immich.Change) error
	CameraModels(ctx context.Context) ([]string, error)
}

type cmdKind int

const (
	cmdAct cmdKind = iota
	cmdUndo
	cmdSetFilter
)

// cmd is a requested operation performed by the user.
type cmd struct {
	kind   cmdKind
	action ActionKind
	filter immich.CameraFilter
}

type request struct {
	ctx   context.Context
	cmd   cmd
	reply chan result
}

type result struct {
	rec *ActionRecord
	err error
}

// Controller owns one triage session: the queue, the camera filter and the
// undo record. Commands are processed one at a time by [Controller.Run].
type Controller struct {
	conf   Config
	client Client
	queue  *queue.Queue
	log    *actionlog.Log
	cmds   chan request
	done   chan struct{}

	mu     sync.Mutex
	last   *ActionRecord
	filter immich.CameraFilter
}

// New initializes the Controller. Nothing is loaded until [Controller.Run] is
// called.
func New(conf Config, client Client, log *actionlog.Log) *Controller {
	return &Controller{
		conf:   conf,
		client: client,
		queue: queue.New(client, queue.Config{
			PrefetchWindow: conf.PrefetchWindow,
			PageSize:       conf.PageSize,
			Plan:           conf.PlanAlgorithm.OrDefault(),
		}),
		log:  log,
		cmds: make(chan request, 10),
		done: make(chan struct{}),
	}
}

// Run loads the queue, starts loading the camera list in the background and
// processes commands until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.queue.Close()

	go func() {
		if _, err := c.client.CameraModels(ctx); err != nil {
			slog.Warn("failed to preload camera models", "error", err)
		}
	}()
	if err := c.queue.Initialize(ctx, c.currentFilter()); err != nil {
		slog.Error("failed to load the queue", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-c.cmds:
			rec, err := c.handle(req.ctx, req.cmd)
			req.reply <- result{rec: rec, err: err}
		}
	}
}

func (c *Controller) handle(ctx context.Context, cmd cmd) (*ActionRecord, error) {
	switch cmd.kind {
	case cmdAct:
		return c.act(ctx, cmd.action)
	case cmdUndo:
		return c.undo(ctx)
	case cmdSetFilter:
		return nil, c.setFilter(ctx, cmd.filter)
	}
	return nil, fmt.Errorf("unknown command %d", cmd.kind)
}

// submit queues cmd behind any in-flight command and waits for its result.
func (c *Controller) submit(ctx context.Context, cmd cmd) (*ActionRecord, error) {
	req := request{ctx: ctx, cmd: cmd, reply: make(chan result, 1)}
	select {
	case c.cmds <- req:
	case <-c.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.rec, res.err
	case <-c.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Act applies kind to the current asset and moves on. On success the action
// replaces the previous undo record.
func (c *Controller) Act(ctx context.Context, kind ActionKind) (*ActionRecord, error) {
	return c.submit(ctx, cmd{kind: cmdAct, action: kind})
}

// Undo reverses the most recent action and returns its record.
func (c *Controller) Undo(ctx context.Context) (*ActionRecord, error) {
	return c.submit(ctx, cmd{kind: cmdUndo})
}

// SetFilter replaces the camera filter and restarts the queue from the
// beginning.
func (c *Controller) SetFilter(ctx context.Context, models []string) error {
	_, err := c.submit(ctx, cmd{kind: cmdSetFilter, filter: immich.NewCameraFilter(models...)})
	return err
}

// CameraModels returns the distinct camera models, waiting for the background
// load started by Run if it is still in flight.
func (c *Controller) CameraModels(ctx context.Context) ([]string, error) {
	return c.client.CameraModels(ctx)
}

// Content returns the content of an asset, loading it if needed.
func (c *Controller) Content(ctx context.Context, id immich.AssetID, size immich.Size) (*immich.Content, error) {
	return c.queue.Content(ctx, id, size)
}

func (c *Controller) act(ctx context.Context, kind ActionKind) (*ActionRecord, error) {
	entry, err := c.queue.Current()
	if err != nil {
		return nil, err
	}
	pos := c.queue.Status().Position
	id := entry.Asset.ID
	log := slog.With("id", id, "action", kind)

	prior := entry.Asset.State
	fresh, err := c.client.GetAsset(ctx, id)
	switch {
	case errors.Is(err, immich.ErrNotFound):
		log.Warn("asset no longer exists, skipping")
		if _, err := c.queue.RemoveCurrentAndAdvance(ctx); err != nil && !errors.Is(err, queue.ErrEndOfQueue) {
			log.Error("failed to advance past missing asset", "error", err)
		}
		return nil, fmt.Errorf("asset %s: %w", id, immich.ErrNotFound)
	case err != nil:
		log.Warn("failed to refresh asset, using queued state", "error", err)
	default:
		prior = fresh.State
	}

	if change, ok := kind.change(); ok {
		if err := c.client.ApplyDisposition(ctx, id, change); err != nil {
			log.Error("failed to apply action", "error", err)
			c.record(actionlog.TypeAction, id, kind, prior, pos, err)
			return nil, err
		}
	}

	rec := &ActionRecord{
		ID:       uuid.New(),
		AssetID:  id,
		Kind:     kind,
		Prior:    prior,
		Position: pos,
		Entry:    entry,
		At:       time.Now(),
	}
	rec.Entry.Asset.State = prior
	if kind.removes() {
		rec.Removed = true
		_, err = c.queue.RemoveCurrentAndAdvance(ctx)
	} else {
		c.queue.UpdateState(id, kind.apply(prior))
		err = c.queue.Advance(ctx)
		rec.advanced = err == nil || errors.Is(err, queue.ErrEndOfQueue)
	}
	if err != nil && !errors.Is(err, queue.ErrEndOfQueue) {
		// The action itself succeeded; the next page can be loaded later.
		log.Error("failed to move to the next asset", "error", err)
	}

	c.mu.Lock()
	c.last = rec
	c.mu.Unlock()
	c.record(actionlog.TypeAction, id, kind, prior, pos, nil)
	log.Info("applied action", "position", pos)
	return rec, nil
}

func (c *Controller) undo(ctx context.Context) (*ActionRecord, error) {
	c.mu.Lock()
	rec := c.last
	c.mu.Unlock()
	if rec == nil {
		return nil, ErrNoActionToUndo
	}
	log := slog.With("id", rec.AssetID, "action", rec.Kind)

	if change, ok := rec.inverse(); ok {
		if err := c.client.ApplyDisposition(ctx, rec.AssetID, change); err != nil {
			log.Error("failed to undo action", "error", err)
			c.record(actionlog.TypeUndo, rec.AssetID, rec.Kind, rec.Prior, rec.Position, err)
			return nil, &UndoError{Record: *rec, Err: err}
		}
	}

	switch {
	case rec.Removed:
		c.queue.Insert(rec.Position, rec.Entry)
	case rec.advanced:
		c.queue.UpdateState(rec.AssetID, rec.Prior)
		if err := c.queue.Retreat(); err != nil {
			log.Warn("failed to return to the undone asset", "error", err)
		}
	default:
		// The queue never moved past the asset.
		c.queue.UpdateState(rec.AssetID, rec.Prior)
		if err := c.queue.Seek(rec.Position); err != nil {
			log.Warn("failed to return to the undone asset", "error", err)
		}
	}

	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()
	c.record(actionlog.TypeUndo, rec.AssetID, rec.Kind, rec.Prior, rec.Position, nil)
	log.Info("undid action", "position", rec.Position)
	return rec, nil
}

func (c *Controller) setFilter(ctx context.Context, filter immich.CameraFilter) error {
	c.mu.Lock()
	c.filter = filter
	// The record's position refers to the old sequence.
	c.last = nil
	c.mu.Unlock()
	slog.Info("setting camera filter", "cameras", filter.Models())
	return c.queue.Initialize(ctx, filter)
}

func (c *Controller) currentFilter() immich.CameraFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// record appends an action or undo to the action log.
func (c *Controller) record(typ string, id immich.AssetID, kind ActionKind, prior immich.State, pos int, err error) {
	e := actionlog.Entry{
		Type:     typ,
		AssetID:  id,
		Action:   string(kind),
		Prior:    &prior,
		Position: &pos,
		Outcome:  "ok",
	}
	if err != nil {
		e.Outcome = "error"
		e.Error = err.Error()
	}
	c.log.Record(e)
}

// State is a snapshot of the session for display.
type State struct {
	Current    *queue.Entry
	Position   int
	Length     int
	EndOfQueue bool
	Cameras    []string
	LastAction *ActionRecord
}

// CanUndo reports whether there is an action to undo.
func (s State) CanUndo() bool { return s.LastAction != nil }

// State returns a snapshot of the session.
func (c *Controller) State() State {
	status := c.queue.Status()
	s := State{
		Position: status.Position,
		Length:   status.Length,
		Cameras:  status.Filter.Models(),
	}
	entry, err := c.queue.Current()
	switch {
	case err == nil:
		s.Current = &entry
	case errors.Is(err, queue.ErrEndOfQueue), errors.Is(err, queue.ErrEmpty) && status.Exhausted:
		s.EndOfQueue = true
	}
	c.mu.Lock()
	if c.last != nil {
		rec := *c.last
		s.LastAction = &rec
	}
	c.mu.Unlock()
	return s
}
