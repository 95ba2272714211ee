package interact

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/internal/pipeline"
	"github.com/Faultbox/m2mod/pkg/listfile"
)

// StatusNotFound is shown when a lookup has no match.
const StatusNotFound = "Not found in storage"

// Controller drives the workflows from the interactive goroutine. It holds
// the current preloaded import; only the interactive goroutine touches it,
// and only after the task that produced or consumed it has returned.
type Controller struct {
	loop     *Loop
	orch     *pipeline.Orchestrator
	listfile *listfile.Manager
	log      *zap.Logger

	current *pipeline.Preloaded
}

// NewController wires orch progress into the loop.
func NewController(loop *Loop, orch *pipeline.Orchestrator, manager *listfile.Manager, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	orch.Progress = loop.Status
	return &Controller{loop: loop, orch: orch, listfile: manager, log: log}
}

// Preloaded reports whether an import is waiting for Commit.
func (c *Controller) Preloaded() bool {
	return c.current.Live()
}

// Current returns the preloaded import, or nil.
func (c *Controller) Current() *pipeline.Preloaded {
	return c.current
}

func (c *Controller) begin() {
	c.loop.Notifier().Reset()
}

// report shows the outcome of an operation. Engine failures are raised as
// error notices as well.
func (c *Controller) report(status string, err error) {
	if err == nil {
		c.loop.prompter.Status(status)
		return
	}
	c.loop.prompter.Status(err.Error())
	if pipeline.KindOf(err) == pipeline.KindEngine {
		c.loop.notifier.Notify(engine.LevelError, err.Error())
	}
	c.log.Warn("Operation failed", zap.String("kind", pipeline.KindOf(err).String()), zap.Error(err))
}

// Export converts a model to M2I.
func (c *Controller) Export(ctx context.Context, req pipeline.ExportRequest) error {
	c.begin()
	var status string
	err := c.loop.Run(ctx, func(ctx context.Context) error {
		var err error
		status, err = c.orch.Export(ctx, req)
		return err
	})
	c.report(status, err)
	return err
}

// Preload runs the first import phase, discarding any earlier preload.
func (c *Controller) Preload(ctx context.Context, req pipeline.ImportRequest) error {
	c.begin()
	if err := c.discard(ctx); err != nil {
		c.report("", err)
		return err
	}

	var p *pipeline.Preloaded
	err := c.loop.Run(ctx, func(ctx context.Context) error {
		var err error
		p, err = c.orch.Preload(ctx, req)
		return err
	})
	if err == nil {
		c.current = p
	}
	c.report(pipeline.StatusPreloadDone, err)
	return err
}

// discard releases the current preload on a worker. The reference is only
// dropped once the release task has run.
func (c *Controller) discard(ctx context.Context) error {
	if c.current == nil {
		return nil
	}
	p := c.current
	if err := c.loop.Run(ctx, func(context.Context) error {
		c.orch.Cancel(p)
		return nil
	}); err != nil {
		return err
	}
	c.current = nil
	return nil
}

// Commit runs the second import phase on the current preload. Once the
// task has run the current preload is cleared whatever the outcome.
func (c *Controller) Commit(ctx context.Context) (*pipeline.Result, error) {
	c.begin()
	p := c.current

	var res *pipeline.Result
	ran := false
	err := c.loop.Run(ctx, func(ctx context.Context) error {
		ran = true
		var err error
		res, err = c.orch.Commit(ctx, p, c.loop.RequestMapping)
		return err
	})
	if ran {
		c.current = nil
	}
	c.report(pipeline.StatusImportDone, err)
	return res, err
}

// Cancel discards the current preload.
func (c *Controller) Cancel(ctx context.Context) error {
	c.begin()
	err := c.discard(ctx)
	c.report(pipeline.StatusCancelled, err)
	return err
}

// LookupResult is the answer to a listfile lookup.
type LookupResult struct {
	Found  bool
	FileID uint32
	Path   string
}

// Text is the line shown for the result. A numeric query shows the path;
// a path query shows the file data id.
func (r LookupResult) Text(byID bool) string {
	switch {
	case !r.Found:
		return StatusNotFound
	case byID:
		return r.Path
	default:
		return strconv.FormatUint(uint64(r.FileID), 10)
	}
}

// Lookup resolves a numeric file data id to its path, or a path fragment
// to the first matching record.
func (c *Controller) Lookup(ctx context.Context, dir, input string) (LookupResult, error) {
	c.begin()
	input = strings.TrimSpace(input)
	if input == "" {
		return LookupResult{}, nil
	}
	id, perr := strconv.ParseUint(input, 10, 32)
	byID := perr == nil

	var res LookupResult
	err := c.loop.Run(ctx, func(ctx context.Context) error {
		var rec *listfile.Record
		var err error
		if byID {
			rec, err = c.listfile.ResolveByID(ctx, dir, uint32(id))
		} else {
			rec, err = c.listfile.ResolveByPartialPath(ctx, dir, input)
		}
		if errors.Is(err, listfile.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res = LookupResult{Found: true, FileID: rec.FileID, Path: rec.Path}
		return nil
	})
	if err != nil {
		err = &pipeline.Error{Kind: pipeline.KindManifestFetch, Status: fmt.Sprintf("Error: %v", err), Err: err}
		c.report("", err)
		return LookupResult{}, err
	}
	c.loop.prompter.Status(res.Text(byID))
	if res.Found && !byID {
		c.loop.prompter.Status(res.Path)
	}
	return res, nil
}

// ClearManifests drops every cached listfile so the next use reloads it.
func (c *Controller) ClearManifests() {
	c.listfile.Clear()
	c.loop.prompter.Status("Listfile cache cleared.")
}

// Close releases any preload still held.
func (c *Controller) Close(ctx context.Context) {
	if err := c.discard(ctx); err != nil {
		c.log.Warn("Failed to release preload on close", zap.Error(err))
	}
}
