// Package pipeline runs the export and the two-phase import workflows
// against the engine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/internal/session"
	"github.com/Faultbox/m2mod/pkg/listfile"
)

// Status lines reported to the user.
const (
	StatusWorking         = "Working..."
	StatusPreloading      = "Preloading..."
	StatusImporting       = "Importing..."
	StatusLoadingListfile = "Loading listfile..."
	StatusSaving          = "Saving M2..."

	StatusExportDone  = "Export done."
	StatusPreloadDone = "Preload finished."
	StatusImportDone  = "Import done."
	StatusCancelled   = "Cancelled preload."
)

const (
	// MarkerFile is written next to every imported model.
	MarkerFile = "its_reduced_m2.custom"
	// ExportDirectory holds imported models when no output root is set.
	ExportDirectory = "Export"
)

// Resolver finds canonical asset paths in a listfile.
type Resolver interface {
	ResolveByPartialPath(ctx context.Context, dir, fragment string) (*listfile.Record, error)
}

// MappingPrompt asks the user for a mapping file. It returns "" to skip.
type MappingPrompt func(ctx context.Context, hint MappingHint) string

// Orchestrator runs workflows. Every method blocks on engine calls and must
// not run on the interactive goroutine.
type Orchestrator struct {
	eng      engine.Engine
	resolver Resolver
	log      *zap.Logger

	// Progress receives intermediate status lines. It may be nil.
	Progress func(status string)
}

// New creates an orchestrator.
func New(eng engine.Engine, resolver Resolver, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{eng: eng, resolver: resolver, log: log}
}

func (o *Orchestrator) progress(status string) {
	if o.Progress != nil {
		o.Progress(status)
	}
}

// Preloaded is an import parked between Preload and Commit.
type Preloaded struct {
	sess *session.Session
	req  ImportRequest
}

// Request returns the snapshot taken at preload.
func (p *Preloaded) Request() ImportRequest {
	return p.req.Snapshot()
}

// SessionID returns the session id for logs.
func (p *Preloaded) SessionID() string {
	if p == nil || p.sess == nil {
		return ""
	}
	return p.sess.ID().String()
}

// Live reports whether the session can still be committed.
func (p *Preloaded) Live() bool {
	return p != nil && p.sess != nil && !p.sess.Released() && p.sess.State() == session.StatePreloaded
}

func (p *Preloaded) release() {
	if p != nil && p.sess != nil {
		p.sess.Release()
	}
}

// Result describes a committed import.
type Result struct {
	OutputPath  string
	MarkerPath  string
	MappingFile string

	// WorkingDirectory is the client data root detected from the input
	// path and its listfile path. It is only set when the request had no
	// working directory and the input sits at its listfile location.
	WorkingDirectory string
}

func validation(status string) *Error {
	return &Error{Kind: KindValidation, Status: status, Err: ErrValidation}
}

func fromSession(err error) *Error {
	switch {
	case errors.Is(err, session.ErrInvalidState):
		return &Error{Kind: KindInvalidState, Status: "Error: " + err.Error(), Err: err}
	case errors.Is(err, session.ErrEngine):
		return &Error{Kind: KindEngine, Status: err.Error(), Err: err}
	default:
		return &Error{Kind: KindEngine, Status: "Error: " + err.Error(), Err: err}
	}
}

// Export loads req.InputM2 and writes it as M2I to req.OutputM2I.
func (o *Orchestrator) Export(ctx context.Context, req ExportRequest) (string, error) {
	o.progress(StatusWorking)
	if req.InputM2 == "" {
		return "", validation("Error: No input M2 file Specified.")
	}
	if req.OutputM2I == "" {
		return "", validation("Error: No output M2I file Specified.")
	}

	s, err := session.New(ctx, o.eng, req.Settings, o.log)
	if err != nil {
		return "", fromSession(err)
	}
	defer s.Release()

	if err := s.Load(req.InputM2); err != nil {
		return "", fromSession(err)
	}
	if err := s.ExportIntermediate(req.OutputM2I); err != nil {
		return "", fromSession(err)
	}

	o.log.Info("Exported M2I", zap.String("m2", req.InputM2), zap.String("m2i", req.OutputM2I))
	return StatusExportDone, nil
}

// Preload runs the first import phase: load, replacement, rules and M2I
// import. Nothing is written. On error the session is already released.
func (o *Orchestrator) Preload(ctx context.Context, req ImportRequest) (*Preloaded, error) {
	o.progress(StatusPreloading)
	if req.InputM2I == "" {
		return nil, validation("Error: No input M2I file Specified.")
	}
	if req.InputM2 == "" {
		return nil, validation("Error: No input M2 file Specified.")
	}
	req = req.Snapshot()

	s, err := session.New(ctx, o.eng, req.engineSettings(), o.log)
	if err != nil {
		return nil, fromSession(err)
	}
	keep := false
	defer func() {
		if !keep {
			s.Release()
		}
	}()

	if err := s.Load(req.InputM2); err != nil {
		return nil, fromSession(err)
	}
	if req.ReplaceEnabled {
		if err := s.SetReplacement(req.ReplaceM2); err != nil {
			return nil, fromSession(err)
		}
	}
	if err := s.ApplyRules(req.Rules); err != nil {
		return nil, fromSession(err)
	}
	if err := s.ImportIntermediate(req.InputM2I); err != nil {
		return nil, fromSession(err)
	}

	keep = true
	o.log.Info("Preloaded import",
		zap.String("session", s.ID().String()),
		zap.String("m2", req.InputM2),
		zap.String("m2i", req.InputM2I),
		zap.Bool("replace", req.ReplaceEnabled),
		zap.Int("rules", req.Rules.Len()))
	return &Preloaded{sess: s, req: req}, nil
}

// OutputPath resolves where a commit of req would write. With an output
// directory the model's listfile path is joined under it; otherwise the
// model goes to an Export directory next to the input.
func (o *Orchestrator) OutputPath(ctx context.Context, req ImportRequest) (string, error) {
	out, _, err := o.resolve(ctx, req)
	return out, err
}

// resolve is OutputPath that also returns the listfile record, or nil when
// no output directory is set.
func (o *Orchestrator) resolve(ctx context.Context, req ImportRequest) (string, *listfile.Record, error) {
	name := req.ModelFileName()
	if req.OutputDirectory == "" {
		return filepath.Join(filepath.Dir(req.InputM2), ExportDirectory, name), nil, nil
	}

	o.progress(StatusLoadingListfile)
	if o.resolver == nil {
		return "", nil, &Error{Kind: KindManifestFetch, Status: "Error: No listfile available.", Err: listfile.ErrManifestLoad}
	}
	rec, err := o.resolver.ResolveByPartialPath(ctx, req.mappingsDir(), name)
	switch {
	case errors.Is(err, listfile.ErrNotFound):
		return "", nil, &Error{
			Kind:   KindPathResolution,
			Status: "Failed to determine model relative path in storage",
			Err:    fmt.Errorf("%s: %w", name, ErrPathResolution),
		}
	case err != nil:
		return "", nil, &Error{Kind: KindManifestFetch, Status: "Error: " + err.Error(), Err: err}
	}
	return filepath.Join(req.OutputDirectory, filepath.FromSlash(rec.Path)), rec, nil
}

// Commit runs the second import phase and always releases p. prompt is
// called from this goroutine when the engine needs a mapping file; it may
// be nil to skip.
func (o *Orchestrator) Commit(ctx context.Context, p *Preloaded, prompt MappingPrompt) (*Result, error) {
	if !p.Live() {
		return nil, &Error{Kind: KindNotPreloaded, Status: "Error: Model not preloaded", Err: ErrNotPreloaded}
	}
	defer p.release()
	o.progress(StatusImporting)

	out, rec, err := o.resolve(ctx, p.req)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(out)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &Error{Kind: KindIO, Status: "Error: " + err.Error(), Err: err}
	}

	res := &Result{OutputPath: out, MarkerPath: filepath.Join(dir, MarkerFile)}
	if rec != nil && p.req.Settings.WorkingDirectory == "" {
		res.WorkingDirectory = listfile.DetectWorkingDirectory(p.req.InputM2, rec.Path)
	}
	var fn engine.MappingFunc
	if prompt != nil {
		hint := p.req.mappingHint()
		fn = func() string {
			res.MappingFile = prompt(ctx, hint)
			return res.MappingFile
		}
	}

	o.progress(StatusSaving)
	if err := p.sess.Commit(out, engine.SaveAll, fn); err != nil {
		return nil, fromSession(err)
	}
	if err := os.WriteFile(res.MarkerPath, nil, 0644); err != nil {
		return nil, &Error{Kind: KindIO, Status: "Error: " + err.Error(), Err: err}
	}

	o.log.Info("Imported M2",
		zap.String("session", p.SessionID()),
		zap.String("output", out),
		zap.String("mapping", res.MappingFile))
	return res, nil
}

// Cancel discards a preloaded session.
func (o *Orchestrator) Cancel(p *Preloaded) string {
	if p != nil {
		o.log.Info("Cancelled preload", zap.String("session", p.SessionID()))
	}
	p.release()
	return StatusCancelled
}
