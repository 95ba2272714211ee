// Package session owns one engine handle through a conversion.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/pkg/rules"
)

// State is the lifecycle position of a Session.
type State uint8

const (
	StateIdle State = iota
	StatePreloaded
	StateFailed
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreloaded:
		return "preloaded"
	case StateFailed:
		return "failed"
	case StateCommitted:
		return "committed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// ErrInvalidState is matched by every *StateError.
var ErrInvalidState = errors.New("invalid session state")

// ErrEngine is matched by every *EngineError.
var ErrEngine = errors.New("engine error")

// StateError reports an operation attempted outside its valid state.
type StateError struct {
	Op       string
	State    State
	Released bool
	Reason   string
}

func (e *StateError) Error() string {
	state := e.State.String()
	if e.Released {
		state = "released"
	}
	if e.Reason != "" {
		return fmt.Sprintf("session %s: not allowed in state %s: %s", e.Op, state, e.Reason)
	}
	return fmt.Sprintf("session %s: not allowed in state %s", e.Op, state)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// EngineError carries a non-OK engine code. Its message is the code's
// user-facing text.
type EngineError struct {
	Op   string
	Code engine.Code
}

func (e *EngineError) Error() string {
	return e.Code.Text()
}

func (e *EngineError) Is(target error) bool {
	return target == ErrEngine
}

// Session is a single-owner conversion against one engine handle. It is not
// safe for concurrent use. Release must be called on every path.
type Session struct {
	id     uuid.UUID
	log    *zap.Logger
	handle engine.Handle

	state        State
	released     bool
	replaced     bool
	rulesApplied bool
	imported     bool
}

// New allocates an engine handle in state Idle.
func New(ctx context.Context, eng engine.Engine, settings engine.Settings, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.Must(uuid.NewV7())
	h, err := eng.Create(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("create engine handle: %w", err)
	}
	s := &Session{
		id:     id,
		log:    log.With(zap.String("session", id.String())),
		handle: h,
	}
	s.log.Debug("Session created")
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Released reports whether Release has been called.
func (s *Session) Released() bool { return s.released }

func (s *Session) check(op string, want State) error {
	if s.released || s.state != want {
		return &StateError{Op: op, State: s.state, Released: s.released}
	}
	return nil
}

// fail moves the session to Failed when code is not OK.
func (s *Session) fail(op string, code engine.Code) error {
	if code.OK() {
		return nil
	}
	s.state = StateFailed
	s.log.Warn("Engine call failed", zap.String("op", op), zap.Int32("code", int32(code)), zap.String("error", code.Text()))
	return &EngineError{Op: op, Code: code}
}

// Load reads the base model. Idle to Preloaded, or Failed.
func (s *Session) Load(path string) error {
	if err := s.check("load", StateIdle); err != nil {
		return err
	}
	if err := s.fail("load", s.handle.Load(path)); err != nil {
		return err
	}
	s.state = StatePreloaded
	s.log.Debug("Model loaded", zap.String("path", path))
	return nil
}

// SetReplacement swaps in the replacement model. It must precede rules and
// the M2I import.
func (s *Session) SetReplacement(path string) error {
	if err := s.check("set replacement", StatePreloaded); err != nil {
		return err
	}
	if s.rulesApplied || s.imported || s.replaced {
		return &StateError{Op: "set replacement", State: s.state, Reason: "replacement must be set once, before rules and M2I import"}
	}
	if err := s.fail("set replacement", s.handle.SetReplacement(path)); err != nil {
		return err
	}
	s.replaced = true
	s.log.Debug("Replacement set", zap.String("path", path))
	return nil
}

// ApplyRules sends every rule pair in order. It may run once per session.
// A nil or empty set is accepted and sends nothing.
func (s *Session) ApplyRules(set *rules.Set) error {
	if err := s.check("apply rules", StatePreloaded); err != nil {
		return err
	}
	if s.rulesApplied || s.imported {
		return &StateError{Op: "apply rules", State: s.state, Reason: "rules already applied"}
	}
	var pairs []rules.Serialized
	if set != nil {
		pairs = set.SerializeAll()
	}
	for i, p := range pairs {
		code := s.handle.AddNormalizationRule(p.Source, p.SourceData, p.Target, p.TargetData, p.PreferSource)
		if err := s.fail(fmt.Sprintf("apply rule %d", i+1), code); err != nil {
			return err
		}
	}
	s.rulesApplied = true
	s.log.Debug("Rules applied", zap.Int("count", len(pairs)))
	return nil
}

// ImportIntermediate merges an M2I into the model. With a replacement set,
// rules must be applied first.
func (s *Session) ImportIntermediate(path string) error {
	if err := s.check("import", StatePreloaded); err != nil {
		return err
	}
	if s.imported {
		return &StateError{Op: "import", State: s.state, Reason: "M2I already imported"}
	}
	if s.replaced && !s.rulesApplied {
		return &StateError{Op: "import", State: s.state, Reason: "rules must be applied after setting a replacement"}
	}
	if err := s.fail("import", s.handle.ImportIntermediate(path)); err != nil {
		return err
	}
	s.imported = true
	s.log.Debug("M2I imported", zap.String("path", path))
	return nil
}

// ExportIntermediate writes the loaded model as M2I. Preloaded to Committed.
func (s *Session) ExportIntermediate(path string) error {
	if err := s.check("export", StatePreloaded); err != nil {
		return err
	}
	if err := s.fail("export", s.handle.ExportIntermediate(path)); err != nil {
		return err
	}
	s.state = StateCommitted
	return nil
}

// Commit saves the model. fn is called synchronously during the save when
// the engine needs a mapping file; it may be nil. Preloaded to Committed.
func (s *Session) Commit(path string, mask engine.SaveMask, fn engine.MappingFunc) error {
	if err := s.check("commit", StatePreloaded); err != nil {
		return err
	}
	if err := s.fail("commit", s.handle.SetMappingCallback(fn)); err != nil {
		return err
	}
	if err := s.fail("commit", s.handle.Save(path, mask)); err != nil {
		return err
	}
	s.state = StateCommitted
	s.log.Debug("Model saved", zap.String("path", path))
	return nil
}

// Release frees the engine handle. It is safe to call more than once.
func (s *Session) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true
	s.handle.Free()
	s.log.Debug("Session released", zap.String("state", s.state.String()))
}
