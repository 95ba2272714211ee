package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/internal/engine/enginetest"
	"github.com/Faultbox/m2mod/pkg/rules"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(name), 0644))
	return p
}

func newSession(t *testing.T, fake *enginetest.Fake) *Session {
	t.Helper()
	s, err := New(context.Background(), fake, engine.DefaultSettings(), nil)
	require.NoError(t, err)
	return s
}

func ruleSet(t *testing.T) *rules.Set {
	t.Helper()
	p, err := rules.NewPair(rules.ConventionBone, []rules.Matcher{rules.Name("Head")},
		rules.ConventionBone, []rules.Matcher{rules.ID(5)}, true)
	require.NoError(t, err)
	set := rules.NewSet()
	require.NoError(t, set.Add(p))
	return set
}

func TestFullImportPath(t *testing.T) {
	dir := t.TempDir()
	fake := enginetest.New()
	s := newSession(t, fake)
	defer s.Release()

	require.NoError(t, s.Load(touch(t, dir, "base.m2")))
	require.NoError(t, s.SetReplacement(touch(t, dir, "repl.m2")))
	require.NoError(t, s.ApplyRules(ruleSet(t)))
	require.NoError(t, s.ImportIntermediate(touch(t, dir, "edit.m2i")))
	assert.Equal(t, StatePreloaded, s.State())

	require.NoError(t, s.Commit(filepath.Join(dir, "out.m2"), engine.SaveAll, nil))
	assert.Equal(t, StateCommitted, s.State())
	assert.NotEqual(t, "", s.ID().String())

	assert.Equal(t, []enginetest.Op{
		enginetest.OpLoad, enginetest.OpSetReplacement, enginetest.OpAddRule,
		enginetest.OpImport, enginetest.OpSetMapping, enginetest.OpSave,
	}, fake.Last().Calls())
}

func TestOperationsOutsideStateFail(t *testing.T) {
	dir := t.TempDir()
	model := touch(t, dir, "base.m2")

	tests := []struct {
		name  string
		setup func(s *Session) error
		op    func(s *Session) error
	}{
		{"import before load", nil, func(s *Session) error { return s.ImportIntermediate(model) }},
		{"commit before load", nil, func(s *Session) error { return s.Commit(model, engine.SaveAll, nil) }},
		{"load twice", func(s *Session) error { return s.Load(model) }, func(s *Session) error { return s.Load(model) }},
		{"rules twice", func(s *Session) error {
			if err := s.Load(model); err != nil {
				return err
			}
			return s.ApplyRules(nil)
		}, func(s *Session) error { return s.ApplyRules(nil) }},
		{"replacement after rules", func(s *Session) error {
			if err := s.Load(model); err != nil {
				return err
			}
			return s.ApplyRules(nil)
		}, func(s *Session) error { return s.SetReplacement(model) }},
		{"import with replacement but no rules", func(s *Session) error {
			if err := s.Load(model); err != nil {
				return err
			}
			return s.SetReplacement(model)
		}, func(s *Session) error { return s.ImportIntermediate(model) }},
		{"commit after commit", func(s *Session) error {
			if err := s.Load(model); err != nil {
				return err
			}
			return s.Commit(filepath.Join(dir, "a.m2"), engine.SaveAll, nil)
		}, func(s *Session) error { return s.Commit(filepath.Join(dir, "b.m2"), engine.SaveAll, nil) }},
		{"export after commit", func(s *Session) error {
			if err := s.Load(model); err != nil {
				return err
			}
			return s.ExportIntermediate(filepath.Join(dir, "a.m2i"))
		}, func(s *Session) error { return s.ExportIntermediate(filepath.Join(dir, "b.m2i")) }},
		{"after release", func(s *Session) error {
			s.Release()
			return nil
		}, func(s *Session) error { return s.Load(model) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t, enginetest.New())
			defer s.Release()
			if tt.setup != nil {
				require.NoError(t, tt.setup(s))
			}
			before := s.State()
			err := tt.op(s)
			assert.ErrorIs(t, err, ErrInvalidState)
			assert.Equal(t, before, s.State())
		})
	}
}

func TestEngineFailureMovesToFailed(t *testing.T) {
	dir := t.TempDir()
	fake := enginetest.New()
	fake.Fail[enginetest.OpAddRule] = engine.CodeRuleInvalidData
	s := newSession(t, fake)
	defer s.Release()

	require.NoError(t, s.Load(touch(t, dir, "base.m2")))
	err := s.ApplyRules(ruleSet(t))

	var ee *EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, engine.CodeRuleInvalidData, ee.Code)
	assert.Equal(t, engine.CodeRuleInvalidData.Text(), err.Error())
	assert.ErrorIs(t, err, ErrEngine)
	assert.Equal(t, StateFailed, s.State())

	// only release is allowed from here
	assert.ErrorIs(t, s.ImportIntermediate(touch(t, dir, "x.m2i")), ErrInvalidState)
	assert.ErrorIs(t, s.Commit(filepath.Join(dir, "out.m2"), engine.SaveAll, nil), ErrInvalidState)
}

func TestLoadFailure(t *testing.T) {
	s := newSession(t, enginetest.New())
	defer s.Release()

	err := s.Load(filepath.Join(t.TempDir(), "missing.m2"))
	assert.ErrorIs(t, err, ErrEngine)
	assert.Equal(t, "Error: Failed to load M2, could not open file.", err.Error())
	assert.Equal(t, StateFailed, s.State())
}

func TestReleaseIsIdempotent(t *testing.T) {
	fake := enginetest.New()
	s := newSession(t, fake)
	s.Release()
	s.Release()
	assert.True(t, s.Released())
	assert.Equal(t, 1, fake.Last().Frees())

	var nilSession *Session
	nilSession.Release()
}

func TestCommitPassesMappingCallback(t *testing.T) {
	dir := t.TempDir()
	fake := enginetest.New()
	fake.RequestMapping = true
	s := newSession(t, fake)
	defer s.Release()

	mapping := filepath.Join(dir, "base.txt")
	require.NoError(t, s.Load(touch(t, dir, "base.m2")))
	require.NoError(t, s.Commit(filepath.Join(dir, "out.m2"), engine.SaveAll, func() string { return mapping }))
	assert.Equal(t, mapping, fake.Last().MappingFile())
}

func TestNewPropagatesCreateError(t *testing.T) {
	fake := enginetest.New()
	fake.CreateErr = errors.New("no engine")
	_, err := New(context.Background(), fake, engine.DefaultSettings(), nil)
	assert.ErrorContains(t, err, "no engine")
	assert.Equal(t, 0, fake.Live())
}
