package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/m2mod/internal/config"
	"github.com/Faultbox/m2mod/internal/interact"
	"github.com/Faultbox/m2mod/internal/pipeline"
)

func newTestApp(t *testing.T, env *testEnv) (*app, *bytes.Buffer) {
	t.Helper()
	opts := &rootOptions{overrides: config.Overrides{ConfigPath: env.config}}
	require.NoError(t, opts.load())

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(""))
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())

	a, err := newApp(cmd, opts, false)
	require.NoError(t, err)
	return a, &out
}

func TestListfileWorkRunsOnLoop(t *testing.T) {
	env := newTestEnv(t)
	a, _ := newTestApp(t, env)
	a.Close(context.Background())

	ctx := context.Background()
	assert.ErrorIs(t, a.ensureListfile(ctx, true), interact.ErrClosed)
	_, err := a.storage(ctx)
	assert.ErrorIs(t, err, interact.ErrClosed)

	assert.EqualValues(t, 0, env.hits.Load())
	assert.False(t, a.manager.Loaded(env.mappings))
}

func TestStorageLoadsOnce(t *testing.T) {
	env := newTestEnv(t)
	a, out := newTestApp(t, env)
	defer a.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, a.ensureListfile(ctx, false))
	assert.Contains(t, out.String(), "Loading listfile...")

	s, err := a.storage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	again, err := a.storage(ctx)
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.EqualValues(t, 1, env.hits.Load())
}

func TestAdoptWorkingDirectory(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		res        *pipeline.Result
		want       string
		announced  bool
	}{
		{name: "failed commit", res: nil},
		{name: "nothing detected", res: &pipeline.Result{}},
		{name: "detected", res: &pipeline.Result{WorkingDirectory: "work"}, want: "work", announced: true},
		{name: "configured", configured: "mine", res: &pipeline.Result{WorkingDirectory: "work"}, want: "mine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, out := newTestApp(t, newTestEnv(t))
			defer a.Close(context.Background())
			a.cfg.Paths.WorkingDirectory = tt.configured

			a.adoptWorkingDirectory(tt.res)
			assert.Equal(t, tt.want, a.cfg.Paths.WorkingDirectory)
			if tt.announced {
				assert.Contains(t, out.String(), "Working directory: "+tt.want)
			} else {
				assert.NotContains(t, out.String(), "Working directory:")
			}
		})
	}
}

func TestDialogStart(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		hint     pipeline.MappingHint
		wantDir  string
		wantName string
	}{
		{
			name:     "existing directory",
			hint:     pipeline.MappingHint{InitialDir: dir, SuggestedName: "humanmale.txt"},
			wantDir:  dir,
			wantName: "humanmale.txt",
		},
		{
			name:     "missing directory",
			hint:     pipeline.MappingHint{InitialDir: filepath.Join(dir, "mappings"), SuggestedName: "crate.txt"},
			wantName: "crate.txt",
		},
		{
			name: "no hint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotDir, gotName := dialogStart(tt.hint)
			assert.Equal(t, tt.wantDir, gotDir)
			assert.Equal(t, tt.wantName, gotName)
		})
	}
}
