package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/internal/engine/enginetest"
	"github.com/Faultbox/m2mod/pkg/listfile"
	"github.com/Faultbox/m2mod/pkg/rules"
)

type fixture struct {
	dir      string
	fake     *enginetest.Fake
	manager  *listfile.Manager
	orch     *Orchestrator
	statuses []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir:     t.TempDir(),
		fake:    enginetest.New(),
		manager: listfile.NewManager(nil),
	}
	f.orch = New(f.fake, f.manager, nil)
	f.orch.Progress = func(s string) { f.statuses = append(f.statuses, s) }
	return f
}

func (f *fixture) file(t *testing.T, rel string) string {
	t.Helper()
	p := filepath.Join(f.dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(rel), 0644))
	return p
}

func (f *fixture) importRequest(t *testing.T) ImportRequest {
	return ImportRequest{
		InputM2:  f.file(t, "work/humanmale.m2"),
		InputM2I: f.file(t, "work/humanmale.m2i"),
		Settings: engine.DefaultSettings(),
	}
}

func TestExportScenario(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "humanmale.m2i")

	status, err := f.orch.Export(context.Background(), ExportRequest{
		InputM2:   f.file(t, "humanmale.m2"),
		OutputM2I: out,
		Settings:  engine.DefaultSettings(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Export done.", status)
	assert.FileExists(t, out)
	assert.Equal(t, 0, f.fake.Live())
	assert.Equal(t, []string{StatusWorking}, f.statuses)
}

func TestExportValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Export(context.Background(), ExportRequest{OutputM2I: "x.m2i"})
	assert.EqualError(t, err, "Error: No input M2 file Specified.")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.orch.Export(context.Background(), ExportRequest{InputM2: "x.m2"})
	assert.EqualError(t, err, "Error: No output M2I file Specified.")
	assert.Empty(t, f.fake.Handles(), "validation must not touch the engine")
}

func TestExportEngineFailureReleases(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Export(context.Background(), ExportRequest{
		InputM2:   filepath.Join(f.dir, "missing.m2"),
		OutputM2I: filepath.Join(f.dir, "out.m2i"),
	})
	assert.Equal(t, KindEngine, KindOf(err))
	assert.Equal(t, engine.CodeLoadM2CouldNotOpenFile.Text(), err.Error())
	assert.Equal(t, 0, f.fake.Live())
	assert.NoFileExists(t, filepath.Join(f.dir, "out.m2i"))
}

func TestImportWithoutOutputRoot(t *testing.T) {
	f := newFixture(t)
	f.fake.RequestMapping = true
	req := f.importRequest(t)

	p, err := f.orch.Preload(context.Background(), req)
	require.NoError(t, err)
	require.True(t, p.Live())

	var hint MappingHint
	res, err := f.orch.Commit(context.Background(), p, func(_ context.Context, h MappingHint) string {
		hint = h
		return ""
	})
	require.NoError(t, err, spew.Sdump(f.fake.Last().Calls()))

	wantDir := filepath.Join(f.dir, "work", "Export")
	assert.Equal(t, filepath.Join(wantDir, "humanmale.m2"), res.OutputPath)
	assert.FileExists(t, res.OutputPath)

	info, err := os.Stat(filepath.Join(wantDir, MarkerFile))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	assert.Equal(t, MappingHint{InitialDir: listfile.DefaultMappingsDirectory, SuggestedName: "humanmale.txt"}, hint)
	assert.False(t, p.Live())
	assert.Equal(t, 0, f.fake.Live())
	assert.Equal(t, []string{StatusPreloading, StatusImporting, StatusSaving}, f.statuses)
}

func TestImportUsesReplacementName(t *testing.T) {
	f := newFixture(t)
	req := f.importRequest(t)
	req.ReplaceEnabled = true
	req.ReplaceM2 = f.file(t, "other/orcmale.m2")

	p, err := f.orch.Preload(context.Background(), req)
	require.NoError(t, err)
	res, err := f.orch.Commit(context.Background(), p, nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.dir, "work", "Export", "orcmale.m2"), res.OutputPath)
	assert.Equal(t, req.ReplaceM2, f.fake.Last().Replacement())
}

func TestImportWithOutputRoot(t *testing.T) {
	f := newFixture(t)
	mappings := filepath.Join(f.dir, "mappings")
	require.NoError(t, os.MkdirAll(mappings, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(mappings, "listfile.csv"),
		[]byte("1;character/human/male/humanmale.m2\n2;character/orc/male/orcmale.m2\n"), 0644))

	req := f.importRequest(t)
	req.OutputDirectory = filepath.Join(f.dir, "client")
	req.MappingsDirectory = mappings

	p, err := f.orch.Preload(context.Background(), req)
	require.NoError(t, err)
	res, err := f.orch.Commit(context.Background(), p, nil)
	require.NoError(t, err)

	want := filepath.Join(f.dir, "client", "character", "human", "male", "humanmale.m2")
	assert.Equal(t, want, res.OutputPath)
	assert.FileExists(t, want)
	assert.FileExists(t, filepath.Join(filepath.Dir(want), MarkerFile))
	assert.Contains(t, f.statuses, StatusLoadingListfile)
	assert.Equal(t, mappings, f.fake.Last().Settings.MappingsDirectory)
	// work/humanmale.m2 is not at its listfile location
	assert.Empty(t, res.WorkingDirectory)
}

func TestImportDetectsWorkingDirectory(t *testing.T) {
	for _, tt := range []struct {
		name    string
		working string
		want    bool
	}{
		{"unset", "", true},
		{"configured", "/already/set", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			mappings := filepath.Join(f.dir, "mappings")
			require.NoError(t, os.MkdirAll(mappings, 0755))
			require.NoError(t, os.WriteFile(filepath.Join(mappings, "listfile.csv"),
				[]byte("1;character/human/male/humanmale.m2\n"), 0644))

			req := ImportRequest{
				InputM2:           f.file(t, "data/Character/Human/Male/HumanMale.m2"),
				InputM2I:          f.file(t, "edit/humanmale.m2i"),
				OutputDirectory:   filepath.Join(f.dir, "client"),
				MappingsDirectory: mappings,
				Settings:          engine.DefaultSettings(),
			}
			req.Settings.WorkingDirectory = tt.working

			p, err := f.orch.Preload(context.Background(), req)
			require.NoError(t, err)
			res, err := f.orch.Commit(context.Background(), p, nil)
			require.NoError(t, err, spew.Sdump(res))

			if tt.want {
				assert.Equal(t, filepath.Join(f.dir, "data"), res.WorkingDirectory)
			} else {
				assert.Empty(t, res.WorkingDirectory)
			}
		})
	}
}

func TestImportUnresolvedAssetWritesNothing(t *testing.T) {
	f := newFixture(t)
	mappings := filepath.Join(f.dir, "mappings")
	require.NoError(t, os.MkdirAll(mappings, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(mappings, "listfile.csv"),
		[]byte("2;character/orc/male/orcmale.m2\n"), 0644))

	req := f.importRequest(t)
	req.OutputDirectory = filepath.Join(f.dir, "client")
	req.MappingsDirectory = mappings

	p, err := f.orch.Preload(context.Background(), req)
	require.NoError(t, err)
	_, err = f.orch.Commit(context.Background(), p, nil)

	assert.ErrorIs(t, err, ErrPathResolution)
	assert.Equal(t, KindPathResolution, KindOf(err))
	assert.EqualError(t, err, "Failed to determine model relative path in storage")
	assert.NoDirExists(t, req.OutputDirectory)
	assert.NotContains(t, f.fake.Last().Calls(), enginetest.OpSave)
	assert.Equal(t, 0, f.fake.Live())
}

func TestImportMissingMappingsDirectory(t *testing.T) {
	f := newFixture(t)
	req := f.importRequest(t)
	req.OutputDirectory = filepath.Join(f.dir, "client")
	req.MappingsDirectory = filepath.Join(f.dir, "nowhere")

	p, err := f.orch.Preload(context.Background(), req)
	require.NoError(t, err)
	_, err = f.orch.Commit(context.Background(), p, nil)

	assert.Equal(t, KindManifestFetch, KindOf(err))
	assert.ErrorIs(t, err, listfile.ErrManifestLoad)
	assert.NotErrorIs(t, err, ErrPathResolution)
	assert.True(t, strings.HasPrefix(err.Error(), "Error: loading manifest: "), err.Error())
	assert.NoDirExists(t, req.OutputDirectory)
	assert.Equal(t, 0, f.fake.Live())
}

func TestPreloadValidationOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Preload(context.Background(), ImportRequest{})
	assert.EqualError(t, err, "Error: No input M2I file Specified.")

	_, err = f.orch.Preload(context.Background(), ImportRequest{InputM2I: "a.m2i"})
	assert.EqualError(t, err, "Error: No input M2 file Specified.")
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Empty(t, f.fake.Handles())
}

func TestPreloadFailureReleases(t *testing.T) {
	f := newFixture(t)
	f.fake.Fail[enginetest.OpImport] = engine.CodeImportM2ITooManyVertices

	_, err := f.orch.Preload(context.Background(), f.importRequest(t))
	assert.Equal(t, engine.CodeImportM2ITooManyVertices.Text(), err.Error())
	assert.Equal(t, 0, f.fake.Live())
}

func TestPreloadSendsRulesInOrder(t *testing.T) {
	f := newFixture(t)
	set, err := rules.FromConfig([]rules.PairConfig{
		{
			Source: rules.SideConfig{Convention: "mesh_id", Match: []string{"1"}},
			Target: rules.SideConfig{Convention: "mesh_id", Match: []string{"2"}},
		},
		{
			Source:       rules.SideConfig{Convention: "bone", Match: []string{"name:Head"}},
			Target:       rules.SideConfig{Convention: "attachment", Match: []string{"11"}},
			PreferSource: true,
		},
	})
	require.NoError(t, err)

	req := f.importRequest(t)
	req.Rules = set
	p, err := f.orch.Preload(context.Background(), req)
	require.NoError(t, err)
	defer f.orch.Cancel(p)

	got := f.fake.Last().Rules()
	require.Len(t, got, 2)
	assert.Equal(t, rules.ConventionMeshID, got[0].Source)
	assert.Equal(t, rules.ConventionAttachment, got[1].Target)
}

func TestCommitRequiresPreload(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Commit(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNotPreloaded)
	assert.EqualError(t, err, "Error: Model not preloaded")

	p, err := f.orch.Preload(context.Background(), f.importRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "Cancelled preload.", f.orch.Cancel(p))

	_, err = f.orch.Commit(context.Background(), p, nil)
	assert.Equal(t, KindNotPreloaded, KindOf(err))
	assert.Equal(t, 1, f.fake.Last().Frees())
}

func TestSnapshotCopiesRules(t *testing.T) {
	set := rules.NewSet()
	req := ImportRequest{Rules: set}
	snap := req.Snapshot()

	p, err := rules.NewPair(rules.ConventionMeshID, []rules.Matcher{rules.ID(1)}, rules.ConventionMeshID, []rules.Matcher{rules.ID(2)}, false)
	require.NoError(t, err)
	require.NoError(t, set.Add(p))

	assert.Equal(t, 0, snap.Rules.Len())
}
