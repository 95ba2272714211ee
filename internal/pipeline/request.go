package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/pkg/listfile"
	"github.com/Faultbox/m2mod/pkg/rules"
)

// ExportRequest converts a model to M2I.
type ExportRequest struct {
	InputM2   string
	OutputM2I string
	Settings  engine.Settings
}

// ImportRequest converts an edited M2I back to a model.
type ImportRequest struct {
	InputM2           string
	InputM2I          string
	ReplaceM2         string
	ReplaceEnabled    bool
	OutputDirectory   string
	MappingsDirectory string
	Rules             *rules.Set
	Settings          engine.Settings
}

// Snapshot returns a copy that shares no mutable state with r.
func (r ImportRequest) Snapshot() ImportRequest {
	if r.Rules != nil {
		r.Rules = r.Rules.Clone()
	}
	return r
}

// ModelFileName is the file name used to locate the model in the listfile
// and to name the output.
func (r ImportRequest) ModelFileName() string {
	if r.ReplaceEnabled && r.ReplaceM2 != "" {
		return filepath.Base(r.ReplaceM2)
	}
	return filepath.Base(r.InputM2)
}

func (r ImportRequest) mappingsDir() string {
	if r.MappingsDirectory == "" {
		return listfile.DefaultMappingsDirectory
	}
	return r.MappingsDirectory
}

func (r ImportRequest) engineSettings() engine.Settings {
	s := r.Settings
	s.OutputDirectory = r.OutputDirectory
	s.MappingsDirectory = r.mappingsDir()
	return s
}

// MappingHint is shown when the engine asks for a mapping file to append to.
type MappingHint struct {
	InitialDir    string
	SuggestedName string
}

func (r ImportRequest) mappingHint() MappingHint {
	base := filepath.Base(r.InputM2)
	return MappingHint{
		InitialDir:    r.mappingsDir(),
		SuggestedName: strings.TrimSuffix(base, filepath.Ext(base)) + ".txt",
	}
}
