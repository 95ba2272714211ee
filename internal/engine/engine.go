// Package engine defines the narrow call interface to the native model
// engine that reads and writes M2 and M2I files.
package engine

import (
	"context"

	"github.com/Faultbox/m2mod/pkg/rules"
)

// Engine allocates model handles.
type Engine interface {
	Create(ctx context.Context, settings Settings) (Handle, error)
}

// Handle is one engine-side model. Every call blocks until the engine
// finishes; none of them can be interrupted. A Handle must not be used by
// more than one goroutine at a time.
type Handle interface {
	Load(path string) Code
	SetReplacement(path string) Code
	AddNormalizationRule(source rules.Convention, sourceData []byte, target rules.Convention, targetData []byte, preferSource bool) Code
	ImportIntermediate(path string) Code
	ExportIntermediate(path string) Code
	Save(path string, mask SaveMask) Code
	SetMappingCallback(fn MappingFunc) Code
	Free()
}

// MappingFunc is called by the engine during Save when new file mappings
// need an append target. It returns a file path, or "" to skip.
type MappingFunc func() string

// LogFunc receives engine log lines.
type LogFunc func(level Level, message string)

// LogSource is implemented by engines that forward their own log output.
type LogSource interface {
	SetLogCallback(levels Level, fn LogFunc)
}

// Level is a bit set of engine log levels.
type Level uint8

const (
	LevelInfo Level = 1 << iota
	LevelError
	LevelWarning
	LevelCustom

	LevelAll = LevelInfo | LevelError | LevelWarning | LevelCustom
)

// Has reports whether l includes every bit of other.
func (l Level) Has(other Level) bool {
	return l&other == other
}

// String returns a short level name.
func (l Level) String() string {
	switch {
	case l.Has(LevelError):
		return "error"
	case l.Has(LevelWarning):
		return "warning"
	case l.Has(LevelCustom):
		return "custom"
	case l.Has(LevelInfo):
		return "info"
	default:
		return "none"
	}
}

// SaveMask selects which files Save writes.
type SaveMask uint32

const (
	SaveM2 SaveMask = 1 << iota
	SaveSkins
	SaveSkeleton

	SaveAll = SaveM2 | SaveSkins | SaveSkeleton
)

// Expansion forces the engine to treat a model as a given client expansion.
type Expansion int32

const (
	ExpansionNone Expansion = iota - 1
	ExpansionClassic
	ExpansionBurningCrusade
	ExpansionWrathOfTheLichKing
	ExpansionCataclysm
	ExpansionMistsOfPandaria
	ExpansionWarlordsOfDraenor
	ExpansionLegion
	ExpansionBattleForAzeroth
	ExpansionShadowlands
)

// Settings are passed to the engine when a handle is created.
type Settings struct {
	OutputDirectory           string    `msgpack:"output_directory" yaml:"-"`
	WorkingDirectory          string    `msgpack:"working_directory" yaml:"-"`
	MappingsDirectory         string    `msgpack:"mappings_directory" yaml:"-"`
	ForceLoadExpansion        Expansion `msgpack:"force_load_expansion" yaml:"force_load_expansion"`
	CustomFilesStartIndex     uint32    `msgpack:"custom_files_start_index" yaml:"custom_files_start_index"`
	MergeBones                bool      `msgpack:"merge_bones" yaml:"merge_bones"`
	MergeAttachments          bool      `msgpack:"merge_attachments" yaml:"merge_attachments"`
	MergeCameras              bool      `msgpack:"merge_cameras" yaml:"merge_cameras"`
	FixSeams                  bool      `msgpack:"fix_seams" yaml:"fix_seams"`
	FixEdgeNormals            bool      `msgpack:"fix_edge_normals" yaml:"fix_edge_normals"`
	IgnoreOriginalMeshIndexes bool      `msgpack:"ignore_original_mesh_indexes" yaml:"ignore_original_mesh_indexes"`
	FixAnimationsTest         bool      `msgpack:"fix_animations_test" yaml:"fix_animations_test"`
}

// DefaultSettings mirrors the engine's own defaults.
func DefaultSettings() Settings {
	return Settings{
		ForceLoadExpansion: ExpansionNone,
		MergeBones:         true,
		MergeAttachments:   true,
		MergeCameras:       true,
		FixEdgeNormals:     true,
	}
}
