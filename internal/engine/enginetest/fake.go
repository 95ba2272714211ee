// Package enginetest provides an in-memory engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/pkg/rules"
)

// Op names a handle call.
type Op string

const (
	OpLoad           Op = "load"
	OpSetReplacement Op = "set_replacement"
	OpAddRule        Op = "add_rule"
	OpImport         Op = "import_intermediate"
	OpExport         Op = "export_intermediate"
	OpSave           Op = "save"
	OpSetMapping     Op = "set_mapping_callback"
)

// Fake is an engine.Engine that records calls and writes small text files
// in place of real model output.
type Fake struct {
	// Fail makes the named op return the given code.
	Fail map[Op]engine.Code
	// CreateErr is returned by Create when set.
	CreateErr error
	// RequestMapping makes Save ask the mapping callback for a file.
	RequestMapping bool
	// SaveLog lines are emitted through the log callback during Save.
	SaveLog []LogLine

	mu      sync.Mutex
	handles []*Handle
	logFn   engine.LogFunc
	levels  engine.Level
}

// LogLine is a scripted engine log message.
type LogLine struct {
	Level   engine.Level
	Message string
}

var _ engine.Engine = (*Fake)(nil)
var _ engine.LogSource = (*Fake)(nil)

// New returns a fake with no scripted failures.
func New() *Fake {
	return &Fake{Fail: make(map[Op]engine.Code)}
}

// Create allocates a new handle.
func (f *Fake) Create(ctx context.Context, settings engine.Settings) (engine.Handle, error) {
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	h := &Handle{fake: f, Settings: settings}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

// SetLogCallback installs the log forwarder.
func (f *Fake) SetLogCallback(levels engine.Level, fn engine.LogFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = levels
	f.logFn = fn
}

func (f *Fake) log(level engine.Level, msg string) {
	f.mu.Lock()
	fn, levels := f.logFn, f.levels
	f.mu.Unlock()
	if fn != nil && levels&level != 0 {
		fn(level, msg)
	}
}

func (f *Fake) code(op Op) engine.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.Fail[op]; ok {
		return c
	}
	return engine.CodeOK
}

// Handles returns every handle created so far.
func (f *Fake) Handles() []*Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Handle(nil), f.handles...)
}

// Live returns the number of handles that have not been freed.
func (f *Fake) Live() int {
	n := 0
	for _, h := range f.Handles() {
		if h.Frees() == 0 {
			n++
		}
	}
	return n
}

// Last returns the most recently created handle.
func (f *Fake) Last() *Handle {
	hs := f.Handles()
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

// Handle is a fake engine handle.
type Handle struct {
	fake     *Fake
	Settings engine.Settings

	mu          sync.Mutex
	calls       []Op
	model       string
	replacement string
	rules       []rules.Pair
	imported    string
	mapping     engine.MappingFunc
	mappingFile string
	frees       int
}

func (h *Handle) record(op Op) engine.Code {
	h.mu.Lock()
	h.calls = append(h.calls, op)
	h.mu.Unlock()
	return h.fake.code(op)
}

// Load records the model path; missing files fail like the real engine.
func (h *Handle) Load(path string) engine.Code {
	if c := h.record(OpLoad); !c.OK() {
		return c
	}
	if path == "" {
		return engine.CodeLoadM2NoFileSpecified
	}
	if _, err := os.Stat(path); err != nil {
		return engine.CodeLoadM2CouldNotOpenFile
	}
	h.mu.Lock()
	h.model = path
	h.mu.Unlock()
	h.fake.log(engine.LevelInfo, "Loaded "+path)
	return engine.CodeOK
}

// SetReplacement records the replacement model path.
func (h *Handle) SetReplacement(path string) engine.Code {
	if c := h.record(OpSetReplacement); !c.OK() {
		return c
	}
	if _, err := os.Stat(path); err != nil {
		return engine.CodeReplaceM2CouldNotOpenFile
	}
	h.mu.Lock()
	h.replacement = path
	h.mu.Unlock()
	return engine.CodeOK
}

// AddNormalizationRule records a rule after decoding both sides.
func (h *Handle) AddNormalizationRule(source rules.Convention, sourceData []byte, target rules.Convention, targetData []byte, preferSource bool) engine.Code {
	if c := h.record(OpAddRule); !c.OK() {
		return c
	}
	if !source.Valid() || !target.Valid() {
		return engine.CodeRuleInvalidConvention
	}
	p := rules.Pair{Source: source, SourceData: sourceData, Target: target, TargetData: targetData, PreferSource: preferSource}
	if err := p.Validate(); err != nil {
		return engine.CodeRuleInvalidData
	}
	h.mu.Lock()
	h.rules = append(h.rules, p)
	h.mu.Unlock()
	return engine.CodeOK
}

// ImportIntermediate records the M2I path.
func (h *Handle) ImportIntermediate(path string) engine.Code {
	if c := h.record(OpImport); !c.OK() {
		return c
	}
	if _, err := os.Stat(path); err != nil {
		return engine.CodeImportM2ICouldNotOpenFile
	}
	h.mu.Lock()
	h.imported = path
	h.mu.Unlock()
	return engine.CodeOK
}

// ExportIntermediate writes a small M2I stand-in.
func (h *Handle) ExportIntermediate(path string) engine.Code {
	if c := h.record(OpExport); !c.OK() {
		return c
	}
	h.mu.Lock()
	model := h.model
	h.mu.Unlock()
	if model == "" {
		return engine.CodeExportM2IM2NotLoaded
	}
	if err := os.WriteFile(path, []byte("M2I "+model+"\n"), 0644); err != nil {
		return engine.CodeExportM2ICouldNotOpenFile
	}
	return engine.CodeOK
}

// SetMappingCallback stores fn for use during Save.
func (h *Handle) SetMappingCallback(fn engine.MappingFunc) engine.Code {
	if c := h.record(OpSetMapping); !c.OK() {
		return c
	}
	h.mu.Lock()
	h.mapping = fn
	h.mu.Unlock()
	return engine.CodeOK
}

// Save writes a stand-in M2, asking for a mapping file when configured.
func (h *Handle) Save(path string, mask engine.SaveMask) engine.Code {
	if c := h.record(OpSave); !c.OK() {
		return c
	}
	for _, line := range h.fake.SaveLog {
		h.fake.log(line.Level, line.Message)
	}

	h.mu.Lock()
	model, replacement, imported, mapping := h.model, h.replacement, h.imported, h.mapping
	nrules := len(h.rules)
	h.mu.Unlock()

	if path == "" {
		return engine.CodeSaveM2NoFileSpecified
	}

	if h.fake.RequestMapping && mapping != nil {
		target := mapping()
		h.mu.Lock()
		h.mappingFile = target
		h.mu.Unlock()
		if target != "" {
			if err := appendLine(target, "100000;custom/"+path); err != nil {
				return engine.CodeFail
			}
		}
	}

	body := fmt.Sprintf("M2 model=%s replacement=%s m2i=%s rules=%d mask=%d\n", model, replacement, imported, nrules, mask)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return engine.CodeSaveM2CouldNotOpenFile
	}
	return engine.CodeOK
}

// Free releases the handle. Calling it twice is recorded as a double free.
func (h *Handle) Free() {
	h.mu.Lock()
	h.frees++
	h.mu.Unlock()
}

// Calls returns the ops invoked so far.
func (h *Handle) Calls() []Op {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Op(nil), h.calls...)
}

// Frees returns how many times Free was called.
func (h *Handle) Frees() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frees
}

// Rules returns the rules added to the handle.
func (h *Handle) Rules() []rules.Pair {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]rules.Pair(nil), h.rules...)
}

// Replacement returns the replacement path set on the handle.
func (h *Handle) Replacement() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.replacement
}

// MappingFile returns the path the mapping callback answered with.
func (h *Handle) MappingFile() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mappingFile
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, line)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
