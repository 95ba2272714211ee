package interact

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/internal/pipeline"
)

// Prompter is the user-facing side of the loop. Its methods are only
// called on the interactive goroutine.
type Prompter interface {
	// Status shows a one-line status.
	Status(msg string)
	// Acknowledge shows an error or warning and reports whether further
	// notices of the same level should be ignored.
	Acknowledge(level engine.Level, msg string) (ignore bool)
	// MappingFile asks for a mapping file to append new entries to.
	// It returns "" to skip.
	MappingFile(hint pipeline.MappingHint) string
}

// SuggestedPath joins the hint into a single path.
func SuggestedPath(hint pipeline.MappingHint) string {
	if hint.SuggestedName == "" {
		return ""
	}
	return filepath.Join(hint.InitialDir, hint.SuggestedName)
}

// TerminalPrompter prompts on a text stream.
type TerminalPrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter reads answers from r and writes to w.
func NewTerminalPrompter(r io.Reader, w io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(r), out: w}
}

// ReadLine reads one trimmed line. The shell shares the prompter's reader
// so prompts and commands never race for input.
func (p *TerminalPrompter) ReadLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Printf writes formatted output.
func (p *TerminalPrompter) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *TerminalPrompter) Status(msg string) {
	p.Printf("%s\n", msg)
}

func (p *TerminalPrompter) Acknowledge(level engine.Level, msg string) bool {
	p.Printf("[%s] %s\nIgnore further %ss for this operation? [y/N]: ", level, msg, level)
	answer, err := p.ReadLine()
	if err != nil {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (p *TerminalPrompter) MappingFile(hint pipeline.MappingHint) string {
	def := SuggestedPath(hint)
	p.Printf("Select mappings file to append entries to [%s] (- to skip): ", def)
	answer, err := p.ReadLine()
	if err != nil {
		return ""
	}
	switch answer {
	case "":
		return def
	case "-":
		return ""
	default:
		return answer
	}
}

// AutoPrompter never blocks on input. Notices are printed and never
// latched; mapping requests take the suggested file or skip.
type AutoPrompter struct {
	Out           io.Writer
	AcceptMapping bool
}

func (p *AutoPrompter) Status(msg string) {
	fmt.Fprintln(p.Out, msg)
}

func (p *AutoPrompter) Acknowledge(level engine.Level, msg string) bool {
	fmt.Fprintf(p.Out, "[%s] %s\n", level, msg)
	return false
}

func (p *AutoPrompter) MappingFile(hint pipeline.MappingHint) string {
	if !p.AcceptMapping {
		return ""
	}
	return SuggestedPath(hint)
}
