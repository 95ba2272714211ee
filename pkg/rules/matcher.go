package rules

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrInvalidGrammar is returned when rule data does not fit its convention.
var ErrInvalidGrammar = errors.New("invalid rule grammar")

// MatcherKind discriminates matcher forms.
type MatcherKind uint8

const (
	MatchID   MatcherKind = iota + 1 // single id or inclusive range
	MatchName                        // bone name
	MatchGlob                        // texture path pattern
)

// Matcher selects references on one side of a rule.
type Matcher struct {
	Kind  MatcherKind `msgpack:"k"`
	From  uint32      `msgpack:"f,omitempty"`
	To    uint32      `msgpack:"t,omitempty"`
	Value string      `msgpack:"v,omitempty"`
}

// ID returns a matcher for a single id.
func ID(id uint32) Matcher {
	return Matcher{Kind: MatchID, From: id, To: id}
}

// Range returns a matcher for the inclusive id range [from, to].
func Range(from, to uint32) Matcher {
	return Matcher{Kind: MatchID, From: from, To: to}
}

// Name returns a bone name matcher.
func Name(name string) Matcher {
	return Matcher{Kind: MatchName, Value: name}
}

// Glob returns a texture path matcher.
func Glob(pattern string) Matcher {
	return Matcher{Kind: MatchGlob, Value: pattern}
}

// String renders the matcher in its configuration syntax.
func (m Matcher) String() string {
	switch m.Kind {
	case MatchID:
		if m.From == m.To {
			return strconv.FormatUint(uint64(m.From), 10)
		}
		return fmt.Sprintf("%d-%d", m.From, m.To)
	case MatchName:
		return "name:" + m.Value
	case MatchGlob:
		return m.Value
	default:
		return fmt.Sprintf("Unknown(%d)", m.Kind)
	}
}

// GrammarError describes a matcher rejected by its convention's schema.
type GrammarError struct {
	Convention Convention
	Index      int // -1 when the data as a whole is malformed
	Input      string
	Reason     string
}

func (e *GrammarError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid %s rule data: %s", e.Convention, e.Reason)
	}
	if e.Input != "" {
		return fmt.Sprintf("invalid %s rule #%d %q: %s", e.Convention, e.Index+1, e.Input, e.Reason)
	}
	return fmt.Sprintf("invalid %s rule #%d: %s", e.Convention, e.Index+1, e.Reason)
}

// Is reports ErrInvalidGrammar.
func (e *GrammarError) Is(target error) bool {
	return target == ErrInvalidGrammar
}

var boneName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ParseMatcher parses the configuration syntax of a matcher:
// "12", "1-5", "name:Head" or a texture glob.
func ParseMatcher(conv Convention, text string) (Matcher, error) {
	text = strings.TrimSpace(text)
	sc := conv.schema()

	var m Matcher
	switch {
	case !conv.Valid():
		return m, &GrammarError{Convention: conv, Index: 0, Input: text, Reason: "unknown convention"}
	case text == "":
		return m, &GrammarError{Convention: conv, Index: 0, Input: text, Reason: "empty matcher"}
	case sc.globs:
		m = Glob(text)
	case strings.HasPrefix(text, "name:"):
		m = Name(strings.TrimPrefix(text, "name:"))
	default:
		from, to, ok := strings.Cut(text, "-")
		lo, err := strconv.ParseUint(strings.TrimSpace(from), 10, 32)
		if err != nil {
			return m, &GrammarError{Convention: conv, Index: 0, Input: text, Reason: "expected id or id range"}
		}
		hi := lo
		if ok {
			hi, err = strconv.ParseUint(strings.TrimSpace(to), 10, 32)
			if err != nil {
				return m, &GrammarError{Convention: conv, Index: 0, Input: text, Reason: "expected id range end"}
			}
		}
		m = Range(uint32(lo), uint32(hi))
	}

	if reason := validate(conv, m); reason != "" {
		return Matcher{}, &GrammarError{Convention: conv, Index: 0, Input: text, Reason: reason}
	}
	return m, nil
}

// validate returns a non-empty reason when m violates conv's schema.
func validate(conv Convention, m Matcher) string {
	sc := conv.schema()
	switch m.Kind {
	case MatchID:
		if !sc.ids {
			return "ids are not allowed for " + conv.String()
		}
		if m.From > m.To {
			return fmt.Sprintf("range start %d is after end %d", m.From, m.To)
		}
		if m.To > sc.maxID {
			return fmt.Sprintf("id %d exceeds maximum %d", m.To, sc.maxID)
		}
	case MatchName:
		if !sc.names {
			return "names are not allowed for " + conv.String()
		}
		if !boneName.MatchString(m.Value) {
			return "bone names may only contain letters, digits and underscores"
		}
	case MatchGlob:
		if !sc.globs {
			return "path patterns are not allowed for " + conv.String()
		}
		if m.Value == "" {
			return "empty path pattern"
		}
		if _, err := path.Match(m.Value, ""); err != nil {
			return "malformed path pattern"
		}
	default:
		return fmt.Sprintf("unknown matcher kind %d", m.Kind)
	}
	return ""
}

// EncodeMatchers validates and encodes matchers into rule data bytes.
func EncodeMatchers(conv Convention, ms []Matcher) ([]byte, error) {
	if err := checkMatchers(conv, ms); err != nil {
		return nil, err
	}
	data, err := msgpack.Marshal(ms)
	if err != nil {
		return nil, fmt.Errorf("encoding %s rules: %w", conv, err)
	}
	return data, nil
}

// DecodeMatchers decodes rule data bytes and validates them against conv.
func DecodeMatchers(conv Convention, data []byte) ([]Matcher, error) {
	if !conv.Valid() {
		return nil, &GrammarError{Convention: conv, Index: -1, Reason: "unknown convention"}
	}
	var ms []Matcher
	if err := msgpack.Unmarshal(data, &ms); err != nil {
		return nil, &GrammarError{Convention: conv, Index: -1, Reason: err.Error()}
	}
	if err := checkMatchers(conv, ms); err != nil {
		return nil, err
	}
	return ms, nil
}

func checkMatchers(conv Convention, ms []Matcher) error {
	if !conv.Valid() {
		return &GrammarError{Convention: conv, Index: -1, Reason: "unknown convention"}
	}
	if len(ms) == 0 {
		return &GrammarError{Convention: conv, Index: -1, Reason: "no matchers"}
	}
	for i, m := range ms {
		if reason := validate(conv, m); reason != "" {
			return &GrammarError{Convention: conv, Index: i, Input: m.String(), Reason: reason}
		}
	}
	return nil
}

// ParseMatchers parses a list of matcher strings.
func ParseMatchers(conv Convention, texts []string) ([]Matcher, error) {
	out := make([]Matcher, 0, len(texts))
	for i, text := range texts {
		m, err := ParseMatcher(conv, text)
		if err != nil {
			var ge *GrammarError
			if errors.As(err, &ge) {
				ge.Index = i
			}
			return nil, err
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, &GrammarError{Convention: conv, Index: -1, Reason: "no matchers"}
	}
	return out, nil
}
