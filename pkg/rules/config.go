package rules

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// SideConfig is the YAML form of one side of a rule pair.
type SideConfig struct {
	Convention string   `yaml:"convention"`
	Match      []string `yaml:"match"`
}

// PairConfig is the YAML form of a rule pair.
type PairConfig struct {
	Source       SideConfig `yaml:"source"`
	Target       SideConfig `yaml:"target"`
	PreferSource bool       `yaml:"prefer_source"`
}

// Pair parses the configuration into an encoded Pair.
func (c PairConfig) Pair() (Pair, error) {
	src, srcMatchers, err := c.Source.parse()
	if err != nil {
		return Pair{}, fmt.Errorf("source rules: %w", err)
	}
	tgt, tgtMatchers, err := c.Target.parse()
	if err != nil {
		return Pair{}, fmt.Errorf("target rules: %w", err)
	}
	return NewPair(src, srcMatchers, tgt, tgtMatchers, c.PreferSource)
}

func (c SideConfig) parse() (Convention, []Matcher, error) {
	conv, err := ParseConvention(c.Convention)
	if err != nil {
		return 0, nil, err
	}
	ms, err := ParseMatchers(conv, c.Match)
	if err != nil {
		return 0, nil, err
	}
	return conv, ms, nil
}

// FromConfig builds a set from configured pairs, in order.
func FromConfig(cfgs []PairConfig) (*Set, error) {
	s := NewSet()
	for i, c := range cfgs {
		p, err := c.Pair()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		if err := s.Add(p); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
	}
	return s, nil
}

// Config converts a pair back to its YAML form.
func (p Pair) Config() (PairConfig, error) {
	src, tgt, err := p.Matchers()
	if err != nil {
		return PairConfig{}, err
	}
	return PairConfig{
		Source:       SideConfig{Convention: p.Source.String(), Match: matcherStrings(src)},
		Target:       SideConfig{Convention: p.Target.String(), Match: matcherStrings(tgt)},
		PreferSource: p.PreferSource,
	}, nil
}

func matcherStrings(ms []Matcher) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.String()
	}
	return out
}

// WriteTable renders the set as an aligned text table.
func (s *Set) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSOURCE\tMATCH\tTARGET\tMATCH\tPREFER")
	for i, p := range s.Pairs() {
		c, err := p.Config()
		if err != nil {
			return fmt.Errorf("rule %d: %w", i+1, err)
		}
		prefer := "target"
		if c.PreferSource {
			prefer = "source"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1,
			c.Source.Convention, strings.Join(c.Source.Match, ","),
			c.Target.Convention, strings.Join(c.Target.Match, ","),
			prefer)
	}
	return tw.Flush()
}
