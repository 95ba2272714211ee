package rules

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Pair associates matchers of a source convention with matchers of a
// target convention. PreferSource selects which side's identifier wins when
// both sides match the same reference.
type Pair struct {
	Source       Convention `msgpack:"source"`
	SourceData   []byte     `msgpack:"source_data"`
	Target       Convention `msgpack:"target"`
	TargetData   []byte     `msgpack:"target_data"`
	PreferSource bool       `msgpack:"prefer_source"`
}

// NewPair encodes matchers for both sides into a Pair.
func NewPair(source Convention, sourceRules []Matcher, target Convention, targetRules []Matcher, preferSource bool) (Pair, error) {
	src, err := EncodeMatchers(source, sourceRules)
	if err != nil {
		return Pair{}, fmt.Errorf("source rules: %w", err)
	}
	tgt, err := EncodeMatchers(target, targetRules)
	if err != nil {
		return Pair{}, fmt.Errorf("target rules: %w", err)
	}
	return Pair{
		Source:       source,
		SourceData:   src,
		Target:       target,
		TargetData:   tgt,
		PreferSource: preferSource,
	}, nil
}

// Validate decodes both sides of the pair against their conventions.
func (p Pair) Validate() error {
	if _, err := DecodeMatchers(p.Source, p.SourceData); err != nil {
		return fmt.Errorf("source rules: %w", err)
	}
	if _, err := DecodeMatchers(p.Target, p.TargetData); err != nil {
		return fmt.Errorf("target rules: %w", err)
	}
	return nil
}

// Matchers decodes both sides of the pair.
func (p Pair) Matchers() (source, target []Matcher, err error) {
	if source, err = DecodeMatchers(p.Source, p.SourceData); err != nil {
		return nil, nil, fmt.Errorf("source rules: %w", err)
	}
	if target, err = DecodeMatchers(p.Target, p.TargetData); err != nil {
		return nil, nil, fmt.Errorf("target rules: %w", err)
	}
	return source, target, nil
}

// Equal reports whether two pairs carry the same conventions and bytes.
func (p Pair) Equal(o Pair) bool {
	return p.Source == o.Source && p.Target == o.Target &&
		p.PreferSource == o.PreferSource &&
		bytes.Equal(p.SourceData, o.SourceData) &&
		bytes.Equal(p.TargetData, o.TargetData)
}

func (p Pair) clone() Pair {
	p.SourceData = bytes.Clone(p.SourceData)
	p.TargetData = bytes.Clone(p.TargetData)
	return p
}

// Set is an ordered collection of rule pairs. Pairs are handed to the
// engine in the order they were added; for an identical
// (source, target) convention pair the last one added wins.
type Set struct {
	pairs []Pair
}

// NewSet returns an empty rule set.
func NewSet() *Set {
	return &Set{}
}

// Add validates p locally and appends it. On error the set is unchanged.
func (s *Set) Add(p Pair) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.pairs = append(s.pairs, p.clone())
	return nil
}

// Len returns the number of pairs.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.pairs)
}

// Pairs returns a copy of the pairs in order.
func (s *Set) Pairs() []Pair {
	if s == nil {
		return nil
	}
	out := make([]Pair, len(s.pairs))
	for i, p := range s.pairs {
		out[i] = p.clone()
	}
	return out
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	return &Set{pairs: s.Pairs()}
}

// Lookup returns the effective pair for a convention pair.
func (s *Set) Lookup(source, target Convention) (Pair, bool) {
	if s == nil {
		return Pair{}, false
	}
	for i := len(s.pairs) - 1; i >= 0; i-- {
		p := s.pairs[i]
		if p.Source == source && p.Target == target {
			return p.clone(), true
		}
	}
	return Pair{}, false
}

// Serialized is the engine boundary form of a pair.
type Serialized = Pair

// SerializeAll returns every pair in user order, ready for the engine.
func (s *Set) SerializeAll() []Serialized {
	return s.Pairs()
}

// Parse rebuilds a set from serialized pairs, validating each one.
func Parse(items []Serialized) (*Set, error) {
	s := NewSet()
	for i, p := range items {
		if err := s.Add(p); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
	}
	return s, nil
}

// MarshalBinary encodes the set as msgpack.
func (s *Set) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal(s.SerializeAll())
}

// UnmarshalBinary decodes and validates a msgpack encoded set.
func (s *Set) UnmarshalBinary(data []byte) error {
	var items []Serialized
	if err := msgpack.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGrammar, err)
	}
	parsed, err := Parse(items)
	if err != nil {
		return err
	}
	s.pairs = parsed.pairs
	return nil
}
