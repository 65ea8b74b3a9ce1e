package nmea

import (
	"fmt"
	"strings"
)

// FilterAction decides what happens to a sentence matching a rule.
type FilterAction int

const (
	// Accept lets the sentence through.
	Accept FilterAction = iota
	// Deny discards the sentence.
	Deny
)

// FilterRule matches the five-character sentence identifier (talker plus
// formatter, e.g. "GPRMC"). A '?' in the pattern matches any character.
type FilterRule struct {
	Pattern string
	Action  FilterAction
}

// Filter is an ordered list of rules applied to each sentence; the first
// matching rule wins. When the list contains at least one Accept rule, a
// sentence matching no rule is denied, otherwise it is accepted.
// A compiled filter is immutable and safely shared between interfaces.
type Filter struct {
	rules      []FilterRule
	hasAccepts bool
}

// CompileFilter parses a filter expression, a colon-separated list of rules
// of the form [+-]PATTERN, e.g. "+GPRMC:+GPGGA" or "-AI???".
// '+' accepts and '-' denies; PATTERN is five characters with '?' wildcards.
func CompileFilter(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}
	f := &Filter{}
	for _, part := range strings.Split(expr, ":") {
		if len(part) != 6 || (part[0] != '+' && part[0] != '-') {
			return nil, fmt.Errorf("malformed filter rule %q", part)
		}
		action := Accept
		if part[0] == '-' {
			action = Deny
		} else {
			f.hasAccepts = true
		}
		f.rules = append(f.rules, FilterRule{Pattern: part[1:], Action: action})
	}
	return f, nil
}

// Match reports whether the filter lets the sentence through. A nil filter
// accepts everything.
func (f *Filter) Match(sentence []byte) bool {
	if f == nil {
		return true
	}
	id := sentenceID(sentence)
	if id == "" {
		// Unidentifiable sentences only pass a pure deny-list.
		return !f.hasAccepts
	}
	for _, rule := range f.rules {
		if patternMatch(rule.Pattern, id) {
			return rule.Action == Accept
		}
	}
	return !f.hasAccepts
}

// Clone returns a filter sharing the receiver's compiled rules. Filters are
// immutable after compilation so the clone is the receiver itself.
func (f *Filter) Clone() *Filter {
	return f
}

func sentenceID(sentence []byte) string {
	if len(sentence) < 6 || (sentence[0] != '$' && sentence[0] != '!') {
		return ""
	}
	return string(sentence[1:6])
}

func patternMatch(pattern, id string) bool {
	if len(pattern) != len(id) {
		return false
	}
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '?' && pattern[i] != id[i] {
			return false
		}
	}
	return true
}
