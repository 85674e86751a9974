package daemonctl

import (
	"fmt"
	"regexp"
)

// ErrorPattern maps a line of daemon output to a human-readable diagnosis
type ErrorPattern struct {
	Pattern *regexp.Regexp
	Reason  string
}

// PatternTable is an ordered list of error patterns. It is read-only once built.
type PatternTable []ErrorPattern

// DefaultPatterns returns the known failure signatures of the daemon under test
func DefaultPatterns() PatternTable {
	return PatternTable{
		{
			Pattern: regexp.MustCompile(`dnsmasq: failed to create listening socket`),
			Reason:  "Could not bind dnsmasq to port 53, is there another process running?",
		},
		{
			Pattern: regexp.MustCompile(`Failed to get shared "write" lock`),
			Reason:  "Cannot open an image file for writing, is another process holding a write lock?",
		},
		{
			Pattern: regexp.MustCompile(`Only one usage of each socket address`),
			Reason:  "Could not bind gRPC port -- is there another daemon process running?",
		},
	}
}

// CompilePatterns builds a PatternTable from pattern/reason pairs, keeping their order
func CompilePatterns(specs []PatternSpec) (PatternTable, error) {
	table := make(PatternTable, 0, len(specs))
	for _, spec := range specs {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling error pattern %q: %w", spec.Pattern, err)
		}
		table = append(table, ErrorPattern{Pattern: re, Reason: spec.Reason})
	}
	return table, nil
}

// PatternSpec is the uncompiled, configuration form of an ErrorPattern
type PatternSpec struct {
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Reason  string `mapstructure:"reason" yaml:"reason"`
}

// Match returns the reasons of every pattern matching line, in table order
func (t PatternTable) Match(line string) []string {
	var reasons []string
	for _, p := range t {
		if p.Pattern.MatchString(line) {
			reasons = append(reasons, p.Reason)
		}
	}
	return reasons
}

// reasonSet accumulates matched reasons without duplicates, preserving first-seen order
type reasonSet struct {
	seen    map[string]struct{}
	reasons []string
}

func (s *reasonSet) add(reasons ...string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	for _, r := range reasons {
		if _, ok := s.seen[r]; ok {
			continue
		}
		s.seen[r] = struct{}{}
		s.reasons = append(s.reasons, r)
	}
}

func (s *reasonSet) list() []string {
	return s.reasons
}
