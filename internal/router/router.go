// Package router maps a declared schema version to an ordered list of
// dispatch target names. Rules are evaluated in declaration order and the
// first match wins; an unmatched version is a distinct error, never a silent
// drop.
package router

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
)

// UnroutedError reports a schema version no rule accepts. Usually a missing
// configuration entry; the engine surfaces it as a terminal outcome.
type UnroutedError struct {
	Version domain.Version
}

func (e *UnroutedError) Error() string {
	return "no route for schema version " + e.Version.String()
}

// Rule pairs a compiled version matcher with its target names.
type Rule struct {
	Pattern string
	Targets []string
	matcher matcher
}

type matcher interface {
	matches(v domain.Version) bool
}

// Router resolves schema versions against an immutable rule set. Reload swaps
// the whole set atomically, so in-flight resolutions never observe a
// half-updated configuration.
type Router struct {
	rules atomic.Pointer[[]Rule]
}

func New(rules []Rule) *Router {
	r := &Router{}
	r.Reload(rules)
	return r
}

// Resolve returns the target names of the first matching rule.
func (r *Router) Resolve(v domain.Version) ([]string, error) {
	rules := *r.rules.Load()
	for _, rule := range rules {
		if rule.matcher.matches(v) {
			return append([]string(nil), rule.Targets...), nil
		}
	}
	return nil, &UnroutedError{Version: v}
}

// Reload replaces the rule set in one atomic swap.
func (r *Router) Reload(rules []Rule) {
	owned := append([]Rule(nil), rules...)
	r.rules.Store(&owned)
}

// CompileRule builds a Rule from a pattern and target list. Patterns:
//
//	exact     "1.2.0" (missing components are zero, so "1.2" == "1.2.0")
//	wildcard  "1.x" or "1.2.x"
//	range     "1.0 - 2.0" (inclusive, semantic-version ordering)
func CompileRule(pattern string, targets []string) (Rule, error) {
	if len(targets) == 0 {
		return Rule{}, fmt.Errorf("rule %q: targets must not be empty", pattern)
	}
	m, err := compileMatcher(pattern)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Pattern: pattern, Targets: append([]string(nil), targets...), matcher: m}, nil
}

func compileMatcher(pattern string) (matcher, error) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return nil, fmt.Errorf("empty match pattern")
	}

	if lo, hi, ok := strings.Cut(p, "-"); ok {
		low, err := domain.ParseVersion(lo)
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", pattern, err)
		}
		high, err := domain.ParseVersion(hi)
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", pattern, err)
		}
		if low.Compare(high) > 0 {
			return nil, fmt.Errorf("range %q: lower bound above upper bound", pattern)
		}
		return rangeMatcher{low: low, high: high}, nil
	}

	if strings.HasSuffix(p, ".x") {
		prefix := strings.TrimSuffix(p, ".x")
		parts := strings.Split(prefix, ".")
		v, err := domain.ParseVersion(prefix)
		if err != nil || len(parts) > 2 {
			return nil, fmt.Errorf("wildcard %q: want major.x or major.minor.x", pattern)
		}
		wm := wildcardMatcher{major: v.Major}
		if len(parts) == 2 {
			minor := v.Minor
			wm.minor = &minor
		}
		return wm, nil
	}

	v, err := domain.ParseVersion(p)
	if err != nil {
		return nil, err
	}
	return exactMatcher{version: v}, nil
}

type exactMatcher struct {
	version domain.Version
}

func (m exactMatcher) matches(v domain.Version) bool {
	return m.version.Compare(v) == 0
}

type wildcardMatcher struct {
	major int
	minor *int
}

func (m wildcardMatcher) matches(v domain.Version) bool {
	if v.Major != m.major {
		return false
	}
	return m.minor == nil || v.Minor == *m.minor
}

type rangeMatcher struct {
	low  domain.Version
	high domain.Version
}

func (m rangeMatcher) matches(v domain.Version) bool {
	return m.low.Compare(v) <= 0 && m.high.Compare(v) >= 0
}
