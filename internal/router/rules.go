package router

import (
	"encoding/json"
	"fmt"
	"os"
)

// RoutesFile is the on-disk routing configuration: the dispatch targets and
// the ordered rules referencing them by name.
type RoutesFile struct {
	Targets []TargetConfig `json:"targets"`
	Rules   []RuleConfig   `json:"rules"`
}

// TargetConfig declares one downstream sink. Type selects the transport;
// fields not used by the type are ignored.
type TargetConfig struct {
	Name    string `json:"name"`
	Type    string `json:"type"`              // "webhook" or "redis"
	URL     string `json:"url,omitempty"`     // webhook
	Secret  string `json:"secret,omitempty"`  // webhook HMAC secret
	List    string `json:"list,omitempty"`    // redis list key
	Timeout string `json:"timeout,omitempty"` // optional per-target override
}

type RuleConfig struct {
	Match   string   `json:"match"`
	Targets []string `json:"targets"`
}

// LoadFile reads and validates a routes file. Every rule must reference a
// declared target and every pattern must compile.
func LoadFile(path string) (RoutesFile, []Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RoutesFile{}, nil, fmt.Errorf("read routes file: %w", err)
	}

	var file RoutesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return RoutesFile{}, nil, fmt.Errorf("parse routes file: %w", err)
	}

	rules, err := Compile(file)
	if err != nil {
		return RoutesFile{}, nil, err
	}
	return file, rules, nil
}

// Compile validates a routes file and builds the rule set.
func Compile(file RoutesFile) ([]Rule, error) {
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("routes file declares no rules")
	}

	known := make(map[string]bool, len(file.Targets))
	for _, t := range file.Targets {
		if t.Name == "" {
			return nil, fmt.Errorf("target with empty name")
		}
		if known[t.Name] {
			return nil, fmt.Errorf("duplicate target %q", t.Name)
		}
		switch t.Type {
		case "webhook":
			if t.URL == "" {
				return nil, fmt.Errorf("target %q: webhook url is required", t.Name)
			}
		case "redis":
			if t.List == "" {
				return nil, fmt.Errorf("target %q: redis list is required", t.Name)
			}
		default:
			return nil, fmt.Errorf("target %q: unknown type %q", t.Name, t.Type)
		}
		known[t.Name] = true
	}

	rules := make([]Rule, 0, len(file.Rules))
	for _, rc := range file.Rules {
		rule, err := CompileRule(rc.Match, rc.Targets)
		if err != nil {
			return nil, err
		}
		for _, name := range rc.Targets {
			if !known[name] {
				return nil, fmt.Errorf("rule %q references undeclared target %q", rc.Match, name)
			}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
