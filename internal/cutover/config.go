package cutover

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// fileConfig is the YAML layout:
//
//	stages:
//	  tender_parse:
//	    mode: SHADOW
//	    scope: PROJECT
//	    allowlist: [project-1, project-2]
type fileConfig struct {
	Stages map[string]stageConfig `yaml:"stages"`
}

type stageConfig struct {
	Mode      string   `yaml:"mode"`
	Scope     string   `yaml:"scope"`
	Allowlist []string `yaml:"allowlist"`
}

type stageRule struct {
	mode  domain.CutoverMode
	scope domain.CutoverScopeKind
	allow map[string]struct{}
}

// Snapshot is an immutable view of the cutover configuration. Stages that
// are absent or failed validation resolve to OLD.
type Snapshot struct {
	stages   map[string]stageRule
	Source   string
	LoadedAt time.Time
}

// EmptySnapshot routes every stage to OLD.
func EmptySnapshot() *Snapshot {
	return &Snapshot{stages: map[string]stageRule{}, LoadedAt: time.Now().UTC()}
}

// ParseSnapshot builds a snapshot from YAML. It always returns a usable
// snapshot: invalid stages are left out and reported in the joined error.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	snap := EmptySnapshot()
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return snap, domain.WrapError(domain.ErrConfig, "parse cutover config", err)
	}

	names := make([]string, 0, len(cfg.Stages))
	for name := range cfg.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		key := normalizeStage(name)
		if key == "" {
			errs = append(errs, domain.WrapError(domain.ErrConfig, "parse cutover config", errors.New("empty stage name")))
			continue
		}
		rule, err := buildRule(cfg.Stages[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("stage %s: %w", name, err))
			continue
		}
		snap.stages[key] = rule
	}
	return snap, errors.Join(errs...)
}

// LoadFile reads a snapshot from path. A missing file yields an empty
// snapshot together with the error.
func LoadFile(path string) (*Snapshot, error) {
	if strings.TrimSpace(path) == "" {
		return EmptySnapshot(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return EmptySnapshot(), domain.WrapError(domain.ErrConfig, "read cutover config", err)
	}
	snap, err := ParseSnapshot(data)
	snap.Source = path
	return snap, err
}

func buildRule(cfg stageConfig) (stageRule, error) {
	mode, err := domain.ParseCutoverMode(cfg.Mode)
	if err != nil {
		return stageRule{}, err
	}
	scope, err := domain.ParseCutoverScopeKind(cfg.Scope)
	if err != nil {
		return stageRule{}, err
	}
	rule := stageRule{mode: mode, scope: scope}
	if scope == domain.ScopeProject {
		rule.allow = make(map[string]struct{}, len(cfg.Allowlist))
		for _, id := range cfg.Allowlist {
			if id = strings.TrimSpace(id); id != "" {
				rule.allow[id] = struct{}{}
			}
		}
	}
	return rule, nil
}

// Mode resolves the mode for one stage and entity.
func (s *Snapshot) Mode(stage, entityID string) domain.CutoverMode {
	if s == nil {
		return domain.ModeOld
	}
	rule, ok := s.stages[normalizeStage(stage)]
	if !ok {
		return domain.ModeOld
	}
	if rule.scope == domain.ScopeProject {
		if _, allowed := rule.allow[entityID]; !allowed {
			return domain.ModeOld
		}
	}
	return rule.mode
}

// Stages lists configured stage names, sorted.
func (s *Snapshot) Stages() []string {
	out := make([]string, 0, len(s.stages))
	for name := range s.stages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeStage(stage string) string {
	return strings.ToLower(strings.TrimSpace(stage))
}
