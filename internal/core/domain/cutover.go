package domain

import (
	"fmt"
	"strings"
)

type CutoverMode string

const (
	ModeOld       CutoverMode = "OLD"
	ModeShadow    CutoverMode = "SHADOW"
	ModePreferNew CutoverMode = "PREFER_NEW"
	ModeNewOnly   CutoverMode = "NEW_ONLY"
)

// ParseCutoverMode accepts the canonical names case-insensitively, with '-' or '_'.
func ParseCutoverMode(raw string) (CutoverMode, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_"))
	switch CutoverMode(normalized) {
	case ModeOld, ModeShadow, ModePreferNew, ModeNewOnly:
		return CutoverMode(normalized), nil
	default:
		return ModeOld, WrapError(ErrConfig, "parse cutover mode", fmt.Errorf("unknown mode %q", raw))
	}
}

type CutoverScopeKind string

const (
	ScopeGlobal  CutoverScopeKind = "GLOBAL"
	ScopeProject CutoverScopeKind = "PROJECT"
)

func ParseCutoverScopeKind(raw string) (CutoverScopeKind, error) {
	switch CutoverScopeKind(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeProject:
		return ScopeProject, nil
	default:
		return ScopeGlobal, WrapError(ErrConfig, "parse cutover scope", fmt.Errorf("unknown scope %q", raw))
	}
}
