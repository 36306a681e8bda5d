package compat

import (
	"fmt"

	"github.com/loykin/craftd/internal/version"
)

// WarningKind tags an Advice entry.
type WarningKind string

const (
	WarnMajorJump       WarningKind = "major_jump"
	WarnDowngrade       WarningKind = "downgrade"
	WarnUpgrade         WarningKind = "upgrade"
	WarnRuntimeMismatch WarningKind = "runtime_mismatch"
)

// MajorJumpThreshold is the JumpMagnitude that triggers a major-jump warning.
const MajorJumpThreshold = 2

type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// Advice summarises what moving a profile from current to next implies.
type Advice struct {
	Transition    version.Transition `json:"transition"`
	Magnitude     int                `json:"magnitude"`
	RequiredMajor int                `json:"required_major"`
	Warnings      []Warning          `json:"warnings,omitempty"`
	// RecommendNewProfile is set whenever the change is risky enough to
	// suggest a fresh profile over mutating the current one.
	RecommendNewProfile bool `json:"recommend_new_profile"`
}

// Advise returns the warnings for moving from current to next on a host whose
// best runtime is installedMajor (0 when none was found). Unparseable
// versions produce no transition warnings.
func Advise(current, next string, installedMajor int) Advice {
	a := Advice{
		Transition:    version.Classify(current, next),
		Magnitude:     version.JumpMagnitude(current, next),
		RequiredMajor: version.RequiredRuntimeMajor(next),
	}
	if a.Magnitude >= MajorJumpThreshold {
		a.Warnings = append(a.Warnings, Warning{WarnMajorJump, fmt.Sprintf(
			"jumping %d version(s) from %s to %s is extremely risky and may corrupt the world", a.Magnitude, current, next)})
	}
	switch a.Transition {
	case version.Downgrade:
		a.Warnings = append(a.Warnings, Warning{WarnDowngrade,
			"downgrading is very risky and often requires resetting server files"})
	case version.Upgrade:
		a.Warnings = append(a.Warnings, Warning{WarnUpgrade,
			"upgrade detected: safer than a downgrade, but still risky"})
	}
	if !version.IsCompatible(installedMajor, a.RequiredMajor) {
		have := "none"
		if installedMajor > 0 {
			have = fmt.Sprintf("Java %d", installedMajor)
		}
		a.Warnings = append(a.Warnings, Warning{WarnRuntimeMismatch, fmt.Sprintf(
			"Java %d required, but you have %s", a.RequiredMajor, have)})
	}
	a.RecommendNewProfile = a.Transition != version.Same
	return a
}
