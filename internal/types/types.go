// Package types defines target configuration shapes shared across the
// Poltergeist core: the set of target kinds, their per-kind fields, and
// the polymorphic decoding of a raw JSON target entry into a concrete value.
package types

import (
	"encoding/json"
	"fmt"
)

// TargetKind identifies which build recipe and Builder dispatch arm a
// target uses.
type TargetKind string

const (
	KindExecutable     TargetKind = "executable"
	KindAppBundle      TargetKind = "app-bundle"
	KindLibrary        TargetKind = "library"
	KindFramework      TargetKind = "framework"
	KindTest           TargetKind = "test"
	KindContainerImage TargetKind = "container-image"
	KindCMakeExecutable TargetKind = "cmake-executable"
	KindCMakeLibrary    TargetKind = "cmake-library"
	KindCMakeCustom     TargetKind = "cmake-custom"
	KindCustom          TargetKind = "custom"
)

// ChangeType classifies a filesystem change reported by the notifier.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// BuildStatus mirrors the bit-exact state-file vocabulary.
type BuildStatus string

const (
	StatusIdle      BuildStatus = "idle"
	StatusBuilding  BuildStatus = "building"
	StatusSucceeded BuildStatus = "succeeded"
	StatusFailed    BuildStatus = "failed"
)

// ExclusionRule is a named exclusion declared on a target (e.g. ".git",
// "node_modules"). It is decoded from config only; the notifier filters
// on its own exclusion list and does not read Target.Exclusions.
type ExclusionRule struct {
	Pattern string `json:"pattern"`
	Reason  string `json:"reason,omitempty"`
}

// Target is the one struct every target kind decodes into. Per-kind
// fields sit side by side below and are meaningful only for their kind;
// callers branch on the Kind field.
type Target struct {
	Name             string          `json:"name"`
	Kind             TargetKind      `json:"type"`
	Enabled          bool            `json:"enabled"`
	BuildCommand     string          `json:"buildCommand"`
	WatchPaths       []string        `json:"watchPaths"`
	Exclusions       []ExclusionRule `json:"exclusions,omitempty"`
	SettlingDelayMS  int             `json:"settlingDelay,omitempty"`
	MaxRetries       int             `json:"maxRetries,omitempty"`
	BackoffMultiplier float64        `json:"backoffMultiplier,omitempty"`
	DebounceMS       int             `json:"debounceInterval,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`

	// Executable / CMakeExecutable
	OutputPath string `json:"outputPath,omitempty"`

	// AppBundle
	BundleID     string `json:"bundleId,omitempty"`
	AutoRelaunch bool   `json:"autoRelaunch,omitempty"`

	// ContainerImage
	Dockerfile string   `json:"dockerfile,omitempty"`
	ImageName  string   `json:"imageName,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Context    string   `json:"context,omitempty"`

	// Test
	TestCommand  string `json:"testCommand,omitempty"`
	CoverageFile string `json:"coverageFile,omitempty"`

	// CMake
	CMakeBuildDir  string `json:"cmakeBuildDir,omitempty"`
	CMakeTarget    string `json:"cmakeTarget,omitempty"`
	CMakeGenerator string `json:"cmakeGenerator,omitempty"`

	// Hooks run when their RunOn condition matches the build outcome.
	// Hook failures here are recorded but never turn the build's own
	// status into failed.
	PostBuildHooks []PostBuildHook `json:"postBuildHooks,omitempty"`
}

// PostBuildHook is one post-build command and the outcome it should run
// on. A config entry may be a bare string (equivalent to RunOn
// "success", the common case of a deploy/notify script) or an object
// with an explicit runOn.
type PostBuildHook struct {
	Command string `json:"command"`
	RunOn   string `json:"runOn,omitempty"`
}

const (
	RunOnSuccess PostBuildRunOn = "success"
	RunOnFailure PostBuildRunOn = "failure"
	RunOnAlways  PostBuildRunOn = "always"
)

// PostBuildRunOn is the outcome-matching vocabulary for PostBuildHook.RunOn.
type PostBuildRunOn = string

// Matches reports whether the hook should run given a build's success.
func (h PostBuildHook) Matches(success bool) bool {
	switch h.RunOn {
	case RunOnAlways:
		return true
	case RunOnFailure:
		return !success
	case RunOnSuccess, "":
		return success
	default:
		return success
	}
}

// UnmarshalJSON accepts either a bare command string (defaulting RunOn
// to "success") or an object with explicit command/runOn fields.
func (h *PostBuildHook) UnmarshalJSON(data []byte) error {
	var command string
	if err := json.Unmarshal(data, &command); err == nil {
		h.Command = command
		h.RunOn = RunOnSuccess
		return nil
	}

	type hookAlias PostBuildHook
	var alias hookAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("parse post-build hook: %w", err)
	}
	if alias.RunOn == "" {
		alias.RunOn = RunOnSuccess
	}
	*h = PostBuildHook(alias)
	return nil
}

const (
	defaultSettlingDelayMS   = 1000
	defaultMaxRetries        = 3
	defaultBackoffMultiplier = 2.0
	defaultDebounceMS        = 100
)

// GetSettlingDelay returns the configured settling delay or the default.
func (t *Target) GetSettlingDelay() int {
	if t.SettlingDelayMS > 0 {
		return t.SettlingDelayMS
	}
	return defaultSettlingDelayMS
}

// GetMaxRetries returns the configured retry bound or the default.
func (t *Target) GetMaxRetries() int {
	if t.MaxRetries > 0 {
		return t.MaxRetries
	}
	return defaultMaxRetries
}

// GetBackoffMultiplier returns the configured backoff multiplier or the default.
func (t *Target) GetBackoffMultiplier() float64 {
	if t.BackoffMultiplier > 0 {
		return t.BackoffMultiplier
	}
	return defaultBackoffMultiplier
}

// GetDebounceInterval returns the configured debounce interval or the default.
func (t *Target) GetDebounceInterval() int {
	if t.DebounceMS > 0 {
		return t.DebounceMS
	}
	return defaultDebounceMS
}

// ParseTarget decodes one raw JSON target entry. Every kind decodes
// into the same Target struct; callers branch on Kind rather than on
// a Go type.
func ParseTarget(data []byte) (*Target, error) {
	var probe struct {
		Type TargetKind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse target envelope: %w", err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("target missing required \"type\" field")
	}

	switch probe.Type {
	case KindExecutable, KindAppBundle, KindLibrary, KindFramework, KindTest,
		KindContainerImage, KindCMakeExecutable, KindCMakeLibrary, KindCMakeCustom, KindCustom:
	default:
		return nil, fmt.Errorf("unknown target type %q", probe.Type)
	}

	var target Target
	if err := json.Unmarshal(data, &target); err != nil {
		return nil, fmt.Errorf("parse target %q: %w", probe.Type, err)
	}
	if target.Name == "" {
		return nil, fmt.Errorf("target of type %q missing required \"name\" field", probe.Type)
	}
	return &target, nil
}
