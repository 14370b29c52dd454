// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

// Package extension defines the inbound contract graft guarantees to
// extension runtimes: the root context handed to the runtime's entry point,
// the versioned Runtime interface, and the manifest format extensions
// describe themselves with.
package extension

import (
	"context"
	"log/slog"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/grafthost/graft/internal/bus"
	"github.com/grafthost/graft/internal/persist"
)

// APIVersion is the host-side extension API version. Runtimes declare the
// version they were built against; loading is refused across major versions.
const APIVersion = "1.0.0"

// Runtime is the contract an extension runtime implements. The loader
// resolves against this interface rather than locating entry points by
// string name, so a contract mismatch is a version error instead of a
// lookup failure.
type Runtime interface {
	// APIVersion returns the extension API version the runtime targets.
	APIVersion() string

	// Load activates the runtime. It is called exactly once, synchronously,
	// on the host's update goroutine, with the process-lifetime root context.
	Load(ctx context.Context, root *RootContext) error
}

// RootContext is the stable parent scope passed once to the extension
// runtime's entry point. Extensions use it for everything they create.
type RootContext struct {
	Logger        *slog.Logger
	Broadcast     *bus.Broadcast
	Named         *bus.Named
	Persist       *persist.Registry
	DataDir       string
	ExtensionsDir string
}

// CheckAPIVersion verifies that a runtime built against version v can run
// against the current host API. Compatibility follows semver: the major
// version must match.
func CheckAPIVersion(v string) error {
	declared, err := semver.NewVersion(v)
	if err != nil {
		return oops.In("extension").
			Code("BAD_API_VERSION").
			With("version", v).
			Hint("expected a semantic version like 1.0.0").
			Wrap(err)
	}
	current := semver.MustParse(APIVersion)
	if declared.Major() != current.Major() {
		return oops.In("extension").
			Code("API_INCOMPATIBLE").
			With("runtime", v).
			With("host", APIVersion).
			New("extension API major version mismatch")
	}
	return nil
}
