// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is a closed enumeration of the views a target can
// expose. Dispatch is a static registry keyed by this type — no
// open-ended runtime plugin registration.
type Capability uint8

const (
	// CapabilityRun selects targets that can be executed.
	CapabilityRun Capability = iota + 1

	// CapabilityPackage selects targets that can be built into an
	// artifact.
	CapabilityPackage
)

// String returns the capability's name as used in error messages.
func (c Capability) String() string {
	switch c {
	case CapabilityRun:
		return "runnable"
	case CapabilityPackage:
		return "packageable"
	default:
		return fmt.Sprintf("capability(%d)", c)
	}
}

// FieldSet is a capability-specific view over one target's fields. A
// target may satisfy zero, one, or several field-sets of the same
// capability; multiplicity is the source of the ambiguity that
// FindUnique detects.
type FieldSet interface {
	// Address is the owning target's address.
	Address() Address

	// Capability is the view's capability kind.
	Capability() Capability

	// Secondary reports whether the view derives from a
	// secondary-owner field (e.g. a script file the target happens to
	// own) rather than a first-class declaration. Secondary views
	// yield to primary ones during resolution.
	Secondary() bool

	// Describe names the originating field for error messages.
	Describe() string
}

// RunFieldSet is the "this target can be run" view.
type RunFieldSet struct {
	Addr Address

	// Argv is the resolved command. For script-derived views this is
	// the interpreter followed by the build-root-relative script path.
	Argv []string

	// Env is extra environment for the run.
	Env map[string]string

	// Caches maps cache names to sandbox-relative paths.
	Caches map[string]string

	// FromScript marks a secondary (script-derived) view.
	FromScript bool
}

func (f RunFieldSet) Address() Address       { return f.Addr }
func (f RunFieldSet) Capability() Capability { return CapabilityRun }
func (f RunFieldSet) Secondary() bool        { return f.FromScript }

func (f RunFieldSet) Describe() string {
	if f.FromScript {
		return fmt.Sprintf("%s (script)", f.Addr)
	}
	return fmt.Sprintf("%s (run)", f.Addr)
}

// PackageFieldSet is the "this target can be packaged" view.
type PackageFieldSet struct {
	Addr Address

	// Output is the tree path prefix the artifact is placed under.
	Output string
}

func (f PackageFieldSet) Address() Address       { return f.Addr }
func (f PackageFieldSet) Capability() Capability { return CapabilityPackage }
func (f PackageFieldSet) Secondary() bool        { return false }
func (f PackageFieldSet) Describe() string       { return fmt.Sprintf("%s (package)", f.Addr) }

// capabilityHandlers is the static registry mapping capability kind
// to the function that computes a target's field-sets of that kind.
var capabilityHandlers = map[Capability]func(*Target) []FieldSet{
	CapabilityRun:     runFieldSets,
	CapabilityPackage: packageFieldSets,
}

func runFieldSets(t *Target) []FieldSet {
	var sets []FieldSet
	if t.Run != nil {
		sets = append(sets, RunFieldSet{
			Addr:   t.Address,
			Argv:   t.Run.Argv,
			Env:    t.Run.Env,
			Caches: t.Run.Caches,
		})
	}
	if t.Script != nil {
		interpreter := t.Script.Interpreter
		if len(interpreter) == 0 {
			interpreter = []string{"/bin/sh"}
		}
		scriptPath := t.Script.File
		if t.Address.Dir != "" {
			scriptPath = t.Address.Dir + "/" + t.Script.File
		}
		sets = append(sets, RunFieldSet{
			Addr:       t.Address,
			Argv:       append(append([]string{}, interpreter...), scriptPath),
			FromScript: true,
		})
	}
	return sets
}

func packageFieldSets(t *Target) []FieldSet {
	if t.Package == nil {
		return nil
	}
	return []FieldSet{PackageFieldSet{Addr: t.Address, Output: t.Package.Output}}
}

// FieldSetsFor returns the field-sets a target satisfies for a
// capability. Unknown capabilities yield nothing.
func FieldSetsFor(t *Target, capability Capability) []FieldSet {
	handler, ok := capabilityHandlers[capability]
	if !ok {
		return nil
	}
	return handler(t)
}

// NoApplicableTargetsError reports that zero of the selected targets
// satisfy the requested capability.
type NoApplicableTargetsError struct {
	Capability Capability
	Roots      []Address
}

func (e *NoApplicableTargetsError) Error() string {
	return fmt.Sprintf("no %s targets among %s", e.Capability, specList(e.Roots))
}

// TooManyTargetsError reports two or more equally-ranked candidate
// targets for a capability. All contenders are named; the resolver
// never silently picks one.
type TooManyTargetsError struct {
	Capability Capability
	Addresses  []Address
}

func (e *TooManyTargetsError) Error() string {
	return fmt.Sprintf("too many %s targets: %s all apply; select exactly one", e.Capability, specList(e.Addresses))
}

// AmbiguousImplementationError reports a single chosen target that
// satisfies more than one field-set of the capability.
type AmbiguousImplementationError struct {
	Capability Capability
	Address    Address
	Candidates []string
}

func (e *AmbiguousImplementationError) Error() string {
	return fmt.Sprintf("multiple %s implementations on %s: %s", e.Capability, e.Address, strings.Join(e.Candidates, ", "))
}

func specList(addresses []Address) string {
	specs := make([]string, len(addresses))
	for i, addr := range addresses {
		specs[i] = addr.Spec()
	}
	return strings.Join(specs, ", ")
}

// rankedFieldSets partitions one target's field-sets into primary and
// secondary tiers.
type rankedFieldSets struct {
	primary   []FieldSet
	secondary []FieldSet
}

func rank(sets []FieldSet) rankedFieldSets {
	var ranked rankedFieldSets
	for _, set := range sets {
		if set.Secondary() {
			ranked.secondary = append(ranked.secondary, set)
		} else {
			ranked.primary = append(ranked.primary, set)
		}
	}
	return ranked
}

// FindUnique resolves exactly one (field-set, target) pair for a
// capability among the root targets, or fails with a typed error:
//
//   - a target with a primary field-set beats one with only secondary
//     field-sets;
//   - two targets tied at the same tier is *TooManyTargetsError;
//   - zero applicable targets is *NoApplicableTargetsError;
//   - more than one field-set surviving on the chosen target is
//     *AmbiguousImplementationError.
//
// Pure: no side effects, deterministic for a given root order-set
// (roots are considered in sorted address order).
func FindUnique(capability Capability, roots []*Target) (FieldSet, *Target, error) {
	ordered := make([]*Target, len(roots))
	copy(ordered, roots)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Address.Spec() < ordered[j].Address.Spec()
	})

	var chosen *Target
	var chosenRank rankedFieldSets
	for _, target := range ordered {
		sets := FieldSetsFor(target, capability)
		if len(sets) == 0 {
			continue
		}
		ranked := rank(sets)

		switch {
		case chosen == nil:
			chosen, chosenRank = target, ranked
		case len(ranked.primary) > 0 && len(chosenRank.primary) == 0:
			// A primary candidate displaces a secondary-only one.
			chosen, chosenRank = target, ranked
		case (len(ranked.primary) > 0 && len(chosenRank.primary) > 0) ||
			(len(ranked.secondary) > 0 && len(chosenRank.secondary) > 0 && len(chosenRank.primary) == 0):
			return nil, nil, &TooManyTargetsError{
				Capability: capability,
				Addresses:  []Address{chosen.Address, target.Address},
			}
		}
	}

	if chosen == nil {
		roots := make([]Address, len(ordered))
		for i, target := range ordered {
			roots[i] = target.Address
		}
		return nil, nil, &NoApplicableTargetsError{Capability: capability, Roots: roots}
	}

	candidates := chosenRank.primary
	if len(candidates) == 0 {
		candidates = chosenRank.secondary
	}
	if len(candidates) > 1 {
		names := make([]string, 0, len(chosenRank.primary)+len(chosenRank.secondary))
		for _, set := range chosenRank.primary {
			names = append(names, set.Describe())
		}
		for _, set := range chosenRank.secondary {
			names = append(names, set.Describe())
		}
		return nil, nil, &AmbiguousImplementationError{
			Capability: capability,
			Address:    chosen.Address,
			Candidates: names,
		}
	}

	return candidates[0], chosen, nil
}
