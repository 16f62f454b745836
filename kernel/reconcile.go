// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package kernel

// ActionKind tags a planned mutation.
type ActionKind int

const (
	// ActionInstall copies a kernel to the ESP and writes its entry.
	ActionInstall ActionKind = iota
	// ActionRemove deletes a kernel's copied files and its entry.
	ActionRemove
	// ActionKeep leaves an already-installed kernel untouched.
	ActionKeep
)

func (k ActionKind) String() string {
	switch k {
	case ActionInstall:
		return "install"
	case ActionRemove:
		return "remove"
	case ActionKeep:
		return "keep"
	}
	return "unknown"
}

// Action is one planned mutation. Install actions carry the source-side
// entry; Remove and Keep only need the identity.
type Action struct {
	Kind  ActionKind
	Entry Entry
}

// Plan is an ordered sequence of actions plus the selected identities
// that could not be resolved. Install actions are ordered by descending
// version, so the first install encountered is the newest.
type Plan struct {
	Actions []Action
	Unknown []Version // explicit selections with no counterpart; fatal per item, not per run
}

// Mode selects the reconciliation direction.
type Mode int

const (
	// ModeInstall plans installs; it never emits Remove actions.
	ModeInstall Mode = iota
	// ModeRemove plans removals of installed kernels.
	ModeRemove
)

// ReconcileOptions tune a reconciliation run.
type ReconcileOptions struct {
	Force     bool      // reinstall kernels that are already installed
	Mode      Mode      // install or remove
	Selection []Version // explicit target identities; nil means all
}

// Reconcile diffs the available set against the installed set and
// produces the minimal ordered plan to bring the ESP in line.
//
// It performs no I/O and is a pure function over its inputs: identical
// inputs always yield identical plans.
func Reconcile(available, installed Set, opts ReconcileOptions) Plan {
	if opts.Mode == ModeRemove {
		return planRemovals(available, installed, opts)
	}
	return planInstalls(available, installed, opts)
}

func planInstalls(available, installed Set, opts ReconcileOptions) Plan {
	var plan Plan
	for _, e := range resolveSelection(available, opts.Selection, &plan) {
		switch {
		case installed.Contains(e.Version) && !opts.Force:
			plan.Actions = append(plan.Actions, Action{Kind: ActionKeep, Entry: e})
		default:
			plan.Actions = append(plan.Actions, Action{Kind: ActionInstall, Entry: e})
		}
	}
	return plan
}

func planRemovals(available, installed Set, opts ReconcileOptions) Plan {
	var plan Plan
	if opts.Selection != nil {
		// Explicit removal targets are resolved against the installed
		// side: removing something never installed is the per-item
		// lookup failure.
		for _, e := range resolveSelection(installed, opts.Selection, &plan) {
			plan.Actions = append(plan.Actions, Action{Kind: ActionRemove, Entry: e})
		}
		return plan
	}
	// Without a selection, removal mode drops installed kernels that no
	// longer exist on the source side and keeps the rest.
	for _, e := range installed.SortedDescending() {
		kind := ActionRemove
		if available.Contains(e.Version) {
			kind = ActionKeep
		}
		plan.Actions = append(plan.Actions, Action{Kind: kind, Entry: e})
	}
	return plan
}

// resolveSelection resolves an optional explicit selection against a set,
// recording unresolvable identities on the plan. A nil selection means
// the whole set. The result is ordered newest first.
func resolveSelection(set Set, selection []Version, plan *Plan) []Entry {
	if selection == nil {
		return set.SortedDescending()
	}
	picked := NewSet(nil)
	for _, v := range selection {
		e, ok := set.Get(v)
		if !ok {
			plan.Unknown = append(plan.Unknown, v)
			continue
		}
		picked.entries[v.key()] = e
	}
	return picked.SortedDescending()
}
