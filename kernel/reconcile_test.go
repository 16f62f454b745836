// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package kernel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func planKinds(plan Plan) []string {
	var out []string
	for _, a := range plan.Actions {
		out = append(out, a.Kind.String()+" "+a.Entry.Version.String())
	}
	return out
}

func TestReconcile_freshInstall(t *testing.T) {
	available := NewSet([]Entry{
		entryFor(t, "vmlinuz-5.15.0-aosc"),
		entryFor(t, "vmlinuz-6.1.0-aosc"),
	})
	installed := NewSet(nil)

	plan := Reconcile(available, installed, ReconcileOptions{})
	want := []string{"install 6.1.0-aosc", "install 5.15.0-aosc"}
	if diff := cmp.Diff(want, planKinds(plan)); diff != "" {
		t.Errorf("unexpected plan (-want +got):\n%s", diff)
	}
}

func TestReconcile_isPure(t *testing.T) {
	available := NewSet([]Entry{
		entryFor(t, "vmlinuz-6.1.0-aosc"),
		entryFor(t, "vmlinuz-5.15.0-aosc"),
	})
	installed := NewSet([]Entry{
		entryFor(t, "vmlinuz-5.15.0-aosc"),
	})
	opts := ReconcileOptions{Force: false}

	first := Reconcile(available, installed, opts)
	second := Reconcile(available, installed, opts)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("identical inputs must yield identical plans:\n%s", diff)
	}
}

func TestReconcile_selfIsAllKeep(t *testing.T) {
	s := NewSet([]Entry{
		entryFor(t, "vmlinuz-6.1.0-aosc"),
		entryFor(t, "vmlinuz-5.15.0-aosc"),
	})
	plan := Reconcile(s, s, ReconcileOptions{})
	for _, a := range plan.Actions {
		if a.Kind != ActionKeep {
			t.Errorf("expected all-keep plan, got %s for %s", a.Kind, a.Entry.Version)
		}
	}
	if len(plan.Actions) != 2 {
		t.Errorf("expected 2 actions, got %d", len(plan.Actions))
	}
}

func TestReconcile_forceReinstalls(t *testing.T) {
	s := NewSet([]Entry{entryFor(t, "vmlinuz-6.1.0-aosc")})
	plan := Reconcile(s, s, ReconcileOptions{Force: true})
	if len(plan.Actions) != 1 || plan.Actions[0].Kind != ActionInstall {
		t.Errorf("force must turn keeps into installs: %v", planKinds(plan))
	}
}

func TestReconcile_installModeNeverRemoves(t *testing.T) {
	available := NewSet([]Entry{entryFor(t, "vmlinuz-6.1.0-aosc")})
	installed := NewSet([]Entry{
		entryFor(t, "vmlinuz-6.1.0-aosc"),
		entryFor(t, "vmlinuz-4.19.282-aosc"), // no source counterpart
	})
	plan := Reconcile(available, installed, ReconcileOptions{})
	for _, a := range plan.Actions {
		if a.Kind == ActionRemove {
			t.Fatalf("install-mode run must never auto-remove")
		}
	}
}

func TestReconcile_removeModeDropsObsolete(t *testing.T) {
	available := NewSet([]Entry{entryFor(t, "vmlinuz-6.1.0-aosc")})
	installed := NewSet([]Entry{
		entryFor(t, "vmlinuz-6.1.0-aosc"),
		entryFor(t, "vmlinuz-4.19.282-aosc"),
	})
	plan := Reconcile(available, installed, ReconcileOptions{Mode: ModeRemove})
	want := []string{"keep 6.1.0-aosc", "remove 4.19.282-aosc"}
	if diff := cmp.Diff(want, planKinds(plan)); diff != "" {
		t.Errorf("unexpected plan (-want +got):\n%s", diff)
	}
}

func TestReconcile_selection(t *testing.T) {
	available := NewSet([]Entry{
		entryFor(t, "vmlinuz-6.1.0-aosc"),
		entryFor(t, "vmlinuz-5.15.0-aosc"),
	})
	installed := NewSet(nil)
	selection := []Version{
		mustVersion(t, "5.15.0-aosc"),
		mustVersion(t, "9.9.9-aosc"), // not available
	}

	plan := Reconcile(available, installed, ReconcileOptions{Selection: selection})

	// The unknown selection fails alone; its sibling still proceeds.
	if len(plan.Unknown) != 1 || plan.Unknown[0].String() != "9.9.9-aosc" {
		t.Fatalf("expected one unknown selection, got %v", plan.Unknown)
	}
	want := []string{"install 5.15.0-aosc"}
	if diff := cmp.Diff(want, planKinds(plan)); diff != "" {
		t.Errorf("unexpected plan (-want +got):\n%s", diff)
	}
}

func TestReconcile_removeSelectionAgainstInstalled(t *testing.T) {
	available := NewSet(nil)
	installed := NewSet([]Entry{entryFor(t, "vmlinuz-6.1.0-aosc")})
	selection := []Version{
		mustVersion(t, "6.1.0-aosc"),
		mustVersion(t, "5.15.0-aosc"), // never installed
	}

	plan := Reconcile(available, installed, ReconcileOptions{Mode: ModeRemove, Selection: selection})
	if len(plan.Unknown) != 1 || plan.Unknown[0].String() != "5.15.0-aosc" {
		t.Fatalf("expected one unknown removal target, got %v", plan.Unknown)
	}
	want := []string{"remove 6.1.0-aosc"}
	if diff := cmp.Diff(want, planKinds(plan)); diff != "" {
		t.Errorf("unexpected plan (-want +got):\n%s", diff)
	}
}
