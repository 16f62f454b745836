// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package kernel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aosc-dev/bootfriend/sdboot"
)

var (
	// ErrNotInstalled is returned when a default is requested for a
	// kernel that is not currently installed.
	ErrNotInstalled = errors.New("kernel is not installed")
	// ErrEmptyKernelList is surfaced when a default would be needed but
	// no kernels are installed. It is a warning-level condition.
	ErrEmptyKernelList = errors.New("no kernels installed")
)

// DefaultSelector maintains the invariant that exactly one installed
// kernel is marked default whenever at least one kernel is installed,
// and that "no default" only holds when zero kernels are installed.
type DefaultSelector struct {
	cfg   Config
	store *sdboot.Store
}

// NewDefaultSelector returns a selector persisting through the given
// store.
func NewDefaultSelector(cfg Config, store *sdboot.Store) *DefaultSelector {
	return &DefaultSelector{cfg: cfg, store: store}
}

// Current returns the currently persisted default, if it parses to a
// kernel identity.
func (d *DefaultSelector) Current() (Version, bool, error) {
	name, err := d.store.Default()
	if err != nil {
		return Version{}, false, err
	}
	if name == "" {
		return Version{}, false, nil
	}
	v, err := ParseVersionString(strings.TrimSuffix(name, ".conf"))
	if err != nil {
		// A foreign default pointer is not ours to interpret.
		return Version{}, false, nil
	}
	return v, true, nil
}

// Set marks v as the default entry. It fails with ErrNotInstalled when v
// has no installed counterpart.
func (d *DefaultSelector) Set(v Version, installed Set) error {
	if !installed.Contains(v) {
		return fmt.Errorf("%w: %s", ErrNotInstalled, v)
	}
	logger.Infof("setting %s as the default boot entry", v)
	return d.store.SetDefault(d.cfg.EntryName(v))
}

// Ensure validates the default pointer against the installed set and
// repairs it if needed: a missing or dangling default is replaced by the
// newest installed kernel. With nothing installed it clears a dangling
// pointer and reports ErrEmptyKernelList, which callers treat as a
// warning, not a fault.
func (d *DefaultSelector) Ensure(installed Set) (Version, error) {
	current, ok, err := d.Current()
	if err != nil {
		return Version{}, err
	}
	if ok && installed.Contains(current) {
		return current, nil
	}

	latest, found := installed.Latest()
	if !found {
		if ok {
			if err := d.store.SetDefault(""); err != nil {
				return Version{}, err
			}
		}
		return Version{}, ErrEmptyKernelList
	}
	if err := d.Set(latest.Version, installed); err != nil {
		return Version{}, err
	}
	return latest.Version, nil
}

// PrepareRemoval re-points the default before any victim is deleted, so
// the system is never observable with installed kernels and no default
// mid-operation. When nothing will remain, the pointer is left alone and
// cleared by Ensure after the removal completes.
func (d *DefaultSelector) PrepareRemoval(victims []Version, remaining Set) error {
	current, ok, err := d.Current()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	doomed := false
	for _, v := range victims {
		if current.Same(v) {
			doomed = true
			break
		}
	}
	if !doomed {
		return nil
	}
	latest, found := remaining.Latest()
	if !found {
		return nil
	}
	logger.Infof("default entry %s is being removed, promoting %s", current, latest.Version)
	return d.Set(latest.Version, remaining)
}
