// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package kernel

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"github.com/aosc-dev/bootfriend/sdboot"
)

// Manager wires the scanner, reconciler, materializer and default
// selector together, one method per subcommand. All state is rebuilt
// from the filesystem and the store on every call.
type Manager struct {
	cfg      Config
	store    *sdboot.Store
	selector *DefaultSelector
}

// NewManager returns a manager for the configured ESP and kernel
// directory.
func NewManager(cfg Config) *Manager {
	store := sdboot.NewStore(appFs, cfg.ESPMountpoint)
	return &Manager{
		cfg:      cfg,
		store:    store,
		selector: NewDefaultSelector(cfg, store),
	}
}

// Available scans the source kernel directory.
func (m *Manager) Available() (ScanResult, Set, error) {
	scan, err := Scan(m.cfg, m.cfg.KernelDir)
	if err != nil {
		return ScanResult{}, Set{}, err
	}
	return scan, NewSet(scan.Kernels), nil
}

// Installed builds the installed-side kernel set from the boot-entry
// store. Entry identities round-trip through the same version grammar as
// source filenames, so both sides compare equal. Foreign entries that do
// not parse are left alone.
func (m *Manager) Installed() (Set, error) {
	records, err := m.store.Entries()
	if err != nil {
		return Set{}, err
	}
	var entries []Entry
	for _, rec := range records {
		v, err := ParseVersionString(rec.Name)
		if err != nil {
			logger.Debugf("ignoring foreign boot entry %s", rec.File())
			continue
		}
		e := Entry{Version: v, ImagePath: rec.Linux}
		for _, initrd := range rec.Initrd {
			if path.Base(initrd) == UcodeImage {
				e.UcodeBundled = true
			} else {
				e.InitrdPath = initrd
			}
		}
		entries = append(entries, e)
	}
	return NewSet(entries), nil
}

// Default returns the current default kernel identity, if one is set.
func (m *Manager) Default() (Version, bool, error) {
	return m.selector.Current()
}

// Init creates the ESP layout, writes the initial loader configuration
// with the configured timeout, and performs a first update run.
func (m *Manager) Init() (Result, error) {
	logger.Infof("initializing loader layout under %s", m.cfg.ESPMountpoint)
	if err := m.store.EnsureLayout(); err != nil {
		return Result{}, fmt.Errorf("cannot create loader layout: %w", err)
	}
	if err := appFs.MkdirAll(filepath.Join(m.cfg.ESPMountpoint, relDestPath), 0755); err != nil {
		return Result{}, fmt.Errorf("cannot create kernel directory on ESP: %w", err)
	}
	conf, err := m.store.Loader()
	if err != nil {
		return Result{}, err
	}
	conf.Timeout = m.cfg.Timeout
	if err := m.store.WriteLoader(conf); err != nil {
		return Result{}, err
	}
	return m.Update()
}

// Update brings the ESP in line with the source directory: obsolete
// kernels are removed, everything else is (re)installed, and the newest
// kernel becomes the default. The keep limit bounds how many kernels
// survive.
func (m *Manager) Update() (Result, error) {
	logger.Infof("updating kernels and boot entries")
	scan, available, err := m.Available()
	if err != nil {
		return Result{}, err
	}
	installed, err := m.Installed()
	if err != nil {
		return Result{}, err
	}
	wanted := available.Newest(m.cfg.Keep)

	var res Result
	mat := NewMaterializer(m.cfg, m.store, m.selector, true, nil)

	removalPlan := Reconcile(wanted, installed, ReconcileOptions{Mode: ModeRemove})
	removalRes, err := mat.Apply(removalPlan, scan, installed)
	// Survivors of the removal pass are re-reported by the install pass;
	// counting them here would list every kernel twice.
	removalRes.Kept = nil
	res.merge(removalRes)
	if err != nil {
		return res, err
	}

	installed, err = m.Installed()
	if err != nil {
		return res, err
	}
	installPlan := Reconcile(wanted, installed, ReconcileOptions{Force: true})
	installRes, err := mat.Apply(installPlan, scan, installed)
	res.merge(installRes)
	if err != nil {
		return res, err
	}

	// Newest wins after an update.
	installed, err = m.Installed()
	if err != nil {
		return res, err
	}
	if latest, ok := installed.Latest(); ok {
		if err := m.selector.Set(latest.Version, installed); err != nil {
			return res, err
		}
	} else {
		logger.Warnf("no kernels installed, boot menu is left without a default")
	}
	return res, nil
}

// InstallKernels installs the selected kernels, or every available one
// when no targets are given. One bad target does not abort installing
// the rest.
func (m *Manager) InstallKernels(targets []string, force bool, confirm Confirm) (Result, error) {
	selection, res := parseTargets(targets)
	scan, available, err := m.Available()
	if err != nil {
		return res, err
	}
	installed, err := m.Installed()
	if err != nil {
		return res, err
	}

	plan := Reconcile(available, installed, ReconcileOptions{Force: force, Selection: selection})
	mat := NewMaterializer(m.cfg, m.store, m.selector, force, confirm)
	applied, err := mat.Apply(plan, scan, installed)
	res.merge(applied)
	if err != nil {
		return res, err
	}

	return res, m.ensureDefault()
}

// RemoveKernels removes the selected kernels, or every installed kernel
// that has no source-side counterpart when no targets are given.
func (m *Manager) RemoveKernels(targets []string) (Result, error) {
	selection, res := parseTargets(targets)
	scan, available, err := m.Available()
	if err != nil {
		return res, err
	}
	installed, err := m.Installed()
	if err != nil {
		return res, err
	}

	plan := Reconcile(available, installed, ReconcileOptions{Mode: ModeRemove, Selection: selection})
	mat := NewMaterializer(m.cfg, m.store, m.selector, false, nil)
	applied, err := mat.Apply(plan, scan, installed)
	res.merge(applied)
	if err != nil {
		return res, err
	}

	return res, m.ensureDefault()
}

// ensureDefault revalidates the exactly-one-default invariant after a
// run. An empty kernel list is a warning, not a fault.
func (m *Manager) ensureDefault() error {
	installed, err := m.Installed()
	if err != nil {
		return err
	}
	if _, err := m.selector.Ensure(installed); err != nil {
		if errors.Is(err, ErrEmptyKernelList) {
			logger.Warnf("no kernels installed, boot menu is left without a default")
			return nil
		}
		return err
	}
	return nil
}

// SetDefault marks the target kernel as default; with an empty target
// the newest installed kernel is chosen.
func (m *Manager) SetDefault(target string) error {
	installed, err := m.Installed()
	if err != nil {
		return err
	}
	if target == "" {
		latest, ok := installed.Latest()
		if !ok {
			return ErrEmptyKernelList
		}
		return m.selector.Set(latest.Version, installed)
	}
	v, err := ParseVersionString(target)
	if err != nil {
		return err
	}
	return m.selector.Set(v, installed)
}

// SetTimeout persists the boot menu timeout.
func (m *Manager) SetTimeout(seconds uint) error {
	logger.Infof("setting boot menu timeout to %d seconds", seconds)
	return m.store.SetTimeout(seconds)
}

// ListItem is one row of a kernel listing.
type ListItem struct {
	Version   Version
	Installed bool
	Default   bool
}

// ListAvailable lists the source-side kernels, newest first, marking the
// ones already installed.
func (m *Manager) ListAvailable() ([]ListItem, error) {
	_, available, err := m.Available()
	if err != nil {
		return nil, err
	}
	installed, err := m.Installed()
	if err != nil {
		return nil, err
	}
	var items []ListItem
	for _, e := range available.SortedDescending() {
		items = append(items, ListItem{
			Version:   e.Version,
			Installed: installed.Contains(e.Version),
		})
	}
	return items, nil
}

// ListInstalled lists the installed kernels, newest first, marking the
// default.
func (m *Manager) ListInstalled() ([]ListItem, error) {
	installed, err := m.Installed()
	if err != nil {
		return nil, err
	}
	def, hasDefault, err := m.selector.Current()
	if err != nil {
		return nil, err
	}
	var items []ListItem
	for _, e := range installed.SortedDescending() {
		items = append(items, ListItem{
			Version:   e.Version,
			Installed: true,
			Default:   hasDefault && e.Version.Same(def),
		})
	}
	return items, nil
}

// parseTargets parses user-supplied kernel identities; unparsable ones
// become per-item failures so sibling targets still proceed.
func parseTargets(targets []string) ([]Version, Result) {
	var res Result
	if len(targets) == 0 {
		return nil, res
	}
	selection := []Version{}
	for _, t := range targets {
		v, err := ParseVersionString(t)
		if err != nil {
			logger.Warnf("invalid kernel target %q: %v", t, err)
			res.Failed = append(res.Failed, ItemFailure{Version: Version{RawName: t}, Err: err})
			continue
		}
		selection = append(selection, v)
	}
	return selection, res
}
