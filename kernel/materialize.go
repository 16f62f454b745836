// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package kernel

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/aosc-dev/bootfriend/sdboot"
)

// relDestPath is where kernels and initrds are stored under the ESP.
const relDestPath = "EFI/aosc"

var (
	// ErrUnknownKernel marks an explicit selection with no counterpart.
	ErrUnknownKernel = errors.New("unknown kernel")
	// ErrNoSpace marks an install that does not fit on the ESP.
	ErrNoSpace = errors.New("no space left on the EFI system partition")
	// ErrNotInitialized means the ESP lacks the expected layout.
	ErrNotInitialized = errors.New("ESP layout missing, run init first")
)

// Confirm resolves an interactive yes/no question. The materializer only
// consumes the answer; a nil Confirm always answers no, which keeps the
// core usable fully non-interactively.
type Confirm func(prompt string) bool

// ItemFailure is one failed plan item, reported with its identity and
// reason while its siblings proceed.
type ItemFailure struct {
	Version Version
	Err     error
}

// Result is the outcome of materializing a plan. Already-applied actions
// stay committed even when later ones fail.
type Result struct {
	Installed []Version
	Removed   []Version
	Kept      []Version
	Skipped   []Version // overwrite declined by the operator
	Failed    []ItemFailure
}

func (r *Result) merge(other Result) {
	r.Installed = append(r.Installed, other.Installed...)
	r.Removed = append(r.Removed, other.Removed...)
	r.Kept = append(r.Kept, other.Kept...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Failed = append(r.Failed, other.Failed...)
}

// Materializer executes a reconciliation plan against the filesystem and
// the boot-entry store.
type Materializer struct {
	cfg      Config
	store    *sdboot.Store
	selector *DefaultSelector
	force    bool
	confirm  Confirm

	warnedEmptyBootarg bool
}

// NewMaterializer returns a materializer. force selects unconditional
// overwrite; otherwise confirm decides, and a nil confirm skips with a
// notice.
func NewMaterializer(cfg Config, store *sdboot.Store, selector *DefaultSelector, force bool, confirm Confirm) *Materializer {
	return &Materializer{cfg: cfg, store: store, selector: selector, force: force, confirm: confirm}
}

// destDir is the absolute kernel storage directory on the ESP.
func (m *Materializer) destDir() string {
	return filepath.Join(m.cfg.ESPMountpoint, relDestPath)
}

// espPath renders the ESP-relative path recorded in boot entries.
func espPath(name string) string {
	return "/" + path.Join(relDestPath, name)
}

// Apply executes a plan. Per-item failures (unknown selections, no
// space) are collected on the Result; permission and path errors abort
// the run. installed is the pre-plan installed set, needed to keep the
// default pointer valid while entries are removed.
func (m *Materializer) Apply(plan Plan, scan ScanResult, installed Set) (Result, error) {
	var res Result

	if !m.store.HasLayout() {
		return res, fmt.Errorf("%w: %s", ErrNotInitialized, m.store.EntriesDir())
	}
	if hasInstalls(plan) {
		if ok, _ := afero.DirExists(appFs, m.destDir()); !ok {
			return res, fmt.Errorf("%w: %s", ErrNotInitialized, m.destDir())
		}
	}

	for _, v := range plan.Unknown {
		logger.Warnf("no such kernel: %s", v)
		res.Failed = append(res.Failed, ItemFailure{Version: v, Err: ErrUnknownKernel})
	}

	// The microcode bundle is consulted once per invocation, not per
	// kernel, and only on install runs so a bare removal never drops it.
	ucodeOnESP := false
	if hasInstalls(plan) {
		var err error
		ucodeOnESP, err = m.syncUcode(scan.UcodePresent)
		if err != nil {
			return res, err
		}
	}

	if victims := removals(plan); len(victims) > 0 {
		remaining := remainingAfter(installed, victims)
		if err := m.selector.PrepareRemoval(victims, remaining); err != nil {
			return res, err
		}
	}

	for _, action := range plan.Actions {
		switch action.Kind {
		case ActionKeep:
			res.Kept = append(res.Kept, action.Entry.Version)
		case ActionInstall:
			if err := m.install(action.Entry, ucodeOnESP, &res); err != nil {
				return res, err
			}
		case ActionRemove:
			if err := m.remove(action.Entry, &res); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

// syncUcode mirrors the microcode bundle onto the ESP: copied when the
// source has one, removed when it does not. Returns whether the bundle
// is present on the ESP afterwards.
func (m *Materializer) syncUcode(present bool) (bool, error) {
	dst := filepath.Join(m.destDir(), UcodeImage)
	if !present {
		appFs.Remove(dst)
		return false, nil
	}
	updated, err := maybeUpdateFile(dst, filepath.Join(m.cfg.KernelDir, UcodeImage))
	if err != nil {
		if isNoSpace(err) {
			logger.Warnf("cannot install microcode bundle: %v", err)
			ok, _ := afero.Exists(appFs, dst)
			return ok, nil
		}
		return false, err
	}
	if updated {
		logger.Infof("installed microcode bundle %s", UcodeImage)
	}
	return true, nil
}

func (m *Materializer) install(e Entry, ucodeOnESP bool, res *Result) error {
	v := e.Version
	imageName := m.cfg.ImageName(v)
	dstImage := filepath.Join(m.destDir(), imageName)

	desired := sdboot.Entry{
		Name:    v.String(),
		Title:   m.cfg.Title(v),
		Linux:   espPath(imageName),
		Options: m.cfg.Bootarg,
	}
	if ucodeOnESP {
		desired.Initrd = append(desired.Initrd, espPath(UcodeImage))
	}
	var dstInitrd string
	if e.InitrdPath != "" {
		initrdName := m.cfg.InitrdName(v)
		dstInitrd = filepath.Join(m.destDir(), initrdName)
		desired.Initrd = append(desired.Initrd, espPath(initrdName))
	}

	if desired.Options == "" && !m.warnedEmptyBootarg {
		m.warnedEmptyBootarg = true
		logger.Warnf("boot argument template is empty; entries may be unbootable, set bootarg in %s", DefaultConfigPath)
	}

	existing, exists, err := m.store.Entry(desired.Name)
	if err != nil {
		return err
	}

	imageDiffers, err := fileDiffers(dstImage, e.ImagePath)
	if err != nil {
		return err
	}
	initrdDiffers := false
	if dstInitrd != "" {
		if initrdDiffers, err = fileDiffers(dstInitrd, e.InitrdPath); err != nil {
			return err
		}
	}
	entryDiffers := !exists || !bytes.Equal(existing.Render(), desired.Render())

	if !imageDiffers && !initrdDiffers && !entryDiffers {
		logger.Infof("kernel %s is up to date, no changes", v)
		res.Kept = append(res.Kept, v)
		return nil
	}

	if exists && !m.force {
		overwrite := m.confirm != nil && m.confirm(fmt.Sprintf("Overwrite existing boot entry %s?", desired.Name))
		if !overwrite {
			logger.Infof("not overwriting existing boot entry %s", desired.Name)
			res.Skipped = append(res.Skipped, v)
			return nil
		}
	}

	// Refuse up front when the copies cannot fit; a failed copy of this
	// one kernel must not abort the remaining plan actions.
	need := uint64(0)
	if imageDiffers {
		need += fileSize(e.ImagePath)
	}
	if initrdDiffers {
		need += fileSize(e.InitrdPath)
	}
	if free, err := diskFree(m.destDir()); err == nil && free < need {
		logger.Warnf("cannot install kernel %s: %d bytes needed, %d free", v, need, free)
		res.Failed = append(res.Failed, ItemFailure{Version: v, Err: ErrNoSpace})
		return nil
	}

	logger.Infof("installing kernel %s", v)
	if imageDiffers {
		failed, err := m.copyKernelFile(dstImage, e.ImagePath, v, res)
		if failed || err != nil {
			return err
		}
	}
	if initrdDiffers {
		failed, err := m.copyKernelFile(dstInitrd, e.InitrdPath, v, res)
		if failed || err != nil {
			return err
		}
	}
	if err := m.store.WriteEntry(desired); err != nil {
		if isNoSpace(err) {
			res.Failed = append(res.Failed, ItemFailure{Version: v, Err: fmt.Errorf("%w: %v", ErrNoSpace, err)})
			return nil
		}
		return err
	}

	res.Installed = append(res.Installed, v)
	return nil
}

// copyKernelFile copies one file, converting an out-of-space failure
// into a per-item failure and everything else into a run abort.
func (m *Materializer) copyKernelFile(dst, src string, v Version, res *Result) (failed bool, err error) {
	if _, err := maybeUpdateFile(dst, src); err != nil {
		if isNoSpace(err) {
			logger.Warnf("cannot install kernel %s: %v", v, err)
			res.Failed = append(res.Failed, ItemFailure{Version: v, Err: fmt.Errorf("%w: %v", ErrNoSpace, err)})
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (m *Materializer) remove(e Entry, res *Result) error {
	v := e.Version
	logger.Infof("removing kernel %s", v)
	for _, p := range m.removalPaths(e) {
		if err := appFs.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warnf("cannot remove %s: %v", p, err)
		}
	}
	if err := m.store.RemoveEntry(v.String()); err != nil {
		return err
	}
	res.Removed = append(res.Removed, v)
	return nil
}

// removalPaths resolves the files to delete for an installed kernel. The
// ESP-relative paths recorded in the boot entry take precedence over the
// current name templates, so files installed under an older template are
// not orphaned when the template changes.
func (m *Materializer) removalPaths(e Entry) []string {
	var paths []string
	if e.ImagePath != "" {
		paths = append(paths, filepath.Join(m.cfg.ESPMountpoint, e.ImagePath))
	} else {
		paths = append(paths, filepath.Join(m.destDir(), m.cfg.ImageName(e.Version)))
	}
	if e.InitrdPath != "" {
		paths = append(paths, filepath.Join(m.cfg.ESPMountpoint, e.InitrdPath))
	} else {
		paths = append(paths, filepath.Join(m.destDir(), m.cfg.InitrdName(e.Version)))
	}
	return paths
}

// fileDiffers reports whether dst is missing or differs from src.
func fileDiffers(dst, src string) (bool, error) {
	srcFile, err := appFs.Open(src)
	if err != nil {
		return false, fmt.Errorf("could not open source file: %w", err)
	}
	defer srcFile.Close()
	return needUpdateFile(dst, src, srcFile)
}

func hasInstalls(plan Plan) bool {
	for _, a := range plan.Actions {
		if a.Kind == ActionInstall {
			return true
		}
	}
	return false
}

func removals(plan Plan) []Version {
	var out []Version
	for _, a := range plan.Actions {
		if a.Kind == ActionRemove {
			out = append(out, a.Entry.Version)
		}
	}
	return out
}

// remainingAfter computes the installed set as it will look once the
// victims are gone.
func remainingAfter(installed Set, victims []Version) Set {
	var kept []Entry
	for _, e := range installed.SortedDescending() {
		doomed := false
		for _, v := range victims {
			if e.Version.Same(v) {
				doomed = true
				break
			}
		}
		if !doomed {
			kept = append(kept, e)
		}
	}
	return NewSet(kept)
}
