// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package kernel

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// UcodeImage is the well-known microcode bundle filename. It is not
// version-tagged; its presence is recorded once per scan.
const UcodeImage = "intel-ucode.img"

// ErrDirectoryUnavailable marks a kernel directory that is missing or
// unreadable. This is a fatal condition for a scan, never "zero kernels
// found".
var ErrDirectoryUnavailable = errors.New("kernel directory unavailable")

// Entry is a Version bound to a concrete location.
//
// On the source side the paths point into the kernel directory; on the
// installed side they are the ESP-relative paths recorded in the boot
// entry. Entries are never mutated in place; reconciliation always
// produces new ones.
type Entry struct {
	Version      Version
	ImagePath    string
	InitrdPath   string // empty when the kernel boots without a separate initrd
	UcodeBundled bool   // a microcode image is merged into this entry's initrd chain
}

// ScanResult is the classification of one directory snapshot.
type ScanResult struct {
	Kernels      []Entry  // recognized kernel images
	Skipped      int      // entries that are not kernel files at all
	Malformed    []string // entries that look like kernel files but are broken
	UcodePresent bool     // the microcode bundle exists next to the kernels
}

// Scan lists candidate kernel files in dir and classifies each one.
//
// NoMatch files are excluded silently but counted; Malformed files are
// excluded with a warning naming the file. Re-scanning an unchanged
// directory yields the same classification set.
func Scan(cfg Config, dir string) (ScanResult, error) {
	infos, err := afero.ReadDir(appFs, dir)
	if err != nil {
		return ScanResult{}, fmt.Errorf("%w: %s: %v", ErrDirectoryUnavailable, dir, err)
	}

	var res ScanResult
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		name := info.Name()
		if name == UcodeImage {
			res.UcodePresent = true
			continue
		}
		v, err := ParseImageFilename(cfg.VMLinux, name)
		switch {
		case errors.Is(err, ErrMalformed):
			logger.Warnf("skipping %s: broken kernel filename", name)
			res.Malformed = append(res.Malformed, name)
			continue
		case err != nil:
			// Companion initrds belong to their kernel and are picked up
			// through the correlation below, never counted as foreign
			// files.
			if _, ierr := ParseImageFilename(cfg.Initrd, name); ierr == nil {
				continue
			}
			res.Skipped++
			continue
		}

		entry := Entry{
			Version:   v,
			ImagePath: filepath.Join(dir, name),
		}
		initrd := filepath.Join(dir, cfg.InitrdName(v))
		if ok, _ := afero.Exists(appFs, initrd); ok {
			entry.InitrdPath = initrd
		}
		res.Kernels = append(res.Kernels, entry)
	}

	return res, nil
}
