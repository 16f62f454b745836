// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package kernel

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// appFs is our default filesystem; tests swap in an afero memfs.
var appFs afero.Fs = afero.NewOsFs()

// logger is the package logger, replaced by the CLI at startup.
var logger = zap.NewNop().Sugar()

// SetLogger installs the logger used for scan and materializer
// diagnostics.
func SetLogger(l *zap.SugaredLogger) {
	if l != nil {
		logger = l
	}
}

// diskFree reports the number of bytes available to an unprivileged
// writer on the filesystem holding path. Swappable so tests can simulate
// a full ESP without one.
var diskFree = func(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// maybeUpdateFile copies src to dst if their contents differ.
// It returns true if the destination file was successfully updated. If
// the return value is false with a nil error, dst already had identical
// content and was left untouched.
func maybeUpdateFile(dst string, src string) (bool, error) {
	srcFile, err := appFs.Open(src)
	if err != nil {
		return false, fmt.Errorf("could not open source file: %w", err)
	}
	defer srcFile.Close()

	if needUpdate, err := needUpdateFile(dst, src, srcFile); !needUpdate {
		return false, err
	}

	dstFile, err := appFs.Create(dst)
	if err != nil {
		return false, fmt.Errorf("could not open %s for writing: %w", dst, err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		// Leave no partial copy behind.
		appFs.Remove(dst)
		return false, fmt.Errorf("could not copy %s to %s: %w", src, dst, err)
	}
	return true, nil
}

// needUpdateFile compares dst and src by hash so neither has to be held
// in memory.
func needUpdateFile(dst string, src string, srcFile io.ReadSeeker) (bool, error) {
	dstHash := sha256.New()
	srcHash := sha256.New()

	dstFile, err := appFs.Open(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("could not open destination file: %w", err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstHash, dstFile); err != nil {
		return false, fmt.Errorf("could not hash destination file %s: %w", dst, err)
	}
	if _, err := io.Copy(srcHash, srcFile); err != nil {
		return false, fmt.Errorf("could not hash source file %s: %w", src, err)
	}
	if bytes.Equal(dstHash.Sum(nil), srcHash.Sum(nil)) {
		return false, nil
	}

	if _, err := srcFile.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("could not seek in source file %s: %w", src, err)
	}

	return true, nil
}

// fileSize returns the size of path, or 0 if it cannot be determined.
func fileSize(path string) uint64 {
	info, err := appFs.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

// isNoSpace reports whether err is an out-of-space condition, which is
// fatal for a single install action but not for the whole run.
func isNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, ErrNoSpace)
}
