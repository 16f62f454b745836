// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

// Package sdboot reads and writes systemd-boot loader configuration on
// the EFI system partition: the entry records under loader/entries/ and
// the default pointer and timeout in loader/loader.conf.
package sdboot

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	relLoaderConf  = "loader/loader.conf"
	relEntriesPath = "loader/entries"
)

// Store is a boot-entry store rooted at an ESP mountpoint.
type Store struct {
	fs  afero.Fs
	esp string
}

// NewStore returns a store for the ESP mounted at esp.
func NewStore(fs afero.Fs, esp string) *Store {
	return &Store{fs: fs, esp: esp}
}

// EntriesDir returns the absolute path of the entry directory.
func (s *Store) EntriesDir() string {
	return filepath.Join(s.esp, relEntriesPath)
}

// EnsureLayout creates the loader directory structure used by the store.
func (s *Store) EnsureLayout() error {
	return s.fs.MkdirAll(s.EntriesDir(), 0755)
}

// HasLayout reports whether the entry directory exists on the ESP.
func (s *Store) HasLayout() bool {
	ok, _ := afero.DirExists(s.fs, s.EntriesDir())
	return ok
}

// readESPFile reads a text file from the ESP. Files on the ESP are FAT
// and get touched by firmware and other operating systems, so a UTF-8
// byte order mark is tolerated and stripped.
func (s *Store) readESPFile(path string) ([]byte, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := transform.NewReader(f, unicode.UTF8BOM.NewDecoder())
	return io.ReadAll(r)
}

// writeESPFile writes a file to the ESP with write-to-temporary-then-
// rename discipline, so a failure mid-write never leaves a partially
// written file observable under its final name. The write is verified
// against the expected length to catch silent ENOSPC truncation.
func (s *Store) writeESPFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	info, err := s.fs.Stat(tmp)
	if err != nil {
		s.fs.Remove(tmp)
		return err
	}
	if info.Size() != int64(len(data)) {
		s.fs.Remove(tmp)
		return fmt.Errorf("short write to %s: no space left on device", tmp)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	return nil
}

// readDirIfExists lists a directory, treating a missing directory as
// empty.
func readDirIfExists(fs afero.Fs, dir string) ([]os.FileInfo, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return infos, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// splitConfLine splits a loader config line into key and value. The
// loader accepts any run of whitespace between the two, so hand-edited
// tab-separated lines parse the same as space-separated ones.
func splitConfLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	fields := strings.Fields(line)
	key = fields[0]
	if len(fields) > 1 {
		value = strings.TrimSpace(line[len(key):])
	}
	return key, value, true
}
