// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package sdboot

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is one boot-entry record: a persisted description of a single
// bootable kernel.
type Entry struct {
	Name    string   // record name without the .conf suffix
	Title   string   // boot menu title
	Linux   string   // ESP-relative kernel image path
	Initrd  []string // initrd chain in load order, microcode first
	Options string   // kernel command line
}

// File returns the record's filename.
func (e Entry) File() string {
	return e.Name + ".conf"
}

// Render serializes the record in boot loader specification syntax.
func (e Entry) Render() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "title %s\n", e.Title)
	fmt.Fprintf(&b, "linux %s\n", e.Linux)
	for _, initrd := range e.Initrd {
		fmt.Fprintf(&b, "initrd %s\n", initrd)
	}
	if e.Options != "" {
		fmt.Fprintf(&b, "options %s\n", e.Options)
	}
	return []byte(b.String())
}

// parseEntry parses a record from its file content. Unknown tokens are
// ignored rather than rejected; the loader does the same.
func parseEntry(name string, data []byte) Entry {
	e := Entry{Name: name}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := splitConfLine(line)
		if !ok {
			continue
		}
		switch key {
		case "title":
			e.Title = value
		case "linux":
			e.Linux = value
		case "initrd":
			e.Initrd = append(e.Initrd, value)
		case "options":
			e.Options = value
		}
	}
	return e
}

// Entries enumerates the records in the entry directory, sorted by name
// for a stable listing. A missing entry directory yields an empty list;
// the store has simply never been initialized.
func (s *Store) Entries() ([]Entry, error) {
	infos, err := readDirIfExists(s.fs, s.EntriesDir())
	if err != nil {
		return nil, fmt.Errorf("cannot enumerate boot entries: %w", err)
	}
	var entries []Entry
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".conf") {
			continue
		}
		data, err := s.readESPFile(filepath.Join(s.EntriesDir(), info.Name()))
		if err != nil {
			return nil, fmt.Errorf("cannot read boot entry %s: %w", info.Name(), err)
		}
		entries = append(entries, parseEntry(strings.TrimSuffix(info.Name(), ".conf"), data))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Entry returns the record with the given name, if present.
func (s *Store) Entry(name string) (Entry, bool, error) {
	path := filepath.Join(s.EntriesDir(), name+".conf")
	data, err := s.readESPFile(path)
	if err != nil {
		if isNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cannot read boot entry %s: %w", name, err)
	}
	return parseEntry(name, data), true, nil
}

// WriteEntry persists a record, replacing any previous one of the same
// name.
func (s *Store) WriteEntry(e Entry) error {
	path := filepath.Join(s.EntriesDir(), e.File())
	if err := s.writeESPFile(path, e.Render()); err != nil {
		return fmt.Errorf("cannot write boot entry %s: %w", e.Name, err)
	}
	return nil
}

// RemoveEntry deletes a record. Removing an absent record is not an
// error.
func (s *Store) RemoveEntry(name string) error {
	err := s.fs.Remove(filepath.Join(s.EntriesDir(), name+".conf"))
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("cannot remove boot entry %s: %w", name, err)
	}
	return nil
}
