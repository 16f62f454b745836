// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package sdboot

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// LoaderConf is the loader-level configuration: the single default
// pointer and the menu timeout. Lines the store does not understand are
// preserved verbatim across rewrites.
type LoaderConf struct {
	Default string // entry record filename, e.g. "6.1.0-aosc.conf"; empty means no default
	Timeout uint
	extra   []string
}

// loaderPath returns the absolute path of loader.conf.
func (s *Store) loaderPath() string {
	return filepath.Join(s.esp, relLoaderConf)
}

// Loader reads loader.conf. A missing file is a valid zero configuration,
// not an error.
func (s *Store) Loader() (LoaderConf, error) {
	data, err := s.readESPFile(s.loaderPath())
	if err != nil {
		if isNotExist(err) {
			return LoaderConf{}, nil
		}
		return LoaderConf{}, fmt.Errorf("cannot read loader configuration: %w", err)
	}
	return parseLoaderConf(data), nil
}

func parseLoaderConf(data []byte) LoaderConf {
	var conf LoaderConf
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		key, value, ok := splitConfLine(line)
		if !ok {
			if line != "" {
				conf.extra = append(conf.extra, line)
			}
			continue
		}
		switch key {
		case "default":
			conf.Default = value
		case "timeout":
			if n, err := strconv.ParseUint(value, 10, 32); err == nil {
				conf.Timeout = uint(n)
			}
		default:
			conf.extra = append(conf.extra, line)
		}
	}
	return conf
}

func (c LoaderConf) render() []byte {
	var b strings.Builder
	if c.Default != "" {
		fmt.Fprintf(&b, "default %s\n", c.Default)
	}
	fmt.Fprintf(&b, "timeout %d\n", c.Timeout)
	for _, line := range c.extra {
		fmt.Fprintln(&b, line)
	}
	return []byte(b.String())
}

// WriteLoader persists loader.conf.
func (s *Store) WriteLoader(conf LoaderConf) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.loaderPath()), 0755); err != nil {
		return fmt.Errorf("cannot create loader directory: %w", err)
	}
	if err := s.writeESPFile(s.loaderPath(), conf.render()); err != nil {
		return fmt.Errorf("cannot write loader configuration: %w", err)
	}
	return nil
}

// Default returns the current default entry record filename, or "" when
// no default is set.
func (s *Store) Default() (string, error) {
	conf, err := s.Loader()
	if err != nil {
		return "", err
	}
	return conf.Default, nil
}

// SetDefault updates the default pointer. An empty name clears it, which
// is only a valid end state when no kernels remain installed.
func (s *Store) SetDefault(name string) error {
	conf, err := s.Loader()
	if err != nil {
		return err
	}
	conf.Default = name
	return s.WriteLoader(conf)
}

// Timeout returns the boot menu timeout in seconds.
func (s *Store) Timeout() (uint, error) {
	conf, err := s.Loader()
	if err != nil {
		return 0, err
	}
	return conf.Timeout, nil
}

// SetTimeout updates the boot menu timeout.
func (s *Store) SetTimeout(seconds uint) error {
	conf, err := s.Loader()
	if err != nil {
		return err
	}
	conf.Timeout = seconds
	return s.WriteLoader(conf)
}
