// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package kernel

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the configuration file lives.
const DefaultConfigPath = "/etc/bootfriend.yaml"

// mountsPath is consulted to detect the root partition for the kernel
// command line.
const mountsPath = "/proc/mounts"

// Config is the process-wide configuration, loaded once at startup and
// passed by value into every component. Only the default selector and
// the timeout setter persist derived state, and they do so through the
// boot-entry store, never by rewriting this value.
type Config struct {
	ESPMountpoint string `yaml:"esp_mountpoint"` // where the EFI system partition is mounted
	KernelDir     string `yaml:"kernel_dir"`     // where kernel images are picked up from
	VMLinux       string `yaml:"vmlinux"`        // kernel image name template, e.g. vmlinuz-{VERSION}
	Initrd        string `yaml:"initrd"`         // initrd name template, e.g. initramfs-{VERSION}.img
	Distro        string `yaml:"distro"`         // distribution name used in entry titles
	Bootarg       string `yaml:"bootarg"`        // kernel command line template
	Keep          int    `yaml:"keep"`           // newest kernels kept by update; 0 keeps all
	Timeout       uint   `yaml:"timeout"`        // initial boot menu timeout written by init
}

// DefaultConfig returns the configuration template written when no
// configuration file exists yet.
func DefaultConfig() Config {
	return Config{
		ESPMountpoint: "/efi",
		KernelDir:     "/boot",
		VMLinux:       "vmlinuz-{VERSION}",
		Initrd:        "initramfs-{VERSION}.img",
		Distro:        "AOSC OS",
		Bootarg:       "",
		Keep:          0,
		Timeout:       5,
	}
}

// LoadConfig reads and validates the configuration file. A missing file
// is the caller's problem: the CLI layer generates a template and tells
// the user to edit it.
func LoadConfig(path string) (Config, error) {
	data, err := afero.ReadFile(appFs, path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read configuration %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse configuration %s: %w", path, err)
	}
	if !strings.Contains(cfg.VMLinux, "{VERSION}") || !strings.Contains(cfg.Initrd, "{VERSION}") {
		return Config{}, fmt.Errorf("configuration %s: vmlinux and initrd must contain a {VERSION} placeholder", path)
	}
	cfg.Bootarg = fillBootarg(cfg.Bootarg)
	return cfg, nil
}

// WriteConfig writes cfg to path, creating parent directories.
func WriteConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := appFs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return afero.WriteFile(appFs, path, data, 0644)
}

// ImageName renders the kernel image filename for a version.
func (c Config) ImageName(v Version) string {
	return strings.ReplaceAll(c.VMLinux, "{VERSION}", v.String())
}

// InitrdName renders the initrd filename for a version.
func (c Config) InitrdName(v Version) string {
	return strings.ReplaceAll(c.Initrd, "{VERSION}", v.String())
}

// EntryName is the boot-entry record name for a version.
func (c Config) EntryName(v Version) string {
	return v.String() + ".conf"
}

// Title is the human-readable boot menu title for a version.
func (c Config) Title(v Version) string {
	return fmt.Sprintf("%s (%s)", c.Distro, v)
}

// fillBootarg fills in the root= and rw parameters when the template
// omits them, so a half-written template still yields a bootable entry.
// Best effort: when the root partition cannot be detected the template is
// returned as is and the materializer warns about it.
func fillBootarg(bootarg string) string {
	hasRoot := false
	hasRW := false
	for _, param := range strings.Fields(bootarg) {
		if strings.HasPrefix(param, "root=") {
			hasRoot = true
		} else if param == "rw" || param == "ro" {
			hasRW = true
		}
	}

	filled := strings.TrimSpace(bootarg)
	if !hasRoot {
		root, err := detectRootPartition()
		if err != nil || root == "" {
			return filled
		}
		filled = strings.TrimSpace(filled + " root=" + root)
		if !hasRW {
			filled += " rw"
		}
		return filled
	}
	if !hasRW {
		filled += " rw"
	}
	return filled
}

// detectRootPartition finds the device mounted at / for generating the
// kernel command line.
func detectRootPartition() (string, error) {
	data, err := afero.ReadFile(appFs, mountsPath)
	if err != nil {
		return "", err
	}
	root := ""
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "/" {
			root = fields[0]
		}
	}
	return root, nil
}
