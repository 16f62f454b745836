// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

// Package kernel discovers kernel images, compares them against the
// entries registered on the EFI system partition and reconciles the two.
package kernel

import (
	"errors"
	"fmt"
	"strings"

	debVersion "github.com/knqyf263/go-deb-version"
)

// The two non-fatal parse outcomes. ErrNoMatch means the filename is not
// a kernel image at all; ErrMalformed means it matched the image prefix
// but failed structural validation, so operators can tell "not a kernel
// file" apart from "looks like a kernel file but is broken".
var (
	ErrNoMatch   = errors.New("not a kernel image filename")
	ErrMalformed = errors.New("malformed kernel image filename")
)

// Version is the parsed identity of a kernel image.
//
// Two Versions are the same kernel iff Release and Variant are both
// equal, regardless of which directory they were found in. RawName is
// kept for diagnostics and file lookups only.
type Version struct {
	Release string // dot/hyphen-delimited version groups, e.g. "6.1.0" or "6.1.0-rc1"
	Variant string // optional flavour suffix, e.g. "aosc"; part of identity, not of ordering
	RawName string // the filename or version string this was parsed from
}

// versionKey is the identity of a Version, used as a map key.
type versionKey struct {
	release string
	variant string
}

func (v Version) key() versionKey {
	return versionKey{release: v.Release, variant: v.Variant}
}

// String returns the canonical version string, e.g. "6.1.0-aosc".
func (v Version) String() string {
	if v.Variant == "" {
		return v.Release
	}
	return v.Release + "-" + v.Variant
}

// Same reports whether v and other refer to the same logical kernel.
func (v Version) Same(other Version) bool {
	return v.Release == other.Release && v.Variant == other.Variant
}

// Compare orders two Versions by Release, component-wise: numeric
// segments compare as integers, non-numeric segments lexically. This
// mirrors upstream kernel version ordering and is a strict total order,
// which default-kernel selection ("newest wins") depends on. The Variant
// takes no part in ordering.
func (v Version) Compare(other Version) int {
	a, errA := debVersion.NewVersion(v.Release)
	b, errB := debVersion.NewVersion(other.Release)
	if errA != nil || errB != nil {
		// Releases that came through the parser are always valid; this
		// branch only orders hand-constructed values deterministically.
		return strings.Compare(v.Release, other.Release)
	}
	switch {
	case a.LessThan(b):
		return -1
	case a.GreaterThan(b):
		return 1
	}
	return 0
}

// ParseImageFilename extracts a Version from a kernel image filename.
//
// The template is the configured image naming scheme, e.g.
// "vmlinuz-{VERSION}"; filenames not matching its fixed prefix and
// suffix yield ErrNoMatch, filenames that match but carry an invalid
// version field yield ErrMalformed.
func ParseImageFilename(template, name string) (Version, error) {
	prefix, suffix, err := splitTemplate(template)
	if err != nil {
		return Version{}, err
	}
	if len(name) < len(prefix)+len(suffix) ||
		!strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return Version{}, fmt.Errorf("%w: %s", ErrNoMatch, name)
	}
	field := name[len(prefix) : len(name)-len(suffix)]
	v, err := parseVersionField(field)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %s", err, name)
	}
	v.RawName = name
	return v, nil
}

// ParseVersionString parses a bare version string such as a user-supplied
// install target, e.g. "6.1.0-aosc".
func ParseVersionString(s string) (Version, error) {
	v, err := parseVersionField(s)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %s", err, s)
	}
	v.RawName = s
	return v, nil
}

// splitTemplate splits an image name template around the {VERSION}
// placeholder.
func splitTemplate(template string) (prefix, suffix string, err error) {
	i := strings.Index(template, "{VERSION}")
	if i < 0 {
		return "", "", fmt.Errorf("image name template %q lacks a {VERSION} placeholder", template)
	}
	return template[:i], template[i+len("{VERSION}"):], nil
}

// parseVersionField splits a version field into release and variant.
//
// The release is the longest leading run of hyphen-delimited release
// groups; whatever trails it is the variant. An empty or invalid release
// is ErrMalformed, never a panic.
func parseVersionField(field string) (Version, error) {
	if field == "" {
		return Version{}, ErrMalformed
	}
	parts := strings.Split(field, "-")
	if !isReleaseStart(parts[0]) {
		return Version{}, ErrMalformed
	}
	n := 1
	for n < len(parts) && isReleaseGroup(parts[n]) {
		n++
	}
	release := strings.Join(parts[:n], "-")
	variant := strings.Join(parts[n:], "-")
	if strings.Contains(field, "--") || strings.HasSuffix(field, "-") {
		return Version{}, ErrMalformed
	}
	if _, err := debVersion.NewVersion(release); err != nil {
		return Version{}, ErrMalformed
	}
	return Version{Release: release, Variant: variant}, nil
}

// isReleaseStart reports whether s is a valid first release group: one or
// more non-empty dot-delimited alphanumeric groups, starting with a digit.
func isReleaseStart(s string) bool {
	if s == "" || !isDigit(s[0]) {
		return false
	}
	for _, group := range strings.Split(s, ".") {
		if group == "" || !isAlnum(group) {
			return false
		}
	}
	return true
}

// isReleaseGroup reports whether a hyphen-delimited component still
// belongs to the release: either a further numeric group ("300.fc38"
// style) or an rc tag ("rc3"). Anything else starts the variant.
func isReleaseGroup(s string) bool {
	if isReleaseStart(s) {
		return true
	}
	if rest, ok := strings.CutPrefix(s, "rc"); ok && rest != "" {
		for i := 0; i < len(rest); i++ {
			if !isDigit(rest[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isDigit(c) && !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
