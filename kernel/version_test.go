// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package kernel

import (
	"errors"
	"testing"
)

func TestParseImageFilename(t *testing.T) {
	const template = "vmlinuz-{VERSION}"

	tests := []struct {
		name    string
		release string
		variant string
	}{
		{"vmlinuz-6.1.0-aosc", "6.1.0", "aosc"},
		{"vmlinuz-5.15.0-aosc", "5.15.0", "aosc"},
		{"vmlinuz-6.1.0", "6.1.0", ""},
		{"vmlinuz-5.12.0-rc3-aosc-main", "5.12.0-rc3", "aosc-main"},
		{"vmlinuz-5.15.12-100.fc34-generic", "5.15.12-100.fc34", "generic"},
		{"vmlinuz-6.12", "6.12", ""},
	}
	for _, tt := range tests {
		v, err := ParseImageFilename(template, tt.name)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
			continue
		}
		if v.Release != tt.release || v.Variant != tt.variant {
			t.Errorf("%s: got release %q variant %q, want %q %q",
				tt.name, v.Release, v.Variant, tt.release, tt.variant)
		}
		if v.RawName != tt.name {
			t.Errorf("%s: raw name not retained, got %q", tt.name, v.RawName)
		}
	}
}

func TestParseImageFilename_classification(t *testing.T) {
	const template = "vmlinuz-{VERSION}"

	// A broken kernel filename must be reported distinctly from a file
	// that is not a kernel image at all.
	malformed := []string{"vmlinuz-", "vmlinuz-abc", "vmlinuz-6..1", "vmlinuz-6.1.0--aosc", "vmlinuz-6.1.0-aosc-"}
	for _, name := range malformed {
		if _, err := ParseImageFilename(template, name); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", name, err)
		}
	}

	noMatch := []string{"README.md", "initramfs-6.1.0-aosc.img", "config-6.1.0", "vmlinu"}
	for _, name := range noMatch {
		if _, err := ParseImageFilename(template, name); !errors.Is(err, ErrNoMatch) {
			t.Errorf("%s: expected ErrNoMatch, got %v", name, err)
		}
	}
}

func TestParseImageFilename_initrdTemplate(t *testing.T) {
	v, err := ParseImageFilename("initramfs-{VERSION}.img", "initramfs-6.1.0-aosc.img")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Release != "6.1.0" || v.Variant != "aosc" {
		t.Fatalf("got release %q variant %q", v.Release, v.Variant)
	}
}

func TestParseVersionString_reparseIsIdempotent(t *testing.T) {
	for _, s := range []string{"6.1.0-aosc", "5.12.0-rc3-aosc-main", "6.12", "5.15.12-100.fc34"} {
		v1, err := ParseVersionString(s)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		v2, err := ParseVersionString(v1.String())
		if err != nil {
			t.Fatalf("%s: re-parse failed: %v", v1, err)
		}
		if !v1.Same(v2) {
			t.Errorf("%s: re-parse changed identity: %v vs %v", s, v1, v2)
		}
	}
}

func TestVersionCompare_order(t *testing.T) {
	// Ascending; adjacent and non-adjacent pairs must agree.
	ascending := []string{
		"4.19.282",
		"5.10.0",
		"5.15.0",
		"6.1.0",
		"6.1.0-rc1",
		"6.1.0-rc2",
		"6.2.0",
		"6.12.1",
	}
	versions := make([]Version, len(ascending))
	for i, s := range ascending {
		versions[i] = mustVersion(t, s)
	}
	for i := range versions {
		for j := range versions {
			got := versions[i].Compare(versions[j])
			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = 1
			}
			if got != want {
				t.Errorf("Compare(%s, %s) = %d, want %d", versions[i], versions[j], got, want)
			}
		}
	}
}

func TestVersionCompare_totalOrder(t *testing.T) {
	releases := []string{
		"5.10.0", "5.10.0", "6.1.0", "6.1.0-rc1", "6.1.0-300.fc38",
		"4.9.337", "6.12", "6.12.1", "5.15.0",
	}
	var versions []Version
	for _, s := range releases {
		versions = append(versions, mustVersion(t, s))
	}

	// Antisymmetry.
	for _, a := range versions {
		for _, b := range versions {
			if a.Compare(b) != -b.Compare(a) {
				t.Fatalf("antisymmetry violated for %s, %s", a, b)
			}
		}
	}
	// Transitivity.
	for _, a := range versions {
		for _, b := range versions {
			for _, c := range versions {
				if a.Compare(b) <= 0 && b.Compare(c) <= 0 && a.Compare(c) > 0 {
					t.Fatalf("transitivity violated for %s <= %s <= %s", a, b, c)
				}
			}
		}
	}
}

func TestVersionCompare_variantIgnored(t *testing.T) {
	a := mustVersion(t, "6.1.0-aosc")
	b := mustVersion(t, "6.1.0-generic")
	if a.Compare(b) != 0 {
		t.Errorf("variant must not take part in ordering")
	}
	if a.Same(b) {
		t.Errorf("variant must take part in identity")
	}
}
