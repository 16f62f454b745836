// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package kernel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

func newTestManager(t *testing.T, memFs afero.Fs, cfg Config) *Manager {
	t.Helper()
	initESPLayout(t, memFs)
	return NewManager(cfg)
}

func installedNames(t *testing.T, m *Manager) []string {
	t.Helper()
	installed, err := m.Installed()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range installed.SortedDescending() {
		names = append(names, e.Version.String())
	}
	return names
}

func storedDefault(t *testing.T, m *Manager) string {
	t.Helper()
	def, err := m.store.Default()
	if err != nil {
		t.Fatal(err)
	}
	return def
}

func TestManager_installAllAndDefault(t *testing.T) {
	memFs := setupTestFs(t)
	cfg := testConfig()
	writeBootFiles(t, memFs,
		"vmlinuz-6.1.0-aosc",
		"initramfs-6.1.0-aosc.img",
		"vmlinuz-5.15.0-aosc",
		"initramfs-5.15.0-aosc.img",
	)
	m := newTestManager(t, memFs, cfg)

	res, err := m.InstallKernels(nil, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Installed) != 2 || len(res.Failed) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := []string{"6.1.0-aosc", "5.15.0-aosc"}
	if diff := cmp.Diff(want, installedNames(t, m)); diff != "" {
		t.Errorf("unexpected installed set (-want +got):\n%s", diff)
	}
	// The newest kernel becomes the default on a fresh install.
	if got := storedDefault(t, m); got != "6.1.0-aosc.conf" {
		t.Errorf("unexpected default: %q", got)
	}
}

func TestManager_removeNonDefaultKeepsDefault(t *testing.T) {
	memFs := setupTestFs(t)
	cfg := testConfig()
	writeBootFiles(t, memFs,
		"vmlinuz-6.1.0-aosc",
		"vmlinuz-5.15.0-aosc",
	)
	m := newTestManager(t, memFs, cfg)
	if _, err := m.InstallKernels(nil, false, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.SetDefault("5.15.0-aosc"); err != nil {
		t.Fatal(err)
	}

	res, err := m.RemoveKernels([]string{"6.1.0-aosc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Removed) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// The surviving default stays untouched.
	if got := storedDefault(t, m); got != "5.15.0-aosc.conf" {
		t.Errorf("default must survive removal of another kernel, got %q", got)
	}
}

func TestManager_removeLastKernelClearsDefault(t *testing.T) {
	memFs := setupTestFs(t)
	cfg := testConfig()
	writeBootFiles(t, memFs, "vmlinuz-5.15.0-aosc")
	m := newTestManager(t, memFs, cfg)
	if _, err := m.InstallKernels(nil, false, nil); err != nil {
		t.Fatal(err)
	}
	if got := storedDefault(t, m); got != "5.15.0-aosc.conf" {
		t.Fatalf("precondition failed, default is %q", got)
	}

	// Removing the last kernel succeeds and leaves no dangling default.
	res, err := m.RemoveKernels([]string{"5.15.0-aosc"})
	if err != nil {
		t.Fatalf("removing the last kernel must not fail: %v", err)
	}
	if len(res.Removed) != 1 || len(res.Failed) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := storedDefault(t, m); got != "" {
		t.Errorf("default not cleared, got %q", got)
	}
	if names := installedNames(t, m); names != nil {
		t.Errorf("kernels still installed: %v", names)
	}
}

func TestManager_init(t *testing.T) {
	memFs := setupTestFs(t)
	cfg := testConfig()
	writeBootFiles(t, memFs, "vmlinuz-6.1.0-aosc")
	m := NewManager(cfg) // no pre-made layout, init creates it

	res, err := m.Init()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Installed) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !m.store.HasLayout() {
		t.Errorf("loader layout not created")
	}
	timeout, err := m.store.Timeout()
	if err != nil {
		t.Fatal(err)
	}
	if timeout != cfg.Timeout {
		t.Errorf("timeout not written, got %d", timeout)
	}
}

func TestManager_updateDropsObsoleteAndHonorsKeep(t *testing.T) {
	memFs := setupTestFs(t)
	cfg := testConfig()
	cfg.Keep = 2
	writeBootFiles(t, memFs,
		"vmlinuz-4.19.282-aosc",
		"vmlinuz-5.15.0-aosc",
	)
	m := newTestManager(t, memFs, cfg)
	if _, err := m.InstallKernels(nil, false, nil); err != nil {
		t.Fatal(err)
	}

	// The source gains two newer kernels and loses the oldest one; with
	// keep at 2 only the newest two survive the update.
	if err := memFs.Remove("/boot/vmlinuz-4.19.282-aosc"); err != nil {
		t.Fatal(err)
	}
	writeBootFiles(t, memFs, "vmlinuz-6.1.0-aosc", "vmlinuz-6.2.0-aosc")

	if _, err := m.Update(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"6.2.0-aosc", "6.1.0-aosc"}
	if diff := cmp.Diff(want, installedNames(t, m)); diff != "" {
		t.Errorf("unexpected installed set (-want +got):\n%s", diff)
	}
	if got := storedDefault(t, m); got != "6.2.0-aosc.conf" {
		t.Errorf("newest kernel must win the default after update, got %q", got)
	}
	if ok, _ := afero.Exists(memFs, "/efi/EFI/aosc/vmlinuz-4.19.282-aosc"); ok {
		t.Errorf("obsolete kernel left on the ESP")
	}
}

func TestManager_updateReportsEachKernelOnce(t *testing.T) {
	memFs := setupTestFs(t)
	cfg := testConfig()
	writeBootFiles(t, memFs,
		"vmlinuz-6.1.0-aosc",
		"vmlinuz-5.15.0-aosc",
	)
	m := newTestManager(t, memFs, cfg)
	if _, err := m.Update(); err != nil {
		t.Fatal(err)
	}

	// A second update over an unchanged source touches nothing; every
	// kernel must show up in exactly one result bucket.
	res, err := m.Update()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Kept) != 2 {
		t.Errorf("expected 2 kept kernels, got %d: %+v", len(res.Kept), res)
	}
	if len(res.Installed) != 0 || len(res.Removed) != 0 || len(res.Failed) != 0 {
		t.Errorf("no-op update must keep only: %+v", res)
	}
	seen := map[string]int{}
	for _, v := range res.Kept {
		seen[v.String()]++
	}
	for name, n := range seen {
		if n != 1 {
			t.Errorf("kernel %s reported %d times", name, n)
		}
	}
}

func TestManager_invalidTargetFailsAlone(t *testing.T) {
	memFs := setupTestFs(t)
	cfg := testConfig()
	writeBootFiles(t, memFs, "vmlinuz-6.1.0-aosc")
	m := newTestManager(t, memFs, cfg)

	res, err := m.InstallKernels([]string{"6.1.0-aosc", "not-a-version"}, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0].Version.RawName != "not-a-version" {
		t.Fatalf("expected the bad target to fail alone: %+v", res)
	}
	if len(res.Installed) != 1 {
		t.Errorf("the valid target must still install: %+v", res)
	}
}

func TestManager_setDefaultRejectsUninstalled(t *testing.T) {
	memFs := setupTestFs(t)
	cfg := testConfig()
	writeBootFiles(t, memFs, "vmlinuz-6.1.0-aosc")
	m := newTestManager(t, memFs, cfg)
	if _, err := m.InstallKernels(nil, false, nil); err != nil {
		t.Fatal(err)
	}

	if err := m.SetDefault("5.15.0-aosc"); err == nil {
		t.Errorf("default must be refused for a kernel that is not installed")
	}
	if got := storedDefault(t, m); got != "6.1.0-aosc.conf" {
		t.Errorf("failed set-default must not disturb the pointer, got %q", got)
	}
}

func TestManager_listInstalledMarksDefault(t *testing.T) {
	memFs := setupTestFs(t)
	cfg := testConfig()
	writeBootFiles(t, memFs,
		"vmlinuz-6.1.0-aosc",
		"vmlinuz-5.15.0-aosc",
	)
	m := newTestManager(t, memFs, cfg)
	if _, err := m.InstallKernels(nil, false, nil); err != nil {
		t.Fatal(err)
	}

	items, err := m.ListInstalled()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if !items[0].Default || items[0].Version.String() != "6.1.0-aosc" {
		t.Errorf("newest item must carry the default mark: %+v", items[0])
	}
	if items[1].Default {
		t.Errorf("only one item may be default: %+v", items[1])
	}
}

func TestManager_installedIgnoresForeignEntries(t *testing.T) {
	memFs := setupTestFs(t)
	cfg := testConfig()
	writeBootFiles(t, memFs, "vmlinuz-6.1.0-aosc")
	m := newTestManager(t, memFs, cfg)
	if _, err := m.InstallKernels(nil, false, nil); err != nil {
		t.Fatal(err)
	}

	foreign := "title Windows\nefi /EFI/Microsoft/Boot/bootmgfw.efi\n"
	if err := afero.WriteFile(memFs, "/efi/loader/entries/windows.conf", []byte(foreign), 0644); err != nil {
		t.Fatal(err)
	}

	want := []string{"6.1.0-aosc"}
	if diff := cmp.Diff(want, installedNames(t, m)); diff != "" {
		t.Errorf("foreign entries must not show up as kernels (-want +got):\n%s", diff)
	}
}
