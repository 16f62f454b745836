// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

// bootfriendctl manages kernels and systemd-boot entries on the EFI
// system partition. All decision logic lives in the kernel package; this
// layer only parses arguments, resolves prompts and formats output.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aosc-dev/bootfriend/kernel"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cannot set up logging:", err)
		os.Exit(1)
	}
	return logger.Sugar()
}

// loadConfig loads the configuration, generating a template on first
// run; the user is expected to review it before anything touches the
// ESP.
func loadConfig() (kernel.Config, error) {
	cfg, err := kernel.LoadConfig(configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		if werr := kernel.WriteConfig(configPath, kernel.DefaultConfig()); werr != nil {
			return kernel.Config{}, fmt.Errorf("cannot write configuration template: %w", werr)
		}
		return kernel.Config{}, fmt.Errorf("no configuration found; a template was written to %s, edit it and run again", configPath)
	}
	return kernel.Config{}, err
}

// confirm asks a yes/no question on the terminal, defaulting to no.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// reportResult prints the per-item outcome and returns an error when any
// item failed, so a partially successful run exits non-zero without
// undoing the successful subset.
func reportResult(res kernel.Result) error {
	for _, f := range res.Failed {
		fmt.Fprintf(os.Stderr, "failed: %s: %v\n", f.Version.RawName, f.Err)
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d of %d actions failed",
			len(res.Failed),
			len(res.Failed)+len(res.Installed)+len(res.Removed)+len(res.Kept)+len(res.Skipped))
	}
	return nil
}

// printItems renders a kernel listing: "*" marks the default entry and
// "+" marks installed kernels in the available listing.
func printItems(items []kernel.ListItem) {
	for _, item := range items {
		mark := " "
		switch {
		case item.Default:
			mark = "*"
		case item.Installed:
			mark = "+"
		}
		fmt.Printf("[%s] %s\n", mark, item.Version)
	}
}

func newManager() (*kernel.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return kernel.NewManager(cfg), nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bootfriendctl",
		Short:         "kernel version manager for systemd-boot",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			kernel.SetLogger(newLogger())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", kernel.DefaultConfigPath, "configuration file")

	root.AddCommand(
		newInitCmd(),
		newUpdateCmd(),
		newInstallCmd(),
		newRemoveCmd(),
		newListAvailableCmd(),
		newListInstalledCmd(),
		newSetDefaultCmd(),
		newSetTimeoutCmd(),
	)
	return root
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the loader layout on the ESP and install kernels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			res, err := m.Init()
			if err != nil {
				return err
			}
			return reportResult(res)
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Install all kernels and refresh boot entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			res, err := m.Update()
			if err != nil {
				return err
			}
			return reportResult(res)
		},
	}
}

func newInstallCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "install-kernel [targets...]",
		Short: "Install the specified kernels, or all available ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			res, err := m.InstallKernels(args, force, confirm)
			if err != nil {
				return err
			}
			return reportResult(res)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing kernels and entries without asking")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-kernel [targets...]",
		Short: "Remove the specified kernels, or all obsolete ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			res, err := m.RemoveKernels(args)
			if err != nil {
				return err
			}
			return reportResult(res)
		},
	}
}

func newListAvailableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-available",
		Short: "List kernels available for installation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			items, err := m.ListAvailable()
			if err != nil {
				return err
			}
			printItems(items)
			return nil
		},
	}
}

func newListInstalledCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-installed",
		Short: "List installed kernels, marking the default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			items, err := m.ListInstalled()
			if err != nil {
				return err
			}
			printItems(items)
			return nil
		},
	}
}

func newSetDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-default [target]",
		Short: "Set the default boot entry; without a target the newest installed kernel wins",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return m.SetDefault(target)
		},
	}
}

func newSetTimeoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-timeout <seconds>",
		Short: "Set the boot menu timeout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid timeout %q: %w", args[0], err)
			}
			m, err := newManager()
			if err != nil {
				return err
			}
			return m.SetTimeout(uint(seconds))
		},
	}
}
