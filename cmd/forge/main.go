// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command forge edits source files safely and applies graph-driven
// refactors, from the command line or as an HTTP service.
//
// Usage:
//
//	forge edit main.go --changes changes.yaml
//	forge refactor rename_function --params '{"module":"util","function":"helper","arity":1,"new_name":"assist"}'
//	forge undo
//	forge serve
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	forge "github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}

// app is the state shared by every subcommand.
type app struct {
	configPath string
	root       string
	jsonOutput bool
	logLevel   string

	cfg    *config.Config
	logger *logging.Logger
	svc    *forge.Service
	out    io.Writer
}

// newRootCmd builds the command tree around a. The caller closes a after
// Execute returns.
func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forge",
		Short: "Safe file edits and semantic refactors",
		Long: `Forge applies line edits with validation and backups, edits several files
atomically, and applies refactors planned from a code knowledge graph.

Every refactor and multi-file edit can be undone with 'forge undo'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath(),
		"Path to forge.yaml")
	cmd.PersistentFlags().StringVar(&a.root, "root", "",
		"Project root (default: current directory)")
	cmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false,
		"Output as JSON for scripting")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"Override the configured log level")

	cmd.AddCommand(
		newEditCmd(a),
		newValidateCmd(a),
		newRollbackCmd(a),
		newHistoryCmd(a),
		newEditFilesCmd(a),
		newRefactorCmd(a),
		newConflictsCmd(a),
		newPreviewCmd(a),
		newUndoCmd(a),
		newRefactorHistoryCmd(a),
		newServeCmd(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	levelName := cfg.Logging.Level
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	a.logger, err = logging.New(logging.Config{
		Level:   level,
		Dir:     cfg.Logging.Dir,
		Service: "forge",
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	if a.root == "" {
		if a.root, err = os.Getwd(); err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
	}
	if a.root, err = filepath.Abs(a.root); err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	a.svc = forge.NewService(cfg.ServiceConfig(a.logger.Slog()))
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.svc != nil {
		errs = append(errs, a.svc.Close())
		a.svc = nil
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
		a.logger = nil
	}
	return errors.Join(errs...)
}

// formatError prefixes err with the code the HTTP API would report.
func formatError(err error) string {
	_, code := forge.StatusFor(err)
	return fmt.Sprintf("error [%s]: %v", code, err)
}
