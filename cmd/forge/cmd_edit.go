// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	forge "github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/change"
)

const changesHelp = `Changes are read from a YAML or JSON list ("-" reads stdin):

  - kind: replace      # replace | insert | delete
    line_start: 3
    line_end: 4
    content: |
      return nil`

func newEditCmd(a *app) *cobra.Command {
	var changesPath string
	cmd := &cobra.Command{
		Use:   "edit FILE --changes CHANGES",
		Short: "Apply line changes to one file",
		Long: `Apply non-overlapping line changes to FILE.

The file is validated, backed up and written atomically according to the
configured defaults and the option flags. On any failure the file is left
unchanged.

` + changesHelp + `

Examples:
  forge edit main.go --changes fix.yaml
  forge edit app.py --changes - --format < fix.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := loadChanges(cmd, changesPath)
			if err != nil {
				return err
			}
			res, err := a.svc.EditFile(cmd.Context(), a.root, args[0], changes, overrides(cmd))
			if err != nil {
				return err
			}
			return a.emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "Edited %s: %d change(s), %d line(s) changed\n", res.Path, res.ChangesApplied, res.LinesChanged)
				if res.BackupID != "" {
					fmt.Fprintf(w, "Backup: %s\n", res.BackupID)
				}
				if res.ValidatorMissing {
					fmt.Fprintf(w, "No validator for %q; written unvalidated\n", res.Language)
				}
				printFindings(w, res.Findings)
			})
		},
	}
	cmd.Flags().StringVar(&changesPath, "changes", "", "File holding the changes")
	_ = cmd.MarkFlagRequired("changes")
	addOverrideFlags(cmd)
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	var changesPath string
	cmd := &cobra.Command{
		Use:   "validate FILE --changes CHANGES",
		Short: "Check line changes without writing",
		Long: `Apply changes to FILE in memory and report what validation finds.
Nothing is written. Exits non-zero when the result is invalid.

` + changesHelp,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := loadChanges(cmd, changesPath)
			if err != nil {
				return err
			}
			report, err := a.svc.ValidateChanges(cmd.Context(), a.root, args[0], changes, overrides(cmd))
			if err != nil {
				return err
			}
			if err := a.emit(report, func(w io.Writer) {
				status := "valid"
				if !report.Valid {
					status = "invalid"
				}
				fmt.Fprintf(w, "%s: %s (%d change(s), %d line(s))\n", report.Path, status, report.ChangesApplied, report.LinesChanged)
				printFindings(w, report.Findings)
			}); err != nil {
				return err
			}
			if !report.Valid {
				return fmt.Errorf("%s: %d finding(s)", report.Path, len(report.Findings))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&changesPath, "changes", "", "File holding the changes")
	_ = cmd.MarkFlagRequired("changes")
	addOverrideFlags(cmd)
	return cmd
}

func newRollbackCmd(a *app) *cobra.Command {
	var backupID string
	cmd := &cobra.Command{
		Use:   "rollback FILE",
		Short: "Restore a file from a backup",
		Long: `Restore FILE from its newest backup, or from --backup-id.

Examples:
  forge rollback main.go
  forge rollback main.go --backup-id 1f0c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.Rollback(cmd.Context(), a.root, args[0], backupID)
			if err != nil {
				return err
			}
			return a.emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "Restored %s from backup %s (%d bytes)\n", res.Path, res.BackupID, res.Size)
			})
		},
	}
	cmd.Flags().StringVar(&backupID, "backup-id", "", "Backup to restore (default: newest)")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history FILE",
		Short: "List the backups of a file, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("%w: --limit must not be negative", forge.ErrInvalidRequest)
			}
			records, err := a.svc.History(cmd.Context(), a.root, args[0], limit)
			if err != nil {
				return err
			}
			return a.emit(forge.HistoryResponse{Path: args[0], Backups: records}, func(w io.Writer) {
				if len(records) == 0 {
					fmt.Fprintf(w, "No backups for %s\n", args[0])
					return
				}
				for _, r := range records {
					pin := ""
					if r.Pinned {
						pin = " (pinned)"
					}
					fmt.Fprintf(w, "%s  %s  %d bytes%s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Size, pin)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum backups to list (0 = all)")
	return cmd
}

func newEditFilesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit-files PLAN",
		Short: "Edit several files atomically",
		Long: `Apply the edits in PLAN as one transaction: every file is written or
none is. The transaction is recorded and can be reverted with 'forge undo'.

PLAN is a YAML or JSON list ("-" reads stdin):

  - path: util.py
    changes:
      - {kind: replace, line_start: 1, line_end: 1, content: "def assist(x):"}
  - path: app.py
    options: {validate: false}
    changes:
      - {kind: insert, line_start: 1, content: "import util"}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var edits []forge.FileEdit
			if err := decodeDocument(data, &edits); err != nil {
				return fmt.Errorf("%w: %v", forge.ErrInvalidRequest, err)
			}
			res, err := a.svc.EditFiles(cmd.Context(), a.root, edits, overrides(cmd))
			if res != nil && err != nil && !a.jsonOutput {
				for _, fe := range res.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", fe.Path, fe.Error)
				}
			}
			if err != nil {
				return err
			}
			return a.emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "Transaction %s: %d file(s) edited\n", res.ID, res.FilesEdited)
				for _, r := range res.Results {
					fmt.Fprintf(w, "  %s (%d line(s))\n", r.Path, r.LinesChanged)
				}
				printList(w, "Warnings", res.Warnings)
			})
		},
	}
	addOverrideFlags(cmd)
	return cmd
}

func loadChanges(cmd *cobra.Command, path string) ([]change.Change, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	var changes []change.Change
	if err := decodeDocument(data, &changes); err != nil {
		return nil, fmt.Errorf("%w: %v", forge.ErrInvalidRequest, err)
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: no changes in %s", forge.ErrInvalidRequest, path)
	}
	return changes, nil
}
