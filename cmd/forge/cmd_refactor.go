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
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	forge "github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/diff"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/preview"
	"github.com/AleutianAI/AleutianForge/services/forge/refactor"
)

const operationsHelp = `Operations and their parameters (JSON):

  rename_function     {"module","function","arity","new_name"}
  rename_module       {"module","new_name"}
  extract_function    {"module","function","arity","new_name","start_line","end_line"}
  inline_function     {"module","function","arity"}
  convert_visibility  {"module","function","arity","visibility"}
  rename_parameter    {"module","function","arity","old_name","new_name"}
  modify_attributes   {"module","changes":[{"action","name","value"}]}
  change_signature    {"module","function","arity","parameters":[{"name","from","default","type"}]}

The graph snapshot is read from graph.snapshot in the config file.`

// operationFlags are shared by refactor, conflicts and preview.
type operationFlags struct {
	params     string
	paramsFile string
	scope      string
}

func (f *operationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.params, "params", "", "Operation parameters as JSON")
	cmd.Flags().StringVar(&f.paramsFile, "params-file", "", `File holding the parameters ("-" reads stdin)`)
	cmd.Flags().StringVar(&f.scope, "scope", "", "Conflict scope: module or project (default: project)")
	cmd.MarkFlagsMutuallyExclusive("params", "params-file")
}

// request builds the same OperationRequest the HTTP API decodes.
func (f *operationFlags) request(cmd *cobra.Command, a *app, kind string) (forge.OperationRequest, error) {
	req := forge.OperationRequest{Root: a.root, Operation: operation.Kind(kind), Scope: f.scope}
	switch {
	case f.paramsFile != "":
		data, err := readInput(cmd, f.paramsFile)
		if err != nil {
			return req, err
		}
		req.Params = json.RawMessage(data)
	case f.params != "":
		req.Params = json.RawMessage(f.params)
	}
	return req, nil
}

func newRefactorCmd(a *app) *cobra.Command {
	var flags operationFlags
	cmd := &cobra.Command{
		Use:   "refactor OPERATION",
		Short: "Apply a semantic refactor",
		Long: `Plan OPERATION from the knowledge graph, check it for conflicts and apply
it to every affected file in one transaction. Blocked by any error-severity
conflict. Undo with 'forge undo'.

` + operationsHelp + `

Examples:
  forge refactor rename_function --params '{"module":"util","function":"helper","arity":1,"new_name":"assist"}'
  forge refactor rename_module --params-file rename.json --scope module`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd, a, args[0])
			if err != nil {
				return err
			}
			op, scope, err := req.Decode()
			if err != nil {
				return err
			}
			res, err := a.svc.Refactor(cmd.Context(), a.root, op, refactor.Options{Scope: scope, Overrides: overrides(cmd)})
			if err != nil {
				var ce *refactor.ConflictError
				if errors.As(err, &ce) && !a.jsonOutput {
					printConflicts(cmd.ErrOrStderr(), ce.Report)
				}
				return err
			}
			return a.emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "%s\n", res.Description)
				fmt.Fprintf(w, "Modified %d file(s), updated %d call site(s)\n", len(res.FilesModified), res.CallSitesUpdated)
				printList(w, "Files", res.FilesModified)
				printList(w, "Warnings", res.Warnings)
			})
		},
	}
	flags.register(cmd)
	addOverrideFlags(cmd)
	return cmd
}

func newConflictsCmd(a *app) *cobra.Command {
	var flags operationFlags
	cmd := &cobra.Command{
		Use:   "conflicts OPERATION",
		Short: "Check a refactor for conflicts without applying it",
		Long: `Report every conflict OPERATION would hit within the scope.

` + operationsHelp,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd, a, args[0])
			if err != nil {
				return err
			}
			op, scope, err := req.Decode()
			if err != nil {
				return err
			}
			report, err := a.svc.CheckConflicts(cmd.Context(), a.root, op, scope)
			if err != nil {
				return err
			}
			return a.emit(report, func(w io.Writer) { printConflicts(w, report) })
		},
	}
	flags.register(cmd)
	return cmd
}

func newPreviewCmd(a *app) *cobra.Command {
	var (
		flags      operationFlags
		format     string
		context    int
		commentary bool
	)
	cmd := &cobra.Command{
		Use:   "preview OPERATION",
		Short: "Show a refactor as diffs without applying it",
		Long: `Render the per-file diffs OPERATION would produce. Nothing is written.

With --commentary and an advisor configured, a short review of the change
is generated.

` + operationsHelp + `

Examples:
  forge preview rename_function --params-file rename.json
  forge preview rename_function --params-file rename.json --diff-format side_by_side`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd, a, args[0])
			if err != nil {
				return err
			}
			op, scope, err := req.Decode()
			if err != nil {
				return err
			}
			f, err := diff.ParseFormat(format)
			if err != nil {
				return err
			}
			pv, err := a.svc.Preview(cmd.Context(), a.root, op, preview.Options{
				Scope:      scope,
				Format:     f,
				Context:    context,
				Commentary: commentary,
				Overrides:  overrides(cmd),
			})
			if err != nil {
				return err
			}
			return a.emit(pv, func(w io.Writer) { printPreview(w, pv) })
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&format, "diff-format", "unified", "Diff format: unified, side_by_side, structured")
	cmd.Flags().IntVar(&context, "context", 0, "Context lines around each hunk (0 = default)")
	cmd.Flags().BoolVar(&commentary, "commentary", false, "Ask the advisor for a review")
	addOverrideFlags(cmd)
	return cmd
}

func printPreview(w io.Writer, pv *preview.Preview) {
	fmt.Fprintf(w, "%s\n", pv.Description)
	for _, f := range pv.Files {
		if f.Structured != nil {
			fmt.Fprintf(w, "%s: %d hunk(s)\n", f.Path, len(f.Structured.Hunks))
		} else {
			fmt.Fprint(w, f.Diff)
		}
		if f.Validation != nil && !f.Validation.Valid {
			fmt.Fprintf(w, "%s would fail validation:\n", f.Path)
			printFindings(w, f.Validation.Findings)
		}
	}
	fmt.Fprintf(w, "%d file(s), +%d -%d, %d call site(s)\n",
		pv.Stats.FilesTouched, pv.Stats.LinesAdded, pv.Stats.LinesRemoved, pv.CallSitesUpdated)
	printList(w, "Warnings", pv.Warnings)
	if pv.Commentary != nil {
		fmt.Fprintf(w, "\nReview (%s):\n%s\n", pv.Commentary.Model, pv.Commentary.Text)
	} else if pv.CommentaryError != "" {
		fmt.Fprintf(w, "\nReview unavailable: %s\n", pv.CommentaryError)
	}
}

func newUndoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Undo the newest refactor or multi-file edit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.Undo(cmd.Context(), a.root)
			if err != nil {
				return err
			}
			return a.emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "Undid %s: %s\n", res.Operation, res.Description)
				printList(w, "Restored", res.FilesRestored)
			})
		},
	}
}

func newRefactorHistoryCmd(a *app) *cobra.Command {
	var (
		limit         int
		includeUndone bool
	)
	cmd := &cobra.Command{
		Use:   "refactor-history",
		Short: "List undoable operations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("%w: --limit must not be negative", forge.ErrInvalidRequest)
			}
			entries, err := a.svc.RefactorHistory(cmd.Context(), a.root, limit, includeUndone)
			if err != nil {
				return err
			}
			return a.emit(forge.RefactorHistoryResponse{Entries: entries}, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No history")
					return
				}
				for _, e := range entries {
					state := ""
					if e.Undone {
						state = " [undone]"
					}
					fmt.Fprintf(w, "%s  %-18s %s (%d file(s))%s\n",
						e.Timestamp.Format("2006-01-02 15:04:05"), e.Operation, e.Description, len(e.Files), state)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries (0 = all)")
	cmd.Flags().BoolVar(&includeUndone, "include-undone", false, "Include undone entries")
	return cmd
}
