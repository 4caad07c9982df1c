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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianForge/services/forge/conflict"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/validate"
)

// emit writes v as indented JSON with --json, otherwise calls text.
func (a *app) emit(v any, text func(w io.Writer)) error {
	if a.jsonOutput {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}

// readInput reads a file argument. "-" reads the command's stdin.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// decodeDocument decodes YAML or JSON into v.
func decodeDocument(data []byte, v any) error {
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	return nil
}

// addOverrideFlags registers the per-request edit option flags.
func addOverrideFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("validate", false, "Validate the result before writing")
	cmd.Flags().Bool("backup", false, "Back up the file before writing")
	cmd.Flags().Bool("format", false, "Run the language formatter")
	cmd.Flags().String("language", "", "Language tag, overriding extension detection")
}

// overrides returns only the flags the user set; the rest fall back to the
// configured defaults.
func overrides(cmd *cobra.Command) editor.Overrides {
	var ov editor.Overrides
	flags := cmd.Flags()
	if flags.Changed("validate") {
		v, _ := flags.GetBool("validate")
		ov.Validate = &v
	}
	if flags.Changed("backup") {
		v, _ := flags.GetBool("backup")
		ov.CreateBackup = &v
	}
	if flags.Changed("format") {
		v, _ := flags.GetBool("format")
		ov.Format = &v
	}
	if flags.Changed("language") {
		v, _ := flags.GetString("language")
		ov.Language = &v
	}
	return ov
}

func printFindings(w io.Writer, findings []validate.Finding) {
	for _, f := range findings {
		fmt.Fprintf(w, "  %s\n", f)
	}
}

func printConflicts(w io.Writer, r *conflict.Report) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "Conflicts for %s %s (%s scope): %d\n", r.Operation, r.Target, r.Scope, len(r.Conflicts))
	for _, c := range r.Conflicts {
		fmt.Fprintf(w, "  %s\n", c)
	}
	verdict := "can proceed"
	if !r.CanProceed {
		verdict = "blocked"
	}
	fmt.Fprintf(w, "Result: %s\n", verdict)
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n  %s\n", title, strings.Join(items, "\n  "))
}
