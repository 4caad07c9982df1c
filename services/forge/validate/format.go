// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/format"
	"os/exec"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
)

// DefaultFormatTimeout bounds a single formatter run.
const DefaultFormatTimeout = 5 * time.Second

// ErrFormatterTimeout is returned when a formatter exceeds its timeout.
var ErrFormatterTimeout = errors.New("formatter timed out")

// GoFormatter formats Go source in-process with go/format.
type GoFormatter struct{}

func (GoFormatter) Language() string { return syntax.LangGo }

func (GoFormatter) Format(_ context.Context, content []byte) ([]byte, error) {
	return format.Source(content)
}

// CommandFormatter pipes content through an external formatter on stdin and
// reads the result from stdout, e.g. "black -q -" or "prettier --stdin-filepath x.ts".
type CommandFormatter struct {
	Lang    string
	Command string
	Args    []string
	Timeout time.Duration
}

func (f *CommandFormatter) Language() string { return f.Lang }

// Format implements Formatter.
func (f *CommandFormatter) Format(ctx context.Context, content []byte) ([]byte, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultFormatTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, f.Command, f.Args...)
	cmd.Stdin = bytes.NewReader(content)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %s", ErrFormatterTimeout, f.Command)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", f.Command, err, bytes.TrimSpace(stderr.Bytes()))
	}
	if stdout.Len() == 0 && len(content) > 0 {
		return nil, fmt.Errorf("%s produced no output", f.Command)
	}
	return stdout.Bytes(), nil
}

// FormatResult is the outcome of a best-effort format.
type FormatResult struct {
	Content   []byte
	Formatted bool
	Err       error
}

// BestEffortFormat runs f with a timeout and never fails.
//
// # Description
//
// On error or timeout the original content is returned with Formatted=false
// and Err set for logging. A nil formatter is a no-op. The formatter runs on
// its own goroutine so a formatter that ignores its context still cannot
// hold the caller past the timeout.
func BestEffortFormat(ctx context.Context, f Formatter, content []byte, timeout time.Duration) FormatResult {
	if f == nil {
		return FormatResult{Content: content}
	}
	if timeout <= 0 {
		timeout = DefaultFormatTimeout
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type out struct {
		content []byte
		err     error
	}
	done := make(chan out, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- out{err: fmt.Errorf("formatter panic: %v", r)}
			}
		}()
		c, err := f.Format(fctx, content)
		done <- out{content: c, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return FormatResult{Content: content, Err: res.err}
		}
		return FormatResult{Content: res.content, Formatted: !bytes.Equal(res.content, content)}
	case <-fctx.Done():
		return FormatResult{Content: content, Err: ErrFormatterTimeout}
	}
}
