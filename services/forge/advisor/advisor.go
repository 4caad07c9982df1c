// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package advisor produces optional natural-language commentary on a
// planned refactor. Commentary is advisory only; nothing in the edit path
// depends on it.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout bounds one Summarize call.
	DefaultTimeout = 20 * time.Second

	// DefaultMaxDiffBytes caps the diff text sent per request.
	DefaultMaxDiffBytes = 24 * 1024
)

var (
	// ErrEmptySummary is returned when the provider answers with no text.
	ErrEmptySummary = errors.New("advisor returned no summary")

	// ErrTimeout is returned when the provider does not answer in time.
	ErrTimeout = errors.New("advisor timed out")
)

// FileDigest is the change to one file.
type FileDigest struct {
	Path         string `json:"path"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	Unified      string `json:"unified"`
}

// Digest is what the advisor sees of a planned refactor.
type Digest struct {
	Operation   string       `json:"operation"`
	Description string       `json:"description"`
	Files       []FileDigest `json:"files"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// Summary is the advisor's commentary.
type Summary struct {
	Text     string        `json:"text"`
	Model    string        `json:"model"`
	Duration time.Duration `json:"duration_ns"`
}

// Provider summarizes a digest.
type Provider interface {
	Summarize(ctx context.Context, d Digest) (*Summary, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, d Digest) (*Summary, error)

func (f ProviderFunc) Summarize(ctx context.Context, d Digest) (*Summary, error) {
	return f(ctx, d)
}

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey string

	// BaseURL points at any OpenAI-compatible endpoint. Empty uses the
	// public API.
	BaseURL string

	Model   string
	Timeout time.Duration

	// RequestsPerMinute throttles calls. Zero means 30.
	RequestsPerMinute int

	MaxDiffBytes int
	Logger       *slog.Logger
}

// OpenAI summarizes through the chat completions API.
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenAI struct {
	client   *openai.Client
	model    string
	timeout  time.Duration
	limiter  *rate.Limiter
	maxBytes int
	logger   *slog.Logger
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("advisor api key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	if cfg.MaxDiffBytes <= 0 {
		cfg.MaxDiffBytes = DefaultMaxDiffBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &OpenAI{
		client:   openai.NewClientWithConfig(oc),
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		maxBytes: cfg.MaxDiffBytes,
		logger:   cfg.Logger.With("component", "advisor.OpenAI"),
	}, nil
}

const systemPrompt = "You review automated code refactors. In at most five sentences, " +
	"say what the change does, which behavior could differ, and what a reviewer should check. " +
	"Do not restate the diff line by line."

// Summarize implements Provider.
func (o *OpenAI) Summarize(ctx context.Context, d Digest) (*Summary, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, o.wrap(ctx, err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: Prompt(d, o.maxBytes)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, o.wrap(ctx, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptySummary
	}

	o.logger.Debug("advisor summary received",
		slog.String("model", resp.Model),
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
		slog.Duration("elapsed", time.Since(start)))
	return &Summary{
		Text:     strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:    o.model,
		Duration: time.Since(start),
	}, nil
}

func (o *OpenAI) wrap(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, o.timeout)
	}
	return fmt.Errorf("advisor request: %w", err)
}

// Prompt renders d as the user message. Diff text beyond maxBytes is cut
// and marked as truncated.
func Prompt(d Digest, maxBytes int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Operation: %s\n", d.Operation)
	if d.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", d.Description)
	}
	fmt.Fprintf(&b, "Files changed: %d\n", len(d.Files))
	for _, w := range d.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}

	budget := maxBytes
	for _, f := range d.Files {
		fmt.Fprintf(&b, "\n%s (+%d -%d)\n", f.Path, f.LinesAdded, f.LinesRemoved)
		if budget <= 0 {
			continue
		}
		text := f.Unified
		if len(text) > budget {
			text = text[:budget] + "\n... (truncated)\n"
		}
		budget -= len(f.Unified)
		b.WriteString(text)
	}
	return b.String()
}
