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
	"path/filepath"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
)

// Capabilities is what a registry resolved for one file.
//
// Validator or Formatter may be nil; a nil Validator means validation is a
// recorded no-op for this language.
type Capabilities struct {
	Language  string
	Validator Validator
	Formatter Formatter
}

// Registry maps language tags to validators and formatters.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
	formatters map[string]Formatter
	extensions map[string]string
}

// NewRegistry creates an empty registry that resolves languages from the
// syntax package's extension table plus any registered extensions.
func NewRegistry() *Registry {
	return &Registry{
		validators: make(map[string]Validator),
		formatters: make(map[string]Formatter),
		extensions: make(map[string]string),
	}
}

// DefaultRegistry returns a registry with tree-sitter validators for every
// supported grammar and the built-in Go formatter.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, lang := range syntax.Languages() {
		r.RegisterValidator(NewSyntaxValidator(lang))
	}
	r.RegisterFormatter(GoFormatter{})
	return r
}

// RegisterValidator adds or replaces the validator for its language.
func (r *Registry) RegisterValidator(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[v.Language()] = v
}

// RegisterFormatter adds or replaces the formatter for its language.
func (r *Registry) RegisterFormatter(f Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters[f.Language()] = f
}

// RegisterExtension maps a file extension (with dot) to a language tag.
func (r *Registry) RegisterExtension(ext, language string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions[strings.ToLower(ext)] = language
}

// LanguageFor returns the language for path. override wins when non-empty.
// Returns "" for unknown extensions.
func (r *Registry) LanguageFor(path, override string) string {
	if override != "" {
		return override
	}
	r.mu.RLock()
	lang, ok := r.extensions[strings.ToLower(filepath.Ext(path))]
	r.mu.RUnlock()
	if ok {
		return lang
	}
	lang, _ = syntax.LanguageForPath(path)
	return lang
}

// Resolve returns the capabilities for path.
func (r *Registry) Resolve(path, override string) Capabilities {
	lang := r.LanguageFor(path, override)

	r.mu.RLock()
	defer r.mu.RUnlock()
	return Capabilities{
		Language:  lang,
		Validator: r.validators[lang],
		Formatter: r.formatters[lang],
	}
}
