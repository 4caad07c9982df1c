// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syntax

import (
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language tags.
const (
	LangGo         = "go"
	LangPython     = "python"
	LangJavaScript = "javascript"
	LangTypeScript = "typescript"
	LangTSX        = "tsx"
)

var grammars = map[string]func() *sitter.Language{
	LangGo:         golang.GetLanguage,
	LangPython:     python.GetLanguage,
	LangJavaScript: javascript.GetLanguage,
	LangTypeScript: typescript.GetLanguage,
	LangTSX:        tsx.GetLanguage,
}

var extensions = map[string]string{
	".go":  LangGo,
	".py":  LangPython,
	".pyi": LangPython,
	".js":  LangJavaScript,
	".jsx": LangJavaScript,
	".mjs": LangJavaScript,
	".cjs": LangJavaScript,
	".ts":  LangTypeScript,
	".mts": LangTypeScript,
	".cts": LangTypeScript,
	".tsx": LangTSX,
}

// Grammar returns the tree-sitter grammar for a language tag.
func Grammar(language string) (*sitter.Language, bool) {
	fn, ok := grammars[language]
	if !ok {
		return nil, false
	}
	return fn(), true
}

// LanguageForPath returns the language tag for a file path by extension.
func LanguageForPath(path string) (string, bool) {
	lang, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// Languages returns all supported language tags, sorted.
func Languages() []string {
	out := make([]string, 0, len(grammars))
	for l := range grammars {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
