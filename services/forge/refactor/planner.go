// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package refactor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/conflict"
	"github.com/AleutianAI/AleutianForge/services/forge/diff"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
	"github.com/AleutianAI/AleutianForge/services/forge/transform"
)

// source is one parsed file and the edits planned against it.
type source struct {
	path    string
	content []byte
	tree    *syntax.Tree
	tr      transform.Transformer
	edits   []transform.Edit
}

// planner computes the edits of one operation. It is single-use.
type planner struct {
	ctx    context.Context
	e      *Engine
	op     operation.Operation
	report *conflict.Report
	scope  graph.Scope

	files     map[string]*source
	order     []string
	seen      map[string]map[syntax.NodeID]bool
	warnings  []string
	callSites int
}

func newPlanner(ctx context.Context, e *Engine, op operation.Operation, report *conflict.Report, scope graph.Scope) *planner {
	return &planner{
		ctx:    ctx,
		e:      e,
		op:     op,
		report: report,
		scope:  scope,
		files:  make(map[string]*source),
		seen:   make(map[string]map[syntax.NodeID]bool),
	}
}

func (p *planner) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

// file reads and parses path once.
func (p *planner) file(path string) (*source, error) {
	if s, ok := p.files[path]; ok {
		return s, nil
	}
	lang, ok := syntax.LanguageForPath(path)
	if !ok {
		return nil, operation.Unsupported(p.op.Kind(), filepath.Ext(path), "no parser for "+path)
	}
	tr, ok := transform.For(lang)
	if !ok {
		return nil, operation.Unsupported(p.op.Kind(), lang, "no transformer for "+lang)
	}
	content, err := p.e.coordinator.Editor().ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree, err := syntax.Parse(p.ctx, lang, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	s := &source{path: path, content: content, tree: tree, tr: tr}
	p.files[path] = s
	p.order = append(p.order, path)
	return s, nil
}

func (s *source) add(edits ...transform.Edit) {
	s.edits = append(s.edits, edits...)
}

func (p *planner) definition() (*source, *transform.Function, error) {
	def := p.report.Definition
	if def == nil {
		return nil, nil, &TargetNotFoundError{Target: p.op.Target().String()}
	}
	s, err := p.file(def.File)
	if err != nil {
		return nil, nil, err
	}
	fn, err := s.tr.FindFunction(s.tree, def.Function, def.Line)
	if err != nil {
		return nil, nil, fmt.Errorf("%s:%d: %w", def.File, def.Line, err)
	}
	return s, fn, nil
}

// eachCall locates the calls behind the report's call sites and hands each
// to fn once. Sites that cannot be located or rewritten become warnings;
// skipped counts them.
func (p *planner) eachCall(name string, fn func(s *source, cs graph.CallSite, c *transform.Call) error) (skipped int, err error) {
	for _, cs := range p.report.Callers {
		if cs.Dynamic {
			p.warnf("dynamic call at %s:%d left unchanged", cs.File, cs.Line)
			skipped++
			continue
		}
		s, err := p.file(cs.File)
		if err != nil {
			if errors.Is(err, operation.ErrUnsupportedOperation) {
				p.warnf("call at %s:%d left unchanged: %v", cs.File, cs.Line, err)
				skipped++
				continue
			}
			return skipped, err
		}
		calls := s.tr.Calls(s.tree, name, cs.Line)
		if len(calls) == 0 {
			p.warnf("no call to %s found at %s:%d", name, cs.File, cs.Line)
			skipped++
			continue
		}
		for _, c := range calls {
			if p.seen[s.path] == nil {
				p.seen[s.path] = make(map[syntax.NodeID]bool)
			}
			if p.seen[s.path][c.Node] {
				continue
			}
			p.seen[s.path][c.Node] = true

			if err := fn(s, cs, c); err != nil {
				if !errors.Is(err, transform.ErrNotTransformable) {
					return skipped, err
				}
				p.warnf("call at %s:%d left unchanged: %s", s.path, c.Line, conflictReason(err))
				skipped++
			}
		}
	}
	return skipped, nil
}

func conflictReason(err error) string {
	return strings.TrimPrefix(err.Error(), transform.ErrNotTransformable.Error()+": ")
}

func (p *planner) run() error {
	switch o := p.op.(type) {
	case *operation.RenameFunction:
		return p.renameFunction(o.NewName)
	case *operation.ConvertVisibility:
		return p.convertVisibility(o)
	case *operation.RenameParameter:
		return p.renameParameter(o)
	case *operation.ExtractFunction:
		return p.extractFunction(o)
	case *operation.InlineFunction:
		return p.inlineFunction()
	case *operation.ChangeSignature:
		return p.changeSignature(o)
	case *operation.RenameModule:
		return p.renameModule(o)
	case *operation.ModifyAttributes:
		return p.modifyAttributes(o)
	default:
		return operation.Unsupported(p.op.Kind(), "", "no planner for this operation")
	}
}

func (p *planner) renameFunction(newName string) error {
	def, fn, err := p.definition()
	if err != nil {
		return err
	}
	def.add(def.tr.RenameFunction(def.tree, fn, newName)...)

	_, err = p.eachCall(fn.Name, func(s *source, _ graph.CallSite, c *transform.Call) error {
		s.add(s.tr.RenameCall(s.tree, c, newName))
		p.callSites++
		return nil
	})
	if err != nil {
		return err
	}

	for _, path := range p.order {
		s := p.files[path]
		if path == def.path {
			continue
		}
		s.add(s.tr.RenameImports(s.tree, def.path, fn.Name, newName)...)
	}
	return nil
}

func (p *planner) convertVisibility(o *operation.ConvertVisibility) error {
	def, _, err := p.definition()
	if err != nil {
		return err
	}
	newName, err := def.tr.VisibilityName(o.Function, o.Visibility)
	if err != nil {
		return err
	}
	return p.renameFunction(newName)
}

func (p *planner) renameParameter(o *operation.RenameParameter) error {
	def, fn, err := p.definition()
	if err != nil {
		return err
	}
	edits, err := def.tr.RenameParameter(def.tree, fn, o.OldName, o.NewName)
	if err != nil {
		return err
	}
	def.add(edits...)

	_, err = p.eachCall(fn.Name, func(s *source, _ graph.CallSite, c *transform.Call) error {
		if kw := s.tr.RenameKeyword(s.tree, c, o.OldName, o.NewName); len(kw) > 0 {
			s.add(kw...)
			p.callSites++
		}
		return nil
	})
	return err
}

func (p *planner) extractFunction(o *operation.ExtractFunction) error {
	def, fn, err := p.definition()
	if err != nil {
		return err
	}
	edits, err := def.tr.ExtractFunction(def.tree, fn, o.StartLine, o.EndLine, o.NewName)
	if err != nil {
		return err
	}
	def.add(edits...)
	p.callSites = 1
	return nil
}

func (p *planner) changeSignature(o *operation.ChangeSignature) error {
	def, fn, err := p.definition()
	if err != nil {
		return err
	}
	edits, err := def.tr.ChangeSignature(def.tree, fn, o.Parameters)
	if err != nil {
		return err
	}
	def.add(edits...)

	_, err = p.eachCall(fn.Name, func(s *source, _ graph.CallSite, c *transform.Call) error {
		e, err := s.tr.RewriteArguments(s.tree, c, fn.Params, o.Parameters)
		if err != nil {
			return err
		}
		s.add(e)
		p.callSites++
		return nil
	})
	return err
}

// inlineFunction replaces every call with the function's expression and
// deletes the definition once no call to it remains.
func (p *planner) inlineFunction() error {
	def, fn, err := p.definition()
	if err != nil {
		return err
	}
	in, err := def.tr.Inlinable(def.tree, fn)
	if err != nil {
		return err
	}
	target := p.report.Definition

	inlined := make(map[string][]syntax.NodeID)
	skipped, err := p.eachCall(fn.Name, func(s *source, cs graph.CallSite, c *transform.Call) error {
		if s == def && def.tree.Contains(fn.Outer, c.Node) {
			return fmt.Errorf("%w: call inside %s itself", transform.ErrNotTransformable, fn.Name)
		}
		for _, prev := range inlined[s.path] {
			if s.tree.Contains(prev, c.Node) || s.tree.Contains(c.Node, prev) {
				return fmt.Errorf("%w: nested call to %s", transform.ErrNotTransformable, fn.Name)
			}
		}
		foreign := cs.File != target.File && (cs.CallerModule == "" || cs.CallerModule != target.Module)
		e, err := s.tr.InlineCall(s.tree, c, def.tree, in, foreign)
		if err != nil {
			return err
		}
		s.add(e)
		inlined[s.path] = append(inlined[s.path], c.Node)
		p.callSites++
		return nil
	})
	if err != nil {
		return err
	}

	all, err := p.e.graph.FindCallers(p.ctx, target.Target(), graph.ScopeProject)
	if err != nil {
		return fmt.Errorf("callers of %s: %w", target.Target(), err)
	}
	if skipped == 0 && len(all) == len(p.report.Callers) {
		def.add(def.tr.DeleteFunction(def.tree, fn))
		return nil
	}
	p.warnf("definition of %s kept: %d call site(s) remain", fn.Name, skipped+len(all)-len(p.report.Callers))
	return nil
}

func (p *planner) renameModule(o *operation.RenameModule) error {
	files, err := p.e.graph.ModuleFiles(p.ctx, o.Module)
	if err != nil {
		return fmt.Errorf("files of %s: %w", o.Module, err)
	}
	own := make(map[string]bool, len(files))
	oldName := ""
	for _, f := range files {
		own[f] = true
		s, err := p.file(f)
		if err != nil {
			return err
		}
		edits, err := s.tr.RenameModule(s.tree, o.NewName)
		if err != nil {
			return err
		}
		if oldName == "" {
			oldName = strings.TrimSuffix(s.tr.ModuleName(s.tree), "_test")
		}
		s.add(edits...)
	}
	if oldName == "" {
		return fmt.Errorf("%w: module %s declares no name", transform.ErrNotTransformable, o.Module)
	}

	callers, err := p.e.graph.FindCallers(p.ctx, graph.Target{Module: o.Module}, graph.ScopeProject)
	if err != nil {
		return fmt.Errorf("callers of %s: %w", o.Module, err)
	}
	for _, cs := range callers {
		if own[cs.File] || p.files[cs.File] != nil {
			continue
		}
		s, err := p.file(cs.File)
		if err != nil {
			if errors.Is(err, operation.ErrUnsupportedOperation) {
				p.warnf("references in %s left unchanged: %v", cs.File, err)
				continue
			}
			return err
		}
		edits, err := s.tr.RenameModuleReferences(s.tree, o.Module, oldName, o.NewName)
		if err != nil {
			if !errors.Is(err, transform.ErrNotTransformable) {
				return err
			}
			p.warnf("references in %s left unchanged: %s", cs.File, conflictReason(err))
			continue
		}
		s.add(edits...)
		p.callSites += len(edits)
	}
	return nil
}

// modifyAttributes routes each change to the file declaring the
// attribute. Additions go to the first file that already declares
// attributes, or the module's first file.
func (p *planner) modifyAttributes(o *operation.ModifyAttributes) error {
	files, err := p.e.graph.ModuleFiles(p.ctx, o.Module)
	if err != nil {
		return fmt.Errorf("files of %s: %w", o.Module, err)
	}

	var sources []*source
	where := make(map[string]*source)
	var home *source
	for _, f := range files {
		s, err := p.file(f)
		if err != nil {
			if errors.Is(err, operation.ErrUnsupportedOperation) {
				continue
			}
			return err
		}
		sources = append(sources, s)
		attrs := s.tr.Attributes(s.tree)
		for _, a := range attrs {
			where[a.Name] = s
		}
		if home == nil && len(attrs) > 0 {
			home = s
		}
	}
	if len(sources) == 0 {
		return operation.Unsupported(o.Kind(), "", "module "+o.Module+" has no file in a supported language")
	}
	if home == nil {
		home = sources[0]
	}

	grouped := make(map[*source][]operation.AttributeChange)
	for _, ch := range o.Changes {
		s := where[ch.Name]
		if ch.Action == operation.AttributeAdd || s == nil {
			s = home
		}
		grouped[s] = append(grouped[s], ch)
	}
	for _, s := range sources {
		changes := grouped[s]
		if len(changes) == 0 {
			continue
		}
		edits, err := s.tr.ModifyAttributes(s.tree, changes)
		if err != nil {
			return fmt.Errorf("%s: %w", s.path, err)
		}
		s.add(edits...)
	}
	return nil
}

// finish applies the planned edits and converts them to line changes.
func (p *planner) finish(plan *Plan) error {
	for _, path := range p.order {
		s := p.files[path]
		if len(s.edits) == 0 {
			continue
		}
		updated, err := transform.ApplyEdits(s.content, s.edits)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if bytes.Equal(updated, s.content) {
			continue
		}
		plan.Files = append(plan.Files, &FileEdit{
			Path:     path,
			Original: s.content,
			Updated:  updated,
			Changes:  diff.Changes(s.content, updated),
		})
	}
	plan.Warnings = append(plan.Warnings, p.warnings...)
	plan.CallSitesUpdated = p.callSites
	return nil
}
