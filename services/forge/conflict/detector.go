// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
	"github.com/AleutianAI/AleutianForge/services/forge/transform"
)

// definitionLookahead is how many lines past the graph's definition line
// may hold the name, covering decorators and attributes.
const definitionLookahead = 3

// Files reads project files by root-relative path.
type Files interface {
	ReadFile(path string) ([]byte, error)
}

// DetectorConfig configures a Detector.
type DetectorConfig struct {
	Graph graph.KnowledgeGraph
	Files Files

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Detector checks operations for conflicts.
//
// # Thread Safety
//
// Safe for concurrent use. Each Check keeps its own parse cache.
type Detector struct {
	graph  graph.KnowledgeGraph
	files  Files
	logger *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.Graph == nil {
		return nil, errors.New("knowledge graph is required")
	}
	if cfg.Files == nil {
		return nil, errors.New("file reader is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		graph:  cfg.Graph,
		files:  cfg.Files,
		logger: logger.With("component", "conflict.Detector"),
	}, nil
}

// Check reports the conflicts op would run into.
//
// # Inputs
//
//   - ctx: Cancels graph queries.
//   - op: The operation. Invalid operations return an error, not a report.
//   - scope: Call-site scope the refactor would cover.
//
// # Outputs
//
//   - *Report: All conflicts found. CanProceed is false if any has error
//     severity.
//   - error: Invalid operation or a graph failure.
func (d *Detector) Check(ctx context.Context, op operation.Operation, scope graph.Scope) (*Report, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if scope == "" {
		scope = graph.ScopeProject
	}
	c := &check{
		d:      d,
		ctx:    ctx,
		scope:  scope,
		parsed: make(map[string]*parsed),
		report: &Report{
			Operation: op.Kind(),
			Target:    op.Target().String(),
			Scope:     scope,
		},
	}

	var err error
	switch o := op.(type) {
	case *operation.RenameModule:
		err = c.renameModule(o)
	case *operation.ModifyAttributes:
		err = c.modifyAttributes(o)
	case *operation.ExtractModule:
		err = c.extractModule(o)
	default:
		err = c.function(op)
	}
	if err != nil {
		return nil, err
	}

	c.report.Stats.FilesChecked = len(c.parsed)
	c.report.finish()
	d.logger.Debug("conflict check",
		"operation", op.Kind(),
		"target", c.report.Target,
		"errors", c.report.Stats.Errors,
		"warnings", c.report.Stats.Warnings)
	return c.report, nil
}

type parsed struct {
	content []byte
	tree    *syntax.Tree
	tr      transform.Transformer
	err     error
}

// check is the state of one Check call.
type check struct {
	d      *Detector
	ctx    context.Context
	scope  graph.Scope
	parsed map[string]*parsed
	report *Report
}

// parse reads and parses path once per check. tree and tr are nil for
// languages without a transformer.
func (c *check) parse(path string) *parsed {
	if p, ok := c.parsed[path]; ok {
		return p
	}
	p := &parsed{}
	c.parsed[path] = p

	p.content, p.err = c.d.files.ReadFile(path)
	if p.err != nil {
		return p
	}
	lang, ok := syntax.LanguageForPath(path)
	if !ok {
		return p
	}
	tr, ok := transform.For(lang)
	if !ok {
		return p
	}
	tree, err := syntax.Parse(c.ctx, lang, p.content)
	if err != nil {
		p.err = err
		return p
	}
	p.tree, p.tr = tree, tr
	return p
}

func (c *check) resolve(t graph.Target) ([]graph.Definition, error) {
	defs, err := c.d.graph.ResolveDefinition(c.ctx, t)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", t, err)
	}
	return defs, nil
}

func (c *check) exists(t graph.Target) (bool, error) {
	defs, err := c.resolve(t)
	return len(defs) > 0, err
}

// target resolves a function target to exactly one definition, recording
// stale or ambiguous conflicts otherwise.
func (c *check) target(t graph.Target) (*graph.Definition, error) {
	defs, err := c.resolve(t)
	if err != nil {
		return nil, err
	}
	switch len(defs) {
	case 0:
		c.report.errorf(TypeStaleGraph, "", 0, "%s is not defined in the knowledge graph", t).
			Suggestion = "re-index the project or check the module, name and arity"
		return nil, nil
	case 1:
	default:
		locs := make([]string, len(defs))
		for i, def := range defs {
			locs[i] = fmt.Sprintf("%s at %s:%d", def.Target(), def.File, def.Line)
		}
		c.report.errorf(TypeAmbiguousTarget, "", 0, "%s matches %d definitions: %s", t, len(defs), strings.Join(locs, ", ")).
			Suggestion = "specify the arity"
		return nil, nil
	}

	def := defs[0]
	p := c.parse(def.File)
	if p.err != nil {
		c.report.errorf(TypeStaleGraph, def.File, def.Line, "cannot read %s: %v", def.File, p.err)
		return nil, nil
	}
	if !mentions(p.content, def.Line, def.Function) {
		c.report.errorf(TypeStaleGraph, def.File, def.Line, "%s no longer appears at line %d", def.Function, def.Line).
			Suggestion = "re-index the project"
		return nil, nil
	}
	return &def, nil
}

// mentions reports whether name occurs on line or the lines just after it.
func mentions(content []byte, line int, name string) bool {
	lines := strings.Split(string(content), "\n")
	if line < 1 || line > len(lines) {
		return false
	}
	last := min(len(lines), line+definitionLookahead)
	for _, l := range lines[line-1 : last] {
		if strings.Contains(l, name) {
			return true
		}
	}
	return false
}

// function runs the checks of operations that target one function.
func (c *check) function(op operation.Operation) error {
	def, err := c.target(op.Target())
	if err != nil || def == nil {
		return err
	}
	c.report.Definition = def

	all, err := c.d.graph.FindCallers(c.ctx, def.Target(), graph.ScopeProject)
	if err != nil {
		return fmt.Errorf("find callers of %s: %w", def.Target(), err)
	}
	for _, cs := range all {
		if c.scope == graph.ScopeModule && cs.File != def.File {
			continue
		}
		c.report.Callers = append(c.report.Callers, cs)
		if cs.Dynamic {
			c.report.warnf(TypeDependency, cs.File, cs.Line, "dynamic call to %s cannot be rewritten", def.Function).
				Suggestion = "update this call by hand"
		}
	}

	switch o := op.(type) {
	case *operation.RenameFunction:
		return c.renameFunction(o, def, all)
	case *operation.ConvertVisibility:
		return c.convertVisibility(o, def, all)
	case *operation.RenameParameter:
		c.renameParameter(o, def)
	case *operation.ExtractFunction:
		return c.extractFunction(o, def)
	case *operation.InlineFunction:
		c.inlineFunction(def, all)
	case *operation.ChangeSignature:
		return c.changeSignature(o, def)
	case *operation.MoveFunction:
		return c.moveFunction(o.Destination, def, all)
	}
	return nil
}

func (c *check) renameFunction(o *operation.RenameFunction, def *graph.Definition, all []graph.CallSite) error {
	same := graph.Target{Module: def.Module, Function: o.NewName, Arity: def.Arity}
	taken, err := c.exists(same)
	if err != nil {
		return err
	}
	if taken {
		c.report.errorf(TypeNameCollision, def.File, def.Line, "%s already exists", same).
			Suggestion = "choose a different name"
	} else {
		other, err := c.exists(graph.Target{Module: def.Module, Function: o.NewName, Arity: graph.AnyArity})
		if err != nil {
			return err
		}
		if other {
			c.report.warnf(TypeNameCollision, def.File, def.Line, "%s.%s exists with a different arity", def.Module, o.NewName)
		}
	}

	if c.scope == graph.ScopeModule {
		for _, cs := range all {
			if cs.File != def.File {
				c.report.errorf(TypeScope, cs.File, cs.Line, "call from another file would keep the old name %s", def.Function).
					Suggestion = "use project scope"
			}
		}
	}
	return nil
}

func (c *check) convertVisibility(o *operation.ConvertVisibility, def *graph.Definition, all []graph.CallSite) error {
	p := c.parse(def.File)
	if p.tr == nil {
		return nil
	}
	newName, err := p.tr.VisibilityName(def.Function, o.Visibility)
	if err != nil {
		c.report.errorf(TypeScope, def.File, def.Line, "%s", reason(err))
		return nil
	}

	if o.Visibility == graph.Private {
		for _, cs := range all {
			if cs.CallerModule != "" && cs.CallerModule != def.Module {
				c.report.errorf(TypeScope, cs.File, cs.Line, "%s is called from module %s", def.Function, cs.CallerModule).
					Suggestion = "keep the function public or move the caller"
			}
		}
	}

	toggled := graph.Target{Module: def.Module, Function: newName, Arity: graph.AnyArity}
	taken, err := c.exists(toggled)
	if err != nil {
		return err
	}
	if taken {
		c.report.errorf(TypeNameCollision, def.File, def.Line, "%s.%s already exists", def.Module, newName)
	}
	return nil
}

func (c *check) findFunction(def *graph.Definition) (*parsed, *transform.Function) {
	p := c.parse(def.File)
	if p.tr == nil {
		return p, nil
	}
	fn, err := p.tr.FindFunction(p.tree, def.Function, def.Line)
	if err != nil {
		c.report.errorf(TypeStaleGraph, def.File, def.Line, "%v", err)
		return p, nil
	}
	return p, fn
}

func (c *check) renameParameter(o *operation.RenameParameter, def *graph.Definition) {
	p, fn := c.findFunction(def)
	if fn == nil {
		return
	}
	if fn.ParamIndex(o.OldName) < 0 {
		c.report.errorf(TypeStaleGraph, def.File, fn.StartLine, "%s has no parameter %s", fn.Name, o.OldName)
		return
	}
	if p.tr.Identifiers(p.tree, fn)[o.NewName] {
		c.report.errorf(TypeNameCollision, def.File, fn.StartLine, "%s is already bound in %s", o.NewName, fn.Name).
			Suggestion = "choose a name not used in the function"
	}
}

func (c *check) extractFunction(o *operation.ExtractFunction, def *graph.Definition) error {
	taken, err := c.exists(graph.Target{Module: def.Module, Function: o.NewName, Arity: graph.AnyArity})
	if err != nil {
		return err
	}
	if taken {
		c.report.errorf(TypeNameCollision, def.File, def.Line, "%s.%s already exists", def.Module, o.NewName)
	}

	p, fn := c.findFunction(def)
	if fn == nil {
		return nil
	}
	if _, err := p.tr.ExtractFunction(p.tree, fn, o.StartLine, o.EndLine, o.NewName); err != nil {
		if !errors.Is(err, transform.ErrNotTransformable) {
			return err
		}
		c.report.errorf(TypeScope, def.File, o.StartLine, "%s", reason(err))
	}
	return nil
}

// reason strips the sentinel prefix from a transform error.
func reason(err error) string {
	return strings.TrimPrefix(err.Error(), transform.ErrNotTransformable.Error()+": ")
}

func (c *check) inlineFunction(def *graph.Definition, all []graph.CallSite) {
	for _, cs := range all {
		if cs.Caller == def.Function && (cs.CallerModule == "" || cs.CallerModule == def.Module) {
			c.report.errorf(TypeDependency, cs.File, cs.Line, "%s calls itself and cannot be inlined", def.Function)
			return
		}
	}
}

func (c *check) changeSignature(o *operation.ChangeSignature, def *graph.Definition) error {
	if arity := o.NewArity(); arity != def.Arity {
		t := graph.Target{Module: def.Module, Function: def.Function, Arity: arity}
		taken, err := c.exists(t)
		if err != nil {
			return err
		}
		if taken {
			c.report.errorf(TypeNameCollision, def.File, def.Line, "%s already exists", t)
		}
	}

	if len(c.report.Callers) > 0 {
		for _, p := range o.Parameters {
			if p.From == nil && p.Default == "" {
				c.report.errorf(TypeDependency, def.File, def.Line,
					"new parameter %s has no default but %s has %d callers", p.Name, def.Function, len(c.report.Callers)).
					Suggestion = "give the parameter a default for call sites"
			}
		}
	}
	for _, cs := range c.report.Callers {
		if cs.Keyword {
			c.report.warnf(TypeDependency, cs.File, cs.Line, "call passes keyword arguments; check them after the change")
		}
	}
	return nil
}

func (c *check) moveFunction(dest string, def *graph.Definition, all []graph.CallSite) error {
	t := graph.Target{Module: dest, Function: def.Function, Arity: def.Arity}
	taken, err := c.exists(t)
	if err != nil {
		return err
	}
	if taken {
		c.report.errorf(TypeNameCollision, def.File, def.Line, "%s already exists", t)
	}
	if err := c.cycle(def.Module, dest); err != nil {
		return err
	}
	if def.Visibility == graph.Private {
		for _, cs := range all {
			if cs.File == def.File || cs.CallerModule == def.Module {
				c.report.errorf(TypeScope, cs.File, cs.Line, "private %s is called from %s, which stays behind", def.Function, def.Module)
				break
			}
		}
	}
	return nil
}

// cycle records a dependency conflict if dest already depends on source.
func (c *check) cycle(source, dest string) error {
	deps, err := c.d.graph.ModuleDependencies(c.ctx, dest)
	if err != nil {
		return fmt.Errorf("dependencies of %s: %w", dest, err)
	}
	if slices.Contains(deps, source) {
		c.report.errorf(TypeDependency, "", 0, "%s depends on %s; moving code there creates a cycle", dest, source)
	}
	return nil
}

func (c *check) moduleFiles(module string) ([]string, error) {
	files, err := c.d.graph.ModuleFiles(c.ctx, module)
	if err != nil {
		return nil, fmt.Errorf("files of %s: %w", module, err)
	}
	return files, nil
}

func (c *check) renameModule(o *operation.RenameModule) error {
	files, err := c.moduleFiles(o.Module)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		c.report.errorf(TypeStaleGraph, "", 0, "module %s has no files in the knowledge graph", o.Module)
		return nil
	}
	for _, f := range files {
		if p := c.parse(f); p.err != nil {
			c.report.errorf(TypeStaleGraph, f, 0, "cannot read %s: %v", f, p.err)
		}
	}

	newModule := o.NewModule()
	taken, err := c.moduleFiles(newModule)
	if err != nil {
		return err
	}
	if len(taken) > 0 {
		c.report.errorf(TypeNameCollision, taken[0], 0, "module %s already exists", newModule)
	}
	return nil
}

func (c *check) modifyAttributes(o *operation.ModifyAttributes) error {
	files, err := c.moduleFiles(o.Module)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		c.report.errorf(TypeStaleGraph, "", 0, "module %s has no files in the knowledge graph", o.Module)
		return nil
	}

	where := make(map[string]string)
	for _, f := range files {
		p := c.parse(f)
		if p.err != nil {
			c.report.errorf(TypeStaleGraph, f, 0, "cannot read %s: %v", f, p.err)
			continue
		}
		if p.tr == nil {
			continue
		}
		for _, a := range p.tr.Attributes(p.tree) {
			where[a.Name] = f
		}
	}

	for _, ch := range o.Changes {
		file, exists := where[ch.Name]
		switch {
		case ch.Action == operation.AttributeAdd && exists:
			c.report.errorf(TypeNameCollision, file, 0, "attribute %s already exists", ch.Name).
				Suggestion = "use update instead"
		case ch.Action != operation.AttributeAdd && !exists:
			c.report.errorf(TypeStaleGraph, "", 0, "attribute %s does not exist in %s", ch.Name, o.Module)
		}
	}
	return nil
}

func (c *check) extractModule(o *operation.ExtractModule) error {
	dest, err := c.moduleFiles(o.Destination)
	if err != nil {
		return err
	}
	if len(dest) > 0 {
		c.report.errorf(TypeNameCollision, dest[0], 0, "module %s already exists", o.Destination)
	}
	if err := c.cycle(o.Module, o.Destination); err != nil {
		return err
	}
	for _, name := range o.Functions {
		def, err := c.target(graph.Target{Module: o.Module, Function: name, Arity: graph.AnyArity})
		if err != nil {
			return err
		}
		if def == nil || def.Visibility != graph.Private {
			continue
		}
		callers, err := c.d.graph.FindCallers(c.ctx, def.Target(), graph.ScopeProject)
		if err != nil {
			return fmt.Errorf("find callers of %s: %w", def.Target(), err)
		}
		for _, cs := range callers {
			if !slices.Contains(o.Functions, cs.Caller) && (cs.CallerModule == "" || cs.CallerModule == o.Module) {
				c.report.errorf(TypeScope, cs.File, cs.Line, "private %s is called from %s, which stays behind", name, cs.Caller)
				break
			}
		}
	}
	return nil
}
