// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package operation defines the refactor operations as a closed set of
// typed parameter structs.
//
// Each operation kind has one Go type implementing Operation. Decode turns a
// kind plus JSON parameters into the matching type; Encode produces the
// descriptor stored with undo entries.
package operation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/graph"
)

// Kind names an operation.
type Kind string

const (
	KindRenameFunction    Kind = "rename_function"
	KindRenameModule      Kind = "rename_module"
	KindExtractFunction   Kind = "extract_function"
	KindInlineFunction    Kind = "inline_function"
	KindConvertVisibility Kind = "convert_visibility"
	KindRenameParameter   Kind = "rename_parameter"
	KindModifyAttributes  Kind = "modify_attributes"
	KindChangeSignature   Kind = "change_signature"
	KindMoveFunction      Kind = "move_function"
	KindExtractModule     Kind = "extract_module"
)

// Kinds lists every operation kind.
func Kinds() []Kind {
	return []Kind{
		KindRenameFunction, KindRenameModule, KindExtractFunction, KindInlineFunction,
		KindConvertVisibility, KindRenameParameter, KindModifyAttributes,
		KindChangeSignature, KindMoveFunction, KindExtractModule,
	}
}

var (
	// ErrInvalidOperation is returned for malformed operation parameters.
	ErrInvalidOperation = errors.New("invalid refactor operation")

	// ErrUnsupportedOperation is returned for operations, or operation and
	// language pairs, that are not implemented.
	ErrUnsupportedOperation = errors.New("unsupported refactor operation")
)

// UnsupportedOperationError reports an operation that cannot be executed.
type UnsupportedOperationError struct {
	Kind     Kind
	Language string
	Reason   string
}

func (e *UnsupportedOperationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "unsupported operation %s", e.Kind)
	if e.Language != "" {
		fmt.Fprintf(&b, " for %s", e.Language)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *UnsupportedOperationError) Unwrap() error { return ErrUnsupportedOperation }

// Unsupported builds an UnsupportedOperationError.
func Unsupported(kind Kind, language, reason string) error {
	return &UnsupportedOperationError{Kind: kind, Language: language, Reason: reason}
}

func invalid(kind Kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidOperation, kind, fmt.Sprintf(format, args...))
}

// Operation is one refactor request.
type Operation interface {
	// Kind returns the operation kind.
	Kind() Kind

	// Target returns the graph target the operation acts on.
	Target() graph.Target

	// Validate checks parameters without consulting the graph or files.
	Validate() error

	// Describe returns a one-line human description.
	Describe() string
}

// FunctionRef identifies a function. A nil Arity matches any arity.
type FunctionRef struct {
	Module   string `json:"module"`
	Function string `json:"function"`
	Arity    *int   `json:"arity,omitempty"`
}

// Target returns the graph target.
func (f FunctionRef) Target() graph.Target {
	arity := graph.AnyArity
	if f.Arity != nil {
		arity = *f.Arity
	}
	return graph.Target{Module: f.Module, Function: f.Function, Arity: arity}
}

func (f FunctionRef) validate(kind Kind) error {
	if f.Module == "" {
		return invalid(kind, "module is required")
	}
	if f.Function == "" {
		return invalid(kind, "function is required")
	}
	if f.Arity != nil && *f.Arity < 0 {
		return invalid(kind, "arity must be non-negative")
	}
	return nil
}

// Arity returns a pointer to n, for building FunctionRefs.
func Arity(n int) *int { return &n }

// =============================================================================
// Variants
// =============================================================================

// RenameFunction renames a function and every resolvable call site.
type RenameFunction struct {
	FunctionRef
	NewName string `json:"new_name"`
}

func (o *RenameFunction) Kind() Kind { return KindRenameFunction }
func (o *RenameFunction) Validate() error {
	if err := o.validate(o.Kind()); err != nil {
		return err
	}
	if !IsIdentifier(o.NewName) {
		return invalid(o.Kind(), "new_name %q is not an identifier", o.NewName)
	}
	if o.NewName == o.Function {
		return invalid(o.Kind(), "new_name equals the current name")
	}
	return nil
}
func (o *RenameFunction) Describe() string {
	return fmt.Sprintf("Rename %s to %s", o.Target(), o.NewName)
}

// RenameModule renames a module.
type RenameModule struct {
	Module  string `json:"module"`
	NewName string `json:"new_name"`
}

func (o *RenameModule) Kind() Kind           { return KindRenameModule }
func (o *RenameModule) Target() graph.Target { return graph.Target{Module: o.Module} }
func (o *RenameModule) Validate() error {
	if o.Module == "" {
		return invalid(o.Kind(), "module is required")
	}
	if !IsIdentifier(o.NewName) {
		return invalid(o.Kind(), "new_name %q is not an identifier", o.NewName)
	}
	return nil
}
func (o *RenameModule) Describe() string {
	return fmt.Sprintf("Rename module %s to %s", o.Module, o.NewName)
}

// NewModule returns the module path after the rename: the last path
// element of Module replaced by NewName.
func (o *RenameModule) NewModule() string {
	if i := strings.LastIndexAny(o.Module, "/."); i >= 0 {
		return o.Module[:i+1] + o.NewName
	}
	return o.NewName
}

// ExtractFunction lifts lines StartLine..EndLine of a function into a new
// function and replaces them with a call.
type ExtractFunction struct {
	FunctionRef
	NewName   string `json:"new_name"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func (o *ExtractFunction) Kind() Kind { return KindExtractFunction }
func (o *ExtractFunction) Validate() error {
	if err := o.validate(o.Kind()); err != nil {
		return err
	}
	if !IsIdentifier(o.NewName) {
		return invalid(o.Kind(), "new_name %q is not an identifier", o.NewName)
	}
	if o.StartLine < 1 || o.EndLine < o.StartLine {
		return invalid(o.Kind(), "invalid line range %d-%d", o.StartLine, o.EndLine)
	}
	return nil
}
func (o *ExtractFunction) Describe() string {
	return fmt.Sprintf("Extract lines %d-%d of %s into %s", o.StartLine, o.EndLine, o.Target(), o.NewName)
}

// InlineFunction replaces every call with the function body and deletes
// the definition.
type InlineFunction struct {
	FunctionRef
}

func (o *InlineFunction) Kind() Kind      { return KindInlineFunction }
func (o *InlineFunction) Validate() error { return o.validate(o.Kind()) }
func (o *InlineFunction) Describe() string {
	return fmt.Sprintf("Inline %s", o.Target())
}

// ConvertVisibility toggles a function between public and private.
type ConvertVisibility struct {
	FunctionRef
	Visibility string `json:"visibility"`
}

func (o *ConvertVisibility) Kind() Kind { return KindConvertVisibility }
func (o *ConvertVisibility) Validate() error {
	if err := o.validate(o.Kind()); err != nil {
		return err
	}
	if o.Visibility != graph.Public && o.Visibility != graph.Private {
		return invalid(o.Kind(), "visibility must be %q or %q", graph.Public, graph.Private)
	}
	return nil
}
func (o *ConvertVisibility) Describe() string {
	return fmt.Sprintf("Make %s %s", o.Target(), o.Visibility)
}

// RenameParameter renames a parameter within its function.
type RenameParameter struct {
	FunctionRef
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

func (o *RenameParameter) Kind() Kind { return KindRenameParameter }
func (o *RenameParameter) Validate() error {
	if err := o.validate(o.Kind()); err != nil {
		return err
	}
	if !IsIdentifier(o.OldName) || !IsIdentifier(o.NewName) {
		return invalid(o.Kind(), "old_name and new_name must be identifiers")
	}
	if o.OldName == o.NewName {
		return invalid(o.Kind(), "new_name equals old_name")
	}
	return nil
}
func (o *RenameParameter) Describe() string {
	return fmt.Sprintf("Rename parameter %s to %s in %s", o.OldName, o.NewName, o.Target())
}

// Attribute actions.
const (
	AttributeAdd    = "add"
	AttributeRemove = "remove"
	AttributeUpdate = "update"
)

// AttributeChange is one module-level metadata edit. Value is source text.
type AttributeChange struct {
	Action string `json:"action"`
	Name   string `json:"name"`
	Value  string `json:"value,omitempty"`
}

// ModifyAttributes adds, removes or updates module-level metadata
// declarations.
type ModifyAttributes struct {
	Module  string            `json:"module"`
	Changes []AttributeChange `json:"changes"`
}

func (o *ModifyAttributes) Kind() Kind           { return KindModifyAttributes }
func (o *ModifyAttributes) Target() graph.Target { return graph.Target{Module: o.Module} }
func (o *ModifyAttributes) Validate() error {
	if o.Module == "" {
		return invalid(o.Kind(), "module is required")
	}
	if len(o.Changes) == 0 {
		return invalid(o.Kind(), "no attribute changes")
	}
	seen := make(map[string]bool, len(o.Changes))
	for _, c := range o.Changes {
		if !IsIdentifier(c.Name) {
			return invalid(o.Kind(), "attribute name %q is not an identifier", c.Name)
		}
		if seen[c.Name] {
			return invalid(o.Kind(), "attribute %s changed twice", c.Name)
		}
		seen[c.Name] = true
		switch c.Action {
		case AttributeAdd, AttributeUpdate:
			if strings.TrimSpace(c.Value) == "" || strings.Contains(c.Value, "\n") {
				return invalid(o.Kind(), "attribute %s needs a single-line value", c.Name)
			}
		case AttributeRemove:
		default:
			return invalid(o.Kind(), "unknown attribute action %q", c.Action)
		}
	}
	return nil
}
func (o *ModifyAttributes) Describe() string {
	return fmt.Sprintf("Modify %d attribute(s) of %s", len(o.Changes), o.Module)
}

// Parameter is one entry of a new signature. From is the 0-based position
// of the existing parameter it keeps (possibly renamed); nil adds a new
// parameter, and Default is then the argument inserted at call sites.
type Parameter struct {
	Name    string `json:"name"`
	From    *int   `json:"from,omitempty"`
	Default string `json:"default,omitempty"`
	Type    string `json:"type,omitempty"`
}

// ChangeSignature replaces a function's parameter list and rewrites
// positional call sites. Parameters of the old list not referenced by any
// From are removed.
type ChangeSignature struct {
	FunctionRef
	Parameters []Parameter `json:"parameters"`
}

func (o *ChangeSignature) Kind() Kind { return KindChangeSignature }
func (o *ChangeSignature) Validate() error {
	if err := o.validate(o.Kind()); err != nil {
		return err
	}
	names := make(map[string]bool, len(o.Parameters))
	from := make(map[int]bool, len(o.Parameters))
	for _, p := range o.Parameters {
		if !IsIdentifier(p.Name) {
			return invalid(o.Kind(), "parameter name %q is not an identifier", p.Name)
		}
		if names[p.Name] {
			return invalid(o.Kind(), "duplicate parameter %s", p.Name)
		}
		names[p.Name] = true
		if p.From == nil {
			continue
		}
		if *p.From < 0 || (o.Arity != nil && *p.From >= *o.Arity) {
			return invalid(o.Kind(), "parameter %s: position %d out of range", p.Name, *p.From)
		}
		if from[*p.From] {
			return invalid(o.Kind(), "position %d used twice", *p.From)
		}
		from[*p.From] = true
	}
	return nil
}
func (o *ChangeSignature) Describe() string {
	names := make([]string, len(o.Parameters))
	for i, p := range o.Parameters {
		names[i] = p.Name
	}
	return fmt.Sprintf("Change signature of %s to (%s)", o.Target(), strings.Join(names, ", "))
}

// NewArity returns the arity after the change.
func (o *ChangeSignature) NewArity() int {
	return len(o.Parameters)
}

// MoveFunction relocates a function to another module.
type MoveFunction struct {
	FunctionRef
	Destination string `json:"destination"`
}

func (o *MoveFunction) Kind() Kind { return KindMoveFunction }
func (o *MoveFunction) Validate() error {
	if err := o.validate(o.Kind()); err != nil {
		return err
	}
	if o.Destination == "" || o.Destination == o.Module {
		return invalid(o.Kind(), "destination must name another module")
	}
	return nil
}
func (o *MoveFunction) Describe() string {
	return fmt.Sprintf("Move %s to %s", o.Target(), o.Destination)
}

// ExtractModule moves several functions of a module into a new module.
type ExtractModule struct {
	Module      string   `json:"module"`
	Functions   []string `json:"functions"`
	Destination string   `json:"destination"`
}

func (o *ExtractModule) Kind() Kind           { return KindExtractModule }
func (o *ExtractModule) Target() graph.Target { return graph.Target{Module: o.Module} }
func (o *ExtractModule) Validate() error {
	if o.Module == "" {
		return invalid(o.Kind(), "module is required")
	}
	if len(o.Functions) == 0 {
		return invalid(o.Kind(), "no functions to extract")
	}
	if o.Destination == "" || o.Destination == o.Module {
		return invalid(o.Kind(), "destination must name another module")
	}
	return nil
}
func (o *ExtractModule) Describe() string {
	return fmt.Sprintf("Extract %s from %s into %s", strings.Join(o.Functions, ", "), o.Module, o.Destination)
}

// =============================================================================
// Decoding
// =============================================================================

// New returns a zero operation of kind.
func New(kind Kind) (Operation, error) {
	switch kind {
	case KindRenameFunction:
		return &RenameFunction{}, nil
	case KindRenameModule:
		return &RenameModule{}, nil
	case KindExtractFunction:
		return &ExtractFunction{}, nil
	case KindInlineFunction:
		return &InlineFunction{}, nil
	case KindConvertVisibility:
		return &ConvertVisibility{}, nil
	case KindRenameParameter:
		return &RenameParameter{}, nil
	case KindModifyAttributes:
		return &ModifyAttributes{}, nil
	case KindChangeSignature:
		return &ChangeSignature{}, nil
	case KindMoveFunction:
		return &MoveFunction{}, nil
	case KindExtractModule:
		return &ExtractModule{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, kind)
	}
}

// Decode builds and validates the operation of kind from JSON params.
// Unknown fields are rejected.
func Decode(kind Kind, params json.RawMessage) (Operation, error) {
	op, err := New(kind)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		dec := json.NewDecoder(strings.NewReader(string(params)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(op); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidOperation, kind, err)
		}
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

// Descriptor is the serialized form of an operation.
type Descriptor struct {
	Kind   Kind            `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// Encode serializes op as a Descriptor.
func Encode(op Operation) (json.RawMessage, error) {
	params, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", op.Kind(), err)
	}
	return json.Marshal(Descriptor{Kind: op.Kind(), Params: params})
}

// DecodeDescriptor reverses Encode.
func DecodeDescriptor(raw json.RawMessage) (Operation, error) {
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	return Decode(d.Kind, d.Params)
}

// IsIdentifier reports whether s is an ASCII identifier usable in every
// supported language.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
