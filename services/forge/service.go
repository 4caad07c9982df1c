// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package forge is the entry point of the code-edit and refactor engine.
//
// A Service owns one Workspace per project root. A Workspace wires the
// backup store, editor, transaction coordinator, undo stack, knowledge
// graph, refactor engine and previewer of that project. Every exposed
// operation takes the project root first, so one Service can serve many
// projects.
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianForge/services/forge/advisor"
	"github.com/AleutianAI/AleutianForge/services/forge/backup"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/preview"
	"github.com/AleutianAI/AleutianForge/services/forge/project"
	"github.com/AleutianAI/AleutianForge/services/forge/refactor"
	fbadger "github.com/AleutianAI/AleutianForge/services/forge/storage/badger"
	"github.com/AleutianAI/AleutianForge/services/forge/transaction"
	"github.com/AleutianAI/AleutianForge/services/forge/undo"
	"github.com/AleutianAI/AleutianForge/services/forge/validate"
)

// ServiceVersion is the forge service version.
const ServiceVersion = "0.1.0"

// DefaultRetention is the number of backups kept per file.
const DefaultRetention = 10

// GraphLoader returns the knowledge graph of a project root.
type GraphLoader func(ctx context.Context, root string) (graph.KnowledgeGraph, error)

// SnapshotLoader loads a graph snapshot file. A relative path is resolved
// against the project root.
func SnapshotLoader(path string) GraphLoader {
	return func(_ context.Context, root string) (graph.KnowledgeGraph, error) {
		p := path
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		g, err := graph.LoadSnapshot(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
		}
		return g, nil
	}
}

// StaticGraph returns the same graph for every root.
func StaticGraph(g graph.KnowledgeGraph) GraphLoader {
	return func(context.Context, string) (graph.KnowledgeGraph, error) { return g, nil }
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// StateDir holds per-project backups and undo logs.
	// Default: project.DefaultStateDir()
	StateDir string

	// Retention is the number of unpinned backups kept per file.
	// Default: 10
	Retention int

	// Defaults are the edit options every request starts from.
	// Default: editor.DefaultOptions()
	Defaults editor.Options

	// Registry resolves validators and formatters.
	// Default: validate.DefaultRegistry()
	Registry *validate.Registry

	ValidateTimeout time.Duration
	FormatTimeout   time.Duration

	// Graphs loads the knowledge graph of a workspace. Nil disables the
	// refactor operations.
	Graphs GraphLoader

	// Advisor is optional preview commentary.
	Advisor advisor.Provider

	// InMemory keeps backups and undo entries in memory. Used by tests.
	InMemory bool

	TracingEnabled bool
	Logger         *slog.Logger
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		StateDir:  project.DefaultStateDir(),
		Retention: DefaultRetention,
		Defaults:  editor.DefaultOptions(),
	}
}

// Workspace is the wired set of components for one project root.
type Workspace struct {
	Layout      project.Layout
	Backups     backup.Store
	Editor      *editor.Editor
	Coordinator *transaction.Coordinator
	Undo        *undo.Stack

	// Engine and Previewer are nil when no graph is configured.
	Engine    *refactor.Engine
	Previewer *preview.Previewer
}

// Close releases the workspace stores.
func (w *Workspace) Close() error {
	return errors.Join(w.Undo.Close(), w.Backups.Close())
}

// Service serves forge operations over many project roots.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent first requests for one root share a
// single workspace open.
type Service struct {
	config ServiceConfig
	logger *slog.Logger

	mu         sync.RWMutex
	workspaces map[string]*Workspace
	closed     bool
	opening    singleflight.Group
}

// NewService creates a Service.
func NewService(config ServiceConfig) *Service {
	if config.StateDir == "" {
		config.StateDir = project.DefaultStateDir()
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.Defaults == (editor.Options{}) {
		config.Defaults = editor.DefaultOptions()
	}
	if config.Registry == nil {
		config.Registry = validate.DefaultRegistry()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Service{
		config:     config,
		logger:     config.Logger.With("component", "forge.Service"),
		workspaces: make(map[string]*Workspace),
	}
}

// Defaults returns the configured edit options.
func (s *Service) Defaults() editor.Options { return s.config.Defaults }

// Workspace returns the workspace of root, opening it on first use.
//
// # Outputs
//
//   - *Workspace: Shared by every caller for the same canonical root.
//   - error: ErrServiceClosed, project.ErrEmptyRoot, or a store open
//     failure.
func (s *Service) Workspace(ctx context.Context, root string) (*Workspace, error) {
	layout, err := project.NewLayout(s.config.StateDir, root)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	ws, ok := s.workspaces[layout.Key]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrServiceClosed
	}
	if ok {
		return ws, nil
	}

	v, err, _ := s.opening.Do(layout.Key, func() (any, error) {
		s.mu.RLock()
		ws, ok := s.workspaces[layout.Key]
		s.mu.RUnlock()
		if ok {
			return ws, nil
		}

		ws, err := s.open(context.WithoutCancel(ctx), layout)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			_ = ws.Close()
			return nil, ErrServiceClosed
		}
		s.workspaces[layout.Key] = ws
		return ws, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

func (s *Service) open(ctx context.Context, layout project.Layout) (_ *Workspace, err error) {
	logger := s.config.Logger.With("project_key", layout.Key)
	info, err := os.Stat(layout.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, layout.Root)
	}

	ws := &Workspace{Layout: layout}
	var log undo.Log
	if s.config.InMemory {
		ws.Backups = backup.NewMemoryStore(s.config.Retention)
		log = undo.NewMemoryLog()
	} else {
		if ws.Backups, err = backup.OpenDiskStore(layout.Snapshots, layout.Index, s.config.Retention, logger); err != nil {
			return nil, err
		}
		cfg := fbadger.DefaultConfig(layout.Undo)
		cfg.Logger = logger
		if log, err = undo.OpenBadgerLog(layout.Undo, cfg); err != nil {
			_ = ws.Backups.Close()
			return nil, err
		}
	}
	defer func() {
		if err != nil {
			_ = log.Close()
			_ = ws.Backups.Close()
		}
	}()

	if ws.Editor, err = editor.New(editor.Config{
		Root:            layout.Root,
		Backups:         ws.Backups,
		Registry:        s.config.Registry,
		ValidateTimeout: s.config.ValidateTimeout,
		FormatTimeout:   s.config.FormatTimeout,
		Logger:          logger,
	}); err != nil {
		return nil, err
	}
	if ws.Undo, err = undo.NewStack(undo.StackConfig{Log: log, Editor: ws.Editor, Logger: logger}); err != nil {
		return nil, err
	}
	if ws.Coordinator, err = transaction.NewCoordinator(transaction.CoordinatorConfig{
		Editor:         ws.Editor,
		Recorder:       ws.Undo,
		TracingEnabled: s.config.TracingEnabled,
		Logger:         logger,
	}); err != nil {
		return nil, err
	}

	if s.config.Graphs != nil {
		g, err := s.config.Graphs(ctx, layout.Root)
		if err != nil {
			logger.Warn("knowledge graph unavailable, refactors disabled", slog.String("error", err.Error()))
		} else if err := s.wireRefactor(ws, g, logger); err != nil {
			return nil, err
		}
	}

	s.logger.Info("workspace opened",
		slog.String("root", layout.Root),
		slog.String("project_key", layout.Key),
		slog.Bool("refactor", ws.Engine != nil))
	return ws, nil
}

func (s *Service) wireRefactor(ws *Workspace, g graph.KnowledgeGraph, logger *slog.Logger) error {
	var err error
	if ws.Engine, err = refactor.NewEngine(refactor.EngineConfig{
		Graph:          g,
		Coordinator:    ws.Coordinator,
		Defaults:       s.config.Defaults,
		TracingEnabled: s.config.TracingEnabled,
		Logger:         logger,
	}); err != nil {
		return err
	}
	ws.Previewer, err = preview.New(preview.Config{
		Engine:   ws.Engine,
		Editor:   ws.Editor,
		Advisor:  s.config.Advisor,
		Defaults: s.config.Defaults,
		Logger:   logger,
	})
	return err
}

// WorkspaceCount returns the number of open workspaces.
func (s *Service) WorkspaceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workspaces)
}

// Close closes every workspace. Later calls fail with ErrServiceClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for key, ws := range s.workspaces {
		if err := ws.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close workspace %s: %w", key, err))
		}
	}
	s.workspaces = nil
	return errors.Join(errs...)
}
