// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package forge

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all forge routes with the router.
//
// Description:
//
//	Registers all /v1/forge/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// File Endpoints:
//
//	POST /v1/forge/edit - Edit one file
//	POST /v1/forge/validate - Validate changes without writing
//	POST /v1/forge/rollback - Restore a file from a backup
//	GET  /v1/forge/history - List the backups of a file
//	POST /v1/forge/edit_files - Edit several files atomically
//
// Refactor Endpoints:
//
//	POST /v1/forge/refactor - Apply a semantic refactor
//	POST /v1/forge/conflicts - Check a refactor for conflicts
//	POST /v1/forge/preview - Preview a refactor as diffs
//	POST /v1/forge/undo - Undo the newest refactor or multi-file edit
//	GET  /v1/forge/refactor/history - List undo entries
//
// Example:
//
//	service := forge.NewService(forge.DefaultServiceConfig())
//	handlers := forge.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	forge.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	forge := rg.Group("/forge")
	{
		forge.POST("/edit", handlers.HandleEdit)
		forge.POST("/validate", handlers.HandleValidate)
		forge.POST("/rollback", handlers.HandleRollback)
		forge.GET("/history", handlers.HandleHistory)
		forge.POST("/edit_files", handlers.HandleEditFiles)

		forge.POST("/refactor", handlers.HandleRefactor)
		forge.POST("/conflicts", handlers.HandleConflicts)
		forge.POST("/preview", handlers.HandlePreview)
		forge.POST("/undo", handlers.HandleUndo)
		forge.GET("/refactor/history", handlers.HandleRefactorHistory)

		forge.GET("/defaults", handlers.HandleDefaults)
		forge.GET("/health", handlers.HandleHealth)
	}
}
