// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianConverse/services/index"
)

type IngestRequest struct {
	Path string `json:"path" binding:"required"`
}

// HandleIngest loads a file or directory into the vector index. Re-ingesting
// the same path upserts chunks in place instead of duplicating them.
func HandleIngest(ingestor *index.Ingestor) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleIngest")
		defer span.End()

		var req IngestRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		info, err := os.Stat(req.Path)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "path not found"})
			return
		}

		var chunks int
		if info.IsDir() {
			chunks, err = ingestor.IngestDirectory(ctx, req.Path)
		} else {
			chunks, err = ingestor.IngestFile(ctx, req.Path)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Ingestion failed", "path", req.Path, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Ingestion complete", "path", req.Path, "chunks", chunks)
		c.JSON(http.StatusOK, gin.H{"path": req.Path, "chunks": chunks})
	}
}

// HandleIndexStats reports the current index size.
func HandleIndexStats(ix *index.Index) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"chunks": ix.Len()})
	}
}
