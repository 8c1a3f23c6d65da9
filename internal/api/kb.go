package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tablerag/tablerag/internal/catalog"
	"github.com/tablerag/tablerag/internal/kb"
	"github.com/tablerag/tablerag/internal/schema"
)

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "data store is not configured", false, nil)
		return
	}
	tables, err := deps.Schema.DescribeTables(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FAILED", "failed to describe data store", true, nil)
		return
	}
	if tables == nil {
		tables = []schema.Table{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables, "summary": schema.Render(tables)})
}

func handleGetEntity(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Entities == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "entity catalogue is not configured", false, nil)
		return
	}
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ENTITY_ID", "entity id must be a positive integer", false, map[string]any{"id": raw})
		return
	}
	entity, err := deps.Entities.GetEntityByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "ENTITY_NOT_FOUND", "entity not found", false, map[string]any{"id": id})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_READ_FAILED", "failed to read entity", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func handleKBStatus(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.KB == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "KB_NOT_CONFIGURED", "knowledge base is not configured", false, nil)
		return
	}
	status, err := deps.KB.KBStatus(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "KB_STATUS_FAILED", "failed to read knowledge base status", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func handleRebuild(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Rebuilder == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "REBUILD_NOT_CONFIGURED", "knowledge base rebuild is not configured", false, nil)
		return
	}
	result, err := deps.Rebuilder.Build(r.Context())
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "knowledge base rebuild failed", slog.Any("error", err))
		}
		if errors.Is(err, kb.ErrEmptyCatalogue) {
			writeError(r.Context(), w, http.StatusConflict, "KB_EMPTY", "the data store has no tables to describe", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "KB_REBUILD_FAILED", "knowledge base rebuild failed", true, nil)
		return
	}

	failed := make([]map[string]any, 0, len(result.Failures))
	for _, failure := range result.Failures {
		failed = append(failed, map[string]any{"table": failure.Table, "error": failure.Err.Error()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build":         result.Record,
		"counts":        result.Counts,
		"failed_tables": failed,
	})
}
