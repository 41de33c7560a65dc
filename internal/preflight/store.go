package preflight

import (
	"context"
	"fmt"

	"github.com/louloulin/agentmem/internal/errors"
	"github.com/louloulin/agentmem/internal/store"
	"github.com/louloulin/agentmem/internal/telemetry"
)

// CheckStore opens the memory store, which rebuilds stale indexes, and
// compares the vector index against memories.db.
func (c *Checker) CheckStore(ctx context.Context, opts store.Options) CheckResult {
	result := CheckResult{
		Name:     "memory_store",
		Required: true,
	}

	b, err := store.OpenBackends(ctx, opts)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		if me, ok := errors.As(err); ok {
			result.Message = me.Message
			result.Details = me.Suggestion
		}
		return result
	}
	defer func() { _ = b.Close() }()

	h, err := b.Health(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to count memories: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d memories, %d vectors, %s lexical index",
		h.Memories, h.Vectors, h.LexicalBackend)
	result.Details = fmt.Sprintf("dimensions=%d orphaned_nodes=%d", h.Dimensions, h.Orphans)

	if h.Vectors != h.Memories {
		result.Status = StatusWarn
		result.Message += " (vector index out of step)"
		result.Details += "; run 'agentmem reindex'"
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckTelemetry opens the telemetry database. Search works without it.
func (c *Checker) CheckTelemetry(path string) CheckResult {
	result := CheckResult{
		Name:    "telemetry",
		Details: path,
	}

	ts, err := telemetry.OpenSQLiteMetricsStore(path)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unavailable: %v", err)
		return result
	}
	_ = ts.Close()

	result.Status = StatusPass
	result.Message = "OK"
	return result
}
