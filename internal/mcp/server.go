package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louloulin/agentmem/internal/config"
	"github.com/louloulin/agentmem/internal/retrieval"
	"github.com/louloulin/agentmem/internal/store"
	"github.com/louloulin/agentmem/internal/telemetry"
	"github.com/louloulin/agentmem/pkg/version"
)

// SearchEngine is the retrieval surface the server exposes.
// *retrieval.Engine implements it.
type SearchEngine interface {
	Search(ctx context.Context, query string, limit int) (*retrieval.SearchResponse, error)
	ExplainThreshold(query string) retrieval.ThresholdBreakdown
	Metrics() retrieval.MetricsSnapshot
	ResetMetrics()
	FeedbackStats() map[retrieval.QueryType]retrieval.TypeStats
}

// MemoryStore persists new memories. *store.Backends implements it.
type MemoryStore interface {
	Add(ctx context.Context, memories []*store.Memory) error
	Count(ctx context.Context) (int, error)
}

var (
	_ SearchEngine = (*retrieval.Engine)(nil)
	_ MemoryStore  = (*store.Backends)(nil)
)

// Server bridges MCP clients with the retrieval engine.
type Server struct {
	mcp      *mcp.Server
	engine   SearchEngine
	memories MemoryStore
	config   *config.Config
	logger   *slog.Logger

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        ToolMemorySearch,
		Description: "Search stored memories. The query is classified (exact ID, keyword, natural language, semantic or temporal) and routed to exact, keyword and vector search accordingly, with a similarity cutoff adapted to the query.",
	},
	{
		Name:        ToolMemoryAdd,
		Description: "Store a new memory so later searches can find it. Provide an id to overwrite an existing memory.",
	},
	{
		Name:        ToolSearchStats,
		Description: "Report search counts by query type, latency, threshold feedback and the number of stored memories.",
	},
	{
		Name:        ToolExplainThreshold,
		Description: "Show how the similarity cutoff for a query is computed, term by term, without searching.",
	},
}

// NewServer creates an MCP server. memories may be nil, in which case
// memory_add fails and search_stats reports no memory count.
func NewServer(engine SearchEngine, memories MemoryStore, cfg *config.Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("search engine is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine:   engine,
		memories: memories,
		config:   cfg,
		logger:   slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: version.Name, Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// SetLogger replaces the server logger.
func (s *Server) SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = l
}

// SetMetrics attaches a telemetry collector. Searches are recorded to it
// and a query_metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name. args are decoded into the tool's input
// type the same way the SDK decodes JSON-RPC arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolMemorySearch:
		var in MemorySearchInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, err := s.search(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	case ToolMemoryAdd:
		var in MemoryAddInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, err := s.add(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	case ToolSearchStats:
		var in SearchStatsInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.stats(ctx, in), nil
	case ToolExplainThreshold:
		var in ExplainThresholdInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, err := s.explain(in)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, v any) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

// =============================================================================
// Tool implementations
// =============================================================================

func (s *Server) search(ctx context.Context, in MemorySearchInput) (MemorySearchOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return MemorySearchOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return MemorySearchOutput{}, NewInvalidParamsError(fmt.Sprintf("query exceeds %d characters", MaxQueryLength))
	}

	defaultLimit := s.config.Retrieval.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultSearchLimit
	}
	limit := clampLimit(in.Limit, defaultLimit, 1, MaxSearchLimit)

	start := time.Now()
	requestID := generateRequestID()
	logger := s.log()

	resp, err := s.engine.Search(ctx, query, limit)
	if err != nil {
		logger.Error("memory_search_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return MemorySearchOutput{}, MapError(err)
	}

	if m := s.queryMetrics(); m != nil {
		m.Record(telemetry.EventFromResponse(query, resp))
	}

	logger.Info("memory_search_completed",
		slog.String("request_id", requestID),
		slog.String("query_type", string(resp.QueryType)),
		slog.Int("limit", limit),
		slog.Int("result_count", len(resp.Results)),
		slog.Duration("duration", time.Since(start)))

	return ToSearchOutput(resp), nil
}

func (s *Server) add(ctx context.Context, in MemoryAddInput) (MemoryAddOutput, error) {
	if s.memories == nil {
		return MemoryAddOutput{}, &MCPError{Code: ErrCodeInternalError, Message: "memory store not available"}
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return MemoryAddOutput{}, NewInvalidParamsError("content cannot be empty or whitespace only")
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = store.NewMemoryID()
	}

	mem := &store.Memory{ID: id, Content: content, Metadata: in.Metadata}
	if err := s.memories.Add(ctx, []*store.Memory{mem}); err != nil {
		s.log().Error("memory_add_failed",
			slog.String("id", id),
			slog.String("error", err.Error()))
		return MemoryAddOutput{}, MapError(err)
	}

	total, err := s.memories.Count(ctx)
	if err != nil {
		return MemoryAddOutput{}, MapError(err)
	}

	s.log().Info("memory_added", slog.String("id", id), slog.Int("total", total))
	return MemoryAddOutput{ID: id, Total: total}, nil
}

func (s *Server) stats(ctx context.Context, in SearchStatsInput) SearchStatsOutput {
	snap := s.engine.Metrics()
	out := SearchStatsOutput{
		TotalQueries:  snap.TotalQueries,
		QueriesByType: make(map[string]int64, len(snap.QueriesByType)),
		AvgLatencyMs:  snap.AvgLatencyMs,
		MaxLatencyMs:  snap.P99LatencyMs,
		Feedback:      make(map[string]retrieval.TypeStats),
		MemoryCount:   -1,
	}
	for qt, n := range snap.QueriesByType {
		out.QueriesByType[string(qt)] = n
	}
	for qt, st := range s.engine.FeedbackStats() {
		out.Feedback[string(qt)] = st
	}

	if s.memories != nil {
		if n, err := s.memories.Count(ctx); err == nil {
			out.MemoryCount = n
		} else {
			s.log().Warn("memory_count_failed", slog.String("error", err.Error()))
		}
	}
	if m := s.queryMetrics(); m != nil {
		out.Telemetry = toTelemetryOutput(m.Snapshot())
	}

	if in.Reset {
		s.engine.ResetMetrics()
	}
	return out
}

func (s *Server) explain(in ExplainThresholdInput) (ExplainThresholdOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return ExplainThresholdOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	b := s.engine.ExplainThreshold(query)
	rules := b.SpecialRules
	if rules == nil {
		rules = []string{}
	}
	return ExplainThresholdOutput{
		QueryType:            string(b.QueryType),
		BaseThreshold:        b.BaseThreshold,
		LengthAdjustment:     b.LengthAdjustment,
		ComplexityScore:      b.ComplexityScore,
		ComplexityAdjustment: b.ComplexityAdjustment,
		HistoricalAdjustment: b.HistoricalAdjustment,
		Combined:             b.Combined,
		SpecialRules:         rules,
		Final:                b.Final,
	}, nil
}

func (s *Server) log() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *Server) queryMetrics() *telemetry.QueryMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// =============================================================================
// SDK registration
// =============================================================================

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolMemorySearch, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolMemoryAdd, Description: tools[1].Description}, s.mcpAddHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolSearchStats, Description: tools[2].Description}, s.mcpStatsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolExplainThreshold, Description: tools[3].Description}, s.mcpExplainHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// mcpSearchHandler returns markdown for display alongside the structured
// output.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, in MemorySearchInput) (
	*mcp.CallToolResult,
	MemorySearchOutput,
	error,
) {
	out, err := s.search(ctx, in)
	if err != nil {
		return nil, MemorySearchOutput{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(strings.TrimSpace(in.Query), out)}},
	}, out, nil
}

func (s *Server) mcpAddHandler(ctx context.Context, _ *mcp.CallToolRequest, in MemoryAddInput) (
	*mcp.CallToolResult,
	MemoryAddOutput,
	error,
) {
	out, err := s.add(ctx, in)
	return nil, out, err
}

func (s *Server) mcpStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchStatsInput) (
	*mcp.CallToolResult,
	SearchStatsOutput,
	error,
) {
	return nil, s.stats(ctx, in), nil
}

func (s *Server) mcpExplainHandler(_ context.Context, _ *mcp.CallToolRequest, in ExplainThresholdInput) (
	*mcp.CallToolResult,
	ExplainThresholdOutput,
	error,
) {
	out, err := s.explain(in)
	return nil, out, err
}

// Serve runs the server on transport until ctx is canceled. The http
// transport listens on the configured server.http_addr.
func (s *Server) Serve(ctx context.Context, transport string) error {
	logger := s.log()
	logger.Info("mcp_server_starting", slog.String("transport", transport))

	var err error
	switch strings.ToLower(transport) {
	case "stdio":
		err = s.mcp.Run(ctx, &mcp.StdioTransport{})
	case "http":
		err = s.serveHTTP(ctx, s.config.Server.HTTPAddr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", transport)
	}

	if err != nil && err != context.Canceled {
		logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
	} else {
		logger.Info("mcp_server_stopped")
	}
	return err
}

// generateRequestID creates a short ID for log correlation.
func generateRequestID() string {
	return uuid.NewString()[:8]
}
