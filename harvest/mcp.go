// CLAUDE:SUMMARY MCP tool surface: session control plus checkpoint and profile query tools.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/moisson/checkpoint"
	"github.com/hazyhaar/moisson/idgen"
	"github.com/hazyhaar/moisson/kit"
	"github.com/hazyhaar/moisson/record"
)

// CheckpointLister is the read side of the checkpoint store the list
// tool serves from.
type CheckpointLister interface {
	List(ctx context.Context) ([]*checkpoint.Checkpoint, error)
	Resumable(ctx context.Context) ([]*checkpoint.Checkpoint, error)
}

// ProfileSearcher runs full-text queries over harvested profiles.
type ProfileSearcher interface {
	SearchProfiles(ctx context.Context, query string, limit int) ([]*record.SearchResult, error)
}

// MCPStores are the read-side stores behind the query tools. They sit
// outside Deps because the orchestrator itself never reads them.
type MCPStores struct {
	Checkpoints CheckpointLister
	Profiles    ProfileSearcher
}

// RegisterMCP registers the harvest tools on an MCP server. base
// bounds sessions started or resumed through the tools; pass the
// application context, not a per-request one.
func (o *Orchestrator) RegisterMCP(base context.Context, srv *mcp.Server, stores MCPStores) {
	o.registerStartTool(base, srv)
	o.registerStatusTool(srv)
	o.registerPauseTool(srv)
	o.registerResumeTool(base, srv)
	o.registerStopTool(srv)
	o.registerCheckpointsTool(srv, stores.Checkpoints)
	o.registerSearchTool(srv, stores.Profiles)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// mcpCtx tags tool calls so shared log lines show where a request
// came from.
func mcpCtx(ctx context.Context) context.Context {
	ctx = kit.WithTransport(ctx, "mcp")
	return kit.WithRequestID(ctx, idgen.New())
}

// withToolLog wraps an endpoint with per-call logging.
func (o *Orchestrator) withToolLog(tool string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			resp, err := next(ctx, req)
			if err != nil {
				o.logger.Warn("mcp tool failed", "tool", tool, "request_id", kit.GetRequestID(ctx), "error", err)
			} else {
				o.logger.Debug("mcp tool", "tool", tool, "request_id", kit.GetRequestID(ctx))
			}
			return resp, err
		}
	}
}

// --- start ---

func (o *Orchestrator) registerStartTool(base context.Context, srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "moisson_start_harvest",
		Description: "Start a harvest session for a search query. Returns the session id immediately; the session runs in the background.",
		InputSchema: inputSchema(map[string]any{
			"query":                      map[string]any{"type": "string", "description": "Search query to harvest"},
			"mode":                       map[string]any{"type": "string", "description": "Pacing mode: conservative, balanced or fast (default balanced)"},
			"target_profiles":            map[string]any{"type": "integer", "description": "Stop after this many profiles (0 = unbounded)"},
			"time_budget_minutes":        map[string]any{"type": "integer", "description": "Stop after this many minutes (0 = unbounded)"},
			"max_pages":                  map[string]any{"type": "integer", "description": "Pagination cap (default 100)"},
			"requested_concurrency":      map[string]any{"type": "integer", "description": "Worker count override, clamped to the mode bounds"},
			"requested_profile_delay_ms": map[string]any{"type": "integer", "description": "Per-profile delay override in milliseconds, clamped to the mode bounds"},
			"skip_details":               map[string]any{"type": "boolean", "description": "Record and queue candidates without fetching profiles"},
		}, []string{"query"}),
	}

	endpoint := o.withToolLog(tool.Name)(func(_ context.Context, req any) (any, error) {
		opts := req.(*Options)
		// The session has to outlive this tool call.
		id, err := o.Start(base, *opts)
		if err != nil {
			return nil, err
		}
		return map[string]string{"session_id": id, "status": "started"}, nil
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var opts Options
		if err := json.Unmarshal(req.Params.Arguments, &opts); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &opts, EnrichCtx: mcpCtx}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- status ---

type sessionReq struct {
	SessionID string `json:"session_id"`
}

func decodeSessionReq(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r sessionReq
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return nil, errors.New("session_id is required")
	}
	return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpCtx}, nil
}

func sessionIDSchema() map[string]any {
	return inputSchema(map[string]any{
		"session_id": map[string]any{"type": "string", "description": "Harvest session id"},
	}, []string{"session_id"})
}

func (o *Orchestrator) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "moisson_harvest_status",
		Description: "Report a session's progress. Running sessions include live pacing metrics; finished ones come from their checkpoint.",
		InputSchema: sessionIDSchema(),
	}

	endpoint := o.withToolLog(tool.Name)(func(ctx context.Context, req any) (any, error) {
		r := req.(*sessionReq)
		p, err := o.Progress(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		resp := struct {
			Progress *Progress `json:"progress"`
			Metrics  *Metrics  `json:"metrics,omitempty"`
		}{Progress: p}
		if m, err := o.Metrics(r.SessionID); err == nil {
			resp.Metrics = m
		}
		return resp, nil
	})

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSessionReq)
}

// --- pause / resume / stop ---

func (o *Orchestrator) registerPauseTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "moisson_pause_harvest",
		Description: "Pause a running session at its next page boundary. The checkpoint stays resumable.",
		InputSchema: sessionIDSchema(),
	}

	endpoint := o.withToolLog(tool.Name)(func(_ context.Context, req any) (any, error) {
		r := req.(*sessionReq)
		if err := o.Pause(r.SessionID); err != nil {
			return nil, err
		}
		return map[string]string{"session_id": r.SessionID, "status": "pausing"}, nil
	})

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSessionReq)
}

func (o *Orchestrator) registerResumeTool(base context.Context, srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "moisson_resume_harvest",
		Description: "Resume a paused session, or relaunch an interrupted one from its checkpoint.",
		InputSchema: sessionIDSchema(),
	}

	endpoint := o.withToolLog(tool.Name)(func(_ context.Context, req any) (any, error) {
		r := req.(*sessionReq)
		// Resumed sessions outlive the call the same way started ones do.
		if err := o.Resume(base, r.SessionID); err != nil {
			return nil, err
		}
		return map[string]string{"session_id": r.SessionID, "status": "resuming"}, nil
	})

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSessionReq)
}

func (o *Orchestrator) registerStopTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "moisson_stop_harvest",
		Description: "Stop a running session. In-flight work winds down and the final checkpoint is written.",
		InputSchema: sessionIDSchema(),
	}

	endpoint := o.withToolLog(tool.Name)(func(_ context.Context, req any) (any, error) {
		r := req.(*sessionReq)
		if err := o.Stop(r.SessionID); err != nil {
			return nil, err
		}
		return map[string]string{"session_id": r.SessionID, "status": "stopping"}, nil
	})

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSessionReq)
}

// --- checkpoints ---

type listCheckpointsReq struct {
	ResumableOnly bool `json:"resumable_only"`
	Limit         int  `json:"limit"`
}

type checkpointView struct {
	SessionID       string `json:"session_id"`
	Query           string `json:"query"`
	Status          string `json:"status"`
	CurrentPage     int    `json:"current_page"`
	ProfilesScraped int    `json:"profiles_scraped"`
	ProfilesFailed  int    `json:"profiles_failed"`
	Resumable       bool   `json:"resumable"`
	UpdatedAt       int64  `json:"updated_at"`
}

func (o *Orchestrator) registerCheckpointsTool(srv *mcp.Server, cps CheckpointLister) {
	tool := &mcp.Tool{
		Name:        "moisson_list_checkpoints",
		Description: "List session checkpoints, most recently updated first. Set resumable_only to see only sessions that can be picked up again.",
		InputSchema: inputSchema(map[string]any{
			"resumable_only": map[string]any{"type": "boolean", "description": "Only interrupted or paused sessions"},
			"limit":          map[string]any{"type": "integer", "description": "Max entries to return (default all)"},
		}, nil),
	}

	endpoint := o.withToolLog(tool.Name)(func(ctx context.Context, req any) (any, error) {
		r := req.(*listCheckpointsReq)
		var (
			list []*checkpoint.Checkpoint
			err  error
		)
		if r.ResumableOnly {
			list, err = cps.Resumable(ctx)
		} else {
			list, err = cps.List(ctx)
		}
		if err != nil {
			return nil, err
		}
		if r.Limit > 0 && len(list) > r.Limit {
			list = list[:r.Limit]
		}
		views := make([]checkpointView, 0, len(list))
		for _, cp := range list {
			views = append(views, checkpointView{
				SessionID:       cp.SessionID,
				Query:           cp.SearchQuery,
				Status:          cp.Status,
				CurrentPage:     cp.CurrentPage,
				ProfilesScraped: cp.ProfilesScraped,
				ProfilesFailed:  cp.ProfilesFailed,
				Resumable:       checkpoint.CanResume(cp),
				UpdatedAt:       cp.UpdatedAt,
			})
		}
		return map[string]any{"checkpoints": views, "count": len(views)}, nil
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r listCheckpointsReq
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpCtx}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- search ---

type searchReq struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchHit struct {
	ProfileID string  `json:"profile_id"`
	URL       string  `json:"url"`
	Name      string  `json:"name"`
	Snippet   string  `json:"snippet"`
	Rank      float64 `json:"rank"`
}

func (o *Orchestrator) registerSearchTool(srv *mcp.Server, profiles ProfileSearcher) {
	tool := &mcp.Tool{
		Name:        "moisson_search_candidates",
		Description: "Full-text search over harvested profiles, best matches first.",
		InputSchema: inputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Search terms"},
			"limit": map[string]any{"type": "integer", "description": "Max hits to return (default 20)"},
		}, []string{"query"}),
	}

	endpoint := o.withToolLog(tool.Name)(func(ctx context.Context, req any) (any, error) {
		r := req.(*searchReq)
		results, err := profiles.SearchProfiles(ctx, r.Query, r.Limit)
		if err != nil {
			return nil, err
		}
		hits := make([]searchHit, 0, len(results))
		for _, res := range results {
			hits = append(hits, searchHit{
				ProfileID: res.ProfileID,
				URL:       res.URL,
				Name:      res.Name,
				Snippet:   snippet(res.Markdown, 240),
				Rank:      res.Rank,
			})
		}
		return map[string]any{"hits": hits, "count": len(hits)}, nil
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r searchReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if strings.TrimSpace(r.Query) == "" {
			return nil, errors.New("query is required")
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpCtx}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// snippet trims markdown content to a rune budget on a word boundary.
func snippet(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	cut := string(r[:max])
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
