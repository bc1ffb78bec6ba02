package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/stratctx/internal/search"
	"github.com/kalambet/stratctx/internal/sessionctx"
)

const maxToolResults = 50

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Sessions           Sessions
	Search             Searcher
	DefaultSessionType string
	Version            string
}

// NewMCPServer creates an MCP server exposing session context and search tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.DefaultSessionType == "" {
		deps.DefaultSessionType = "strategic_leadership"
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"stratctx",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("stratctx persists strategic conversation context across restarts and searches decisions, stakeholders, initiatives and meetings."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_context",
			mcp.WithDescription("Search executive sessions, stakeholder profiles, initiatives, platform metrics and meetings by meaning."),
			mcp.WithString("query", mcp.Description("Natural-language query"), mcp.Required()),
			mcp.WithString("search_type", mcp.Description("decision_context, stakeholder_intelligence, initiative_similarity, strategic_themes or meeting_intelligence")),
			mcp.WithNumber("max_results", mcp.Description("Maximum results (default 10)")),
			mcp.WithNumber("min_relevance", mcp.Description("Relevance floor between 0 and 1 (default 0)")),
			mcp.WithString("stakeholder_key", mcp.Description("Restrict to one stakeholder")),
			mcp.WithNumber("time_range_days", mcp.Description("Only rows from the last N days")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("find_strategic_themes",
			mcp.WithDescription("Find initiatives, platform metrics and executive sessions related to a theme."),
			mcp.WithString("theme", mcp.Description("Theme to look for"), mcp.Required()),
			mcp.WithNumber("min_relevance", mcp.Description("Relevance floor (default 0.4)")),
		),
		mcpThemes(deps),
	)

	s.AddTool(
		mcp.NewTool("start_session",
			mcp.WithDescription("Start a new session and return its id."),
			mcp.WithString("session_type", mcp.Description("Session type label")),
		),
		mcpStartSession(deps),
	)

	s.AddTool(
		mcp.NewTool("update_session_context",
			mcp.WithDescription("Merge a partial context update into a session."),
			mcp.WithString("session_id", mcp.Required()),
			mcp.WithString("update", mcp.Description("JSON object with any of active_personas, stakeholder_context, strategic_initiatives_context, executive_context, roi_discussions_context, coalition_mapping_context, conversation_thread, stakeholder_mentions, strategic_topics, decisions_made"), mcp.Required()),
			mcp.WithString("scoring", mcp.Description("activity (default) or presence")),
		),
		mcpUpdateSession(deps),
	)

	s.AddTool(
		mcp.NewTool("backup_session",
			mcp.WithDescription("Rebuild a session's context from recent history and save it."),
			mcp.WithString("session_id", mcp.Required()),
		),
		mcpBackupSession(deps),
	)

	s.AddTool(
		mcp.NewTool("end_session",
			mcp.WithDescription("Mark a session as ended."),
			mcp.WithString("session_id", mcp.Required()),
		),
		mcpEndSession(deps),
	)

	s.AddTool(
		mcp.NewTool("recover_session",
			mcp.WithDescription("Check for a recent interrupted session and describe what context was recovered or is missing."),
		),
		mcpRecoverSession(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"sessions://recent",
			"Recent Sessions",
			mcp.WithResourceDescription("Sessions started in the last 24 hours"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		t := search.DecisionContext
		if name := req.GetString("search_type", ""); name != "" {
			if t, err = search.ParseSearchType(name); err != nil {
				return mcpError(err.Error()), nil
			}
		}
		maxResults := req.GetInt("max_results", 10)
		if maxResults <= 0 {
			maxResults = 10
		}
		if maxResults > maxToolResults {
			maxResults = maxToolResults
		}

		results := deps.Search.Search(ctx, search.Query{
			Text:         text,
			Type:         t,
			MaxResults:   maxResults,
			MinRelevance: req.GetFloat("min_relevance", 0),
			Filters: search.Filters{
				StakeholderKey: req.GetString("stakeholder_key", ""),
				TimeRangeDays:  req.GetInt("time_range_days", 0),
			},
			IncludeMetadata: true,
		})
		return mcpJSON(results)
	}
}

func mcpThemes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		theme, err := req.RequireString("theme")
		if err != nil {
			return mcpError("theme is required"), nil
		}
		return mcpJSON(deps.Search.FindStrategicThemes(ctx, theme, req.GetFloat("min_relevance", 0.4)))
	}
}

func mcpStartSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionType := req.GetString("session_type", deps.DefaultSessionType)
		id, err := deps.Sessions.StartSession(ctx, sessionType)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start session: %v", err)), nil
		}
		return mcpText(id), nil
	}
}

func mcpUpdateSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		raw, err := req.RequireString("update")
		if err != nil {
			return mcpError("update is required"), nil
		}
		var u sessionctx.ContextUpdate
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&u); err != nil {
			return mcpError(fmt.Sprintf("invalid update JSON: %v", err)), nil
		}
		if u.Scoring, err = sessionctx.ParseScoring(req.GetString("scoring", "")); err != nil {
			return mcpError(err.Error()), nil
		}
		if !deps.Sessions.UpdateSessionContext(ctx, id, u) {
			return mcpError(fmt.Sprintf("session %s was not updated", id)), nil
		}
		quality, _ := deps.Sessions.SessionQuality(ctx, id)
		return mcpText(fmt.Sprintf("Updated session %s (quality %.2f)", id, quality)), nil
	}
}

func mcpBackupSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		if !deps.Sessions.BackupSessionContext(ctx, id) {
			return mcpError(fmt.Sprintf("backup of session %s failed", id)), nil
		}
		quality, _ := deps.Sessions.SessionQuality(ctx, id)
		return mcpText(fmt.Sprintf("Backed up session %s (quality %.2f)", id, quality)), nil
	}
}

func mcpEndSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		if !deps.Sessions.EndSession(ctx, id) {
			return mcpError(fmt.Sprintf("could not end session %s", id)), nil
		}
		return mcpText(fmt.Sprintf("Ended session %s", id)), nil
	}
}

func mcpRecoverSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Sessions.RecoverSession(ctx))
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sessions := deps.Sessions.GetRecentSessions(ctx, 24)
		if sessions == nil {
			sessions = []sessionctx.SessionSummary{}
		}
		b, err := json.Marshal(sessions)
		if err != nil {
			return nil, fmt.Errorf("marshalling recent sessions: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	if string(b) == "null" {
		b = []byte("[]")
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
