// Package mcp exposes the research engine as a Model Context Protocol server
// so MCP-capable hosts can call deep research as a tool.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/deepresearch/pkg/logging"
	"github.com/sweetpotato0/deepresearch/quality"
	"github.com/sweetpotato0/deepresearch/research"
	"github.com/sweetpotato0/deepresearch/store"
)

// NewServer builds an MCP server around the engine. The archive is optional;
// when present, completed sessions are saved and the research_history tool is
// registered.
func NewServer(engine *research.Engine, archive store.Store) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "deepresearch",
		Version: "0.1.0",
		Title:   "deep research server",
	}, nil)

	addResearchTool(server, engine, archive)
	if archive != nil {
		addHistoryTool(server, archive)
	}
	return server
}

func addResearchTool(server *mcp.Server, engine *research.Engine, archive store.Store) {
	type args struct {
		Question       string  `json:"question" jsonschema:"The research question to investigate"`
		InitialQueries int     `json:"initial_queries,omitempty" jsonschema:"Initial search query count (1-10, default 3)"`
		MaxLoops       int     `json:"max_loops,omitempty" jsonschema:"Research loop budget (1-10, default 2)"`
		FloorTier      string  `json:"floor_tier,omitempty" jsonschema:"Optional credibility floor: high or medium"`
		FloorScore     float64 `json:"floor_score,omitempty" jsonschema:"Optional composite score floor in (0,1]"`
	}
	logger := logging.WithComponent("mcp_server")

	mcp.AddTool(server, &mcp.Tool{
		Name:        "deep_research",
		Description: "Run an iterative web research session and return a cited answer",
	}, func(ctx context.Context, req *mcp.CallToolRequest, a args) (*mcp.CallToolResult, any, error) {
		final, err := engine.Run(ctx, research.Request{
			Question:       a.Question,
			InitialQueries: a.InitialQueries,
			MaxLoops:       a.MaxLoops,
			FloorTier:      quality.Tier(strings.ToLower(strings.TrimSpace(a.FloorTier))),
			FloorScore:     a.FloorScore,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("research failed: %w", err)
		}

		if archive != nil {
			if err := archive.Save(ctx, store.NewRecord(final)); err != nil {
				logger.Warn("failed to archive session", "error", err)
			}
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: renderAnswer(final)},
			},
		}, final, nil
	})
}

func addHistoryTool(server *mcp.Server, archive store.Store) {
	type args struct {
		Query string `json:"query,omitempty" jsonschema:"Filter past sessions by question text; empty lists everything"`
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "research_history",
		Description: "List archived research sessions, newest first",
	}, func(ctx context.Context, req *mcp.CallToolRequest, a args) (*mcp.CallToolResult, any, error) {
		records, err := archive.Search(ctx, a.Query)
		if err != nil {
			return nil, nil, fmt.Errorf("history lookup failed: %w", err)
		}
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return nil, nil, fmt.Errorf("encode history: %w", err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: string(data)},
			},
		}, records, nil
	})
}

// renderAnswer formats the final answer with its source list for text-only
// MCP hosts; structured hosts get the FinalAnswer as the typed result.
func renderAnswer(final *research.FinalAnswer) string {
	var b strings.Builder
	b.WriteString(final.Answer)
	if len(final.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, src := range final.Sources {
			fmt.Fprintf(&b, "[S%d] %s - %s\n", src.Citation, src.Title, src.URL)
		}
	}
	if final.Forced {
		fmt.Fprintf(&b, "\nNote: research ended early (%s).\n", final.ForcedReason)
	}
	return b.String()
}
