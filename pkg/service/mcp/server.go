package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/admin"
	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/fragment"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "llm-memory"
	serverVersion = "1.0.0"
)

// Server exposes the memory management operations as MCP tools
type Server struct {
	admin     *admin.UseCase
	fragments *fragment.Provider
	server    *mcp.Server
}

type emptyParams struct{}

type clearParams struct {
	KeepCheckpoint bool `json:"keep_checkpoint,omitempty" jsonschema:"Keep the checkpoint so that only new conversations shape the profile"`
}

type intervalParams struct {
	Interval string `json:"interval" jsonschema:"Poll interval as a Go duration such as 5s or 1m"`
}

type fragmentParams struct {
	Argument string `json:"argument,omitempty" jsonschema:"Fragment argument: auto (profile) or test"`
}

// NewServer creates the MCP server and registers its tools
func NewServer(uc *admin.UseCase, fragments *fragment.Provider) (*Server, error) {
	s := &Server{
		admin:     uc,
		fragments: fragments,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
	}

	emptySchema, err := jsonschema.For[emptyParams](nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build input schema")
	}
	clearSchema, err := jsonschema.For[clearParams](nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build input schema")
	}
	intervalSchema, err := jsonschema.For[intervalParams](nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build input schema")
	}
	fragmentSchema, err := jsonschema.For[fragmentParams](nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build input schema")
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "show_profile",
		Description: "Show the user profile learned from past conversations",
		InputSchema: emptySchema,
	}, s.showProfile)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "clear_profile",
		Description: "Erase the learned user profile",
		InputSchema: clearSchema,
	}, s.clearProfile)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "pause_updates",
		Description: "Stop learning from new conversations until resumed",
		InputSchema: emptySchema,
	}, s.pauseUpdates)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "resume_updates",
		Description: "Resume learning from new conversations",
		InputSchema: emptySchema,
	}, s.resumeUpdates)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "set_update_interval",
		Description: "Change how often the background updater polls the conversation log",
		InputSchema: intervalSchema,
	}, s.setInterval)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_status",
		Description: "Report whether the background updater is running or paused, and when the profile last changed",
		InputSchema: emptySchema,
	}, s.memoryStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "profile_fragment",
		Description: "Return the text that is injected into prompts as the memory fragment",
		InputSchema: fragmentSchema,
	}, s.profileFragment)

	return s, nil
}

// MCP returns the underlying SDK server
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves over stdio until the client disconnects or ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp server failed")
	}
	return nil
}

// Handler serves the tools over the streamable HTTP transport
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func (s *Server) showProfile(ctx context.Context, req *mcp.CallToolRequest, params *emptyParams) (*mcp.CallToolResult, any, error) {
	p, err := s.admin.Show(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNoProfile) {
			return textResult("No profile available."), nil, nil
		}
		return nil, nil, err
	}
	return textResult(p.Content), nil, nil
}

func (s *Server) clearProfile(ctx context.Context, req *mcp.CallToolRequest, params *clearParams) (*mcp.CallToolResult, any, error) {
	keep := params != nil && params.KeepCheckpoint
	if err := s.admin.Clear(ctx, keep); err != nil {
		return nil, nil, err
	}
	return textResult("Profile cleared."), nil, nil
}

func (s *Server) pauseUpdates(ctx context.Context, req *mcp.CallToolRequest, params *emptyParams) (*mcp.CallToolResult, any, error) {
	if err := s.admin.Pause(ctx); err != nil {
		return nil, nil, err
	}
	return textResult("Profile updates paused."), nil, nil
}

func (s *Server) resumeUpdates(ctx context.Context, req *mcp.CallToolRequest, params *emptyParams) (*mcp.CallToolResult, any, error) {
	if err := s.admin.Resume(ctx); err != nil {
		return nil, nil, err
	}
	return textResult("Profile updates resumed."), nil, nil
}

func (s *Server) setInterval(ctx context.Context, req *mcp.CallToolRequest, params *intervalParams) (*mcp.CallToolResult, any, error) {
	if params == nil || params.Interval == "" {
		return nil, nil, goerr.New("interval is required")
	}
	d, err := time.ParseDuration(params.Interval)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "invalid interval", goerr.V("interval", params.Interval))
	}
	if err := s.admin.SetInterval(ctx, d); err != nil {
		return nil, nil, err
	}
	return textResult("Update interval set to " + d.String() + "."), nil, nil
}

// statusView renders durations as text
type statusView struct {
	Active       bool       `json:"active"`
	Paused       bool       `json:"paused"`
	LastUpdateAt *time.Time `json:"last_update_at,omitempty"`
	Checkpoint   string     `json:"checkpoint"`
	Interval     string     `json:"interval"`
	ProfileSize  int        `json:"profile_size"`
}

func (s *Server) memoryStatus(ctx context.Context, req *mcp.CallToolRequest, params *emptyParams) (*mcp.CallToolResult, any, error) {
	status, err := s.admin.Status(ctx)
	if err != nil {
		return nil, nil, err
	}

	data, err := json.MarshalIndent(statusView{
		Active:       status.Active,
		Paused:       status.Paused,
		LastUpdateAt: status.LastUpdateAt,
		Checkpoint:   string(status.Checkpoint),
		Interval:     status.Interval.String(),
		ProfileSize:  status.ProfileSize,
	}, "", "  ")
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal status")
	}
	return textResult(string(data)), nil, nil
}

func (s *Server) profileFragment(ctx context.Context, req *mcp.CallToolRequest, params *fragmentParams) (*mcp.CallToolResult, any, error) {
	arg := fragment.ArgumentAuto
	if params != nil && params.Argument != "" {
		arg = params.Argument
	}
	return textResult(s.fragments.Load(ctx, arg)), nil, nil
}
