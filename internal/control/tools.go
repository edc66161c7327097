// Package control exposes the session over two websocket surfaces: an MCP
// tool server for driving the call, and a JSON event feed for observers.
package control

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/call-voice-lab/internal/call"
	"github.com/call-voice-lab/internal/logging"
)

// Server registers the call-control tools on an MCP server and accepts
// websocket MCP connections.
type Server struct {
	session  *call.Session
	mcp      *mcp.Server
	upgrader websocket.Upgrader
}

type configureArgs struct {
	AgentName           string `json:"agent_name"`
	ProductName         string `json:"product_name"`
	ProductContext      string `json:"product_context,omitempty"`
	CohortName          string `json:"cohort_name,omitempty"`
	VoiceProfile        string `json:"voice_profile"`
	SilenceTimeoutMs    int    `json:"silence_timeout_ms,omitempty"`
	InactivityTimeoutMs int    `json:"inactivity_timeout_ms,omitempty"`
}

type submitTextArgs struct {
	Text string `json:"text"`
}

type emptyArgs struct{}

type sessionStatus struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Turns     int    `json:"turns"`
}

func NewServer(session *call.Session, version string) *Server {
	s := &Server{
		session: session,
		mcp:     mcp.NewServer(&mcp.Implementation{Name: "callsim", Version: version}, nil),
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "call.configure",
		Description: "Set the scenario configuration for the next call.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args configureArgs) (*mcp.CallToolResult, sessionStatus, error) {
		cfg := call.Config{
			AgentName:      args.AgentName,
			ProductName:    args.ProductName,
			ProductContext: args.ProductContext,
			CohortName:     args.CohortName,
			VoiceProfile:   args.VoiceProfile,
		}
		if args.SilenceTimeoutMs > 0 {
			cfg.SilenceTimeout = time.Duration(args.SilenceTimeoutMs) * time.Millisecond
		}
		if args.InactivityTimeoutMs > 0 {
			cfg.InactivityTimeout = time.Duration(args.InactivityTimeoutMs) * time.Millisecond
		}
		s.session.Configure(cfg)
		return nil, s.status(), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "call.start",
		Description: "Validate the configuration and begin the call.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, sessionStatus, error) {
		s.session.Start()
		return nil, s.status(), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "call.submit_text",
		Description: "Submit typed user text; during agent speech this acts as a barge-in.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args submitTextArgs) (*mcp.CallToolResult, sessionStatus, error) {
		s.session.SubmitUserText(args.Text)
		return nil, s.status(), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "call.end",
		Description: "End the call and assemble the recording.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, sessionStatus, error) {
		s.session.EndCall()
		return nil, s.status(), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "call.reset",
		Description: "Abandon the current call and return to the configuring state.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, sessionStatus, error) {
		s.session.Reset()
		return nil, s.status(), nil
	})

	return s
}

func (s *Server) status() sessionStatus {
	return sessionStatus{
		SessionID: s.session.ID,
		State:     s.session.State().String(),
		Turns:     len(s.session.Turns()),
	}
}

// HandleWS upgrades an HTTP request and serves MCP over the socket until
// the client disconnects.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("control: ws upgrade failed", "err", err)
		return
	}
	t := NewWebSocketTransport(conn)
	go func() {
		sess, err := s.mcp.Connect(context.Background(), t, nil)
		if err != nil {
			logging.Errorw("control: mcp connect error", "err", err)
			_ = conn.Close()
			return
		}
		if err := sess.Wait(); err != nil {
			logging.Infow("control: mcp session ended with error", "err", err)
		} else {
			logging.Infow("control: mcp session ended")
		}
	}()
}
