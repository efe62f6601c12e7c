package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tungdtfgw/ccviz/internal/client"
	"github.com/tungdtfgw/ccviz/pkg/types"
)

// Emit command flags
type emitFlags struct {
	server      string
	session     string
	agent       string
	agentType   string
	description string
	result      string
	percent     float64
	tokens      int64
	tool        string
	mcpServer   string
	skill       string
	payload     string
	timeout     time.Duration
}

var emitOpts emitFlags

var emitCmd = &cobra.Command{
	Use:   "emit <event-type>",
	Short: "Post one hook event to a running relay",
	Long: `Post one event to a running relay, exactly as a hook script would.

Event types:
  session:start    --session [--percent]
  session:end      --session
  subagent:start   --session --agent [--agent-type] [--description]
  subagent:stop    --agent [--session] [--result]
  tool:pre         --session --tool [--mcp-server]
  tool:post        --session --tool [--mcp-server]
  skill:use        --session --skill
  context:update   --session --percent [--tokens]
  context:reset    --session [--percent]

--payload sends raw JSON instead of building one from flags.

Examples:
  ccviz emit session:start --session abc123 --percent 12
  ccviz emit tool:pre --session abc123 --tool mcp__github__search --mcp-server github
  ccviz emit context:update --session abc123 --percent 48 --tokens 96000`,
	Args: cobra.ExactArgs(1),
	RunE: runEmit,
}

func init() {
	f := emitCmd.Flags()
	f.StringVar(&emitOpts.server, "server", "", "relay base URL (default $CCVIZ_SERVER)")
	f.StringVar(&emitOpts.session, "session", "", "session id")
	f.StringVar(&emitOpts.agent, "agent", "", "sub-agent id")
	f.StringVar(&emitOpts.agentType, "agent-type", "", "sub-agent type")
	f.StringVar(&emitOpts.description, "description", "", "sub-agent task description")
	f.StringVar(&emitOpts.result, "result", "", "sub-agent result summary")
	f.Float64Var(&emitOpts.percent, "percent", 0, "context used, in percent")
	f.Int64Var(&emitOpts.tokens, "tokens", 0, "context tokens used")
	f.StringVar(&emitOpts.tool, "tool", "", "tool name")
	f.StringVar(&emitOpts.mcpServer, "mcp-server", "", "MCP server, marks the tool call as MCP")
	f.StringVar(&emitOpts.skill, "skill", "", "skill name")
	f.StringVar(&emitOpts.payload, "payload", "", "raw JSON payload")
	f.DurationVar(&emitOpts.timeout, "timeout", 2*time.Second, "request timeout")
	rootCmd.AddCommand(emitCmd)
}

func runEmit(cmd *cobra.Command, args []string) error {
	ev, err := buildEvent(types.EventType(args[0]), emitOpts)
	if err != nil {
		return err
	}

	server := emitOpts.server
	if server == "" {
		server = cfg.Client.Server
	}
	e, err := client.NewEmitter(server, emitOpts.timeout)
	if err != nil {
		return err
	}
	if err := e.Emit(cmd.Context(), ev); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s → %s\n  payload: %s\n", ev.Type, e.Endpoint(), ev.Payload)
	return nil
}

func buildEvent(t types.EventType, f emitFlags) (types.BarEvent, error) {
	if f.payload != "" {
		if !json.Valid([]byte(f.payload)) {
			return types.BarEvent{}, fmt.Errorf("--payload is not valid JSON")
		}
		return types.BarEvent{Type: t, Timestamp: types.NowMillis(), Payload: json.RawMessage(f.payload)}, nil
	}

	needSession := func() error {
		if f.session == "" {
			return fmt.Errorf("--session is required for %s", t)
		}
		return nil
	}

	var payload any
	switch t {
	case types.EvtSessionStart:
		if err := needSession(); err != nil {
			return types.BarEvent{}, err
		}
		payload = types.SessionStartPayload{SessionID: f.session, ContextPercent: f.percent, TokensUsed: f.tokens}

	case types.EvtSessionEnd:
		if err := needSession(); err != nil {
			return types.BarEvent{}, err
		}
		payload = types.SessionEndPayload{SessionID: f.session}

	case types.EvtSubagentStart, types.EvtSubagentStop:
		if f.agent == "" {
			return types.BarEvent{}, fmt.Errorf("--agent is required for %s", t)
		}
		if t == types.EvtSubagentStart {
			if err := needSession(); err != nil {
				return types.BarEvent{}, err
			}
		}
		payload = types.SubagentPayload{
			SessionID:   f.session,
			AgentID:     f.agent,
			AgentType:   f.agentType,
			Description: f.description,
			Result:      f.result,
		}

	case types.EvtToolPre, types.EvtToolPost:
		if err := needSession(); err != nil {
			return types.BarEvent{}, err
		}
		payload = types.ToolPayload{
			SessionID: f.session,
			ToolName:  f.tool,
			IsMcp:     f.mcpServer != "",
			McpServer: f.mcpServer,
		}

	case types.EvtSkillUse:
		if err := needSession(); err != nil {
			return types.BarEvent{}, err
		}
		if f.skill == "" {
			return types.BarEvent{}, fmt.Errorf("--skill is required for %s", t)
		}
		payload = types.SkillPayload{SessionID: f.session, SkillName: f.skill}

	case types.EvtContextUpdate:
		if err := needSession(); err != nil {
			return types.BarEvent{}, err
		}
		payload = types.ContextPayload{SessionID: f.session, Percent: f.percent, Tokens: f.tokens}

	case types.EvtContextReset:
		if err := needSession(); err != nil {
			return types.BarEvent{}, err
		}
		payload = types.ContextResetPayload{SessionID: f.session, Percent: f.percent}

	default:
		return types.BarEvent{}, fmt.Errorf("unknown event type %q (use --payload to send it anyway)", t)
	}

	return types.NewEvent(t, payload)
}
