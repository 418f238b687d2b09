// Package mcp exposes skillgate as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/approval"
	"github.com/jingkaihe/skillgate/pkg/knowledge"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/report"
	"github.com/jingkaihe/skillgate/pkg/service"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/jingkaihe/skillgate/pkg/stack"
	"github.com/jingkaihe/skillgate/pkg/version"
)

// Backend is the subset of the service layer the tools call.
type Backend interface {
	Skills(ctx context.Context) ([]skills.Descriptor, error)
	DetectStack(dir string) (stack.Info, error)
	Lessons(target string) ([]knowledge.Lesson, error)
	Verify(ctx context.Context, target string, opts service.VerifyOptions) (*report.VerificationReport, error)
}

const instructions = `skillgate runs verification skills (security audit, log analysis, code
simplification, naming checks) against a project directory and records approved runs as
lessons in the project's knowledge document.

Call detect_stack first to see which skills will apply, run_verification to verify, and
list_lessons to read what earlier approved runs found. Runs started here are auto-approved.`

// Tools holds the tool handlers.
type Tools struct {
	backend Backend
}

// NewServer creates the MCP server with every tool registered.
func NewServer(backend Backend) *server.MCPServer {
	s := server.NewMCPServer(
		"skillgate",
		version.Get().Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	t := &Tools{backend: backend}
	s.AddTool(listSkillsTool(), t.ListSkills)
	s.AddTool(detectStackTool(), t.DetectStack)
	s.AddTool(runVerificationTool(), t.RunVerification)
	s.AddTool(listLessonsTool(), t.ListLessons)
	return s
}

// Serve speaks MCP over in and out until ctx is cancelled.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

func listSkillsTool() mcpgo.Tool {
	return mcpgo.NewTool("list_skills",
		mcpgo.WithDescription("List the verification skills discovered in the skills directory"),
	)
}

func detectStackTool() mcpgo.Tool {
	return mcpgo.NewTool("detect_stack",
		mcpgo.WithDescription("Detect the technology stack, package manager and web frameworks of a project"),
		mcpgo.WithString("target", mcpgo.Description("Project directory, defaults to the server's working directory")),
	)
}

func runVerificationTool() mcpgo.Tool {
	return mcpgo.NewTool("run_verification",
		mcpgo.WithDescription("Run every applicable skill against a project and return the verification report as JSON"),
		mcpgo.WithString("target", mcpgo.Required(), mcpgo.Description("Project directory to verify")),
		mcpgo.WithString("skills", mcpgo.Description("Comma separated glob patterns selecting skills, e.g. 'sec*,log-*'")),
		mcpgo.WithBoolean("record", mcpgo.Description("Append the approved run to the knowledge document")),
	)
}

func listLessonsTool() mcpgo.Tool {
	return mcpgo.NewTool("list_lessons",
		mcpgo.WithDescription("List lessons recorded in the knowledge document, newest first"),
		mcpgo.WithString("target", mcpgo.Description("Project directory whose knowledge document is read")),
		mcpgo.WithNumber("limit", mcpgo.Description("Maximum number of lessons to return")),
	)
}

// ListSkills handles list_skills
func (t *Tools) ListSkills(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	descs, err := t.backend.Skills(ctx)
	if err != nil && !errors.Is(err, skills.ErrRegistryUnavailable) {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	if len(descs) == 0 {
		msg := "no skills discovered"
		if err != nil {
			msg += ": " + err.Error()
		}
		return mcpgo.NewToolResultText(msg), nil
	}
	return jsonResult(descs)
}

// DetectStack handles detect_stack
func (t *Tools) DetectStack(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	info, err := t.backend.DetectStack(stringArg(req, "target"))
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}

// RunVerification handles run_verification
func (t *Tools) RunVerification(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	target := stringArg(req, "target")
	if target == "" {
		return mcpgo.NewToolResultError("target is required"), nil
	}

	var patterns []string
	for _, p := range strings.Split(stringArg(req, "skills"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	record, _ := req.GetArguments()["record"].(bool)

	logger.G(ctx).WithField("target", target).Info("verification requested over MCP")
	r, err := t.backend.Verify(ctx, target, service.VerifyOptions{
		Approver: approval.Auto{Source: "mcp"},
		Patterns: patterns,
		Record:   record,
	})
	if err != nil {
		msg := err.Error()
		if r != nil {
			if data, jerr := json.MarshalIndent(r, "", "  "); jerr == nil {
				msg += "\n\n" + string(data)
			}
		}
		return mcpgo.NewToolResultError(msg), nil
	}
	return jsonResult(r)
}

// ListLessons handles list_lessons
func (t *Tools) ListLessons(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	lessons, err := t.backend.Lessons(stringArg(req, "target"))
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	if limit, ok := req.GetArguments()["limit"].(float64); ok && limit > 0 && int(limit) < len(lessons) {
		lessons = lessons[:int(limit)]
	}
	if len(lessons) == 0 {
		return mcpgo.NewToolResultText("no lessons recorded yet"), nil
	}
	return jsonResult(lessons)
}

func stringArg(req mcpgo.CallToolRequest, name string) string {
	v, _ := req.GetArguments()[name].(string)
	return strings.TrimSpace(v)
}

func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode tool result")
	}
	return mcpgo.NewToolResultText(string(data)), nil
}
