package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/crucible/internal/app"
	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/submission"
)

// maxOutput bounds tool result text.
const maxOutput = 4000

func main() {
	// stdout belongs to the MCP protocol; the app logs to stderr.
	a, err := app.Open(context.Background(), os.Getenv("CRUCIBLE_CONFIG"), "code-runner")
	if err != nil {
		fmt.Fprintf(os.Stderr, "code-runner: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	s := server.NewMCPServer("crucible-code-runner", "0.1.0")
	registerTools(s, a.Service)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
	}
}

func registerTools(s *server.MCPServer, svc *submission.Service) {
	langs := strings.Join(svc.Languages(), ", ")

	s.AddTool(mcp.Tool{
		Name:        "code_submit",
		Description: fmt.Sprintf("Execute code in a Docker sandbox and return its output. Supported languages: %s.", langs),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"language": map[string]any{
					"type":        "string",
					"description": "Programming language (" + langs + ")",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to execute",
				},
				"wait_seconds": map[string]any{
					"type":        "number",
					"description": "How long to wait for the result before returning the submission id (default 30, 0 returns immediately)",
				},
			},
			Required: []string{"language", "code"},
		},
	}, submitHandler(svc))

	s.AddTool(mcp.Tool{
		Name:        "code_status",
		Description: "Get the status and output of a previous code submission.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"submission_id": map[string]any{
					"type":        "string",
					"description": "Submission id returned by code_submit",
				},
			},
			Required: []string{"submission_id"},
		},
	}, statusHandler(svc))
}

func submitHandler(svc *submission.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			return errResult("error: invalid arguments"), nil
		}

		language, _ := args["language"].(string)
		code, _ := args["code"].(string)
		wait := 30 * time.Second
		if v, ok := args["wait_seconds"].(float64); ok && v >= 0 {
			wait = time.Duration(v * float64(time.Second))
		}

		sub, err := svc.Submit(ctx, language, code)
		if err != nil {
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}
		if wait == 0 {
			return textResult(fmt.Sprintf("submitted %s, status %s", sub.ID, sub.Status), false), nil
		}

		wctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		view, err := svc.Wait(wctx, sub.ID, 500*time.Millisecond)
		if errors.Is(err, context.DeadlineExceeded) && view != nil {
			return textResult(fmt.Sprintf("submission %s still %s, check again with code_status", sub.ID, view.Status), false), nil
		}
		if err != nil {
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}
		return viewResult(view), nil
	}
}

func statusHandler(svc *submission.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		id, _ := args["submission_id"].(string)
		if id == "" {
			return errResult("error: 'submission_id' is required"), nil
		}

		view, err := svc.Status(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return errResult(fmt.Sprintf("error: submission %s not found", id)), nil
		}
		if err != nil {
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}
		return viewResult(view), nil
	}
}

func viewResult(view *submission.StatusView) *mcp.CallToolResult {
	var output strings.Builder
	fmt.Fprintf(&output, "submission %s: %s\n", view.SubmissionID, view.Status)
	if view.Output != nil {
		output.WriteString(*view.Output)
	}

	text := output.String()
	if len(text) > maxOutput {
		cut := maxOutput
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "\n... (output truncated)"
	}
	return textResult(text, view.Status == storage.StatusError)
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: isError,
	}
}

func errResult(text string) *mcp.CallToolResult {
	return textResult(text, true)
}
