package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/avocetlabs/voicewidget/pkg/knowledge"
	"github.com/avocetlabs/voicewidget/pkg/wire"
)

// Tool is a function the agent can invoke mid-conversation.
type Tool struct {
	// Name is the unique identifier the model calls the tool by.
	Name string

	// Description tells the model what the tool does and when to use it.
	Description string

	// Parameters is the JSON schema for the tool's arguments.
	Parameters map[string]any

	// Handler executes the call. Failures are reported back to the model
	// as structured output, never surfaced to the user directly.
	Handler func(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// ToolResult is the outcome of one tool invocation, serialized back to the
// model as the function output.
type ToolResult struct {
	Success bool     `json:"success"`
	Answer  string   `json:"answer,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Executor dispatches model-initiated function calls to registered tools.
type Executor struct {
	tools   map[string]Tool
	order   []string
	timeout time.Duration
	logger  *slog.Logger
}

// DefaultToolTimeout bounds a single tool invocation.
const DefaultToolTimeout = 20 * time.Second

// NewExecutor creates an executor with the given tools.
func NewExecutor(logger *slog.Logger, tools ...Tool) *Executor {
	e := &Executor{
		tools:   make(map[string]Tool, len(tools)),
		timeout: DefaultToolTimeout,
		logger:  logger,
	}
	for _, t := range tools {
		e.Register(t)
	}
	return e
}

// Register adds or replaces a tool.
func (e *Executor) Register(t Tool) {
	if _, exists := e.tools[t.Name]; !exists {
		e.order = append(e.order, t.Name)
	}
	e.tools[t.Name] = t
}

// Declarations returns the wire-format tool declarations to advertise in the
// session configuration, in registration order.
func (e *Executor) Declarations() []wire.ToolDecl {
	decls := make([]wire.ToolDecl, 0, len(e.order))
	for _, name := range e.order {
		t := e.tools[name]
		decls = append(decls, wire.ToolDecl{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return decls
}

// Execute runs a named tool against raw argument JSON and returns the result
// to send back to the model. Unknown names and malformed arguments produce a
// failure result rather than an error; the conversation must continue either
// way.
func (e *Executor) Execute(ctx context.Context, name, argsJSON string) *ToolResult {
	tool, ok := e.tools[name]
	if !ok {
		e.logger.Warn("unknown tool requested", "tool", name)
		return &ToolResult{Success: false, Error: fmt.Sprintf("unknown function %q", name)}
	}

	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			e.logger.Warn("malformed tool arguments", "tool", name, "error", err)
			return &ToolResult{Success: false, Error: "arguments were not valid JSON"}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Handler(ctx, args)
	if err != nil {
		e.logger.Error("tool execution failed", "tool", name, "error", err,
			"duration", time.Since(start))
		return &ToolResult{Success: false, Error: err.Error()}
	}
	e.logger.Debug("tool executed", "tool", name, "duration", time.Since(start))
	return result
}

// Output serializes a result as the function output payload.
func (r *ToolResult) Output() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"internal serialization failure"}`
	}
	return string(b)
}

// KnowledgeSearchTool builds the knowledge lookup tool over the chat
// backend client.
func KnowledgeSearchTool(kc *knowledge.Client) Tool {
	return Tool{
		Name: "search_knowledge",
		Description: "Search the business knowledge base for facts about " +
			"products, hours, policies, and services. Use this whenever the " +
			"user asks something factual about the business.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{
					"type":        "string",
					"description": "The user's question, phrased as a standalone query",
				},
			},
			"required": []string{"question"},
		},
		Handler: func(ctx context.Context, args map[string]any) (*ToolResult, error) {
			question, _ := args["question"].(string)
			answer, err := kc.Lookup(ctx, question)
			if err != nil {
				return nil, err
			}
			result := &ToolResult{Success: true, Answer: answer.Text}
			for _, l := range answer.Links {
				result.Sources = append(result.Sources, l.URL)
			}
			return result, nil
		},
	}
}
