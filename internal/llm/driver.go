package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chadiek/receptionist/internal/model"
)

// FallbackReply is emitted when the iteration budget is exhausted or
// the model cannot be reached after retry.
const FallbackReply = "I'm sorry, I'm having trouble understanding — could you repeat that?"

// systemIdentity is the assistant's base system prompt. Business
// context (if any) is appended by the caller before the first turn.
const systemIdentity = `You are a professional voice receptionist. Your job is to:
1. Identify who is calling and why.
2. Search for relevant context about the caller.
3. Provide helpful, professional, warm, and concise responses.

When a caller introduces themselves or states their purpose:
- Use search_contacts to look up the caller if they give their name.
- Use search_emails to find relevant context about their topic.`

// toolSchemas holds the search_contacts, search_emails, and
// generate_response tools, exposed to the model exactly as spec.md
// §4.C6 names them.
var toolSchemas = []ToolSchema{
	newToolSchema("search_contacts", "Search contacts by name to find information about a person", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "description": "The name of the person to search for"},
		},
		"required": []string{"name"},
	}),
	newToolSchema("search_emails", "Search emails for relevant context about a topic or person", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The search query to find relevant emails"},
		},
		"required": []string{"query"},
	}),
	newToolSchema("generate_response", "Terminate the turn with the text to speak to the caller", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reply": map[string]any{"type": "string", "description": "The text to speak"},
		},
		"required": []string{"reply"},
	}),
}

func newToolSchema(name, desc string, params any) ToolSchema {
	var s ToolSchema
	s.Type = "function"
	s.Function.Name = name
	s.Function.Description = desc
	s.Function.Parameters = params
	return s
}

// Retriever is the subset of the retrieval engine (C4) the driver
// dispatches tool calls to.
type Retriever interface {
	SearchContacts(ctx context.Context, name string) []model.SearchResult
	SearchEmails(ctx context.Context, purposeText string) []model.SearchResult
}

// Driver runs the bounded tool-calling loop per turn.
type Driver struct {
	client          *Client
	retrieval       Retriever
	maxIters        int
	toolCallTimeout time.Duration
	businessInfo    string
}

// NewDriver constructs a Driver. maxIters should be spec.md's
// MAX_TOOL_ITERS = 4; toolCallTimeout should be its TOOL_CALL_TIMEOUT =
// 3s, bounding each individual search_contacts/search_emails
// dispatch independently of the turn's overall MODEL_TURN_TIMEOUT.
func NewDriver(client *Client, retrieval Retriever, maxIters int, toolCallTimeout time.Duration) *Driver {
	return &Driver{client: client, retrieval: retrieval, maxIters: maxIters, toolCallTimeout: toolCallTimeout}
}

// SetBusinessInfo appends free-form business context (CEO/company name
// and description) to the system prompt, mirroring
// original_source/reasoning_engine.py's business-config injection.
func (d *Driver) SetBusinessInfo(info string) { d.businessInfo = info }

// dedupKey identifies a (tool, arguments) pair within one turn.
type dedupKey struct {
	tool string
	args string
}

// RunTurn builds the prompt from history and the latest transcript,
// invokes the model with tools enabled, dispatches any non-terminal
// tool calls to the Retriever, and returns the terminal reply text.
// Stops on generate_response or when maxIters is exceeded, in which
// case it returns FallbackReply. Identical (tool, arguments) pairs
// within this turn execute at most once; their cached result is
// replayed on a repeat call.
func (d *Driver) RunTurn(ctx context.Context, history []Message, transcript string) (string, error) {
	system := systemIdentity
	if d.businessInfo != "" {
		system += "\n\n" + d.businessInfo
	}

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: transcript})

	seen := make(map[dedupKey]string)

	for iter := 0; iter < d.maxIters; iter++ {
		resp, err := d.client.completeWithRetry(ctx, chatCompletionsRequest{
			Messages:   messages,
			Tools:      toolSchemas,
			ToolChoice: "auto",
			MaxTokens:  500,
		})
		if err != nil {
			return FallbackReply, err
		}

		if len(resp.ToolCalls) == 0 {
			// Model replied directly without a terminal generate_response
			// call; treat free-text content as the reply, matching
			// original_source's plain generate_response fallback path.
			if resp.Content != "" {
				return resp.Content, nil
			}
			return FallbackReply, nil
		}

		messages = append(messages, resp)

		var terminalReply string
		terminal := false
		for _, tc := range resp.ToolCalls {
			args := parseArgs(tc.Function.Arguments)
			key := dedupKey{tool: tc.Function.Name, args: tc.Function.Arguments}

			var result string
			if cached, ok := seen[key]; ok {
				result = cached
			} else {
				result = d.dispatchTool(ctx, tc.Function.Name, args)
				seen[key] = result
			}

			if tc.Function.Name == "generate_response" {
				terminal = true
				terminalReply = args["reply"]
				if terminalReply == "" {
					terminalReply = result
				}
			}

			messages = append(messages, Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}

		if terminal {
			return terminalReply, nil
		}
	}

	return FallbackReply, nil
}

// dispatchTool executes one tool call via the Retriever and serializes
// its result for inclusion in the running context. generate_response
// is terminal and has no retrieval side effect. search_contacts and
// search_emails are each bounded by toolCallTimeout independently of
// the turn's own deadline, per spec.md §5's dedicated per-tool-call
// cancellation bound.
func (d *Driver) dispatchTool(ctx context.Context, name string, args map[string]string) string {
	switch name {
	case "search_contacts":
		toolCtx, cancel := context.WithTimeout(ctx, d.toolCallTimeout)
		defer cancel()
		results := d.retrieval.SearchContacts(toolCtx, args["name"])
		return serializeResults(results)
	case "search_emails":
		toolCtx, cancel := context.WithTimeout(ctx, d.toolCallTimeout)
		defer cancel()
		results := d.retrieval.SearchEmails(toolCtx, args["query"])
		return serializeResults(results)
	case "generate_response":
		return args["reply"]
	default:
		return fmt.Sprintf("unknown tool %q", name)
	}
}

func serializeResults(results []model.SearchResult) string {
	if len(results) == 0 {
		return "no results found"
	}
	b, err := json.Marshal(results)
	if err != nil {
		return "no results found"
	}
	return string(b)
}

func parseArgs(raw string) map[string]string {
	args := make(map[string]string)
	if raw == "" {
		return args
	}
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return args
	}
	for k, v := range generic {
		if s, ok := v.(string); ok {
			args[k] = s
		}
	}
	return args
}
