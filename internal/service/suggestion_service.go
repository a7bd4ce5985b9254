package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/toolchest-labs/toolchest/internal/domain/event"
	"github.com/toolchest-labs/toolchest/internal/domain/tool"
	"github.com/toolchest-labs/toolchest/internal/domain/workflow"
	"github.com/toolchest-labs/toolchest/internal/port/outbound"
)

// maxSuggestions caps how many workflow suggestions one request yields.
const maxSuggestions = 3

// ToolLister is the slice of the tool registry the suggestion service
// needs: enumerate the tools a workflow could compose.
type ToolLister interface {
	ListTools(ctx context.Context, filter tool.Filter) ([]*tool.Tool, error)
}

// SuggestionRequest asks for workflow suggestions for a task. When
// AvailableTools is empty the service enumerates the registry itself.
type SuggestionRequest struct {
	Task           string        `json:"task"`
	AvailableTools []ToolSummary `json:"availableTools,omitempty"`
}

// ToolSummary is the slice of a tool the suggestion prompt embeds.
type ToolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SuggestionService proposes workflow skeletons by asking the
// completion model to compose the available tools. It reads the
// registry's listing and never mutates it. Model responses are parsed
// best-effort: blocks that do not match the requested shape are
// dropped, as is any suggestion referencing a tool the registry does
// not have.
type SuggestionService struct {
	completer outbound.CompletionClient
	tools     ToolLister
	recorder  *ExecutionRecorder
	logger    *slog.Logger
}

// NewSuggestionService creates a SuggestionService. The recorder may
// be nil.
func NewSuggestionService(completer outbound.CompletionClient, tools ToolLister, recorder *ExecutionRecorder, logger *slog.Logger) *SuggestionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SuggestionService{
		completer: completer,
		tools:     tools,
		recorder:  recorder,
		logger:    logger,
	}
}

// Suggest returns up to three ranked workflow suggestions for the
// task. An error means the model was unreachable or unconfigured;
// an unusable model response yields an empty slice instead.
func (s *SuggestionService) Suggest(ctx context.Context, req SuggestionRequest) ([]workflow.Suggestion, error) {
	if s.completer == nil {
		return nil, ErrLLMNotConfigured
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		return nil, fmt.Errorf("task description is empty")
	}

	summaries := req.AvailableTools
	if len(summaries) == 0 && s.tools != nil {
		listed, err := s.tools.ListTools(ctx, tool.Filter{})
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		summaries = make([]ToolSummary, 0, len(listed))
		for _, t := range listed {
			summaries = append(summaries, ToolSummary{Name: t.Name, Description: t.Description})
		}
	}
	if len(summaries) == 0 {
		// Nothing to compose; not worth a model call.
		return nil, nil
	}

	response, err := s.completer.Complete(ctx, suggestionPrompt(task, summaries))
	if err != nil {
		return nil, fmt.Errorf("suggest workflows: %w", err)
	}

	available := make(map[string]bool, len(summaries))
	for _, t := range summaries {
		available[normalizeToolName(t.Name)] = true
	}

	suggestions := filterSuggestions(parseSuggestions(response), available)
	s.emit(event.KindSuggestionServed, task, strconv.Itoa(len(suggestions)))
	s.logger.Debug("workflow suggestions served",
		"task_len", len(task),
		"tools", len(summaries),
		"suggestions", len(suggestions))
	return suggestions, nil
}

// suggestionPrompt builds the suggestion prompt. The response contract
// is a rigid line format so parsing stays plain string matching.
func suggestionPrompt(task string, tools []ToolSummary) string {
	var b strings.Builder
	b.WriteString("Compose workflows for this task:\n\n")
	b.WriteString(task)
	b.WriteString("\n\nAvailable tools:\n")
	for _, t := range tools {
		b.WriteString("- ")
		b.WriteString(t.Name)
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(t.Description)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nPropose up to 3 workflows, best first, using ONLY the tools listed above.\n")
	b.WriteString("Describe each workflow in exactly this format, blocks separated by blank lines:\n\n")
	b.WriteString("Workflow: <short name>\n")
	b.WriteString("Description: <one sentence>\n")
	b.WriteString("Steps: <tool> | <what this step does>; <tool> | <what this step does>\n")
	b.WriteString("Confidence: <0.0 to 1.0>\n")
	b.WriteString("Reasoning: <why this composition fits the task>\n")
	return b.String()
}

// parseSuggestions extracts suggestion blocks from a model response.
// A block opens at each "Workflow:" line; blocks missing a name or
// steps are dropped without error.
func parseSuggestions(response string) []workflow.Suggestion {
	var out []workflow.Suggestion
	var cur *workflow.Suggestion

	flush := func() {
		if cur != nil && cur.Name != "" && len(cur.Steps) > 0 {
			out = append(out, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(response, "\n") {
		if value, ok := suggestionField(line, "workflow:"); ok {
			flush()
			cur = &workflow.Suggestion{Name: value}
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case fieldInto(line, "description:", &cur.Description):
		case fieldInto(line, "reasoning:", &cur.Reasoning):
		default:
			if value, ok := suggestionField(line, "steps:"); ok {
				cur.Steps = parseSuggestedSteps(value)
			} else if value, ok := suggestionField(line, "confidence:"); ok {
				if f, err := strconv.ParseFloat(value, 64); err == nil {
					cur.Confidence = clamp01(f)
				}
			}
		}
	}
	flush()
	return out
}

// suggestionField matches a "Field: value" line case-insensitively,
// tolerating list numbering like "1." before the field name.
func suggestionField(line, field string) (string, bool) {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "0123456789.)# ")
	if len(s) < len(field) || !strings.EqualFold(s[:len(field)], field) {
		return "", false
	}
	return strings.TrimSpace(s[len(field):]), true
}

func fieldInto(line, field string, dst *string) bool {
	value, ok := suggestionField(line, field)
	if ok {
		*dst = value
	}
	return ok
}

// parseSuggestedSteps splits "tool | description; tool | description".
func parseSuggestedSteps(raw string) []workflow.SuggestedStep {
	var steps []workflow.SuggestedStep
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, desc, _ := strings.Cut(part, "|")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		steps = append(steps, workflow.SuggestedStep{
			ToolName:    name,
			Description: strings.TrimSpace(desc),
		})
	}
	return steps
}

// filterSuggestions drops suggestions that reference unknown tools and
// caps the result. Dropped suggestions are never repaired.
func filterSuggestions(suggestions []workflow.Suggestion, available map[string]bool) []workflow.Suggestion {
	out := make([]workflow.Suggestion, 0, maxSuggestions)
	for _, sug := range suggestions {
		if !knownTools(sug, available) {
			continue
		}
		out = append(out, sug)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

func knownTools(sug workflow.Suggestion, available map[string]bool) bool {
	for _, step := range sug.Steps {
		if !available[normalizeToolName(step.ToolName)] {
			return false
		}
	}
	return true
}

// normalizeToolName folds case and surrounding space so a model's
// casing drift does not reject an otherwise valid suggestion.
func normalizeToolName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// emit records an activity event when a recorder is wired.
func (s *SuggestionService) emit(kind, subject, detail string) {
	if s.recorder == nil {
		return
	}
	if len(subject) > 128 {
		subject = subject[:128]
	}
	s.recorder.Emit(kind, subject, detail)
}
