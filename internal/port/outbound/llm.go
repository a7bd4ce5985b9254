package outbound

import "context"

// CompletionClient is the outbound port for LLM text completion, used
// for workflow suggestions and tool drafting.
//
// Adapters: llm package.
type CompletionClient interface {
	// Complete sends a prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string) (string, error)
}

// EmbeddingClient is the outbound port for text embedding, used for
// semantic tool search.
//
// Adapters: llm package.
type EmbeddingClient interface {
	// Embed returns the embedding vector for the text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ConditionEvaluator is the outbound port for evaluating workflow
// branch conditions against step outputs.
//
// Adapters: cel package.
type ConditionEvaluator interface {
	// Check compiles the expression without evaluating it. Returns an
	// error when the expression does not compile.
	Check(expression string) error

	// Evaluate runs the expression against the workflow input and the
	// accumulated step outputs and returns the raw result value.
	Evaluate(ctx context.Context, expression string, input map[string]any, steps map[string]any) (any, error)
}
