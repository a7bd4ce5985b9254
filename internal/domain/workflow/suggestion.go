package workflow

// Suggestion is an LLM-proposed workflow skeleton: an ordered list of
// tool invocations with prose descriptions. It is advisory only and is
// never saved as a workflow without the caller's say-so.
type Suggestion struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Steps       []SuggestedStep `json:"steps"`
	// Confidence is the model's self-reported fit, clamped to [0, 1].
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// SuggestedStep names a tool and describes, in prose, what the step
// should do with it.
type SuggestedStep struct {
	ToolName    string `json:"toolName"`
	Description string `json:"description,omitempty"`
}
