// Package extractor parses structured review findings out of LLM responses.
package extractor

// ReviewOutput is the JSON contract the review prompt asks providers to emit.
type ReviewOutput struct {
	Summary           string  `json:"summary"`
	Issues            []Issue `json:"issues"`
	OverallAssessment string  `json:"overall_assessment"`
}

// Issue is a single finding reported by the provider
type Issue struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`
	Suggestion  string `json:"suggestion"`
}
