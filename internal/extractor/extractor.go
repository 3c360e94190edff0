package extractor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hollowlog/pragent/internal/loggy"
)

// JSONExtractor extracts structured review data from LLM responses. Models
// are asked for bare JSON but routinely wrap it in prose or code fences, so
// extraction tolerates surrounding text.
type JSONExtractor struct {
	logger *loggy.Logger
}

// NewJSONExtractor creates a new JSONExtractor
func NewJSONExtractor(logger *loggy.Logger) *JSONExtractor {
	return &JSONExtractor{logger: logger}
}

var codeBlockRegex = regexp.MustCompile("```(?:json)?([\\s\\S]*?)```")

// ExtractReviewOutput extracts a ReviewOutput from raw response text
func (e *JSONExtractor) ExtractReviewOutput(content string) (*ReviewOutput, error) {
	jsonContent, err := extractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("extracting JSON: %w", err)
	}

	jsonContent = applyBasicFixes(jsonContent)

	// line_start/line_end arrive as numbers or quoted strings depending on
	// the model, so decode through an intermediate shape
	type intermediateIssue struct {
		Type        string      `json:"type"`
		Severity    string      `json:"severity"`
		Title       string      `json:"title"`
		Description string      `json:"description"`
		LineStart   interface{} `json:"line_start"`
		LineEnd     interface{} `json:"line_end"`
		Suggestion  string      `json:"suggestion"`
	}
	type intermediateOutput struct {
		Summary           string              `json:"summary"`
		Issues            []intermediateIssue `json:"issues"`
		OverallAssessment string              `json:"overall_assessment"`
	}

	var raw intermediateOutput
	if err := json.Unmarshal([]byte(jsonContent), &raw); err != nil {
		e.logger.Debug("failed to unmarshal extracted JSON", "error", err, "length", len(jsonContent))
		return nil, fmt.Errorf("unmarshaling review output: %w", err)
	}

	out := &ReviewOutput{
		Summary:           strings.TrimSpace(raw.Summary),
		OverallAssessment: strings.TrimSpace(raw.OverallAssessment),
		Issues:            make([]Issue, 0, len(raw.Issues)),
	}
	for _, ri := range raw.Issues {
		if ri.Title == "" && ri.Description == "" {
			continue
		}
		out.Issues = append(out.Issues, Issue{
			Type:        ri.Type,
			Severity:    ri.Severity,
			Title:       ri.Title,
			Description: ri.Description,
			LineStart:   parseLineNumber(ri.LineStart),
			LineEnd:     parseLineNumber(ri.LineEnd),
			Suggestion:  ri.Suggestion,
		})
	}

	return out, nil
}

// extractJSON locates the JSON object within an LLM response
func extractJSON(content string) (string, error) {
	// Code-fenced JSON wins
	for _, match := range codeBlockRegex.FindAllStringSubmatch(content, -1) {
		if len(match) > 1 {
			potential := strings.TrimSpace(match[1])
			if strings.HasPrefix(potential, "{") && strings.HasSuffix(potential, "}") {
				return potential, nil
			}
		}
	}

	// Otherwise take the last balanced object in the content; the prompt
	// instructs the model to finish with the JSON
	start := strings.Index(content, "{")
	for start >= 0 {
		if obj, ok := balancedObject(content[start:]); ok {
			if strings.Contains(obj, `"summary"`) || strings.Contains(obj, `"issues"`) {
				return obj, nil
			}
			next := strings.Index(content[start+1:], "{")
			if next < 0 {
				return obj, nil
			}
			start += 1 + next
			continue
		}
		break
	}

	return "", fmt.Errorf("no JSON object found in content")
}

// balancedObject returns the prefix of s that forms a brace-balanced JSON
// object, tracking string literals so braces inside values don't count.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i, ch := range s {
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[:i+1], true
				}
			}
		}
	}
	return "", false
}

var (
	trailingCommaObjRe = regexp.MustCompile(`,\s*\}`)
	trailingCommaArrRe = regexp.MustCompile(`,\s*\]`)
)

// applyBasicFixes repairs the JSON defects models most often produce
func applyBasicFixes(jsonStr string) string {
	result := strings.ReplaceAll(jsonStr, `"issues":null`, `"issues":[]`)
	result = strings.ReplaceAll(result, `"issues": null`, `"issues": []`)
	result = trailingCommaObjRe.ReplaceAllString(result, "}")
	result = trailingCommaArrRe.ReplaceAllString(result, "]")
	return result
}

// parseLineNumber accepts a line number in any of the formats models emit
func parseLineNumber(value interface{}) int {
	switch v := value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if num, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return num
		}
	}
	return 0
}
