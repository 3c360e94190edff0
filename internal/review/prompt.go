package review

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/go-enry/go-enry/v2"

	"github.com/hollowlog/pragent/internal/config"
)

// Templates for building prompts
const systemInstructionTemplate = `You are a senior code reviewer analyzing a {{.Language}} pull request diff. Your **PRIMARY GOAL** is to provide a **VALID JSON response**, even if it includes other text before it. The JSON response **MUST** be a complete, parseable JSON object as your final statement.

Follow this schema **EXACTLY** without adding any additional fields or arrays:

{
  "summary": "Brief findings overview",
  "issues": [
    {
      "type": "bug|security|performance|design|style|complexity|best_practice",
      "severity": "critical|high|medium|low",
      "title": "Issue title",
      "description": "Issue explanation",
      "line_start": 10,
      "line_end": 15,
      "suggestion": "Fix suggestion"
    }
  ],
  "overall_assessment": "Quality assessment"
}

IMPORTANT:
- **ONLY** include the fields specified above (summary, issues, overall_assessment).
- You are reviewing a unified diff, not a complete file. Lines starting with "+" were added, lines starting with "-" were removed, other lines are unchanged context.
- Report issues **ONLY** for added or changed lines; do not flag problems in removed lines or in untouched context.
- Line numbers refer to the new side of the diff, as given by the @@ hunk headers.
- Look for all types of issues including bugs, performance, design, style, complexity, and best practices. Pay special attention to security issues like SQL injection, command injection, hardcoded credentials, etc.
- Choose appropriate severity levels (critical, high, medium, low) based on the issue's impact.

If no issues are found, the JSON response **MUST** be: {"summary": "No issues found", "issues": [], "overall_assessment": "Code is well-written"}.

Provide the **JSON** response as your **LAST** statement, even if you have other text before it.`

const chunkContextTemplate = `## Diff to Review:
{{.FileHeader}}

{{.Content}}
`

const fileHeaderTemplate = `File: {{.Path}} ({{.Language}}, {{.Kind}}{{if gt .Total 1}}, part {{.Index}} of {{.Total}}{{end}})`

// truncationMarker replaces the tail of a single line that alone exceeds
// the chunk budget. Such lines are usually minified or generated content.
const truncationMarker = " …[truncated]"

// bytesPerToken approximates the provider tokenizers well enough for
// budgeting; the exact count does not matter as long as slicing stays
// deterministic.
const bytesPerToken = 4

var (
	systemTmpl     = template.Must(template.New("system").Parse(systemInstructionTemplate))
	chunkTmpl      = template.Must(template.New("chunk").Parse(chunkContextTemplate))
	fileHeaderTmpl = template.Must(template.New("fileHeader").Parse(fileHeaderTemplate))
)

// PromptBuilder slices file diffs into provider-sized chunks and renders
// the prompts submitted for each chunk. Building is a pure function of the
// diff and the configured budget: the same inputs always produce the same
// chunk boundaries and prompt text.
type PromptBuilder struct {
	budgetChars  int
	overlapLines int
}

// NewPromptBuilder creates a prompt builder from review configuration.
func NewPromptBuilder(cfg config.ReviewConfig) *PromptBuilder {
	budget := cfg.InputTokenBudget * bytesPerToken
	if budget <= 0 {
		budget = 8000 * bytesPerToken
	}
	overlap := cfg.OverlapLines
	if overlap < 0 {
		overlap = 0
	}
	return &PromptBuilder{
		budgetChars:  budget,
		overlapLines: overlap,
	}
}

// SystemInstruction renders the provider system prompt for a file.
func (p *PromptBuilder) SystemInstruction(file FileDiff) (string, error) {
	lang := file.Language
	if lang == "" {
		lang = detectLanguage(file.Path)
	}

	var buf bytes.Buffer
	if err := systemTmpl.Execute(&buf, map[string]string{"Language": lang}); err != nil {
		return "", fmt.Errorf("executing system template: %w", err)
	}
	return buf.String(), nil
}

// BuildChunks splits a file's diff into ordered chunks that each fit the
// configured character budget. Every chunk after the first repeats the
// trailing overlap lines of its predecessor. The overlap lines do not
// count against coverage: concatenating each chunk minus its leading
// overlap reconstructs the original diff exactly.
func (p *PromptBuilder) BuildChunks(file FileDiff) []AnalysisChunk {
	if file.Patch == "" {
		return nil
	}

	lines := splitLines(file.Patch)
	for i, line := range lines {
		if len(line) > p.budgetChars {
			keep := p.budgetChars - len(truncationMarker)
			if keep < 0 {
				keep = 0
			}
			// Back off to a rune boundary so the cut never produces
			// invalid UTF-8.
			for keep > 0 && !utf8.RuneStart(line[keep]) {
				keep--
			}
			lines[i] = line[:keep] + truncationMarker
		}
	}

	var chunks []AnalysisChunk
	var cur []string
	curLen := 0
	overlap := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, AnalysisChunk{
			FilePath:     file.Path,
			Index:        len(chunks) + 1,
			DiffText:     strings.Join(cur, "\n"),
			OverlapLines: overlap,
		})
		// Seed the next chunk with trailing context from this one.
		carry := p.overlapLines
		if carry > len(cur) {
			carry = len(cur)
		}
		next := make([]string, carry)
		copy(next, cur[len(cur)-carry:])
		cur = next
		overlap = carry
		curLen = joinedLen(cur)
	}

	for _, line := range lines {
		added := len(line)
		if len(cur) > 0 {
			added++ // joining newline
		}
		if curLen+added > p.budgetChars && len(cur) > overlap {
			flush()
			if len(cur) > 0 {
				added = len(line) + 1
			} else {
				added = len(line)
			}
		}
		cur = append(cur, line)
		curLen += added
	}
	if len(cur) > overlap || len(chunks) == 0 {
		chunks = append(chunks, AnalysisChunk{
			FilePath:     file.Path,
			Index:        len(chunks) + 1,
			DiffText:     strings.Join(cur, "\n"),
			OverlapLines: overlap,
		})
	}

	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

// ChunkPrompt renders the user prompt for one chunk.
func (p *PromptBuilder) ChunkPrompt(file FileDiff, chunk AnalysisChunk) (string, error) {
	lang := file.Language
	if lang == "" {
		lang = detectLanguage(file.Path)
	}

	var header bytes.Buffer
	err := fileHeaderTmpl.Execute(&header, map[string]interface{}{
		"Path":     file.Path,
		"Language": lang,
		"Kind":     string(file.Kind),
		"Index":    chunk.Index,
		"Total":    chunk.Total,
	})
	if err != nil {
		return "", fmt.Errorf("executing file header template: %w", err)
	}

	var buf bytes.Buffer
	err = chunkTmpl.Execute(&buf, map[string]string{
		"FileHeader": header.String(),
		"Content":    chunk.DiffText,
	})
	if err != nil {
		return "", fmt.Errorf("executing chunk template: %w", err)
	}
	return buf.String(), nil
}

// detectLanguage names a file's language from its path. Detection is
// purely extension and filename based since only the diff is available.
func detectLanguage(path string) string {
	lang, _ := enry.GetLanguageByExtension(path)
	if lang == "" {
		lang, _ = enry.GetLanguageByFilename(filepath.Base(path))
	}
	if lang == "" {
		return "source"
	}
	return lang
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

func joinedLen(lines []string) int {
	if len(lines) == 0 {
		return 0
	}
	n := len(lines) - 1
	for _, l := range lines {
		n += len(l)
	}
	return n
}
