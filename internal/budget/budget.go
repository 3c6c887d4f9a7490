// Package budget packs retrieved chunks into a bounded prompt context for the
// answer-generation layer. Token counts are estimated with a character
// heuristic because the consuming model's tokenizer is not known here:
// 1 token ≈ 4 characters of Latin text, and 1 token per CJK character.
package budget

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/healthrag/internal/rag"
)

const (
	// charsPerToken is the character-to-token ratio for non-CJK text.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default budget for packed context.
	DefaultMaxContextTokens = 1000

	// messageOverhead is the per-message framing cost most chat APIs charge.
	messageOverhead = 4
	// truncationMarker is appended to a chunk cut to fit the budget.
	truncationMarker = "..."
)

// emptyContext is the context content when nothing was retrieved.
const emptyContext = "No relevant entries were found in the medical knowledge base. Advise the user to consult a doctor."

// Estimate returns a rough token count for s. CJK characters count one token
// each; everything else is counted at charsPerToken characters per token.
func Estimate(s string) int {
	if s == "" {
		return 0
	}
	cjk, other := 0, 0
	for _, r := range s {
		if isCJK(r) {
			cjk++
			continue
		}
		other += utf8.RuneLen(r)
	}
	n := cjk + other/charsPerToken
	if n == 0 {
		return 1
	}
	return n
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// EstimateMessages returns the estimated prompt cost of msgs: role and
// content of each message plus a fixed per-message overhead. Nil messages
// are skipped.
func EstimateMessages(msgs ...*schema.Message) int {
	total := 0
	for _, m := range msgs {
		if m == nil {
			continue
		}
		total += messageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
	}
	return total
}

// Packed is the result of fitting ranked results into a token budget.
type Packed struct {
	// Results are the results that were included, in rank order.
	Results []rag.Result
	// Text is the rendered context.
	Text string
	// Tokens is the estimated token count of Text.
	Tokens int
	// Truncated is true when a result was cut or dropped to fit the budget.
	Truncated bool
}

// Pack renders results in rank order until maxTokens is reached. A result that
// does not fit is dropped along with everything ranked below it, except the
// top result, which is cut to the remaining budget so the context is never
// empty when something was retrieved. maxTokens <= 0 selects
// DefaultMaxContextTokens.
func Pack(results []rag.Result, maxTokens int) Packed {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}

	var (
		p  Packed
		sb strings.Builder
	)
	for i, r := range results {
		header := fmt.Sprintf("[%d] source=%s score=%.4f\n", i+1, r.SourceID, r.Score)
		section := header + r.ChunkText
		cost := Estimate(section)
		if i > 0 {
			cost++ // blank line separator
		}

		if p.Tokens+cost > maxTokens {
			p.Truncated = true
			if i == 0 {
				r.ChunkText = cut(header, r.ChunkText, maxTokens)
				section = header + r.ChunkText
				sb.WriteString(section)
				p.Tokens = Estimate(section)
				p.Results = append(p.Results, r)
			}
			break
		}

		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(section)
		p.Tokens += cost
		p.Results = append(p.Results, r)
	}
	p.Text = sb.String()
	return p
}

// cut returns the longest rune prefix of s, plus the truncation marker, such
// that header followed by it fits in budget tokens.
func cut(header, s string, budget int) string {
	runes := []rune(s)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if Estimate(header+string(runes[:mid])+truncationMarker) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.TrimRightFunc(string(runes[:lo]), unicode.IsSpace) + truncationMarker
}

// Confidence maps result scores to [0, 1] as twice the mean score, capped at
// 1. No results, or a negative mean, yields 0.
func Confidence(results []rag.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += float64(r.Score)
	}
	return min(max(2*sum/float64(len(results)), 0), 1)
}

// ContextMessage wraps the packed context in a system message for the
// answer-generation layer.
func ContextMessage(p Packed) *schema.Message {
	if len(p.Results) == 0 {
		return schema.SystemMessage(emptyContext)
	}
	return schema.SystemMessage("Medical knowledge base excerpts, most relevant first. " +
		"Use them as the primary reference and cite the source ids.\n\n" + p.Text)
}
