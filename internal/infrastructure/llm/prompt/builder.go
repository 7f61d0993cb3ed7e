package prompt

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultEncoding      = "cl100k_base"
	defaultContextTokens = 6000
	minSourceTokens      = 32
)

// Builder renders generation requests into provider prompts and keeps the source
// block inside a token budget.
type Builder struct {
	enc           *tiktoken.Tiktoken
	contextTokens int
}

// NewBuilder loads the BPE encoding. When the encoding cannot be loaded the builder
// estimates four characters per token.
func NewBuilder(contextTokens int) *Builder {
	if contextTokens <= 0 {
		contextTokens = defaultContextTokens
	}
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		slog.Warn("prompt_encoding_unavailable", "encoding", defaultEncoding, "error", err)
		enc = nil
	}
	return &Builder{enc: enc, contextTokens: contextTokens}
}

func (b *Builder) Count(text string) int {
	if text == "" {
		return 0
	}
	if b.enc == nil {
		return (len([]rune(text)) + 3) / 4
	}
	return len(b.enc.Encode(text, nil, nil))
}

// Answer renders a grounded answer prompt. Sources are numbered in request order;
// sources that do not fit the budget are dropped from the end, the first one is
// truncated instead.
func (b *Builder) Answer(req domain.GenerationRequest) string {
	var head strings.Builder
	head.WriteString("You answer questions about the user's documents.\n")
	head.WriteString("Use only the numbered sources below. If they do not contain the answer, say so directly.\n")
	if instr := strings.TrimSpace(req.Instructions); instr != "" {
		head.WriteString(instr + "\n")
	}

	tail := "\nQuestion:\n" + strings.TrimSpace(req.Question) + "\n\nAnswer:\n"
	remaining := b.contextTokens - b.Count(head.String()) - b.Count(tail)

	var sources strings.Builder
	sources.WriteString("\nSources:\n")
	for i, src := range req.Sources {
		block := sourceBlock(i+1, src)
		cost := b.Count(block)
		if cost > remaining {
			if i == 0 && remaining >= minSourceTokens {
				sources.WriteString(b.truncate(block, remaining))
				sources.WriteString("\n")
			}
			break
		}
		sources.WriteString(block)
		remaining -= cost
	}
	return head.String() + sources.String() + tail
}

// Classification wraps a routing prompt with the expected JSON shape.
func (b *Builder) Classification(prompt string, schema map[string]any) string {
	if len(schema) == 0 {
		return prompt
	}
	keys := schemaKeys(schema)
	return prompt + "\nRespond with one JSON object with the keys: " + strings.Join(keys, ", ") + ". No markdown.\n"
}

func sourceBlock(n int, src domain.PromptSource) string {
	label := strings.TrimSpace(src.Label)
	if label == "" {
		label = src.DocumentID
	}
	if src.Page != nil {
		label = fmt.Sprintf("%s, page %d", label, *src.Page)
	}
	return fmt.Sprintf("[%d] %s\n%s\n\n", n, label, strings.TrimSpace(src.Text))
}

func (b *Builder) truncate(text string, tokens int) string {
	if b.enc == nil {
		runes := []rune(text)
		if limit := tokens * 4; len(runes) > limit {
			return string(runes[:limit])
		}
		return text
	}
	ids := b.enc.Encode(text, nil, nil)
	if len(ids) <= tokens {
		return text
	}
	return b.enc.Decode(ids[:tokens])
}

func schemaKeys(schema map[string]any) []string {
	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	if req, ok := schema["required"].([]string); ok {
		for _, k := range req {
			required[k] = true
		}
	}
	keys := make([]string, 0, len(props))
	for _, k := range slices.Sorted(maps.Keys(props)) {
		if required[k] {
			k += " (required)"
		}
		keys = append(keys, k)
	}
	return keys
}
