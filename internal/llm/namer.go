package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tiktoken-go/tokenizer"
	"github.com/tmc/langchaingo/llms"

	"github.com/thebtf/synapse/internal/clustering"
	"github.com/thebtf/synapse/internal/privacy"
)

const (
	namerSystemPrompt = "You are a helpful assistant that generates short names for groups of content. Output ONLY the name."
	namerPrompt       = "Generate a short, descriptive name (max 3 words) for this group of items. Return ONLY the name.\n\nItems:\n"
	sampleSeparator   = "\n---\n"

	// namerSamples is how many member items are shown to the model.
	namerSamples = 5
	// sampleChars caps each sample before token budgeting.
	sampleChars = 200

	// DefaultTokenBudget bounds the item text sent per naming request.
	DefaultTokenBudget = 512
)

// Namer asks a chat model for a cluster name. It implements clustering.Namer.
type Namer struct {
	model  llms.Model
	codec  tokenizer.Codec
	log    zerolog.Logger
	budget int
}

// NewNamer creates a namer over model. budget limits the prompt's item text
// in cl100k tokens; non-positive means DefaultTokenBudget.
func NewNamer(model llms.Model, budget int, log zerolog.Logger) (*Namer, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	return &Namer{
		model:  model,
		codec:  codec,
		budget: budget,
		log:    log.With().Str("component", "namer").Logger(),
	}, nil
}

var _ clustering.Namer = (*Namer)(nil)

// NameCluster returns a short name for the items, or an error the caller
// falls back from.
func (n *Namer) NameCluster(ctx context.Context, items []clustering.Item) (string, error) {
	prompt := namerPrompt + strings.Join(n.samples(items), sampleSeparator)

	resp, err := n.model.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, namerSystemPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman, prompt),
		},
		llms.WithTemperature(0.7),
		llms.WithMaxTokens(20),
	)
	if err != nil {
		return "", fmt.Errorf("generate cluster name: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate cluster name: empty response")
	}

	name := cleanName(resp.Choices[0].Content)
	n.log.Debug().Int("items", len(items)).Str("name", name).Msg("Generated cluster name")
	return name, nil
}

// samples picks the first member contents, scrubbed of credentials and
// capped in length, until the token budget is spent.
func (n *Namer) samples(items []clustering.Item) []string {
	out := make([]string, 0, namerSamples)
	remaining := n.budget
	for i, item := range items {
		if i == namerSamples || remaining <= 0 {
			break
		}
		text := item.Content
		if text == "" {
			text = item.Title
		}
		text, fired := privacy.Redact(text)
		if len(fired) > 0 {
			n.log.Debug().Str("item", item.ID).Strs("rules", fired).Msg("Redacted credentials from naming sample")
		}
		if r := []rune(text); len(r) > sampleChars {
			text = string(r[:sampleChars])
		}

		ids, _, err := n.codec.Encode(text)
		if err != nil {
			out = append(out, text)
			continue
		}
		if len(ids) > remaining {
			truncated, err := n.codec.Decode(ids[:remaining])
			if err != nil {
				break
			}
			text = truncated
			ids = ids[:remaining]
		}
		remaining -= len(ids)
		out = append(out, text)
	}
	return out
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, `"`, "")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
