package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiModel = "gemini-2.0-flash-lite"

// GeminiTranslator batches all target languages of one utterance into a
// single model call and asks for a JSON object keyed by language.
type GeminiTranslator struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiTranslator creates a translator backed by the given API key.
func NewGeminiTranslator(ctx context.Context, apiKey string) (*GeminiTranslator, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	model := client.GenerativeModel(geminiModel)
	model.GenerationConfig.ResponseMIMEType = "application/json"
	var temp float32 = 0.2
	model.GenerationConfig.Temperature = &temp

	return &GeminiTranslator{client: client, model: model}, nil
}

// TranslateBatch translates text into every target language in one call.
// The returned map is keyed by target language; targets the model skipped
// are simply absent.
func (g *GeminiTranslator) TranslateBatch(ctx context.Context, text, sourceLang string, targetLangs []string) (map[string]string, error) {
	if len(targetLangs) == 0 {
		return map[string]string{}, nil
	}

	prompt := buildTranslationPrompt(text, sourceLang, targetLangs)
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate translations: %w", err)
	}

	raw := collectText(resp)
	if raw == "" {
		return nil, ErrNoTranslation
	}
	return parseTranslations(raw, targetLangs)
}

// Close releases the underlying client.
func (g *GeminiTranslator) Close() error {
	return g.client.Close()
}

func collectText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}

func buildTranslationPrompt(text, sourceLang string, targetLangs []string) string {
	var sb strings.Builder
	sb.WriteString("Translate the following")
	if sourceLang != "" {
		sb.WriteString(" ")
		sb.WriteString(sourceLang)
	}
	sb.WriteString(" text into each of these languages: ")
	sb.WriteString(strings.Join(targetLangs, ", "))
	sb.WriteString(".\n")
	sb.WriteString("Respond with only a JSON object mapping each language name, exactly as given, to the translated text.\n\n")
	sb.WriteString("Text: ")
	sb.WriteString(text)
	return sb.String()
}

// parseTranslations decodes the model's JSON reply, tolerating code fences
// some responses still wrap around the object.
func parseTranslations(raw string, targetLangs []string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}

	// Model output is keyed however the model chose to spell the language;
	// match back to the caller's spelling case-insensitively.
	byLower := make(map[string]string, len(decoded))
	for lang, translated := range decoded {
		byLower[strings.ToLower(strings.TrimSpace(lang))] = translated
	}

	out := make(map[string]string, len(targetLangs))
	for _, lang := range targetLangs {
		if translated, ok := byLower[strings.ToLower(lang)]; ok && translated != "" {
			out[lang] = translated
		}
	}
	if len(out) == 0 {
		return nil, ErrNoTranslation
	}
	return out, nil
}
