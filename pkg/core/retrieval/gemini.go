package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const retrieverPromptTemplate = `You are a knowledge retrieval service for a %s companion.
Return the %d most relevant knowledge snippets for the query below as a JSON array
of objects with fields "source", "content" and "score" (0.0-1.0). Return only JSON.

Query:
%s`

// GeminiRetriever fulfils retrieval queries through the Gemini API. The
// backend is treated as an opaque ranked-retrieval service; the caller only
// sees ranked documents and a merged context string.
type GeminiRetriever struct {
	client *genai.Client
	model  string
}

// NewGeminiRetriever creates a retriever using the given model.
func NewGeminiRetriever(client *genai.Client, model string) *GeminiRetriever {
	return &GeminiRetriever{client: client, model: model}
}

func (r *GeminiRetriever) Retrieve(ctx context.Context, query, mode string, topK int) (Result, error) {
	if r.client == nil {
		return Result{}, fmt.Errorf("retriever has no client")
	}
	prompt := fmt.Sprintf(retrieverPromptTemplate, mode, topK, query)
	resp, err := r.client.Models.GenerateContent(ctx, r.model, genai.Text(prompt), nil)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED") {
			return Result{}, ErrQuotaExhausted
		}
		return Result{}, err
	}
	return parseRetrieverOutput(resp.Text(), topK), nil
}

// parseRetrieverOutput turns model text into ranked documents. Unparseable
// output is kept as raw context rather than discarded.
func parseRetrieverOutput(text string, topK int) Result {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var raw []struct {
		Source  string  `json:"source"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		if trimmed == "" {
			return Result{}
		}
		return Result{Context: trimmed}
	}

	if topK > 0 && len(raw) > topK {
		raw = raw[:topK]
	}
	docs := make([]Document, 0, len(raw))
	var b strings.Builder
	for i, d := range raw {
		content := strings.TrimSpace(d.Content)
		if content == "" {
			continue
		}
		docs = append(docs, Document{
			Rank:    i + 1,
			Score:   d.Score,
			Source:  strings.TrimSpace(d.Source),
			Content: content,
		})
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(content)
	}
	return Result{Context: b.String(), Documents: docs}
}
