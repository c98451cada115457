package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tmc/langchaingo/llms"

	"github.com/atlathelper/internal/retry"
)

// GenerateStructured prompts the model in JSON mode and unmarshals the
// response into out. Responses wrapped in prose or code fences are
// extracted first; malformed JSON gets one repair attempt before the call
// fails. Transient provider errors are retried with backoff.
func GenerateStructured(ctx context.Context, model llms.Model, prompt string, out any) error {
	var raw string
	err := retry.Do(ctx, retry.LLMConfig(), func() error {
		var genErr error
		raw, genErr = llms.GenerateFromSinglePrompt(ctx, model, prompt, llms.WithJSONMode())
		return genErr
	})
	if err != nil {
		return fmt.Errorf("structured generation: %w", err)
	}

	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return fmt.Errorf("structured generation: no JSON found in response")
	}

	if err := json.Unmarshal([]byte(jsonStr), out); err == nil {
		return nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(jsonStr)
	if repairErr != nil {
		return fmt.Errorf("structured generation: repair failed: %w", repairErr)
	}
	log.Debug().Int("original_bytes", len(jsonStr)).Int("repaired_bytes", len(repaired)).Msg("repaired malformed LLM JSON")

	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("structured generation: invalid JSON after repair: %w", err)
	}
	return nil
}

// ExtractJSON extracts JSON content from mixed text/JSON responses.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	// Code-fenced responses: take the fenced body.
	if strings.Contains(raw, "```") {
		lines := strings.Split(raw, "\n")
		var jsonLines []string
		inCodeBlock := false
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inCodeBlock = !inCodeBlock
				continue
			}
			if inCodeBlock {
				jsonLines = append(jsonLines, line)
			}
		}
		if len(jsonLines) > 0 {
			return strings.Join(jsonLines, "\n")
		}
	}

	// Otherwise find the first balanced object or array.
	startIdx := strings.Index(raw, "{")
	if startIdx == -1 {
		startIdx = strings.Index(raw, "[")
		if startIdx == -1 {
			return ""
		}
	}

	openChar := raw[startIdx]
	closeChar := byte('}')
	if openChar == '[' {
		closeChar = ']'
	}

	count := 0
	for i := startIdx; i < len(raw); i++ {
		switch raw[i] {
		case openChar:
			count++
		case closeChar:
			count--
			if count == 0 {
				return raw[startIdx : i+1]
			}
		}
	}

	// Unbalanced: return the tail and let repair deal with it.
	return raw[startIdx:]
}
