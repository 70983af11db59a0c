package tokenusage

import (
	"encoding/json"
	"fmt"
)

// extractOpenAI reads the chat-completions usage block. Cached prompt tokens
// are reported as a subset of prompt_tokens under prompt_tokens_details.
func extractOpenAI(raw json.RawMessage) (Usage, error) {
	var payload struct {
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
			TotalTokens      int64 `json:"total_tokens"`
			PromptDetails    struct {
				CachedTokens int64 `json:"cached_tokens"`
			} `json:"prompt_tokens_details"`
		} `json:"usage"`
	}
	if errUnmarshal := json.Unmarshal(raw, &payload); errUnmarshal != nil {
		return Usage{}, fmt.Errorf("tokenusage: parse openai response: %w", errUnmarshal)
	}

	u := payload.Usage
	out := Usage{
		InputTokens:       u.PromptTokens,
		OutputTokens:      u.CompletionTokens,
		CachedInputTokens: u.PromptDetails.CachedTokens,
		TotalTokens:       u.TotalTokens,
	}
	if u.PromptDetails.CachedTokens > 0 {
		cached := u.PromptDetails.CachedTokens
		out.CachedPromptTokens = &cached
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.InputTokens + out.OutputTokens
	}
	return out, nil
}

// extractAnthropic reads the messages API usage block. input_tokens excludes
// cache reads and writes; both are reported in their own categories, so the
// total is the sum of all four counts.
func extractAnthropic(raw json.RawMessage) (Usage, error) {
	var payload struct {
		Usage struct {
			InputTokens              int64 `json:"input_tokens"`
			OutputTokens             int64 `json:"output_tokens"`
			CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		} `json:"usage"`
	}
	if errUnmarshal := json.Unmarshal(raw, &payload); errUnmarshal != nil {
		return Usage{}, fmt.Errorf("tokenusage: parse anthropic response: %w", errUnmarshal)
	}

	u := payload.Usage
	out := Usage{
		InputTokens:       u.InputTokens,
		OutputTokens:      u.OutputTokens,
		CachedInputTokens: u.CacheReadInputTokens,
		TotalTokens:       u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens,
	}
	if u.CacheCreationInputTokens > 0 {
		created := u.CacheCreationInputTokens
		out.CacheCreationTokens = &created
	}
	if u.CacheReadInputTokens > 0 {
		read := u.CacheReadInputTokens
		out.CacheReadTokens = &read
	}
	return out, nil
}

// extractGemini reads the usageMetadata block of a generateContent response.
func extractGemini(raw json.RawMessage) (Usage, error) {
	var payload struct {
		UsageMetadata struct {
			PromptTokenCount        int64 `json:"promptTokenCount"`
			CandidatesTokenCount    int64 `json:"candidatesTokenCount"`
			CachedContentTokenCount int64 `json:"cachedContentTokenCount"`
			TotalTokenCount         int64 `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if errUnmarshal := json.Unmarshal(raw, &payload); errUnmarshal != nil {
		return Usage{}, fmt.Errorf("tokenusage: parse gemini response: %w", errUnmarshal)
	}

	u := payload.UsageMetadata
	out := Usage{
		InputTokens:       u.PromptTokenCount,
		OutputTokens:      u.CandidatesTokenCount,
		CachedInputTokens: u.CachedContentTokenCount,
		TotalTokens:       u.TotalTokenCount,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.InputTokens + out.OutputTokens
	}
	return out, nil
}
