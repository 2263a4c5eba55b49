package voice

import (
	"context"
	"fmt"
	"strings"
)

const SummaryToolName = "TTS_Summary"

// Tool describes a capability an assistant can invoke.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// SummaryTool is the tool an assistant calls to have a progress summary
// read aloud.
func SummaryTool() Tool {
	return Tool{
		Name: SummaryToolName,
		Description: "Speak a short progress update to the user. Call it often: before significant " +
			"actions and every few responses, describing what you are about to do, what you found " +
			"and any problems or assumptions.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{
					"type":        "string",
					"description": "One to three sentences on the current plan, findings or progress.",
				},
			},
			"required": []string{"summary"},
		},
	}
}

// SpeakSummary reads an assistant summary aloud.
func (s *Service) SpeakSummary(ctx context.Context, summary string) error {
	if strings.TrimSpace(summary) == "" {
		return fmt.Errorf("%w: summary is required", ErrInvalidRequest)
	}
	return s.SpeakText(ctx, summary)
}
