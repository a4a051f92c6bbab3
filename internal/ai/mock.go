package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/civitas311/backend/internal/models"
	"github.com/civitas311/backend/internal/utils"
)

// MockClient produces a deterministic final decision without calling any
// remote model. It never requests tools, so its decisions carry empty
// assignment sets and a manual-review comment.
type MockClient struct {
	ModelVersion string
}

func (m MockClient) Chat(ctx context.Context, system string, transcript []Message, tools []llms.Tool) (Turn, error) {
	seed := ""
	if len(transcript) > 0 {
		seed = transcript[0].Text
	}
	h := utils.HashStringToUint64(seed)

	priorities := []string{models.PriorityHigh, models.PriorityMedium, models.PriorityLow}
	decision := map[string]any{
		"status":         models.StatusAwaitingResponse,
		"priority":       priorities[h%uint64(len(priorities))],
		"user_assignees": []string{},
		"crew_assignees": []string{},
		"labels":         []string{},
		"comment": map[string]string{
			"comment_body": "Thank you for your report. It has been received and is queued for manual assignment by city staff.",
		},
		"justification": fmt.Sprintf("Mock triage (%s); no resource lookups performed.", m.ModelVersion),
	}

	b, err := json.Marshal(decision)
	if err != nil {
		return Turn{}, err
	}
	return Turn{Text: string(b)}, nil
}
