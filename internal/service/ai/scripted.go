package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ScriptedModel is an offline stand-in for a real provider. It walks the
// interview script deterministically based on how many user messages the
// prompt contains.
type ScriptedModel struct{}

func NewScriptedModel() *ScriptedModel {
	return &ScriptedModel{}
}

func (m *ScriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if len(input) == 0 || input[0].Role != schema.System {
		return nil, errors.New("scripted model: prompt must start with the system instruction")
	}

	answered := 0
	for _, msg := range input[1:] {
		if msg.Role == schema.User {
			answered++
		}
	}

	return schema.AssistantMessage(scriptedReply(answered), nil), nil
}

func (m *ScriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}

	words := strings.SplitAfter(msg.Content, " ")
	chunks := make([]*schema.Message, 0, len(words))
	for _, word := range words {
		chunks = append(chunks, schema.AssistantMessage(word, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

// scriptedReply returns the reply after the n-th user message (1-based).
func scriptedReply(n int) string {
	switch {
	case n <= 0:
		return "Hello! What would you like to achieve with your diet?"
	case n == 1:
		return "Hello! Thanks for sharing your goal, I'd love to help. " + InterviewQuestions[0]
	case n <= len(InterviewQuestions):
		return "Got it. " + InterviewQuestions[n-1]
	case n == len(InterviewQuestions)+1:
		var b strings.Builder
		b.WriteString(Acknowledgment)
		b.WriteString("\n\n")
		for i, section := range PlanSections {
			fmt.Fprintf(&b, "## %d. %s\n", i+1, section)
			if section == "Disclaimer" {
				b.WriteString("This plan is general guidance and not medical advice. Please consult a healthcare professional.\n")
			} else {
				b.WriteString("(offline sample content)\n\n")
			}
		}
		return b.String()
	default:
		return "Your plan is ready. Is there anything in it you would like me to adjust?"
	}
}
