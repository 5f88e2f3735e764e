package drafter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock drafts through the Converse API, typically with an Anthropic model.
type Bedrock struct {
	api       converseAPI
	model     string
	maxTokens int32
	timeout   time.Duration
}

func NewBedrock(api converseAPI, model string) *Bedrock {
	return &Bedrock{api: api, model: model, maxTokens: 700, timeout: 45 * time.Second}
}

func (b *Bedrock) Name() string { return "bedrock" }

func (b *Bedrock) Draft(ctx context.Context, in Input) (string, error) {
	if strings.TrimSpace(b.model) == "" {
		return "", errors.New("drafter: bedrock model id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := b.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.model),
		System: []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: systemPrompt},
		},
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: userPrompt(in)}},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(b.maxTokens),
			Temperature: aws.Float32(0.4),
		},
	})
	if err != nil {
		return "", fmt.Errorf("drafter: bedrock converse failed: %w", err)
	}
	return converseText(out)
}

func converseText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("drafter: bedrock response is nil")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("drafter: bedrock response did not include a message")
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("drafter: bedrock response contained no text")
	}
	return text, nil
}
