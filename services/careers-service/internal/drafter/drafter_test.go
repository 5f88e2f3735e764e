package drafter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeak/studio/services/careers-service/internal/profile"
)

func testInput(t *testing.T) Input {
	t.Helper()
	p, err := profile.Load("")
	require.NoError(t, err)
	return Input{Profile: p, Company: "Acme", RoleTitle: "Platform engineer", JobDescription: "Go, Kafka, Postgres"}
}

func TestTemplateDraft(t *testing.T) {
	in := testInput(t)
	text, err := Template{}.Draft(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Dear Acme team,"))
	assert.Contains(t, text, "Platform engineer role at Acme")
	assert.Contains(t, text, "Most recently I worked as")
	assert.NotContains(t, text, "<no value>")

	in.ContactName = "Jordan Lee"
	text, err = Template{}.Draft(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Dear Jordan Lee,"))
}

func TestTemplateDraftMinimalProfile(t *testing.T) {
	text, err := Template{}.Draft(context.Background(), Input{Profile: profile.Profile{Name: "Sam"}, Company: "Acme", RoleTitle: "Engineer"})
	require.NoError(t, err)
	assert.NotContains(t, text, "Most recently")
	assert.NotContains(t, text, "toolkit")
}

type fakeChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestOpenAIDraft(t *testing.T) {
	chat := &fakeChat{resp: openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Content: "  Dear Acme,\n\nHello.  "}},
	}}}
	text, err := NewOpenAI(chat, "gpt-test").Draft(context.Background(), testInput(t))
	require.NoError(t, err)
	assert.Equal(t, "Dear Acme,\n\nHello.", text)
	assert.Equal(t, "gpt-test", chat.req.Model)
	require.Len(t, chat.req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, chat.req.Messages[0].Role)
	assert.Contains(t, chat.req.Messages[1].Content, "Company: Acme")
	assert.Contains(t, chat.req.Messages[1].Content, "Go, Kafka, Postgres")
}

func TestOpenAINoChoices(t *testing.T) {
	_, err := NewOpenAI(&fakeChat{}, "").Draft(context.Background(), testInput(t))
	assert.Error(t, err)
}

type fakeConverse struct {
	in  *bedrockruntime.ConverseInput
	out *bedrockruntime.ConverseOutput
	err error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestBedrockDraft(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "Dear Acme, "},
				&brtypes.ContentBlockMemberText{Value: "hello."},
			},
		}},
	}}
	text, err := NewBedrock(api, "anthropic.claude-test").Draft(context.Background(), testInput(t))
	require.NoError(t, err)
	assert.Equal(t, "Dear Acme, hello.", text)
	assert.Equal(t, "anthropic.claude-test", aws.ToString(api.in.ModelId))
	require.Len(t, api.in.System, 1)

	_, err = NewBedrock(api, "").Draft(context.Background(), testInput(t))
	assert.Error(t, err)
}

type failingDrafter struct{}

func (failingDrafter) Name() string { return "openai" }
func (failingDrafter) Draft(context.Context, Input) (string, error) {
	return "", errors.New("rate limited")
}

func TestFallbackUsesTemplate(t *testing.T) {
	var fellBack string
	f := NewFallback(failingDrafter{}, Template{}, slog.New(slog.NewTextHandler(io.Discard, nil)), func(name string) { fellBack = name })

	text, err := f.Draft(context.Background(), testInput(t))
	require.NoError(t, err)
	assert.Contains(t, text, "Dear Acme team,")
	assert.Equal(t, "openai", fellBack)
	assert.Equal(t, "template", f.Name())
}

func TestFallbackNamesPrimaryOnSuccess(t *testing.T) {
	f := NewFallback(Template{}, failingDrafter{}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	_, err := f.Draft(context.Background(), testInput(t))
	require.NoError(t, err)
	assert.Equal(t, "template", f.Name())
}

func TestUserPromptTruncatesOnRuneBoundary(t *testing.T) {
	in := testInput(t)
	in.JobDescription = strings.Repeat("a", maxJobDescription-1) + "ü" + strings.Repeat("b", 50)

	prompt := userPrompt(in)
	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, strings.Repeat("a", maxJobDescription-1)+"\n")
	assert.NotContains(t, prompt, "ü")
}
