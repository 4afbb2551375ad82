package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Summarizer condenses a finished meeting transcript into prose.
type Summarizer interface {
	Summarize(ctx context.Context, lines []Line) (string, error)
}

const summarySystemPrompt = `You summarize meeting transcripts. Produce a short
summary followed by bullet points for decisions and action items. Attribute
action items to speakers by name. Do not invent content that is not in the
transcript.`

// OpenAISummarizer implements Summarizer with a chat completion call.
type OpenAISummarizer struct {
	client openai.Client
	model  openai.ChatModel
}

// NewOpenAISummarizer builds a summarizer. model may be empty for the
// default.
func NewOpenAISummarizer(apiKey string, model string) *OpenAISummarizer {
	m := openai.ChatModelGPT4oMini
	if model != "" {
		m = openai.ChatModel(model)
	}
	return &OpenAISummarizer{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}
}

// Summarize renders the transcript as "Name: text" lines and asks the model
// for a summary.
func (s *OpenAISummarizer) Summarize(ctx context.Context, lines []Line) (string, error) {
	if len(lines) == 0 {
		return "", fmt.Errorf("empty transcript")
	}
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l.Name)
		sb.WriteString(": ")
		sb.WriteString(l.Text)
		sb.WriteString("\n")
	}

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarySystemPrompt),
			openai.UserMessage(sb.String()),
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize transcript: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize transcript: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
