package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const fallbackSummaryLength = 80

// Client wraps the OpenAI SDK and provides utility helpers.
type Client struct {
	apiKey string
	client *openai.Client
	model  openai.ChatModel
}

// New returns an OpenAI client. Without an apiKey the client only produces fallback summaries.
func New(apiKey string) *Client {
	if apiKey == "" {
		return &Client{}
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		apiKey: apiKey,
		client: &client,
		model:  openai.ChatModelGPT4oMini,
	}
}

// Enabled reports whether requests go to the API rather than the local fallback.
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// SummarizePurpose condenses the purpose of a reminder call into one sentence
// the voice assistant can read out.
func (c *Client) SummarizePurpose(ctx context.Context, purpose string) (string, error) {
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return "", fmt.Errorf("purpose cannot be empty")
	}
	if !c.Enabled() {
		return truncate(purpose), nil
	}

	req := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String("You turn the purpose of a reminder phone call into one short spoken sentence."),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(fmt.Sprintf("Summarise the purpose of this reminder call in one sentence: %s", purpose)),
					},
				},
			},
		},
		Temperature:         openai.Float(0.3),
		MaxCompletionTokens: openai.Int(60),
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion received")
	}
	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return truncate(purpose), nil
	}
	return summary, nil
}

func truncate(content string) string {
	runes := []rune(content)
	if len(runes) > fallbackSummaryLength {
		return string(runes[:fallbackSummaryLength]) + "..."
	}
	return content
}
