// Package suggest turns a finished analysis into civic-engagement
// recommendations via an LLM provider. Anthropic is the primary provider;
// OpenAI is used when selected or as fallback when the Anthropic call fails.
package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"turnoutd/internal/analyze"
	"turnoutd/internal/config"
)

// ErrNotConfigured means no provider credential is present. Callers map it
// to a "suggestions disabled" response rather than a server fault.
var ErrNotConfigured = errors.New("suggestions not configured: no LLM API key present")

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"
const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// Bottom precincts included in the prompt. The full precinct list can run
// to thousands of rows; the model only needs the ones worth acting on.
const maxPromptPrecincts = 10

type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// Suggestions is the gateway's output: the recommendation text plus which
// provider and model produced it.
type Suggestions struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

// Client calls one of the configured LLM providers.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	openAIURL  string
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.SuggestTimeout()},
		openAIURL:  openAIEndpoint,
	}
}

// Generate produces engagement suggestions for an analysis result. The
// configured provider is tried first; when it fails and the other
// provider's credential is present, that one is tried before giving up.
func (c *Client) Generate(ctx context.Context, res *analyze.Result) (Suggestions, error) {
	if !c.cfg.SuggestionsConfigured() {
		return Suggestions{}, ErrNotConfigured
	}

	systemPrompt, userPrompt := buildPrompts(res)

	providers := c.providerOrder()
	var lastErr error
	for attempt, provider := range providers {
		var text string
		var usage Usage
		var err error

		// A configured model name only applies to the configured provider;
		// the fallback provider uses its own default.
		model := c.cfg.LLMModel
		switch provider {
		case "openai":
			if model == "" || attempt > 0 {
				model = defaultOpenAIModel
			}
			log.Printf("suggest provider=openai model=%s dataset=%s", model, res.Dataset)
			text, usage, err = c.callOpenAI(ctx, model, systemPrompt, userPrompt)
		default:
			if model == "" || attempt > 0 {
				model = defaultAnthropicModel
			}
			log.Printf("suggest provider=anthropic model=%s dataset=%s", model, res.Dataset)
			text, usage, err = c.callAnthropic(ctx, model, systemPrompt, userPrompt)
		}

		if err == nil {
			return Suggestions{Text: text, Provider: provider, Model: model, Usage: usage}, nil
		}
		lastErr = err
		log.Printf("suggest provider=%s failed: %v", provider, err)
		if ctx.Err() != nil {
			break
		}
	}

	return Suggestions{}, fmt.Errorf("generating suggestions: %w", lastErr)
}

// providerOrder lists the providers to try, configured one first, limited
// to those with a credential.
func (c *Client) providerOrder() []string {
	hasAnthropic := strings.TrimSpace(c.cfg.AnthropicAPIKey) != ""
	hasOpenAI := strings.TrimSpace(c.cfg.OpenAIAPIKey) != ""

	var order []string
	if c.cfg.LLMProvider == "openai" {
		if hasOpenAI {
			order = append(order, "openai")
		}
		if hasAnthropic {
			order = append(order, "anthropic")
		}
	} else {
		if hasAnthropic {
			order = append(order, "anthropic")
		}
		if hasOpenAI {
			order = append(order, "openai")
		}
	}
	return order
}

func buildPrompts(res *analyze.Result) (string, string) {
	systemPrompt := `You are a civic engagement expert advising a local election office.
You will receive aggregate voter turnout data for one jurisdiction.
Give practical, specific recommendations. Ground every recommendation in the numbers provided; do not invent data.

Structure your answer as:
1. Outreach strategies for the lowest-turnout precincts
2. Party-specific engagement opportunities
3. Voting method improvements
4. Voter registration improvements

Keep it concise and actionable.`

	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %s\n", res.Dataset)
	fmt.Fprintf(&b, "Precincts: %d\n", res.TotalPrecincts)
	fmt.Fprintf(&b, "Total registered: %.0f\n", res.TotalRegistered)
	fmt.Fprintf(&b, "Total voted: %.0f\n", res.TotalVoted)
	fmt.Fprintf(&b, "Overall turnout: %s\n", formatPercent(res.TurnoutRate))
	fmt.Fprintf(&b, "Registered but did not vote: %.0f\n", res.RegisteredNotVoted)

	if len(res.PartyBreakdown) > 0 {
		b.WriteString("\nParty breakdown:\n")
		parties := make([]string, 0, len(res.PartyBreakdown))
		for p := range res.PartyBreakdown {
			parties = append(parties, p)
		}
		sort.Strings(parties)
		for _, p := range parties {
			stats := res.PartyBreakdown[p]
			fmt.Fprintf(&b, "- %s: %.0f registered, %.0f voted, %s turnout\n",
				p, stats.Registered, stats.Voted, formatPercent(stats.TurnoutRate))
		}
	}

	if perf := res.Performance; perf != nil {
		fmt.Fprintf(&b, "\nAverage precinct turnout: %s, median: %s\n",
			formatPercent(perf.AverageTurnout), formatPercent(perf.MedianTurnout))
		if len(perf.BottomPerformers) > 0 {
			b.WriteString("Lowest-turnout precincts:\n")
			for i, p := range perf.BottomPerformers {
				if i >= maxPromptPrecincts {
					break
				}
				fmt.Fprintf(&b, "- %s: %s\n", p.Precinct, formatPercent(p.TurnoutRate))
			}
		}
	}

	if len(res.VotingMethods) > 0 {
		b.WriteString("\nVoting methods:\n")
		methods := make([]string, 0, len(res.VotingMethods))
		for m := range res.VotingMethods {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		for _, m := range methods {
			stats := res.VotingMethods[m]
			fmt.Fprintf(&b, "- %s: %.0f votes, %s turnout\n",
				m, stats.Voted, formatPercent(stats.TurnoutRate))
		}
	}

	if eff := res.Efficiency; eff != nil {
		fmt.Fprintf(&b, "\nRegistration rate of estimated eligible population: %s\n",
			formatPercent(eff.RegistrationRate))
		fmt.Fprintf(&b, "Potential new voters from registration gaps: %.0f\n", eff.PotentialNewVoters)
	}

	userPrompt := "Turnout analysis data:\n\n" + b.String() +
		"\nProvide your recommendations."
	return systemPrompt, userPrompt
}

func formatPercent(r analyze.Ratio) string {
	if !r.Valid {
		return "undefined"
	}
	return fmt.Sprintf("%.1f%%", r.Value*100)
}

// --- Anthropic ---

func (c *Client) callAnthropic(ctx context.Context, model, systemPrompt, userPrompt string) (string, Usage, error) {
	client := anthropic.NewClient(option.WithAPIKey(c.cfg.AnthropicAPIKey))

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(c.cfg.LLMMaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("suggest anthropic response size=%d tokens_in=%d tokens_out=%d",
				len(block.Text), usage.InputTokens, usage.OutputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

// --- OpenAI ---

type openAIRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Messages  []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) callOpenAI(ctx context.Context, model, systemPrompt, userPrompt string) (string, Usage, error) {
	reqBody := openAIRequest{
		Model:     model,
		MaxTokens: c.cfg.LLMMaxTokens,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.openAIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", Usage{}, fmt.Errorf("parsing OpenAI response: %w", err)
	}

	if openAIResp.Error != nil {
		return "", Usage{}, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}

	if len(openAIResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no choices in OpenAI response")
	}
	usage := Usage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}

	log.Printf("suggest openai response size=%d tokens_in=%d tokens_out=%d",
		len(openAIResp.Choices[0].Message.Content), usage.InputTokens, usage.OutputTokens)
	return openAIResp.Choices[0].Message.Content, usage, nil
}
