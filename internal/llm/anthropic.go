package llm

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// ClientConfig contains configuration for creating an Anthropic-backed
// generation/prediction client.
type ClientConfig struct {
	// Model is the Claude model to use. Empty selects a default.
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// Seed seeds the input-shuffling RNG. Zero selects a fixed default;
	// shuffling only counters ordering bias, it is not a secret.
	Seed int64
}

// Client wraps the Anthropic SDK for statement generation and preference
// prediction, with token tracking.
type Client struct {
	inner   anthropic.Client
	model   anthropic.Model
	tracker *TokenTracker

	mu  sync.Mutex
	rng *rand.Rand
}

// NewClient creates a new Anthropic API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}

	// Translate model name for Bedrock
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}

	return &Client{
		inner:   anthropic.NewClient(opts...),
		model:   model,
		tracker: NewTokenTracker(),
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock
// inference profile format: us.anthropic.{model}-v1:0
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}

	// If not in map, return as-is (might already be Bedrock format or a custom model)
	return model
}

// Model returns the configured model name.
func (c *Client) Model() anthropic.Model {
	return c.model
}

// Tracker returns the token tracker for this client.
func (c *Client) Tracker() *TokenTracker {
	return c.tracker
}

// complete sends a single templated prompt and returns the text response.
// The closing </answer> tag is a stop sequence.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:         c.model,
		MaxTokens:     2048,
		StopSequences: []string{"</answer>"},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}

// shuffledIndices returns a random permutation of 0..n-1 from the client's
// seeded RNG.
func (c *Client) shuffledIndices(n int) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Perm(n)
}

// Generator produces candidate statements via the Anthropic API. Each
// candidate is one completion; opinions and critiques are shuffled per
// completion to avoid ordering bias.
type Generator struct {
	client *Client
}

// NewGenerator creates an Anthropic-backed candidate generator.
func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

var _ CandidateGenerator = (*Generator)(nil)

// Generate produces up to n candidate statements. Individual completion
// failures are logged and skipped; an error is returned only if no usable
// candidate was produced.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest, n int) ([]Candidate, error) {
	var candidates []Candidate
	var lastErr error

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		shuffled := g.shuffleRequest(req)
		text, err := g.client.complete(ctx, statementPrompt(shuffled))
		if err != nil {
			log.Printf("[llm] statement completion %d/%d failed: %v", i+1, n, err)
			lastErr = err
			continue
		}

		explanation, statement, err := parseAnswer(text)
		if err != nil {
			log.Printf("[llm] statement completion %d/%d malformed: %v", i+1, n, err)
			lastErr = err
			continue
		}

		candidates = append(candidates, Candidate{
			Text:        statement,
			Explanation: explanation,
			Model:       string(g.client.Model()),
		})
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("all %d statement completions failed: %w", n, lastErr)
	}
	return candidates, nil
}

// shuffleRequest returns a copy of the request with opinions (and their
// parallel critiques) in a fresh random order.
func (g *Generator) shuffleRequest(req GenerateRequest) GenerateRequest {
	perm := g.client.shuffledIndices(len(req.Opinions))

	out := req
	out.Opinions = make([]string, len(req.Opinions))
	for i, j := range perm {
		out.Opinions[i] = req.Opinions[j]
	}
	if len(req.Critiques) == len(req.Opinions) {
		out.Critiques = make([]string, len(req.Critiques))
		for i, j := range perm {
			out.Critiques[i] = req.Critiques[j]
		}
	}
	return out
}

// Predictor predicts participant rankings via the Anthropic API.
type Predictor struct {
	client *Client
}

// NewPredictor creates an Anthropic-backed preference predictor.
func NewPredictor(client *Client) *Predictor {
	return &Predictor{client: client}
}

var _ PreferencePredictor = (*Predictor)(nil)

// Rank predicts the participant's full ranking over the statements.
func (p *Predictor) Rank(ctx context.Context, req RankRequest) ([]int, error) {
	n := len(req.Statements)
	if n < 2 {
		return nil, fmt.Errorf("need at least two statements to rank, got %d", n)
	}
	if n > MaxRankableStatements {
		return nil, fmt.Errorf("too many statements to label: %d, max %d", n, MaxRankableStatements)
	}

	text, err := p.client.complete(ctx, rankingPrompt(req))
	if err != nil {
		return nil, err
	}

	_, payload, err := parseAnswer(text)
	if err != nil {
		return nil, err
	}
	return parseArrowRanking(payload, n)
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from an API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
