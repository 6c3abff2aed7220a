package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrInvalidResponse is returned when the model reply is not the expected JSON.
var ErrInvalidResponse = errors.New("model response is not valid analysis JSON")

// Analysis types understood by the prompt.
const (
	TypeGeneric  = "generic"
	TypeTraffic  = "traffic"
	TypeRetail   = "retail"
	TypeSports   = "sports"
	TypeSecurity = "security"
)

// ValidAnalysisType reports whether t is one of the known analysis types.
func ValidAnalysisType(t string) bool {
	switch t {
	case TypeGeneric, TypeTraffic, TypeRetail, TypeSports, TypeSecurity:
		return true
	}
	return false
}

// DatasetClass is one class the model recommends collecting.
type DatasetClass struct {
	Name       string `json:"name"`
	MinSamples int    `json:"min_samples"`
	Notes      string `json:"notes"`
}

// DatasetPlan is the model's dataset recommendation.
type DatasetPlan struct {
	Classes          []DatasetClass     `json:"classes"`
	RecommendedSplit map[string]float64 `json:"recommended_split"`
}

// KPI is a named metric proposed by the model.
type KPI struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Analysis is the narrated result.
type Analysis struct {
	Summary     string      `json:"summary"`
	KeyFindings []string    `json:"key_findings"`
	Anomalies   []string    `json:"anomalies"`
	DatasetPlan DatasetPlan `json:"dataset_plan"`
	KPIs        []KPI       `json:"kpis"`
}

func (a *Analysis) fillDefaults() {
	if a.Summary == "" {
		a.Summary = "No analysis available"
	}
	if a.KeyFindings == nil {
		a.KeyFindings = []string{}
	}
	if a.Anomalies == nil {
		a.Anomalies = []string{}
	}
	if a.DatasetPlan.Classes == nil {
		a.DatasetPlan.Classes = []DatasetClass{}
	}
	if a.DatasetPlan.RecommendedSplit == nil {
		a.DatasetPlan.RecommendedSplit = map[string]float64{"train": 0.7, "val": 0.15, "test": 0.15}
	}
	if a.KPIs == nil {
		a.KPIs = []KPI{}
	}
}

// Config configures the OpenRouter client.
type Config struct {
	APIKey      string        `json:"-"            yaml:"api_key,omitempty"`
	BaseURL     string        `json:"base_url"     yaml:"base_url"`
	Model       string        `json:"model"        yaml:"model"`
	SiteURL     string        `json:"site_url"     yaml:"site_url"`
	AppName     string        `json:"app_name"     yaml:"app_name"`
	Temperature float64       `json:"temperature"  yaml:"temperature"`
	MaxTokens   int           `json:"max_tokens"   yaml:"max_tokens"`
	Timeout     time.Duration `json:"timeout"      yaml:"timeout"`
	Retry       RetryPolicy   `json:"retry"        yaml:"retry"`
}

// DefaultConfig returns the stock OpenRouter settings without an API key.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://openrouter.ai/api/v1",
		Model:       "deepseek/deepseek-chat-free",
		AppName:     "go-insights",
		Temperature: 0.7,
		MaxTokens:   4000,
		Timeout:     120 * time.Second,
		Retry:       DefaultRetryPolicy(),
	}
}

// ClientError is a non-2xx reply from the API.
type ClientError struct {
	Code    int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("openrouter error: %d - %s", e.Code, e.Message)
}

// IsRetryable reports whether the status is worth retrying.
func (e *ClientError) IsRetryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client talks to the OpenRouter chat-completions endpoint.
type Client struct {
	config Config
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a client.
func NewClient(config Config, logger zerolog.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("component", "openrouter").Logger(),
	}
}

// Model returns the default model name.
func (c *Client) Model() string {
	return c.config.Model
}

const systemPrompt = `You are an expert AI video analytics assistant. You analyze video segmentation data and provide structured insights.

You MUST respond ONLY with valid JSON following this exact schema:

{
  "summary": "Brief overview of the video content and key observations",
  "key_findings": ["Finding 1", "Finding 2", "Finding 3"],
  "anomalies": ["Anomaly 1", "Anomaly 2"],
  "dataset_plan": {
    "classes": [
      {"name": "class_name", "min_samples": 100, "notes": "Notes about this class"}
    ],
    "recommended_split": {"train": 0.7, "val": 0.15, "test": 0.15}
  },
  "kpis": [
    {"name": "KPI Name", "value": 123.45, "unit": "unit"}
  ]
}

Ensure your response is valid JSON only, no additional text.`

func userPrompt(s Summary, analysisType string) (string, error) {
	classes, err := json.MarshalIndent(s.ObjectsPerClass, "", "  ")
	if err != nil {
		return "", err
	}
	samples, err := json.MarshalIndent(s.SampleFrames, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this video segmentation data for a %s scenario:\n\n", analysisType)
	fmt.Fprintf(&b, "Total Frames: %d\n", s.TotalFrames)
	fmt.Fprintf(&b, "Total Objects Detected: %d\n", s.TotalObjects)
	fmt.Fprintf(&b, "Average Objects per Frame: %.2f\n\n", s.AvgObjectsPerFrame)
	fmt.Fprintf(&b, "Objects by Class:\n%s\n\n", classes)
	fmt.Fprintf(&b, "Sample Frame Data:\n%s\n\n", samples)
	b.WriteString("Provide a comprehensive analysis with actionable insights, potential anomalies, " +
		"and recommendations for building a dataset from this video.")
	return b.String(), nil
}

// Analyze narrates a summary.
//
// Arguments:
//   - ctx: Bounds the whole call, retries included.
//   - summary: The sampled run summary.
//   - analysisType: One of the Type constants.
//   - model: Model override. Empty uses the configured model.
//
// Returns:
//   - *Analysis: The parsed reply with missing fields defaulted.
//   - error: A *ClientError, ErrInvalidResponse or a transport error.
func (c *Client) Analyze(ctx context.Context, summary Summary, analysisType, model string) (*Analysis, error) {
	if analysisType == "" {
		analysisType = TypeGeneric
	}
	if model == "" {
		model = c.config.Model
	}
	user, err := userPrompt(summary, analysisType)
	if err != nil {
		return nil, errors.Wrap(err, "building prompt")
	}

	content, err := c.complete(ctx, model, user)
	if err != nil {
		return nil, err
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(StripCodeFence(content)), &analysis); err != nil {
		return nil, errors.Wrapf(ErrInvalidResponse, "%v", err)
	}
	analysis.fillDefaults()
	return &analysis, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete posts one chat completion, retrying 429, 5xx and transport errors.
func (c *Client) complete(ctx context.Context, model, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	})
	if err != nil {
		return "", errors.Wrap(err, "encoding request")
	}

	policy := c.config.Retry
	for attempt := 0; ; attempt++ {
		content, err := c.post(ctx, body)
		if err == nil {
			return content, nil
		}
		if !retryable(ctx, err) || attempt >= policy.MaxRetries {
			return "", err
		}
		delay := policy.Delay(attempt)
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("retrying openrouter request")
		if werr := wait(ctx, delay); werr != nil {
			return "", werr
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return !errors.Is(err, ErrInvalidResponse)
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.config.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "creating request")
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.config.SiteURL != "" {
		req.Header.Set("HTTP-Referer", c.config.SiteURL)
	}
	if c.config.AppName != "" {
		req.Header.Set("X-Title", c.config.AppName)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "calling openrouter")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "reading response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ClientError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", errors.Wrapf(ErrInvalidResponse, "decoding completion: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.Wrap(ErrInvalidResponse, "no choices in completion")
	}
	return parsed.Choices[0].Message.Content, nil
}

// StripCodeFence removes a surrounding ```json or ``` markdown fence.
func StripCodeFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
