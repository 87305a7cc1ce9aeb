package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	validationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "labguard",
		Subsystem: "ai",
		Name:      "validation_duration_seconds",
		Help:      "Duration of AI validation requests",
	}, []string{"model"})

	validationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labguard",
		Subsystem: "ai",
		Name:      "validation_failures_total",
		Help:      "Number of AI validation attempt failures",
	}, []string{"model", "reason"})

	modelFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "labguard",
		Subsystem: "ai",
		Name:      "model_fallbacks_total",
		Help:      "Times the cascade advanced past the primary model",
	})
)

const verdictSchemaJSON = `{
  "type": "object",
  "required": ["is_legitimate", "follows_instructions", "is_hardcoded", "confidence"],
  "properties": {
    "is_legitimate": {"type": "boolean"},
    "follows_instructions": {"type": "boolean"},
    "is_hardcoded": {"type": "boolean"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "issues": {"type": "array", "items": {"type": "string"}},
    "explanation": {"type": "string"}
  }
}`

var verdictSchema = jsonschema.MustCompileString("verdict.json", verdictSchemaJSON)

// ClientConfig configures the cascading validator client.
type ClientConfig struct {
	EndpointURL string
	APIKey      string
	Models      []string
	Timeout     time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	Logger      zerolog.Logger
}

// Client implements Validator against an OpenAI-compatible completion
// endpoint, cascading through an ordered model list.
type Client struct {
	api    *openai.Client
	cfg    ClientConfig
	tracer trace.Tracer
	logger zerolog.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewClient builds a validator client using the provided configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ai api key is required")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("at least one model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.EndpointURL != "" {
		apiConfig.BaseURL = cfg.EndpointURL
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Client{
		api:    openai.NewClientWithConfig(apiConfig),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/labguard/labguard-api/pkg/ai"),
		logger: logger.With().Str("component", "ai_validator").Logger(),
		sleep:  sleepContext,
	}, nil
}

type errorAction int

const (
	actionRetrySame errorAction = iota
	actionNextModel
	actionGiveUp
)

// classifyError is the pure decision function of the cascade: rate limits
// advance to the next model immediately, 5xx and transport failures are
// retried on the same model, any other client error skips to the next model.
func classifyError(err error) errorAction {
	if err == nil {
		return actionGiveUp
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return actionNextModel
		case apiErr.HTTPStatusCode >= 500:
			return actionRetrySame
		default:
			return actionNextModel
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return actionRetrySame
	}

	// Parse and schema failures are treated like a 5xx.
	return actionRetrySame
}

// Validate runs the model cascade. It returns ErrCascadeExhausted once every
// model has been tried; callers interpret that as "AI unavailable". The call
// is idempotent and safe to repeat.
func (c *Client) Validate(parent context.Context, input ValidationInput) (*Verdict, error) {
	ctx, span := c.tracer.Start(parent, "ai.validate", trace.WithAttributes(
		attribute.String("language", input.Language),
		attribute.Int("models", len(c.cfg.Models)),
	))
	defer span.End()

	for level, model := range c.cfg.Models {
		if level > 0 {
			modelFallbacks.Inc()
		}

		verdict, err := c.tryModel(ctx, model, input)
		if err == nil {
			verdict.ModelTag = model
			verdict.FallbackLevel = level
			span.SetAttributes(attribute.String("model", model), attribute.Int("fallback_level", level))
			return verdict, nil
		}

		c.logger.Warn().Err(err).Str("model", model).Int("fallback_level", level).
			Msg("validation model exhausted, advancing cascade")
	}

	span.SetStatus(codes.Error, ErrCascadeExhausted.Error())
	return nil, ErrCascadeExhausted
}

func (c *Client) tryModel(ctx context.Context, model string, input ValidationInput) (*Verdict, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, time.Duration(attempt)*c.cfg.BaseDelay); err != nil {
				return nil, err
			}
		}

		verdict, err := c.callOnce(ctx, model, input)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		validationFailures.WithLabelValues(model, failureReason(err)).Inc()

		switch classifyError(err) {
		case actionNextModel:
			return nil, err
		case actionGiveUp:
			return nil, err
		case actionRetrySame:
			// fall through to the next attempt
		}
	}

	return nil, lastErr
}

func (c *Client) callOnce(parent context.Context, model string, input ValidationInput) (*Verdict, error) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: validatorSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: buildValidationPrompt(input)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	latency := time.Since(start)
	validationDuration.WithLabelValues(model).Observe(latency.Seconds())
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	verdict, err := parseVerdict(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err != nil {
		return nil, err
	}

	verdict.LatencyMs = latency.Milliseconds()
	return verdict, nil
}

func parseVerdict(content string) (*Verdict, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parse verdict json: %w", err)
	}
	if err := verdictSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("verdict schema: %w", err)
	}

	var payload struct {
		IsLegitimate        bool     `json:"is_legitimate"`
		FollowsInstructions bool     `json:"follows_instructions"`
		IsHardcoded         bool     `json:"is_hardcoded"`
		Confidence          float64  `json:"confidence"`
		Issues              []string `json:"issues"`
		Explanation         string   `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}

	confidence := int(payload.Confidence)
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	return &Verdict{
		IsLegitimate:        payload.IsLegitimate,
		FollowsInstructions: payload.FollowsInstructions,
		IsHardcoded:         payload.IsHardcoded,
		Confidence:          confidence,
		Issues:              payload.Issues,
		Explanation:         payload.Explanation,
	}, nil
}

func validatorSystemPrompt() string {
	return "You are an automated academic-integrity reviewer for programming lab submissions. " +
		"Decide whether the submitted code genuinely solves the task or works around the test cases " +
		"(hard-coded outputs, input-value switches, copied answers). Respond with a JSON object containing " +
		"is_legitimate (boolean), follows_instructions (boolean), is_hardcoded (boolean), " +
		"confidence (0-100), issues (array of short strings), and explanation (string)."
}

func buildValidationPrompt(input ValidationInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Activity\n")
	builder.WriteString(input.ActivityTitle)
	builder.WriteString("\n\n## Description\n")
	builder.WriteString(input.ActivityDescription)
	builder.WriteString("\n\n## Language\n")
	builder.WriteString(input.Language)
	builder.WriteString("\n\n## Test Cases\n")
	for i, tc := range input.TestCases {
		builder.WriteString(fmt.Sprintf("### Case %d\nInput:\n%s\nExpected output:\n%s\n", i+1, tc.Input, tc.ExpectedOutput))
	}
	builder.WriteString("\n## Submission\n")
	builder.WriteString(input.Source)
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func failureReason(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return "rate_limit"
		case apiErr.HTTPStatusCode >= 500:
			return "server_error"
		default:
			return "client_error"
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "other"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
