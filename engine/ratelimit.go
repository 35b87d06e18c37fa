package engine

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/personabench/personabench/logger"
	"github.com/personabench/personabench/model"
	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second
	// Extra wait on top of a server-provided Retry-After, since token
	// buckets refill gradually and an exact wait tends to 429 again.
	retryAfterBuffer = 10 * time.Second
)

var retryAfterMessage = regexp.MustCompile(`retry after (\d+) seconds?`)

// RateLimitedLLM wraps an llms.Model with proactive TPM/RPM throttling and
// optional reactive 429 retries. Throttling is best-effort: token counts
// are estimated before the call, so the provider can still reject requests,
// which is why both mechanisms are used together.
type RateLimitedLLM struct {
	wrapped    llms.Model
	tpmLimiter *rate.Limiter
	rpmLimiter *rate.Limiter
	modelName  string

	retryOn429         bool
	maxRetries         int
	retryAfterProvider RetryAfterProvider
}

func NewRateLimitedLLM(wrapped llms.Model, limits model.RateLimitConfig, retry model.RetryConfig, modelName string) *RateLimitedLLM {
	maxRetries := retry.MaxRetries
	if retry.RetryOn429 && maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	rl := &RateLimitedLLM{
		wrapped:    wrapped,
		modelName:  modelName,
		retryOn429: retry.RetryOn429,
		maxRetries: maxRetries,
	}

	// Limiter rate is per second, burst is a full minute's quota.
	if limits.TPM > 0 {
		rl.tpmLimiter = rate.NewLimiter(rate.Limit(float64(limits.TPM)/60.0), limits.TPM)
		logger.Logger.Info("Rate limiter configured", "type", "TPM", "limit", limits.TPM)
	}
	if limits.RPM > 0 {
		rl.rpmLimiter = rate.NewLimiter(rate.Limit(float64(limits.RPM)/60.0), limits.RPM)
		logger.Logger.Info("Rate limiter configured", "type", "RPM", "limit", limits.RPM)
	}
	if retry.RetryOn429 {
		logger.Logger.Info("429 retry handling enabled", "max_retries", maxRetries)
	}

	return rl
}

// SetRetryAfterProvider links the transport-level header capture so that
// retries can honor server-provided wait times.
func (rl *RateLimitedLLM) SetRetryAfterProvider(provider RetryAfterProvider) {
	rl.retryAfterProvider = provider
}

func (rl *RateLimitedLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if rl.rpmLimiter != nil {
		if err := rl.rpmLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	estimated := rl.estimateInputTokens(messages)
	if rl.tpmLimiter != nil && estimated > 0 {
		logger.Logger.Debug("Waiting for TPM rate limit", "estimated_tokens", estimated)
		if err := rl.tpmLimiter.WaitN(ctx, estimated); err != nil {
			return nil, err
		}
	}

	response, err := rl.wrapped.GenerateContent(ctx, messages, options...)
	if err == nil {
		// Reserve the overage when the provider reports more tokens than
		// we budgeted, so the next call waits accordingly.
		if response != nil && rl.tpmLimiter != nil {
			if actual := actualTokens(response); actual > estimated {
				rl.tpmLimiter.ReserveN(time.Now(), actual-estimated)
			}
		}
		return response, nil
	}

	if !rl.retryOn429 || !isRateLimitError(err) {
		return nil, err
	}

	backoff := defaultInitialBackoff
	for attempt := 1; attempt <= rl.maxRetries; attempt++ {
		retryAfter := rl.extractRetryAfter(err)
		if retryAfter > 0 {
			backoff = retryAfter
		}
		if backoff > defaultMaxBackoff {
			backoff = defaultMaxBackoff
		}

		logger.Logger.Warn("429 rate limit hit, retrying",
			"attempt", attempt,
			"max_retries", rl.maxRetries,
			"wait_seconds", backoff.Seconds())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		response, err = rl.wrapped.GenerateContent(ctx, messages, options...)
		if err == nil {
			logger.Logger.Info("Request succeeded after 429 retry", "attempt", attempt)
			return response, nil
		}
		if !isRateLimitError(err) {
			return nil, err
		}
		if retryAfter == 0 {
			backoff *= 2
		}
	}

	logger.Logger.Error("429 retries exhausted", "max_retries", rl.maxRetries, "error", err.Error())
	return nil, err
}

// Call implements the llms.Model interface for plain prompt generation.
func (rl *RateLimitedLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
		},
	}

	response, err := rl.GenerateContent(ctx, messages, options...)
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", nil
	}
	return response.Choices[0].Content, nil
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

// extractRetryAfter prefers the HTTP header captured by the transport over
// parsing provider error text ("Please retry after X seconds").
func (rl *RateLimitedLLM) extractRetryAfter(err error) time.Duration {
	if rl.retryAfterProvider != nil {
		if duration, capturedAt := rl.retryAfterProvider.GetLastRetryAfter(); duration > 0 {
			if time.Since(capturedAt) < 5*time.Second {
				rl.retryAfterProvider.ClearRetryAfter()
				return duration + retryAfterBuffer
			}
		}
	}

	if err == nil {
		return 0
	}
	if matches := retryAfterMessage.FindStringSubmatch(err.Error()); len(matches) >= 2 {
		if seconds, parseErr := strconv.Atoi(matches[1]); parseErr == nil && seconds > 0 {
			return time.Duration(seconds)*time.Second + retryAfterBuffer
		}
	}
	return 0
}

// estimateInputTokens uses tiktoken when the model is known and falls back
// to a chars/4 heuristic. A 50% margin covers completion tokens and
// provider-side counting differences.
func (rl *RateLimitedLLM) estimateInputTokens(messages []llms.MessageContent) int {
	inputTokens := 0

	var tkm *tiktoken.Tiktoken
	if rl.modelName != "" {
		tkm, _ = tiktoken.EncodingForModel(rl.modelName)
	}

	totalChars := 0
	for _, msg := range messages {
		for _, part := range msg.Parts {
			textPart, ok := part.(llms.TextContent)
			if !ok {
				continue
			}
			if tkm != nil {
				inputTokens += len(tkm.Encode(textPart.Text, nil, nil))
			}
			totalChars += len(textPart.Text)
		}
	}

	if tkm == nil {
		inputTokens = totalChars / 4
		if inputTokens < 1 && totalChars > 0 {
			inputTokens = 1
		}
	}

	return inputTokens + inputTokens/2
}

func actualTokens(response *llms.ContentResponse) int {
	if response == nil || len(response.Choices) == 0 {
		return 0
	}
	info := response.Choices[0].GenerationInfo
	if info == nil {
		return 0
	}

	for _, key := range []string{"TotalTokens", "total_tokens"} {
		if v := asInt(info[key]); v > 0 {
			return v
		}
	}
	for _, pair := range [][2]string{
		{"PromptTokens", "CompletionTokens"},
		{"prompt_tokens", "completion_tokens"},
		{"input_tokens", "output_tokens"},
	} {
		in, out := asInt(info[pair[0]]), asInt(info[pair[1]])
		if in > 0 || out > 0 {
			return in + out
		}
	}
	return 0
}

func asInt(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case float32:
		return int(val)
	case float64:
		return int(val)
	case string:
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return 0
}

// NeedsLLMWrapper reports whether the provider configuration requires
// wrapping the raw model with this layer.
func NeedsLLMWrapper(limits model.RateLimitConfig, retry model.RetryConfig) bool {
	return limits.TPM > 0 || limits.RPM > 0 || retry.RetryOn429
}
