package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// RetryingClient retries transient provider failures (rate limits,
// overload, timeouts) with exponential backoff. Other errors are returned
// on the first attempt.
type RetryingClient struct {
	gen        LLMClient
	emb        EmbedderClient
	maxRetries int
	log        *zap.Logger

	Backoff time.Duration
	Sleep   func(ctx context.Context, d time.Duration) error
}

func NewRetryingClient(gen LLMClient, emb EmbedderClient, maxRetries int, log *zap.Logger) *RetryingClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &RetryingClient{
		gen:        gen,
		emb:        emb,
		maxRetries: maxRetries,
		log:        log,
		Backoff:    3 * time.Second,
		Sleep:      sleepCtx,
	}
}

func (r *RetryingClient) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := r.do(ctx, "generate", func() error {
		var err error
		out, err = r.gen.Generate(ctx, prompt)
		return err
	})
	return out, err
}

func (r *RetryingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if r.emb == nil {
		return nil, errors.New("embeddings not supported by this provider")
	}
	var out []float32
	err := r.do(ctx, "embed", func() error {
		var err error
		out, err = r.emb.Embed(ctx, text)
		return err
	})
	return out, err
}

func (r *RetryingClient) do(ctx context.Context, op string, call func() error) error {
	wait := r.Backoff
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		if attempt >= r.maxRetries || !Retryable(err) || ctx.Err() != nil {
			return err
		}
		r.log.Warn("llm call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if serr := r.Sleep(ctx, wait); serr != nil {
			return serr
		}
		wait *= 2
	}
}

// Retryable reports whether err looks transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "rate_limit", "429", "timeout", "timed out", "overloaded", "503", "resource exhausted", "connection reset", "connection refused"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 429 || code == 408 || code >= 500
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
