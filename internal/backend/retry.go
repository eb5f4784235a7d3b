package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type retryClient struct {
	Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// WithRetry wraps c so that failed calls are repeated up to maxRetries times
// with exponential backoff. Client errors (4xx) and cancellation are not
// retried. A zero maxRetries returns c unchanged.
func WithRetry(c Client, maxRetries uint64) Client {
	if maxRetries == 0 {
		return c
	}
	return &retryClient{
		Client:     c,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (r *retryClient) Txt2Img(ctx context.Context, req *Txt2ImgRequest) (*Txt2ImgResult, error) {
	var res *Txt2ImgResult
	err := r.retry(ctx, "txt2img", func() error {
		var err error
		res, err = r.Client.Txt2Img(ctx, req)
		return err
	})
	return res, err
}

func (r *retryClient) ControlNetModels(ctx context.Context) ([]string, error) {
	var models []string
	err := r.retry(ctx, "controlnet model list", func() error {
		var err error
		models, err = r.Client.ControlNetModels(ctx)
		return err
	})
	return models, err
}

func (r *retryClient) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.maxRetries), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "backend call failed, retrying", "op", op, "wait", wait, "error", err)
	})
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}
