package app

import (
	"context"
	"sync"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

// RefreshMargin a url is refreshed this long before it expires
const RefreshMargin = 300 * time.Second

// Timer what afterFunc returns, *time.Timer satisfies it
type Timer interface {
	Stop() bool
}

// URLRefresher keeps a signed url fresh for a long playback session.
// The next fetch is scheduled at expiresIn - margin (half the lifetime when that is not positive);
// Stop cancels the pending one.
type URLRefresher struct {
	fetch      func(ctx context.Context) (domain.SignedURL, error)
	onRefresh  func(domain.SignedURL)
	margin     time.Duration
	retryDelay time.Duration
	afterFunc  func(d time.Duration, f func()) Timer

	mu      sync.Mutex
	ctx     context.Context
	timer   Timer
	stopped bool
	done    chan struct{}
}

// RefresherOption option of NewURLRefresher
type RefresherOption func(*URLRefresher)

// WithAfterFunc 測試時注入排程器
func WithAfterFunc(fn func(d time.Duration, f func()) Timer) RefresherOption {
	return func(r *URLRefresher) {
		r.afterFunc = fn
	}
}

// WithMargin overrides RefreshMargin
func WithMargin(d time.Duration) RefresherOption {
	return func(r *URLRefresher) {
		if d > 0 {
			r.margin = d
		}
	}
}

// WithRetryDelay delay before retrying a failed fetch
func WithRetryDelay(d time.Duration) RefresherOption {
	return func(r *URLRefresher) {
		r.retryDelay = d
	}
}

// NewURLRefresher fetch gets a new url, onRefresh receives every new one
func NewURLRefresher(fetch func(ctx context.Context) (domain.SignedURL, error), onRefresh func(domain.SignedURL), opts ...RefresherOption) *URLRefresher {
	r := &URLRefresher{
		fetch:      fetch,
		onRefresh:  onRefresh,
		margin:     RefreshMargin,
		retryDelay: 10 * time.Second,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RefreshDelay time until the next fetch, never negative
func RefreshDelay(expiresIn int, margin time.Duration) time.Duration {
	d := time.Duration(expiresIn)*time.Second - margin
	if d < 0 {
		return 0
	}
	return d
}

// Start schedules the refresh of current; ctx cancellation also stops it
func (r *URLRefresher) Start(ctx context.Context, current domain.SignedURL) {
	done := make(chan struct{})
	r.mu.Lock()
	r.ctx = ctx
	r.stopped = false
	r.done = done
	r.mu.Unlock()

	r.schedule(RefreshDelay(current.ExpiresIn, r.margin))
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-done:
		}
	}()
}

// nextDelay 新 url 的壽命不超過 margin 時，改在一半壽命後更新，且不低於 retryDelay
func (r *URLRefresher) nextDelay(expiresIn int) time.Duration {
	if d := RefreshDelay(expiresIn, r.margin); d > 0 {
		return d
	}
	floor := r.retryDelay
	if floor <= 0 {
		floor = time.Second
	}
	if half := time.Duration(expiresIn) * time.Second / 2; half > floor {
		return half
	}
	return floor
}

func (r *URLRefresher) schedule(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = r.afterFunc(d, r.refresh)
}

func (r *URLRefresher) refresh() {
	r.mu.Lock()
	ctx, stopped := r.ctx, r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}

	next, err := r.fetch(ctx)
	if err != nil {
		logger.Log.Warn("refresh signed url failed, retrying", zap.Duration("retry_in", r.retryDelay), zap.Error(err))
		r.schedule(r.retryDelay)
		return
	}
	if r.onRefresh != nil {
		r.onRefresh(next)
	}
	r.schedule(r.nextDelay(next.ExpiresIn))
}

// Stop cancels the pending refresh, safe to call more than once
func (r *URLRefresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
