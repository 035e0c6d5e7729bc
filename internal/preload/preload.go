// Package preload fetches feed images before a snapshot is shown, so cards
// never render with blank images.
package preload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Loader fetches one image. An error means the image failed to load; the
// gate treats that the same as success.
type Loader interface {
	Load(ctx context.Context, url string) error
}

// HTTPLoader warms images with a plain GET and discards the body.
type HTTPLoader struct {
	client *http.Client
}

func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	return &HTTPLoader{client: &http.Client{Timeout: timeout}}
}

func (l *HTTPLoader) Load(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("preload %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// Observer receives the outcome of each gate pass.
type Observer func(images int, failed int, d time.Duration)

// Gate waits until every image of a batch has either loaded or failed.
type Gate struct {
	loader  Loader
	limit   int
	log     *zap.Logger
	observe Observer
}

// NewGate returns a gate that runs at most limit loads at once. limit <= 0
// means no limit.
func NewGate(loader Loader, limit int, log *zap.Logger, observe Observer) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{loader: loader, limit: limit, log: log.Named("preload"), observe: observe}
}

// Wait returns once every URL has settled. Individual failures are logged
// and swallowed; the only error returned is ctx's, when the wait was
// abandoned.
func (g *Gate) Wait(ctx context.Context, urls []string) error {
	start := time.Now()

	var eg errgroup.Group
	if g.limit > 0 {
		eg.SetLimit(g.limit)
	}

	failures := make(chan struct{}, len(urls))
	n := 0
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		n++
		eg.Go(func() error {
			if err := g.loader.Load(ctx, u); err != nil {
				if ctx.Err() == nil {
					g.log.Debug("image failed to preload", zap.String("url", u), zap.Error(err))
				}
				failures <- struct{}{}
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = eg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if g.observe != nil {
		g.observe(n, len(failures), time.Since(start))
	}
	return ctx.Err()
}
