package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthResult is the outcome of probing one proxy.
type HealthResult struct {
	ProxyID      uint32
	Healthy      bool
	ResponseTime time.Duration
	Error        string
}

// HealthChecker probes pool members through themselves and feeds the
// results back into the pool's failure accounting.
type HealthChecker struct {
	pool        *Pool
	probeURL    string
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewHealthChecker(pool *Pool, timeout time.Duration, logger *slog.Logger) *HealthChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthChecker{
		pool:        pool,
		probeURL:    "https://www.google.com/generate_204",
		timeout:     timeout,
		concurrency: 5,
		logger:      logger,
	}
}

// CheckOne probes a single proxy by issuing a request through it.
func (h *HealthChecker) CheckOne(ctx context.Context, p Proxy) HealthResult {
	proxyURL, err := url.Parse(p.URL)
	if err != nil {
		return HealthResult{ProxyID: p.ID, Error: err.Error()}
	}

	client := &http.Client{
		Timeout: h.timeout,
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.probeURL, nil)
	if err != nil {
		return HealthResult{ProxyID: p.ID, Error: err.Error()}
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return HealthResult{ProxyID: p.ID, Error: err.Error(), ResponseTime: elapsed}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode < 400
	res := HealthResult{ProxyID: p.ID, Healthy: healthy, ResponseTime: elapsed}
	if !healthy {
		res.Error = resp.Status
	}
	return res
}

// CheckAll probes every non-banned proxy with bounded concurrency and
// applies the outcomes to the pool.
func (h *HealthChecker) CheckAll(ctx context.Context) []HealthResult {
	proxies := h.pool.GetAll()
	results := make([]HealthResult, len(proxies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)

	for i, p := range proxies {
		if p.Status == StatusBanned {
			continue
		}
		i, p := i, p
		g.Go(func() error {
			results[i] = h.CheckOne(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now()
	for _, res := range results {
		if res.ProxyID == 0 {
			continue
		}
		if res.Healthy {
			h.pool.MarkSuccess(res.ProxyID, res.ResponseTime)
		} else {
			h.pool.MarkFailure(res.ProxyID)
		}
		h.pool.Update(res.ProxyID, func(p *Proxy) { p.LastChecked = now })
	}
	return results
}

// Start launches the periodic health check loop. Stop terminates it.
func (h *HealthChecker) Start(interval time.Duration) {
	if interval <= 0 || h.pool.Size() == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				results := h.CheckAll(ctx)
				healthy := 0
				for _, r := range results {
					if r.Healthy {
						healthy++
					}
				}
				h.logger.Debug("proxy health check complete", "healthy", healthy, "total", len(results))
			}
		}
	}()
}

// Stop halts the health loop and waits for it to exit.
func (h *HealthChecker) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
}
