// Package loadgen drives synthetic traffic at a running gate so the defense
// layers can be observed under load: the auth profile walks straight into the
// login limiter and lockout, health stays on the unthrottled probes.
package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Options struct {
	BaseURL     string
	Profile     string
	Requests    int
	Concurrency int
	Timeout     time.Duration
}

// Summary counts responses by status class. Rate limiting and lockout show
// up as a growing 4xx share on the auth profile.
type Summary struct {
	Profile  string         `json:"profile"`
	Total    int            `json:"total"`
	Errors   int            `json:"errors"`
	ByClass  map[string]int `json:"by_class"`
	Duration time.Duration  `json:"duration"`
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(profile string) string {
	profile = strings.ToLower(strings.TrimSpace(profile))
	if profile == "" {
		return "mixed"
	}
	return profile
}

// Run fires opts.Requests requests and tallies the outcome. The auth profile
// posts deliberately bad credentials; nothing here can mutate real accounts.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	profile := normalizeProfile(opts.Profile)
	switch profile {
	case "auth", "health", "mixed":
	default:
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
	if opts.Requests <= 0 {
		opts.Requests = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "http://localhost:8080"
	}

	client := &http.Client{Timeout: opts.Timeout}
	summary := &Summary{Profile: profile, ByClass: make(map[string]int)}
	var mu sync.Mutex

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i := 0; i < opts.Requests; i++ {
		i := i
		g.Go(func() error {
			status, err := fireOne(ctx, client, base, profile, i)
			mu.Lock()
			defer mu.Unlock()
			summary.Total++
			if err != nil {
				summary.Errors++
				return nil
			}
			summary.ByClass[classifyStatusClass(status)]++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	summary.Duration = time.Since(start)
	return summary, nil
}

func fireOne(ctx context.Context, client *http.Client, base, profile string, seq int) (int, error) {
	kind := profile
	if kind == "mixed" {
		if seq%2 == 0 {
			kind = "health"
		} else {
			kind = "auth"
		}
	}

	var req *http.Request
	var err error
	switch kind {
	case "health":
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, base+"/health/live", nil)
	default:
		body := fmt.Sprintf(`{"username":"loadgen-%d","password":"not-a-real-password"}`, seq)
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/v1/auth/login", bytes.NewBufferString(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
