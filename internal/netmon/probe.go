package netmon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultHealthPath = "/health"

// Prober performs one reachability check. A nil error means the server is
// reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber checks a health endpoint. It sends HEAD and falls back to GET
// when the server does not allow HEAD. Only 2xx counts as reachable.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber probes baseURL + healthPath. An empty healthPath uses
// "/health".
func NewHTTPProber(baseURL, healthPath string, client *http.Client) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}

	if healthPath == "" {
		healthPath = defaultHealthPath
	}

	return &HTTPProber{
		url:    strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(healthPath, "/"),
		client: client,
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) error {
	status, err := p.do(ctx, http.MethodHead)
	if err != nil {
		return err
	}

	if status == http.StatusMethodNotAllowed {
		status, err = p.do(ctx, http.MethodGet)
		if err != nil {
			return err
		}
	}

	if status < 200 || status > 299 {
		return fmt.Errorf("netmon: health check %s returned %d", p.url, status)
	}

	return nil
}

func (p *HTTPProber) do(ctx context.Context, method string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("netmon: creating health request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("netmon: health check %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
