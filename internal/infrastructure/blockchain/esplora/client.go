package esplora

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"

	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/pkg/circuitbreaker"
)

type response struct {
	status int
	body   string
}

type client struct {
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	limiter ratelimit.Limiter
}

func newClient(requestTimeout time.Duration, requestsPerSecond int) *client {
	return &client{
		http:    &http.Client{Timeout: requestTimeout},
		cb:      circuitbreaker.NewCircuitBreaker("esplora"),
		limiter: ratelimit.New(requestsPerSecond),
	}
}

// do sends the request through the circuit breaker. Only transport failures
// and server errors count as failures, any other response is returned to the
// caller as is.
func (c *client) do(
	ctx context.Context, method, url, body string, headers map[string]string,
) (*response, error) {
	c.limiter.Take()

	res, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		rs, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer rs.Body.Close()

		buf, err := io.ReadAll(rs.Body)
		if err != nil {
			return nil, err
		}
		resp := &response{rs.StatusCode, strings.TrimSpace(string(buf))}
		if resp.status >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%s %s answered %d: %s", method, url, resp.status, resp.body)
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrNetwork, err)
	}
	return res.(*response), nil
}

func (c *client) get(ctx context.Context, url string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, url, "", nil)
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusOK {
		return "", fmt.Errorf("GET %s answered %d: %s", url, resp.status, resp.body)
	}
	return resp.body, nil
}
