package coinrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sheikh-saqib/coin-tip-ledger/internal/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	URL      string
	User     string
	Password string
	Timeout  time.Duration
	// RPS caps outbound calls per second; zero disables the limiter.
	RPS   float64
	Burst int
	// BreakerFailures consecutive transport failures open the breaker; zero disables it.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client talks JSON-RPC 1.0 to a bitcoin-family wallet daemon over HTTP basic auth.
type Client struct {
	httpClient *http.Client
	cfg        Config
	requestID  atomic.Int64
	logger     *zap.Logger
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:    cfg,
		logger: logger.Named("coinrpc"),
	}

	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	if cfg.BreakerFailures > 0 {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "coinrpc",
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			// a daemon that answers with an RPC error is reachable
			IsSuccessful: func(err error) bool {
				var rpcErr *RPCError
				return err == nil || errors.As(err, &rpcErr)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("circuit breaker state change",
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
	}

	return c
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	start := time.Now()
	result, err := c.guardedCall(ctx, method, params)

	metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	metrics.RPCCallsTotal.WithLabelValues(method, classifyStatus(err)).Inc()
	if err != nil {
		c.logger.Debug("rpc call failed", zap.String("method", method), zap.Error(err))
	}
	return result, err
}

func (c *Client) guardedCall(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if c.limiter != nil {
		if c.limiter.Tokens() < 1 {
			metrics.RPCRateLimitWaits.Inc()
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	if c.breaker == nil {
		return c.do(ctx, method, params)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, method, params)
	})
	if err != nil {
		return nil, err
	}
	return out.(json.RawMessage), nil
}

func (c *Client) do(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	req := Request{
		JSONRPC: "1.0",
		ID:      int(c.requestID.Add(1)),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "text/plain")
	if c.cfg.User != "" || c.cfg.Password != "" {
		httpReq.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// bitcoind reports RPC errors with a non-200 status and a JSON body
	var rpcResp Response
	if jsonErr := json.Unmarshal(respBody, &rpcResp); jsonErr == nil && rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return rpcResp.Result, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func classifyStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		return "rpc_error"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport_error"
	}
}
