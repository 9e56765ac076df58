// Package http is a builtin transformer exposing outbound HTTP requests
// to exe bodies as "http.request" (§4.7).
package http

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mlld-lang/mlld/interp"
)

// Config holds the HTTP transformer's client tuning knobs, read from
// environment overrides the same way the upstream plugin does.
type Config struct {
	Timeout     time.Duration
	MaxRetries  int
	Debug       bool
	RetryWaitMS int
}

// Plugin implements HTTP request dispatch as a Container-registered
// transformer (§4.7 "a host-provided function receiving already-
// evaluated args").
type Plugin struct {
	client *resty.Client
}

// NewPlugin returns a Plugin. Call Initialize before first use.
func NewPlugin() *Plugin {
	return &Plugin{}
}

// Initialize implements interp.Initializer.
func (p *Plugin) Initialize() error {
	cfg := Config{
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		Debug:       false,
		RetryWaitMS: 100,
	}

	if v := os.Getenv("MLLD_HTTP_TIMEOUT"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			cfg.Timeout = time.Duration(seconds) * time.Second
		}
	}
	if v := os.Getenv("MLLD_HTTP_MAX_RETRIES"); v != "" {
		if r, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = r
		}
	}
	if os.Getenv("MLLD_HTTP_DEBUG") == "true" {
		cfg.Debug = true
	}
	if v := os.Getenv("MLLD_HTTP_RETRY_WAIT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.RetryWaitMS = ms
		}
	}

	p.client = resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Duration(cfg.RetryWaitMS) * time.Millisecond).
		SetDebug(cfg.Debug)

	return nil
}

// Shutdown implements interp.Shutdowner.
func (p *Plugin) Shutdown() error {
	p.client = nil
	return nil
}

type requestConfig struct {
	uri         string
	method      string
	headers     map[string]string
	queryParams map[string]string
	body        map[string]any
}

// Request executes an HTTP request from an exe/run invocation's args.
// Registered as "http.request" by Container.RegisterPlugin's reflection
// discovery, whose inputs are already-evaluated values (§4.7) — no
// expression evaluation happens here, unlike the upstream task runner.
func (p *Plugin) Request(ic *interp.InvocationContext, args map[string]any) (map[string]any, error) {
	cfg, err := parseArgs(args)
	if err != nil {
		return nil, fmt.Errorf("http.request: invalid args: %w", err)
	}
	return p.execute(cfg)
}

func parseArgs(args map[string]any) (requestConfig, error) {
	uri, ok := args["url"].(string)
	if !ok {
		return requestConfig{}, fmt.Errorf("url not found or not a string")
	}
	method, ok := args["method"].(string)
	if !ok {
		return requestConfig{}, fmt.Errorf("method not found or not a string")
	}

	headers := map[string]any{}
	if raw, ok := args["headers"].(map[string]any); ok {
		headers = raw
	}
	query := map[string]any{}
	if raw, ok := args["queryParameters"].(map[string]any); ok {
		query = raw
	}
	body := map[string]any{}
	if raw, ok := args["body"].(map[string]any); ok {
		body = raw
	}

	return requestConfig{
		uri:         uri,
		method:      method,
		headers:     interp.ToStringValueMap(headers),
		queryParams: interp.ToStringValueMap(query),
		body:        body,
	}, nil
}

func (p *Plugin) execute(cfg requestConfig) (map[string]any, error) {
	var response map[string]any
	var errorResponse map[string]any

	resp, err := p.client.R().
		SetHeaders(cfg.headers).
		SetQueryParams(cfg.queryParams).
		SetBody(cfg.body).
		SetResult(&response).
		SetError(&errorResponse).
		Execute(cfg.method, cfg.uri)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"status":     resp.Status(),
		"statusCode": resp.StatusCode(),
		"isError":    resp.IsError(),
	}
	flat := response
	if resp.IsError() {
		flat = errorResponse
	}
	for k, v := range flat {
		result["body."+k] = v
	}
	return result, nil
}
