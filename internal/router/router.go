// Package router fronts the two service profiles with a path-prefix router.
// Requests under /dev/ and /prod/ are forwarded to the matching upstream with
// the prefix stripped; everything else is answered locally.
package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

// Environment names the two routed upstreams.
type Environment string

const (
	EnvDevelopment Environment = "dev"
	EnvProduction  Environment = "prod"
)

// Router proxies environment-prefixed requests to fixed upstreams. Each
// request is routed exactly once; a failed upstream is never retried against
// the other environment.
type Router struct {
	dev    *httputil.ReverseProxy
	prod   *httputil.ReverseProxy
	logger *slog.Logger
}

// New constructs a Router proxying to the given upstream base URLs.
func New(devUpstream, prodUpstream string, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dev, err := newProxy(devUpstream, EnvDevelopment, logger)
	if err != nil {
		return nil, fmt.Errorf("dev upstream: %w", err)
	}
	prod, err := newProxy(prodUpstream, EnvProduction, logger)
	if err != nil {
		return nil, fmt.Errorf("prod upstream: %w", err)
	}
	return &Router{dev: dev, prod: prod, logger: logger}, nil
}

func newProxy(upstream string, env Environment, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream %q must be an absolute URL", upstream)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("upstream unreachable", "environment", string(env), "path", r.URL.Path, "error", err)
		writeUnavailable(w, env)
	}
	return proxy, nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strippable(r.URL.Path, "/dev"):
		stripPrefix(r, "/dev")
		rt.dev.ServeHTTP(w, r)
	case strippable(r.URL.Path, "/prod"):
		stripPrefix(r, "/prod")
		rt.prod.ServeHTTP(w, r)
	case r.URL.Path == "/" || r.URL.Path == "/index.html":
		rt.serveFrontend(w, r)
	case r.URL.Path == "/healthz":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok"}`)
	default:
		http.NotFound(w, r)
	}
}

// strippable reports whether path is prefix itself or a subpath of it. A bare
// "/development" must not match "/dev".
func strippable(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// stripPrefix rewrites the request in place so the upstream never sees the
// environment segment.
func stripPrefix(r *http.Request, prefix string) {
	r.URL.Path = strings.TrimPrefix(r.URL.Path, prefix)
	if r.URL.Path == "" {
		r.URL.Path = "/"
	}
	if r.URL.RawPath != "" {
		r.URL.RawPath = strings.TrimPrefix(r.URL.RawPath, prefix)
		if r.URL.RawPath == "" {
			r.URL.RawPath = "/"
		}
	}
}

func (rt *Router) serveFrontend(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, frontendPage)
}

// writeUnavailable emits the router's own 502 so callers can distinguish a
// dead upstream from an upstream-produced error.
func writeUnavailable(w http.ResponseWriter, env Environment) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {
			"code":    "upstream_unavailable",
			"message": fmt.Sprintf("%s upstream is unavailable", env),
		},
	})
}

const frontendPage = `<!doctype html>
<html>
<head><title>ticketcore</title></head>
<body>
<h1>ticketcore router</h1>
<p>Environments: <a href="/dev/tickets">/dev</a> | <a href="/prod/tickets">/prod</a></p>
</body>
</html>
`
