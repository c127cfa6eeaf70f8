// Package rest runs the node's shared HTTP listener. Inbound REST units bind
// their routes here; the listener also serves a landing page listing every
// route and a small status API.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/drblury/edgeflow/internal/runtime/logging"
)

// Built-in endpoints.
const (
	LandingPath   = "/"
	ServicesPath  = "/api/services"
	ResourcesPath = "/api/resources"
)

// ServiceInfo is one row of the services endpoint.
type ServiceInfo struct {
	Name            string `json:"name"`
	ItineraryID     string `json:"itinerary_id"`
	IntegrationName string `json:"integration_name"`
	BaseType        string `json:"base_type,omitempty"`
	Started         bool   `json:"started"`
}

// Route is one entry of the landing page.
type Route struct {
	Method  string `json:"method"`
	Pattern string `json:"pattern"`
}

// Options configures a Listener.
type Options struct {
	// Address is host:port; ":0" picks a free port.
	Address string
	Logger  logging.ServiceLogger
	// Services feeds the services endpoint.
	Services func() []ServiceInfo
	// AllowedOrigins enables CORS on the status API. "*" allows any origin.
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Listener is a chi router behind one http.Server. A published router is
// never modified: binding a route builds a new one and swaps it in, and Reset
// swaps in an empty one so routes of stopped units disappear without
// restarting the server.
type Listener struct {
	opts      Options
	logger    logging.ServiceLogger
	resources *resourceTracker

	mu     sync.RWMutex
	router chi.Router
	bound  []unitRoute
	server *http.Server
	addr   string
	done   chan struct{}
}

type unitRoute struct {
	method  string
	pattern string
	handler http.Handler
}

func New(opts Options) *Listener {
	if opts.Logger == nil {
		opts.Logger = logging.NopServiceLogger()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	l := &Listener{opts: opts, logger: opts.Logger, resources: newResourceTracker()}
	l.router = l.newRouter()
	return l
}

// Address formats a listen address for port.
func Address(port int) string {
	return fmt.Sprintf(":%d", port)
}

func (l *Listener) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get(LandingPath, l.handleLanding)
	r.Group(func(r chi.Router) {
		r.Use(l.cors)
		r.Method(http.MethodGet, ServicesPath, http.HandlerFunc(l.handleServices))
		r.Method(http.MethodOptions, ServicesPath, http.HandlerFunc(noContent))
		r.Method(http.MethodGet, ResourcesPath, http.HandlerFunc(l.handleResources))
		r.Method(http.MethodOptions, ResourcesPath, http.HandlerFunc(noContent))
	})
	return r
}

func (l *Listener) current() chi.Router {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.router
}

// Method binds h for method and pattern. It is safe to call while serving
// and from several goroutines. It satisfies host.Routes.
func (l *Listener) Method(method, pattern string, h http.Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bound = append(l.bound, unitRoute{method: method, pattern: pattern, handler: h})
	r := l.newRouter()
	for _, rt := range l.bound {
		r.Method(rt.method, rt.pattern, rt.handler)
	}
	l.router = r
}

// Reset drops every unit route.
func (l *Listener) Reset() {
	r := l.newRouter()
	l.mu.Lock()
	l.router = r
	l.bound = nil
	l.mu.Unlock()
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.current().ServeHTTP(w, r)
}

// Routes lists the bound routes sorted by pattern and method.
func (l *Listener) Routes() []Route {
	var routes []Route
	_ = chi.Walk(l.current(), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, Route{Method: method, Pattern: route})
		return nil
	})
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Pattern != routes[j].Pattern {
			return routes[i].Pattern < routes[j].Pattern
		}
		return routes[i].Method < routes[j].Method
	})
	return routes
}

// ListenAddress is the configured address.
func (l *Listener) ListenAddress() string {
	return l.opts.Address
}

// Running reports whether the server is serving.
func (l *Listener) Running() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.server != nil
}

// Addr is the bound address once started.
func (l *Listener) Addr() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.addr
}

// Start binds the address and serves in the background. Starting a running
// listener is a no-op.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.server != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.opts.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.opts.Address, err)
	}
	srv := &http.Server{Handler: l, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})
	l.server, l.addr, l.done = srv, ln.Addr().String(), done

	l.logger.Info("Starting REST listener", logging.LogFields{"address": l.addr})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("REST listener stopped", err, logging.LogFields{"address": ln.Addr().String()})
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	srv, done := l.server, l.done
	l.server, l.addr, l.done = nil, "", nil
	l.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.opts.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

func (l *Listener) handleLanding(w http.ResponseWriter, r *http.Request) {
	routes := l.Routes()
	if render.GetAcceptedContentType(r) == render.ContentTypeJSON {
		render.JSON(w, r, routes)
		return
	}
	var b strings.Builder
	b.WriteString("<html><head><title>edgeflow</title></head><body><h1>edgeflow node</h1><ul>")
	for _, rt := range routes {
		fmt.Fprintf(&b, "<li><code>%s %s</code></li>", rt.Method, rt.Pattern)
	}
	b.WriteString("</ul></body></html>")
	render.HTML(w, r, b.String())
}

func (l *Listener) handleServices(w http.ResponseWriter, r *http.Request) {
	services := []ServiceInfo{}
	if l.opts.Services != nil {
		services = append(services, l.opts.Services()...)
	}
	render.JSON(w, r, services)
}

func (l *Listener) handleResources(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, l.resources.Snapshot())
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (l *Listener) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := l.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

// allowedOrigin returns the Access-Control-Allow-Origin value for a request
// origin, empty when CORS does not apply.
func (l *Listener) allowedOrigin(requestOrigin string) string {
	for _, allowed := range l.opts.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
