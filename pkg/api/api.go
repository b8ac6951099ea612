// Package api exposes the resolver over HTTP.
//
// # Endpoints
//
//	POST /packages/install   resolve a closure minus the caller's preinstalled set
//	GET  /packages/*         resolve a full closure (no preinstalled set)
//	GET  /healthz            liveness plus store reachability
//
// The install endpoint takes the root from the X-PackageName and
// X-PackageVersion headers and the preinstalled map as a JSON body:
//
//	{"lua": ["5.1.0", "5.4.6"], "lpeg": ["1.0.2"]}
//
// Both resolve endpoints answer with the resolution set, keyed by package
// name and version:
//
//	{"lpeg": {"1.1.0": {"payload": "...", "dependencies": {...}, "providedDependencyVersions": {...}}}}
//
// Failures answer with {"code": ..., "message": ...} and a status derived
// from the error code (see [StatusCode]).
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/luam/pkg/errors"
	"github.com/matzehuels/luam/pkg/install"
)

// Request headers.
const (
	HeaderPackageName    = "X-PackageName"
	HeaderPackageVersion = "X-PackageVersion"
	HeaderRequestID      = "X-Request-ID"
)

// DefaultMaxBodyBytes caps the preinstalled body.
const DefaultMaxBodyBytes = 1 << 20

// Resolver runs resolution sessions. *install.Builder implements it.
type Resolver interface {
	Resolve(ctx context.Context, req install.Request) (*install.Result, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	Logger       *log.Logger            // Request logger (default: log.Default())
	MaxBodyBytes int64                  // Install body limit (default: 1 MiB)
	Checks       map[string]HealthCheck // Named checks run by /healthz
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return opts
}

// Server serves the HTTP API.
type Server struct {
	resolver Resolver
	opts     Options
}

// New creates a Server.
func New(resolver Resolver, opts Options) *Server {
	return &Server{resolver: resolver, opts: opts.WithDefaults()}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/packages", func(r chi.Router) {
		r.Post("/install", s.handleInstall)
		r.Get("/*", s.handleGetPackage)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errors.New(errors.ErrCodeRequestMalformed, "no route for %s %s", r.Method, r.URL.Path), http.StatusNotFound)
	})
	return r
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.Header.Get(HeaderPackageName))
	if name == "" {
		s.fail(w, r, errors.New(errors.ErrCodeRequestMalformed, "missing %s header", HeaderPackageName))
		return
	}
	pre, err := decodePreinstalled(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.resolve(w, r, install.Request{
		Name:         name,
		Version:      strings.TrimSpace(r.Header.Get(HeaderPackageVersion)),
		Preinstalled: pre,
	})
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	v := r.Header.Get(HeaderPackageVersion)
	if v == "" {
		v = r.URL.Query().Get("version")
	}
	s.resolve(w, r, install.Request{Name: name, Version: strings.TrimSpace(v)})
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request, req install.Request) {
	res, err := s.resolver.Resolve(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Set)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(s.opts.Checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		resp.Checks = make(map[string]string, len(s.opts.Checks))
		for name, check := range s.opts.Checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	writeJSON(w, status, resp)
}

// decodePreinstalled reads the install body. An empty body means nothing is
// preinstalled.
func decodePreinstalled(body io.Reader) (map[string][]string, error) {
	var pre map[string][]string
	if err := json.NewDecoder(body).Decode(&pre); err != nil {
		if stderrors.Is(err, io.EOF) {
			return map[string][]string{}, nil
		}
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.Wrap(errors.ErrCodeRequestMalformed, err, "preinstalled body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, errors.Wrap(errors.ErrCodeRequestMalformed, err, "preinstalled body must map package names to version lists")
	}
	if pre == nil {
		pre = map[string][]string{}
	}
	return pre, nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	logger := loggerFor(r, s.opts.Logger)
	switch {
	case status >= 500 && !stderrors.Is(err, context.Canceled):
		logger.Error("request failed", "err", err)
	default:
		logger.Debug("request rejected", "err", err)
	}
	writeError(w, r, err, status)
}
