package pingback

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/WhileEndless/go-pingback/pkg/client"
	"github.com/WhileEndless/go-pingback/pkg/constants"
	"github.com/WhileEndless/go-pingback/pkg/xmlrpc"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// BlogURL is the public base URL. Only targets below it are accepted.
	BlogURL string
	Opener  *client.Opener
	Router  Router
	// Registry holds the handlers. A nil registry rejects every target.
	Registry *Registry
	// MaxRedirects bounds route redirects followed for one target.
	// Default constants.DefaultMaxRedirects.
	MaxRedirects int
	// ServicePath is where the XML-RPC endpoint is mounted below BlogURL.
	// Default constants.ServicePath.
	ServicePath string
	Logger      *zap.Logger
}

// Server receives pingbacks.
type Server struct {
	blogURL      string
	opener       *client.Opener
	router       Router
	registry     *Registry
	maxRedirects int
	servicePath  string
	logger       *zap.Logger
	rpc          *xmlrpc.Server
}

// NewServer returns a Server. BlogURL and Opener are required.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.BlogURL == "" {
		return nil, fmt.Errorf("pingback: blog URL is required")
	}
	if opts.Opener == nil {
		return nil, fmt.Errorf("pingback: opener is required")
	}
	s := &Server{
		blogURL:      withSlash(opts.BlogURL),
		opener:       opts.Opener,
		router:       opts.Router,
		registry:     opts.Registry,
		maxRedirects: opts.MaxRedirects,
		servicePath:  opts.ServicePath,
		logger:       opts.Logger,
	}
	if s.maxRedirects <= 0 {
		s.maxRedirects = constants.DefaultMaxRedirects
	}
	if s.servicePath == "" {
		s.servicePath = constants.ServicePath
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.rpc = xmlrpc.NewServer(s.logger)
	s.rpc.Register(constants.PingMethod, s.ping)
	return s, nil
}

// EndpointURL is the absolute URL of the XML-RPC endpoint, as advertised in
// the X-Pingback header.
func (s *Server) EndpointURL() string {
	return s.blogURL + strings.TrimLeft(s.servicePath, "/")
}

// ServicePath is the path the endpoint is mounted at.
func (s *Server) ServicePath() string {
	return "/" + strings.TrimLeft(s.servicePath, "/")
}

// ServeHTTP speaks XML-RPC and exposes pingback.ping.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	s.rpc.ServeHTTP(w, r.WithContext(WithRemoteAddr(r.Context(), addr)))
}

func (s *Server) ping(ctx context.Context, params []any) (any, error) {
	if len(params) != 2 {
		return nil, &xmlrpc.Fault{Code: xmlrpc.FaultInvalidParams, String: "pingback.ping takes sourceURI and targetURI"}
	}
	source, ok1 := params[0].(string)
	target, ok2 := params[1].(string)
	if !ok1 || !ok2 {
		return nil, &xmlrpc.Fault{Code: xmlrpc.FaultInvalidParams, String: "sourceURI and targetURI must be strings"}
	}
	return s.Ping(ctx, source, target)
}

// Ping handles one inbound pingback. On success it returns a diagnostic
// summary; on failure the error is a *Error or an error from a handler.
func (s *Server) Ping(ctx context.Context, source, target string) (string, error) {
	logger := s.logger.With(zap.String("source", source), zap.String("target", target))

	resp, err := s.opener.Get(ctx, source)
	if err != nil {
		logger.Debug("source unreachable", zap.Error(err))
		return "", NewError(CodeSourceMissing, "The source URL does not exist.")
	}
	defer resp.Close()
	if resp.StatusCode >= 400 {
		logger.Debug("source answered with an error", zap.Int("status", resp.StatusCode))
		return "", NewError(CodeSourceMissing, "The source URL does not exist.")
	}
	src := &Source{URL: resp.URL, Response: resp}

	if !strings.HasPrefix(target, s.blogURL) {
		return "", NewError(CodeTargetMissing, "The specified target URL does not exist.")
	}
	pathInfo := target[len(s.blogURL):]

	endpoint, params, pathInfo := s.resolve(pathInfo)
	var handler any
	var pending error

	if endpoint != "" {
		if h, ok := s.registry.Endpoint(endpoint); ok {
			handler = h
			pending = h.Handle(ctx, src, target, params)
		}
	}

	if handler == nil || (pending != nil && meansMissing(pending)) {
		handler, pending = s.runFallbacks(ctx, src, target, pathInfo, handler, pending)
	}

	if pending != nil {
		var pe *Error
		if stderrors.As(pending, &pe) {
			logger.Info("pingback refused", zap.Int("code", pe.Code), zap.String("reason", pe.InternalMessage()))
		} else {
			logger.Error("pingback handler failed", zap.Error(pending))
		}
		return "", pending
	}

	logger.Info("pingback registered", zap.String("endpoint", endpoint))
	return strings.Join([]string{
		fmt.Sprintf("endpoint: %q", endpoint),
		fmt.Sprintf("values: %v", params),
		fmt.Sprintf("path_info: %q", pathInfo),
		"source_uri: " + source,
		"target_uri: " + target,
		"handler: " + handlerName(handler),
	}, "\n"), nil
}

// resolve matches pathInfo through the router, following redirects that
// stay below the blog URL. An empty endpoint means not found.
func (s *Server) resolve(pathInfo string) (string, map[string]string, string) {
	if s.router == nil {
		return "", nil, pathInfo
	}
	for i := 0; ; i++ {
		m, err := s.router.Match(pathInfo)
		if err == nil {
			return m.Endpoint, m.Params, pathInfo
		}
		var redir *RedirectError
		if !stderrors.As(err, &redir) {
			return "", nil, pathInfo
		}
		if i >= s.maxRedirects {
			s.logger.Warn("too many route redirects", zap.String("path_info", pathInfo), zap.Int("limit", s.maxRedirects))
			return "", nil, pathInfo
		}
		if !strings.HasPrefix(redir.NewURL, s.blogURL) {
			return "", nil, pathInfo
		}
		pathInfo = redir.NewURL[len(s.blogURL):]
	}
}

// runFallbacks tries the fallback chain in order. It returns the handler
// that decided and the error left pending, if any.
func (s *Server) runFallbacks(ctx context.Context, src *Source, target, pathInfo string, handler any, pending error) (any, error) {
	for _, h := range s.registry.Fallbacks() {
		handler = h
		switch o := h.Attempt(ctx, src, target, pathInfo).(type) {
		case Success:
			return h, nil
		case Retryable:
			pending = o.Err
		case Fatal:
			return h, o.Err
		case Skip:
		}
	}
	if pending == nil {
		pending = NewError(CodeTargetInvalid, "")
	}
	return handler, pending
}

func handlerName(h any) string {
	switch v := h.(type) {
	case nil:
		return "<nil>"
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%T", h)
}

// InjectHeader advertises endpointURL in the X-Pingback header of every 200
// response served by next.
func InjectHeader(endpointURL string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		iw := &headerInjector{ResponseWriter: w, value: endpointURL}
		next.ServeHTTP(iw, r)
		if !iw.wroteHeader {
			iw.WriteHeader(http.StatusOK)
		}
	})
}

type headerInjector struct {
	http.ResponseWriter
	value       string
	wroteHeader bool
}

func (w *headerInjector) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		if code == http.StatusOK {
			w.Header().Set(constants.PingbackHeader, w.value)
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *headerInjector) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(p)
}

func (w *headerInjector) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
