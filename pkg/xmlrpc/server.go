package xmlrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/WhileEndless/go-pingback/pkg/constants"
)

// Method is a registered XML-RPC method.
type Method func(ctx context.Context, params []any) (any, error)

// Server dispatches XML-RPC calls posted over HTTP to registered methods.
type Server struct {
	mu      sync.RWMutex
	methods map[string]Method
	logger  *zap.Logger
}

// NewServer returns an empty server. A nil logger discards output.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{methods: make(map[string]Method), logger: logger.Named("xmlrpc")}
}

// Register binds name to fn, replacing any previous binding.
func (s *Server) Register(name string, fn Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[name] = fn
}

func (s *Server) lookup(name string) (Method, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.methods[name]
	return fn, ok
}

// Call runs a method directly. Errors are converted to faults the same way
// ServeHTTP does.
func (s *Server) Call(ctx context.Context, name string, params []any) (any, *Fault) {
	fn, ok := s.lookup(name)
	if !ok {
		return nil, &Fault{Code: FaultMethodNotFound, String: fmt.Sprintf("method %q not found", name)}
	}
	v, err := fn(ctx, params)
	if err != nil {
		return nil, AsFault(err)
	}
	return v, nil
}

// ServeHTTP decodes a call from the POST body and writes the result.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "XML-RPC requests must be POSTed", http.StatusMethodNotAllowed)
		return
	}

	var out []byte
	name, params, err := DecodeCall(io.LimitReader(r.Body, constants.MaxRPCResponseBytes))
	if err != nil {
		s.logger.Debug("malformed xml-rpc call", zap.Error(err))
		out = EncodeFault(&Fault{Code: FaultParseError, String: "parse error: not well formed"})
	} else {
		v, fault := s.Call(r.Context(), name, params)
		if fault == nil {
			out, err = EncodeResponse(v)
			if err != nil {
				s.logger.Error("cannot encode xml-rpc result", zap.String("method", name), zap.Error(err))
				fault = &Fault{Code: FaultInternalError, String: "cannot encode result"}
			}
		}
		if fault != nil {
			s.logger.Debug("xml-rpc fault", zap.String("method", name), zap.Int("code", fault.Code), zap.String("fault", fault.String))
			out = EncodeFault(fault)
		}
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// AsFault converts err into the fault sent to the caller. Errors that are
// neither a *Fault nor a Faulter become internal errors.
func AsFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	var fr Faulter
	if errors.As(err, &fr) {
		return fr.Fault()
	}
	return &Fault{Code: FaultInternalError, String: err.Error()}
}
