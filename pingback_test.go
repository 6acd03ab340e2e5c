package pingback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/WhileEndless/go-pingback/pkg/errors"
	"github.com/WhileEndless/go-pingback/pkg/xmlrpc"
)

func TestGetVersion(t *testing.T) {
	require.Equal(t, Version, GetVersion())
}

func TestSend(t *testing.T) {
	rpc := xmlrpc.NewServer(nil)
	rpc.Register("pingback.ping", func(_ context.Context, params []any) (any, error) {
		return "thanks " + params[0].(string), nil
	})
	mux := http.NewServeMux()
	mux.Handle("/xmlrpc", rpc)
	mux.HandleFunc("/post", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pingback", "/xmlrpc")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	reply, err := Send(context.Background(), "http://me.example/", srv.URL+"/post")
	require.NoError(t, err)
	require.Equal(t, "thanks http://me.example/", reply)
}

func TestSendUnreachable(t *testing.T) {
	_, err := Send(context.Background(), "http://me.example/", "http://127.0.0.1:1/")
	var pe *PingbackError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, 32, pe.Code)
}

func TestErrorTypesReexported(t *testing.T) {
	_, err := NewOpener(Options{})
	require.NoError(t, err)
	require.Equal(t, "cannot_send_request", string(ErrorTypeCannotSend))
	require.Equal(t, "bad_status_line", string(ErrorTypeBadStatusLine))
	require.Equal(t, ErrorTypeURL, ErrorType(pkgerrors.NewURLError("bad")))
}
