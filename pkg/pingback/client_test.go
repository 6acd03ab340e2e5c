package pingback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/go-pingback/pkg/client"
	"github.com/WhileEndless/go-pingback/pkg/errors"
	"github.com/WhileEndless/go-pingback/pkg/xmlrpc"
)

// remoteBlog is a blog accepting pingbacks on two endpoints, so tests can
// tell which one discovery picked.
type remoteBlog struct {
	srv *httptest.Server

	mu    sync.Mutex
	calls map[string][][]any
}

func newRemoteBlog(t *testing.T) *remoteBlog {
	t.Helper()
	rb := &remoteBlog{calls: make(map[string][][]any)}
	mux := http.NewServeMux()
	for _, name := range []string{"header", "body"} {
		rpc := xmlrpc.NewServer(nil)
		rpc.Register("pingback.ping", func(_ context.Context, params []any) (any, error) {
			rb.mu.Lock()
			defer rb.mu.Unlock()
			rb.calls[name] = append(rb.calls[name], params)
			if params[0] == "http://dup.example/" {
				return nil, NewError(CodeAlreadyRegistered, "seen it")
			}
			return "thanks from " + name, nil
		})
		mux.Handle("/rpc-"+name, rpc)
	}
	mux.HandleFunc("/both", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pingback", rb.srv.URL+"/rpc-header")
		w.Write([]byte(`<html><head><link rel="pingback" href="/rpc-body"></head></html>`))
	})
	mux.HandleFunc("/body-only", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><link rel="pingback" href="/rpc-body"></head></html>`))
	})
	mux.HandleFunc("/no-endpoint", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>plain</title></head></html>`))
	})
	mux.HandleFunc("/broken-endpoint", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pingback", rb.srv.URL+"/not-rpc")
	})
	mux.HandleFunc("/not-rpc", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not xml-rpc"))
	})
	rb.srv = httptest.NewServer(mux)
	t.Cleanup(rb.srv.Close)
	return rb
}

func (rb *remoteBlog) callCount(name string) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.calls[name])
}

func (rb *remoteBlog) firstCall(name string) []any {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.calls[name][0]
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	o, err := client.New(client.Options{})
	require.NoError(t, err)
	return NewClient(o, nil)
}

func TestSendHeaderWinsOverBody(t *testing.T) {
	rb := newRemoteBlog(t)
	c := newTestClient(t)

	reply, err := c.Send(context.Background(), "http://me.example/", rb.srv.URL+"/both")
	require.NoError(t, err)
	require.Equal(t, "thanks from header", reply)
	require.Equal(t, 1, rb.callCount("header"))
	require.Equal(t, 0, rb.callCount("body"))
	require.Equal(t, []any{"http://me.example/", rb.srv.URL + "/both"}, rb.firstCall("header"))
}

func TestSendDiscoversBodyLink(t *testing.T) {
	rb := newRemoteBlog(t)
	c := newTestClient(t)

	endpoint, err := c.Discover(context.Background(), rb.srv.URL+"/body-only")
	require.NoError(t, err)
	require.Equal(t, rb.srv.URL+"/rpc-body", endpoint)

	reply, err := c.Send(context.Background(), "http://me.example/", rb.srv.URL+"/body-only")
	require.NoError(t, err)
	require.Equal(t, "thanks from body", reply)
}

func TestSendFailures(t *testing.T) {
	rb := newRemoteBlog(t)
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Send(ctx, "http://me.example/", rb.srv.URL+"/no-endpoint")
	requireCode(t, err, CodeTargetInvalid)

	_, err = c.Send(ctx, "http://me.example/", rb.srv.URL+"/missing")
	requireCode(t, err, CodeTargetMissing)

	_, err = c.Send(ctx, "http://me.example/", "http://127.0.0.1:1/")
	requireCode(t, err, CodeTargetMissing)

	_, err = c.Send(ctx, "http://me.example/", "ftp://example.com/")
	requireCode(t, err, CodeTargetMissing)

	_, err = c.Send(ctx, "http://me.example/", rb.srv.URL+"/broken-endpoint")
	requireCode(t, err, CodeTargetMissing)

	_, err = c.Send(ctx, "http://dup.example/", rb.srv.URL+"/both")
	pe := requireCode(t, err, CodeAlreadyRegistered)
	require.Equal(t, "seen it", pe.InternalMessage())
	require.True(t, pe.IgnoreSilently())
}

func TestSendAll(t *testing.T) {
	rb := newRemoteBlog(t)
	c := newTestClient(t)

	doc := `<p>Links: <a href="` + rb.srv.URL + `/both">one</a>,
<a href="` + rb.srv.URL + `/both#comments">same again</a>,
<a href="` + rb.srv.URL + `/no-endpoint">two</a>,
<a href="mailto:me@example.com">mail</a>,
<a href="/local">relative to me</a>,
<a href="http://127.0.0.1:1/me">myself</a></p>`

	results := c.SendAll(context.Background(), "http://127.0.0.1:1/me", doc)
	require.Len(t, results, 3)

	require.Equal(t, rb.srv.URL+"/both", results[0].Target)
	require.NoError(t, results[0].Err)
	require.Equal(t, "thanks from header", results[0].Reply)

	require.Equal(t, rb.srv.URL+"/no-endpoint", results[1].Target)
	requireCode(t, results[1].Err, CodeTargetInvalid)

	require.Equal(t, "http://127.0.0.1:1/local", results[2].Target)
	requireCode(t, results[2].Err, CodeTargetMissing)
}

func TestSendAllStopsOnCancel(t *testing.T) {
	rb := newRemoteBlog(t)
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := c.SendAll(ctx, "http://me.example/", `<a href="`+rb.srv.URL+`/both">x</a>`)
	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, context.Canceled)
	require.Equal(t, 0, rb.callCount("header"))
}

func TestSendAllCancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.Header().Set("X-Pingback", "/rpc")
	}))
	defer srv.Close()

	results := newTestClient(t).SendAll(ctx, "http://127.0.0.1:1/me", `<a href="`+srv.URL+`/post">post</a>`)
	require.Len(t, results, 1)
	require.True(t, errors.IsContextCanceled(results[0].Err), "got %v", results[0].Err)
}

// TestRoundTrip runs the client against a blog served by Server.
func TestRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	perm := permalink(t)
	store := NewMemoryStore(Post{Slug: postSlug, PingsEnabled: true})
	o, err := client.New(client.Options{})
	require.NoError(t, err)
	server, err := NewServer(ServerOptions{
		BlogURL:  srv.URL,
		Opener:   o,
		Router:   &PermalinkRouter{BlogURL: srv.URL, Permalink: perm},
		Registry: NewRegistryBuilder().AppendFallback(&PostHandler{Store: store, Permalink: perm}).Build(),
	})
	require.NoError(t, err)

	target := srv.URL + "/" + postSlug
	mux.Handle(server.ServicePath(), server)
	mux.Handle("/"+postSlug, InjectHeader(server.EndpointURL(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>hello</body></html>"))
	})))
	mux.HandleFunc("/source", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>A reply</title></head><body><p>Replying to <a href="` + target + `">hello</a>.</p></body></html>`))
	})

	reply, err := NewClient(o, nil).Send(context.Background(), srv.URL+"/source", target)
	require.NoError(t, err)
	require.Contains(t, reply, "handler: PostHandler")

	comments := store.Comments(postSlug)
	require.Len(t, comments, 1)
	require.Equal(t, "A reply", comments[0].Author)
	require.Equal(t, "[…] Replying to hello . […]", comments[0].Text)
	require.Equal(t, "127.0.0.1", comments[0].SubmitterIP)
}
