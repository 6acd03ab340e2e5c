package main

import (
	"context"
	"errors"
	"flag"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/WhileEndless/go-pingback/pkg/client"
	"github.com/WhileEndless/go-pingback/pkg/config"
	"github.com/WhileEndless/go-pingback/pkg/pingback"
)

func serveCmd(fs *flag.FlagSet) func(context.Context, []string, env) error {
	configPath := fs.String("config", "", "config file (default ~/.config/pingback/config.toml)")
	listen := fs.String("listen", "", "listen address, overrides the config")

	return func(ctx context.Context, args []string, e env) error {
		if len(args) != 0 {
			return usageErrorf("serve takes no arguments")
		}
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		if *listen != "" {
			cfg.Listen = *listen
		}
		s, err := newSite(cfg, e.logger)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              cfg.Listen,
			Handler:           s.root(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		e.logger.Info("serving blog", zap.String("listen", cfg.Listen), zap.String("blog_url", cfg.BlogURL), zap.String("endpoint", s.pingback.EndpointURL()))

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// site is a minimal blog: post pages plus the pingback endpoint. Its
// handler sees paths relative to the blog URL.
type site struct {
	basePath string
	store    *pingback.MemoryStore
	content  map[string]template.HTML
	pingback *pingback.Server
	mux      *http.ServeMux
}

func newSite(cfg config.Config, logger *zap.Logger) (*site, error) {
	if cfg.BlogURL == "" {
		return nil, errors.New("blog_url is not configured")
	}
	u, err := url.Parse(cfg.BlogURL)
	if err != nil {
		return nil, err
	}
	perm, err := pingback.ParsePermalink(cfg.Permalink)
	if err != nil {
		return nil, err
	}

	s := &site{
		basePath: strings.TrimSuffix(u.Path, "/"),
		store:    pingback.NewMemoryStore(),
		content:  make(map[string]template.HTML),
		mux:      http.NewServeMux(),
	}
	for _, p := range cfg.Posts {
		s.store.AddPost(pingback.Post{Slug: p.Slug, Title: p.Title, PingsEnabled: p.PingsEnabled, Private: p.Private})
		s.content[p.Slug] = template.HTML(p.Content)
	}

	// links between posts of this blog are fetched in process
	o, err := newOpener(cfg, logger, client.HandlerDispatcher{Handler: s.mux})
	if err != nil {
		return nil, err
	}
	s.pingback, err = pingback.NewServer(pingback.ServerOptions{
		BlogURL:      cfg.BlogURL,
		Opener:       o,
		Router:       &pingback.PermalinkRouter{BlogURL: cfg.BlogURL, Permalink: perm, Moved: cfg.Moved},
		Registry:     pingback.NewRegistryBuilder().AppendFallback(&pingback.PostHandler{Store: s.store, Permalink: perm}).Build(),
		MaxRedirects: cfg.MaxRedirects,
		ServicePath:  cfg.ServicePath,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	s.mux.Handle(s.pingback.ServicePath(), s.pingback)
	s.mux.Handle("/", pingback.InjectHeader(s.pingback.EndpointURL(), http.HandlerFunc(s.servePost)))
	return s, nil
}

// root mounts the site below the blog URL path.
func (s *site) root() http.Handler {
	if s.basePath == "" {
		return s.mux
	}
	return http.StripPrefix(s.basePath, s.mux)
}

var postPage = template.Must(template.New("post").Parse(`<!doctype html>
<html><head><title>{{.Title}}</title><link rel="pingback" href="{{.Endpoint}}"></head>
<body><h1>{{.Title}}</h1>
{{.Content}}
{{if .Pingbacks}}<h2>Pingbacks</h2>
<ul>{{range .Pingbacks}}<li><a href="{{.WWW}}">{{.Author}}</a>: {{.Text}}</li>{{end}}</ul>{{end}}
</body></html>
`))

func (s *site) servePost(w http.ResponseWriter, r *http.Request) {
	slug := strings.Trim(r.URL.Path, "/")
	post, _ := s.store.PostBySlug(r.Context(), slug)
	if post == nil || !post.CanRead() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	postPage.Execute(w, map[string]any{
		"Title":     post.Title,
		"Endpoint":  s.pingback.EndpointURL(),
		"Content":   s.content[slug],
		"Pingbacks": s.store.Comments(slug),
	})
}
