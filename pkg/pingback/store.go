package pingback

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/WhileEndless/go-pingback/pkg/excerpt"
)

// Post is the part of a blog post pingbacks care about. Slug is the post's
// path relative to the blog URL, e.g. "2024/01/01/hello".
type Post struct {
	Slug         string
	Title        string
	PingsEnabled bool
	// Private posts cannot be read by the public and refuse pingbacks.
	Private bool
}

// CanRead reports whether the post is publicly readable.
func (p *Post) CanRead() bool {
	return !p.Private
}

// Comment is a stored pingback.
type Comment struct {
	PostSlug    string
	Author      string
	Text        string
	WWW         string
	IsPingback  bool
	SubmitterIP string
	Created     time.Time
}

// Store persists posts and their pingbacks.
type Store interface {
	// PostBySlug returns nil without an error when the post does not exist.
	PostBySlug(ctx context.Context, slug string) (*Post, error)
	HasPingback(ctx context.Context, slug, sourceURL string) (bool, error)
	AddPingback(ctx context.Context, c Comment) error
}

// MemoryStore is a Store kept in memory.
type MemoryStore struct {
	mu       sync.Mutex
	posts    map[string]Post
	comments []Comment
}

// NewMemoryStore returns a store holding posts.
func NewMemoryStore(posts ...Post) *MemoryStore {
	s := &MemoryStore{posts: make(map[string]Post)}
	for _, p := range posts {
		s.AddPost(p)
	}
	return s
}

// AddPost adds or replaces a post.
func (s *MemoryStore) AddPost(p Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Slug = strings.Trim(p.Slug, "/")
	s.posts[p.Slug] = p
}

func (s *MemoryStore) PostBySlug(_ context.Context, slug string) (*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[slug]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) HasPingback(_ context.Context, slug, sourceURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.comments {
		if c.IsPingback && c.PostSlug == slug && c.WWW == sourceURL {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) AddPingback(_ context.Context, c Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = append(s.comments, c)
	return nil
}

// Comments returns the comments stored for slug.
func (s *MemoryStore) Comments(slug string) []Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.DeleteFunc(slices.Clone(s.comments), func(c Comment) bool {
		return c.PostSlug != slug
	})
}

// PostHandler is the fallback handler for blog posts. The target path is the
// post slug.
type PostHandler struct {
	Store Store
	// Permalink, if set, restricts the handler to paths it matches.
	Permalink *Permalink
	Now       func() time.Time
}

// Attempt implements FallbackHandler.
func (h *PostHandler) Attempt(ctx context.Context, src *Source, target, pathInfo string) Outcome {
	slug := strings.Trim(pathInfo, "/")
	if h.Permalink != nil {
		if _, ok := h.Permalink.Match(slug); !ok {
			return Skip{}
		}
	}

	post, err := h.Store.PostBySlug(ctx, slug)
	if err != nil {
		return Fatal{Err: err}
	}
	if post == nil {
		return Skip{}
	}
	if !post.PingsEnabled {
		return Classify(NewError(CodeTargetInvalid, "no such post"))
	}
	if !post.CanRead() {
		return Classify(NewError(CodeAccessDenied, "access denied"))
	}

	doc, err := src.Text()
	if err != nil {
		return Fatal{Err: NewError(CodeSourceMissing, "cannot read source document")}
	}
	ex := excerpt.Extract(doc, target)
	if !ex.HasTitle {
		return Classify(NewError(CodeNoLink, "no title provided"))
	}
	if !ex.HasBody {
		return Classify(NewError(CodeNoLink, "no useable link to target"))
	}

	dup, err := h.Store.HasPingback(ctx, post.Slug, src.URL)
	if err != nil {
		return Fatal{Err: err}
	}
	if dup {
		return Classify(NewError(CodeAlreadyRegistered, "pingback has already been registered"))
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	c := Comment{
		PostSlug:    post.Slug,
		Author:      ex.Title,
		Text:        ex.Body,
		WWW:         src.URL,
		IsPingback:  true,
		SubmitterIP: RemoteAddr(ctx),
		Created:     now(),
	}
	if err := h.Store.AddPingback(ctx, c); err != nil {
		return Fatal{Err: err}
	}
	return Success{Value: c}
}

func (h *PostHandler) String() string {
	return "PostHandler"
}
