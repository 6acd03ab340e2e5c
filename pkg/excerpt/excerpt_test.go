package excerpt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const target = "http://blog/2024/01/01/hello"

func TestExtractWithoutTitle(t *testing.T) {
	ex := Extract(`<html><body><a href="http://blog/2024/01/01/hello">link</a> some text around it</body></html>`, target)
	require.False(t, ex.HasTitle)
	require.True(t, ex.HasBody)
	require.Equal(t, "[…] link some text around it […]", ex.Body)
}

func TestExtractTitleAndContext(t *testing.T) {
	doc := `<html><head><TITLE>My &amp; Post</TITLE></head><body>
<p>Unrelated paragraph.</p>
<p>I read <em>this</em> great   article: <a class="x" href="http://blog/2024/01/01/hello" title="t">the <b>hello</b> post</a>, and liked it.</p>
<p>After.</p></body></html>`
	ex := Extract(doc, target)
	require.True(t, ex.HasTitle)
	require.Equal(t, "My & Post", ex.Title)
	require.True(t, ex.HasBody)
	require.Equal(t, "[…] I read this great article: the hello post , and liked it. […]", ex.Body)
}

func TestExtractNoLink(t *testing.T) {
	ex := Extract(`<html><head><title>T</title></head><body><a href="http://elsewhere/">x</a></body></html>`, target)
	require.True(t, ex.HasTitle)
	require.Equal(t, "T", ex.Title)
	require.False(t, ex.HasBody)
	require.Empty(t, ex.Body)
}

func TestExtractBlankTitleIsMissing(t *testing.T) {
	ex := Extract(`<title>   </title><a href="http://blog/2024/01/01/hello">x</a>`, target)
	require.False(t, ex.HasTitle)
	require.True(t, ex.HasBody)
}

func TestExtractTrimsWindowAtWordBoundary(t *testing.T) {
	before := strings.Repeat("word ", 40)
	after := strings.Repeat(" tail", 40)
	ex := Extract(`<p>`+before+`<a href="`+target+`">link</a>`+after, target)
	require.True(t, ex.HasBody)

	body := strings.TrimSuffix(strings.TrimPrefix(ex.Body, "[…] "), " […]")
	left, right, ok := strings.Cut(body, " link ")
	require.True(t, ok)
	require.LessOrEqual(t, len(left), 120)
	require.LessOrEqual(t, len(right), 120)
	for _, w := range strings.Fields(left) {
		require.Equal(t, "word", w)
	}
	for _, w := range strings.Fields(right) {
		require.Equal(t, "tail", w)
	}
}

func TestExtractTruncatesLongLinkText(t *testing.T) {
	text := strings.Repeat("a", 70)
	ex := Extract(`<a href="`+target+`">`+text+`</a>`, target)
	require.Equal(t, "[…] "+strings.Repeat("a", 60)+" … […]", ex.Body)
}

func TestExtractEscapedHref(t *testing.T) {
	u := "http://blog/?p=1&c=2"
	ex := Extract(`<a href="http://blog/?p=1&amp;c=2">here</a>`, u)
	require.Equal(t, "[…] here […]", ex.Body)
}

func TestExtractUsesFirstMatchingChunk(t *testing.T) {
	doc := "<p>first <a href='" + target + "'>one</a> end</p><p>second <a href='" + target + "'>two</a></p>"
	ex := Extract(doc, target)
	require.Equal(t, "[…] first one end […]", ex.Body)
}

func TestStripTags(t *testing.T) {
	require.Equal(t, "a b & c", StripTags("<p>a</p>\n <!-- hidden <b> --> b &amp; <i>c</i>"))
}

func TestLinks(t *testing.T) {
	links := Links(strings.NewReader(`<a href="http://a/">1</a><A HREF=" http://b/ ">2</A><a>3</a><a href="http://a/">dup</a><a href="/rel"/>`))
	require.Equal(t, []string{"http://a/", "http://b/", "/rel"}, links)
}

func TestPingbackLink(t *testing.T) {
	href, ok := PingbackLink(strings.NewReader(`<html><head>
<link rel="stylesheet" href="/s.css">
<LINK HREF="http://remote/xmlrpc?a=1&amp;b=2" REL="Pingback" />
</head></html>`))
	require.True(t, ok)
	require.Equal(t, "http://remote/xmlrpc?a=1&b=2", href)

	_, ok = PingbackLink(strings.NewReader(`<html><head><link rel="pingbacks" href="x"></head></html>`))
	require.False(t, ok)
}

func TestDecodeHTML(t *testing.T) {
	latin1 := []byte("<p>caf\xe9</p>")
	s, err := DecodeHTML(bytes.NewReader(latin1), "text/html; charset=iso-8859-1")
	require.NoError(t, err)
	require.Equal(t, "<p>café</p>", s)

	s, err = DecodeHTML(strings.NewReader(`<meta charset="utf-8"><p>ok</p>`), "")
	require.NoError(t, err)
	require.Equal(t, `<meta charset="utf-8"><p>ok</p>`, s)
}
