package parser

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"corpus-rag/internal/helper"
	"corpus-rag/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxBodyBytes = 20 << 20

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Head:     true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Template: true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Table: true, atom.Section: true, atom.Article: true, atom.Blockquote: true,
	atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Dd: true, atom.Dt: true, atom.Td: true, atom.Th: true,
}

// HTMLToText returns the visible text of an HTML document. Script, style and
// head content is dropped; block elements end with a newline.
func HTMLToText(r io.Reader) (string, error) {
	root, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.DataAtom] {
			b.WriteString("\n")
		}
	}
	walk(root)
	return b.String(), nil
}

// URLLoader fetches web pages for ingestion.
type URLLoader struct {
	client *http.Client
}

func NewURLLoader(timeout time.Duration) *URLLoader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &URLLoader{client: &http.Client{Timeout: timeout}}
}

// LoadURL fetches url and returns its text as a Document. HTML bodies are
// stripped to visible text; other text types are used as is.
func (l *URLLoader) LoadURL(ctx context.Context, url string) (models.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Document{}, err
	}
	req.Header.Set("User-Agent", "corpus-rag/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return models.Document{}, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	var raw string
	switch {
	case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
		raw, err = HTMLToText(body)
	case strings.HasPrefix(mediaType, "text/"):
		var data []byte
		data, err = io.ReadAll(body)
		raw = string(data)
	default:
		return models.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to read %s: %w", url, err)
	}

	content := Clean(raw)
	if content == "" {
		return models.Document{}, fmt.Errorf("%w: %s", ErrEmptyDocument, url)
	}
	log.Debug().Str("url", url).Int("chars", len(content)).Msg("Fetched url")

	return models.Document{
		ID:        helper.DocumentID(url),
		SourceURI: url,
		RawText:   content,
		Metadata:  map[string]string{"url": url, "format": "html"},
	}, nil
}
