package activitypub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/deemkeen/tusker/util"
)

const maxPreviewSize = 1024 * 1024

// LinkPreview is the metadata shown for a link post
type LinkPreview struct {
	Title       string
	Description string
	Image       string
}

// LinkPreviewer fetches preview metadata for an external URL
type LinkPreviewer interface {
	Preview(ctx context.Context, url string) (*LinkPreview, error)
}

// HTMLPreviewer reads OpenGraph tags, falling back to <title> and meta description
type HTMLPreviewer struct {
	client HTTPClient
}

func NewHTMLPreviewer(client HTTPClient) *HTMLPreviewer {
	return &HTMLPreviewer{client: client}
}

func (p *HTMLPreviewer) Preview(ctx context.Context, url string) (*LinkPreview, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("preview returned status %d", resp.StatusCode)
	}

	return parsePreview(io.LimitReader(resp.Body, maxPreviewSize))
}

func parsePreview(r io.Reader) (*LinkPreview, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	meta := func(names ...string) string {
		for _, name := range names {
			sel := doc.Find(fmt.Sprintf(`meta[property="%s"], meta[name="%s"]`, name, name)).First()
			if content, ok := sel.Attr("content"); ok && strings.TrimSpace(content) != "" {
				return strings.TrimSpace(content)
			}
		}
		return ""
	}

	preview := &LinkPreview{
		Title:       meta("og:title", "twitter:title"),
		Description: meta("og:description", "description"),
		Image:       meta("og:image", "twitter:image"),
	}
	if preview.Title == "" {
		preview.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	preview.Title = util.TruncateRunes(preview.Title, maxDisplayNameRunes)
	return preview, nil
}
