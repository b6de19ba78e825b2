package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"strings"

	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
	"github.com/google/uuid"
)

type tagDoc struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Href string `json:"href"`
}

type attachmentDoc struct {
	Type      string    `json:"type"`
	MediaType string    `json:"mediaType"`
	URL       LinkValue `json:"url"`
	Href      string    `json:"href"`
	Name      string    `json:"name"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

func (a *attachmentDoc) link() string {
	if a.Href != "" {
		return a.Href
	}
	return string(a.URL)
}

// storeHashtags links the Hashtag entries of doc.tag to the post
func (r *ObjectResolver) storeHashtags(post *domain.Post, doc *ObjectDoc) {
	seen := make(map[string]bool)
	var ids []int64
	for _, raw := range doc.Tag {
		var tag tagDoc
		if err := json.Unmarshal(raw, &tag); err != nil || tag.Type != "Hashtag" {
			continue
		}
		name := util.NormalizeHashtag(tag.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		id, err := r.db.CreateOrUpdateHashtag(name)
		if err != nil {
			log.Printf("Resolver: Failed to store hashtag #%s: %v", name, err)
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return
	}
	if err := r.db.LinkPostHashtags(post.Id, ids); err != nil {
		log.Printf("Resolver: Failed to link hashtags to %s: %v", post.URI, err)
	}
}

// storeAttachments stores media rows and turns the first Link attachment into the post URL
func (r *ObjectResolver) storeAttachments(ctx context.Context, post *domain.Post, doc *ObjectDoc) {
	linked := false
	for _, raw := range doc.Attachment {
		var att attachmentDoc
		if err := json.Unmarshal(raw, &att); err != nil {
			continue
		}
		href := att.link()
		if !util.IsWebURL(href) {
			continue
		}

		switch att.Type {
		case "Image", "Document", "Video", "Audio":
			mediaType := att.MediaType
			if mediaType == "" {
				mediaType = strings.ToLower(att.Type)
			}
			media := &domain.MediaAttachment{
				Id:        uuid.New(),
				PostId:    post.Id,
				URL:       href,
				MediaType: mediaType,
				AltText:   att.Name,
				Width:     att.Width,
				Height:    att.Height,
			}
			if err := r.db.CreateMediaAttachment(media); err != nil {
				log.Printf("Resolver: Failed to store attachment %s: %v", href, err)
			}
		case "Link":
			if linked {
				continue
			}
			linked = true
			r.applyLink(ctx, post, href, att.Name)
		}
	}
}

// applyLink rewrites the post URL and appends an anchor titled by the link preview when available.
// The anchor is dropped when it would push the content past the size limit.
func (r *ObjectResolver) applyLink(ctx context.Context, post *domain.Post, href string, name string) {
	title := name
	if r.previews != nil {
		preview, err := r.previews.Preview(ctx, href)
		if err != nil {
			log.Printf("Resolver: Link preview for %s failed: %v", href, err)
		} else if preview.Title != "" {
			title = preview.Title
		}
	}
	if title == "" {
		title = href
	}

	post.URL = href
	anchor := fmt.Sprintf(`<p><a href="%s">%s</a></p>`, html.EscapeString(href), html.EscapeString(title))
	content := util.SanitizeContent(post.Content + anchor)
	if r.maxContentBytes > 0 && len(content) > r.maxContentBytes {
		log.Printf("Resolver: Link anchor for %s would exceed %d bytes, keeping the URL only", post.URI, r.maxContentBytes)
	} else {
		post.Content = content
	}
	if err := r.db.UpdatePost(post); err != nil {
		log.Printf("Resolver: Failed to store link for %s: %v", post.URI, err)
	}
}
