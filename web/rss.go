package web

import (
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
	"github.com/gorilla/feeds"
)

const feedSize = 50

// GetRSS renders the newest top-level posts of a local actor
func GetRSS(actor *domain.Actor, store Store, conf *util.AppConfig) (string, error) {
	err, posts := store.ReadPostsByActorId(actor.Id, feedSize)
	if err != nil {
		log.Printf("Could not get posts of %s: %v", actor.Handle, err)
		return "", fmt.Errorf("error retrieving posts of %s", actor.Handle)
	}

	email := fmt.Sprintf("%s@%s", actor.Username, conf.Conf.SslDomain)
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - %s", actor.DisplayName, actor.Handle),
		Link:        &feeds.Link{Href: actor.ProfileURL},
		Description: actor.Summary,
		Author:      &feeds.Author{Name: actor.Username, Email: email},
		Created:     time.Now(),
	}

	for _, post := range *posts {
		// replies stay out of the feed
		if post.InReplyToURI != "" {
			continue
		}
		link := post.URI
		if post.URL != "" {
			link = post.URL
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      post.URI,
			Title:   post.CreatedAt.Format(time.RFC1123),
			Link:    &feeds.Link{Href: link},
			Content: post.Content,
			Author:  &feeds.Author{Name: actor.Username, Email: email},
			Created: post.CreatedAt,
		})
	}

	return feed.ToRss()
}
