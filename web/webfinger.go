package web

import (
	"errors"
	"fmt"
	"strings"

	"github.com/deemkeen/tusker/util"
)

type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

type Webfinger struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebfingerLink `json:"links"`
}

var errWebfingerNotFound = errors.New("webfinger resource not found")

// GetWebfinger resolves acct:name@domain to a local user, falling back to a community of that name
func GetWebfinger(resource string, store Store, conf *util.AppConfig) (error, *Webfinger) {
	name, ok := strings.CutPrefix(resource, "acct:")
	if !ok {
		return errWebfingerNotFound, nil
	}
	name = strings.TrimPrefix(name, "@")
	if user, host, found := strings.Cut(name, "@"); found {
		if !strings.EqualFold(host, conf.Conf.SslDomain) {
			return errWebfingerNotFound, nil
		}
		name = user
	}

	err, actor := store.ReadLocalActorByUsername(name)
	if err != nil {
		if err, actor = store.ReadLocalCommunityByName(name); err != nil {
			return errWebfingerNotFound, nil
		}
	}

	return nil, &Webfinger{
		Subject: fmt.Sprintf("acct:%s@%s", actor.Username, conf.Conf.SslDomain),
		Aliases: []string{actor.URI},
		Links: []WebfingerLink{
			{Rel: "self", Type: "application/activity+json", Href: actor.URI},
			{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: actor.ProfileURL},
		},
	}
}
