package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/deemkeen/tusker/util"
)

const (
	acceptActivityJSON = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	maxDocumentSize    = 5 * 1024 * 1024
)

// ResolveKind classifies why a remote document could not be used
type ResolveKind int

const (
	ResolveNotFound ResolveKind = iota
	ResolveTransient
	ResolveRejected
	ResolveUnsupported
)

func (k ResolveKind) String() string {
	switch k {
	case ResolveNotFound:
		return "not found"
	case ResolveTransient:
		return "transient"
	case ResolveRejected:
		return "rejected"
	case ResolveUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// ResolveError is returned by the resolvers for every fetch, parse or policy failure
type ResolveError struct {
	Kind ResolveKind
	URI  string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s (%s): %v", e.URI, e.Kind, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

func resolveErr(kind ResolveKind, uri string, format string, args ...any) *ResolveError {
	return &ResolveError{Kind: kind, URI: uri, Err: fmt.Errorf(format, args...)}
}

// ResolveKindOf returns the kind of a ResolveError anywhere in err's chain
func ResolveKindOf(err error) (ResolveKind, bool) {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err is a temporary resolve failure worth retrying later
func IsTransient(err error) bool {
	kind, ok := ResolveKindOf(err)
	return ok && kind == ResolveTransient
}

// fetchDocument GETs an ActivityPub document and decodes it into dest
func fetchDocument(ctx context.Context, client HTTPClient, uri string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return resolveErr(ResolveNotFound, uri, "invalid uri: %w", err)
	}
	req.Header.Set("Accept", acceptActivityJSON)
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := client.Do(req)
	if err != nil {
		return resolveErr(ResolveTransient, uri, "request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resolveErr(ResolveTransient, uri, "remote returned status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return resolveErr(ResolveNotFound, uri, "remote returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return resolveErr(ResolveTransient, uri, "failed to read body: %w", err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return resolveErr(ResolveNotFound, uri, "malformed document: %w", err)
	}
	return nil
}

// fetchFromOrigin fetches uri into a new T. A document whose id lives on another host is
// dereferenced again from that id, and only a copy served by its own host is returned.
func fetchFromOrigin[T any](ctx context.Context, client HTTPClient, uri string, idOf func(*T) string) (*T, error) {
	doc := new(T)
	if err := fetchDocument(ctx, client, uri, doc); err != nil {
		return nil, err
	}
	id := idOf(doc)
	if id == "" || util.HostOf(id) == util.HostOf(uri) {
		return doc, nil
	}

	canonical := new(T)
	if err := fetchDocument(ctx, client, id, canonical); err != nil {
		return nil, resolveErr(ResolveRejected, uri, "claimed id %s could not be confirmed: %w", id, err)
	}
	if got := idOf(canonical); got != id {
		return nil, resolveErr(ResolveRejected, uri, "claimed id %s resolves to %q", id, got)
	}
	return canonical, nil
}
