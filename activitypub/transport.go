package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
)

// Transport posts one activity to one inbox on behalf of a local actor
type Transport interface {
	Deliver(ctx context.Context, sender *domain.Actor, inbox string, body []byte) error
}

// StatusError is a non-2xx response from a remote inbox
type StatusError struct {
	Inbox      string
	Code       int
	RetryAfter int // Seconds, 0 when absent
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inbox %s returned status %d", e.Inbox, e.Code)
}

// Permanent reports whether retrying cannot help
func (e *StatusError) Permanent() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

// SignedTransport signs every request with the sender's key
type SignedTransport struct {
	client HTTPClient
}

func NewSignedTransport(client HTTPClient) *SignedTransport {
	return &SignedTransport{client: client}
}

func (t *SignedTransport) Deliver(ctx context.Context, sender *domain.Actor, inbox string, body []byte) error {
	privateKey, err := util.ParsePrivateKey(sender.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key of %s: %w", sender.Handle, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	if err := SignRequest(req, privateKey, KeyId(sender.URI), body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &StatusError{Inbox: inbox, Code: resp.StatusCode, RetryAfter: retryAfter}
	}
	return nil
}
