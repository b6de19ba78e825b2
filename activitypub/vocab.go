package activitypub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	ContextActivityStreams = "https://www.w3.org/ns/activitystreams"
	ContextSecurity        = "https://w3id.org/security/v1"
	PublicCollection       = "https://www.w3.org/ns/activitystreams#Public"
)

// ErrUnsupportedActivity is returned by ParseActivity for verbs the pipeline does not handle
var ErrUnsupportedActivity = errors.New("unsupported activity type")

// Activity is one of the eight verbs the pipeline handles:
// *Create, *Like, *Announce, *Follow, *Accept, *Reject, *Undo, *Delete
type Activity interface {
	envelope() *Envelope
}

// Envelope holds the fields shared by every activity
type Envelope struct {
	Context   any        `json:"@context,omitempty"`
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Actor     ObjectRef  `json:"actor"`
	Object    ObjectRef  `json:"object"`
	To        Addressing `json:"to,omitempty"`
	Cc        Addressing `json:"cc,omitempty"`
	Published string     `json:"published,omitempty"`
}

func (e *Envelope) envelope() *Envelope { return e }

type Create struct{ Envelope }
type Like struct{ Envelope }
type Announce struct{ Envelope }
type Follow struct{ Envelope }
type Accept struct{ Envelope }
type Reject struct{ Envelope }
type Undo struct{ Envelope }
type Delete struct{ Envelope }

// ActivityID returns the activity id
func ActivityID(a Activity) string { return a.envelope().ID }

// ActivityActor returns the URI of the acting actor
func ActivityActor(a Activity) string { return a.envelope().Actor.ID }

// ActivityVerb returns the activity type
func ActivityVerb(a Activity) string { return a.envelope().Type }

// ActivityObject returns the activity object reference
func ActivityObject(a Activity) ObjectRef { return a.envelope().Object }

// Recipients returns the to and cc addressing of the activity
func Recipients(a Activity) []string {
	e := a.envelope()
	all := make([]string, 0, len(e.To)+len(e.Cc))
	all = append(all, e.To...)
	return append(all, e.Cc...)
}

func newActivity(verb string) (Activity, error) {
	switch verb {
	case "Create":
		return &Create{}, nil
	case "Like":
		return &Like{}, nil
	case "Announce":
		return &Announce{}, nil
	case "Follow":
		return &Follow{}, nil
	case "Accept":
		return &Accept{}, nil
	case "Reject":
		return &Reject{}, nil
	case "Undo":
		return &Undo{}, nil
	case "Delete":
		return &Delete{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedActivity, verb)
	}
}

// ParseActivity decodes a raw activity document into its concrete verb type
func ParseActivity(raw []byte) (Activity, error) {
	return parseActivity(raw, true)
}

// parseActivity skips the id requirement when strict is false, for objects embedded in an Undo
func parseActivity(raw []byte, strict bool) (Activity, error) {
	var head struct {
		Type any `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("failed to parse activity: %w", err)
	}

	act, err := newActivity(typeName(head.Type))
	if err != nil {
		return nil, err
	}

	env := act.envelope()
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("failed to parse %s activity: %w", typeName(head.Type), err)
	}
	if strict && env.ID == "" {
		return nil, fmt.Errorf("activity without id")
	}
	if env.Actor.ID == "" {
		return nil, fmt.Errorf("activity %s without actor", env.ID)
	}
	return act, nil
}

// typeName accepts both "Note" and ["Note", ...]
func typeName(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				return s
			}
		}
	}
	return ""
}

// ObjectRef is a reference that is either a bare URI or an embedded object
type ObjectRef struct {
	ID   string
	Type string
	Raw  json.RawMessage // Set when the object was embedded
}

// Ref builds a URI-only reference
func Ref(id string) ObjectRef {
	return ObjectRef{ID: id}
}

// Embed builds a reference carrying v as an embedded object
func Embed(v any) (ObjectRef, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return ObjectRef{}, err
	}
	var ref ObjectRef
	if err := ref.UnmarshalJSON(raw); err != nil {
		return ObjectRef{}, err
	}
	return ref, nil
}

// IsEmbedded reports whether the reference carries the full object
func (r ObjectRef) IsEmbedded() bool {
	return len(r.Raw) > 0
}

// Decode unmarshals the embedded object into dest
func (r ObjectRef) Decode(dest any) error {
	if !r.IsEmbedded() {
		return fmt.Errorf("object %s is not embedded", r.ID)
	}
	return json.Unmarshal(r.Raw, dest)
}

func (r *ObjectRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = ObjectRef{}
		return nil
	}

	switch b[0] {
	case '"':
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*r = ObjectRef{ID: id}
	case '{':
		var head struct {
			ID   string `json:"id"`
			Type any    `json:"type"`
		}
		if err := json.Unmarshal(b, &head); err != nil {
			return err
		}
		*r = ObjectRef{ID: head.ID, Type: typeName(head.Type), Raw: append(json.RawMessage(nil), b...)}
	case '[':
		// Multi-valued references (e.g. attributedTo on Lemmy/PeerTube) resolve to the first entry
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*r = ObjectRef{}
		for _, item := range items {
			var ref ObjectRef
			if err := ref.UnmarshalJSON(item); err != nil {
				return err
			}
			if ref.ID != "" {
				*r = ref
				return nil
			}
		}
	default:
		return fmt.Errorf("invalid object reference: %s", string(b))
	}
	return nil
}

func (r ObjectRef) MarshalJSON() ([]byte, error) {
	if r.IsEmbedded() {
		return r.Raw, nil
	}
	if r.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID)
}

// Addressing is a to/cc list, accepting a single string or an array
type Addressing []string

func (a *Addressing) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Addressing{s}
		return nil
	}

	var items []ObjectRef
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make(Addressing, 0, len(items))
	for _, item := range items {
		if item.ID != "" {
			out = append(out, item.ID)
		}
	}
	*a = out
	return nil
}

// LinkValue is a url field that may be a string, a Link object or an array of either
type LinkValue string

func (l *LinkValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*l = ""
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = LinkValue(s)
	case '{':
		var link struct {
			Href string    `json:"href"`
			URL  LinkValue `json:"url"`
		}
		if err := json.Unmarshal(b, &link); err != nil {
			return err
		}
		if link.Href != "" {
			*l = LinkValue(link.Href)
		} else {
			*l = link.URL
		}
	case '[':
		var items []LinkValue
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		for _, item := range items {
			if item != "" {
				*l = item
				break
			}
		}
	}
	return nil
}

// ObjectList is a tag or attachment field holding one object or an array of objects
type ObjectList []json.RawMessage

func (o *ObjectList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*o = nil
		return nil
	}
	if b[0] == '{' {
		*o = ObjectList{append(json.RawMessage(nil), b...)}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*o = items
	return nil
}
