package fleet

import (
	"strings"

	"github.com/joeydtaylor/composr/pkg/codec"
	"github.com/joeydtaylor/composr/pkg/fault"
)

// Kind of document an event refers to.
type Kind string

const (
	KindPhrase  Kind = "phrase"
	KindSnippet Kind = "snippet"
)

const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// Event is the change notification published on the bus.
type Event struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	ResourceID string `json:"resourceId"`
}

// typeAliases maps every accepted type spelling to its kind. The collection
// names are what the control plane publishes.
var typeAliases = map[string]Kind{
	"phrase":          KindPhrase,
	"composr:phrase":  KindPhrase,
	"snippet":         KindSnippet,
	"composr:snippet": KindSnippet,
}

// Kind resolves the event type. ok is false for types this node ignores.
func (e Event) Kind() (Kind, bool) {
	k, ok := typeAliases[strings.ToLower(strings.TrimSpace(e.Type))]
	return k, ok
}

// ParseEvent decodes a bus payload. A payload that is not a JSON event object
// is a SyncFault.
func ParseEvent(body []byte) (Event, error) {
	var e Event
	if err := codec.JSON.Unmarshal(body, &e); err != nil {
		return Event{}, fault.Wrap(fault.KindSync, "malformed event payload", err)
	}
	e.Action = strings.ToUpper(strings.TrimSpace(e.Action))
	e.ResourceID = strings.TrimSpace(e.ResourceID)
	return e, nil
}
