// Package inbound consumes person notifications from a Redis stream and
// applies them through the engine.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tapline/internal/domain"
	"tapline/internal/engine"
)

const (
	TypePersonUpdated = "person.updated"
	TypePersonMerged  = "person.merged"
)

var ErrUnknownType = errors.New("unknown notification type")

// Notification is one decoded stream entry. Entries carry a "type" field and
// a JSON "data" field; "message_id" defaults to the stream entry id.
type Notification struct {
	MessageID string
	Type      string
	Person    PersonData
}

type PersonData struct {
	PersonIdentifier        string `json:"person_identifier"`
	RemovedPersonIdentifier string `json:"removed_person_identifier,omitempty"`
	FirstName               string `json:"first_name,omitempty"`
	LastName                string `json:"last_name,omitempty"`
	PrisonCode              string `json:"prison_code,omitempty"`
}

// Parse decodes the values of a stream entry.
func Parse(entryID string, values map[string]any) (Notification, error) {
	n := Notification{MessageID: entryID}
	if id, ok := values["message_id"].(string); ok && id != "" {
		n.MessageID = id
	}
	typ, _ := values["type"].(string)
	if typ == "" {
		return n, fmt.Errorf("entry %s has no type", entryID)
	}
	n.Type = typ
	raw, _ := values["data"].(string)
	if raw == "" {
		return n, fmt.Errorf("entry %s has no data", entryID)
	}
	if err := json.Unmarshal([]byte(raw), &n.Person); err != nil {
		return n, fmt.Errorf("entry %s data: %w", entryID, err)
	}
	if n.Person.PersonIdentifier == "" {
		return n, fmt.Errorf("entry %s has no person identifier", entryID)
	}
	return n, nil
}

// Handler applies a notification.
type Handler interface {
	Handle(ctx context.Context, n Notification) (applied bool, err error)
}

// PersonEngine is the part of the engine the inbound handler drives.
type PersonEngine interface {
	UpdatePerson(ctx context.Context, messageID string, p domain.Person) (bool, error)
	MergePerson(ctx context.Context, messageID, from, to string) (engine.MergeResult, error)
}

// EngineHandler routes notifications to the engine. Duplicate message ids
// are reported as not applied.
type EngineHandler struct {
	Engine PersonEngine
}

func (h EngineHandler) Handle(ctx context.Context, n Notification) (bool, error) {
	switch n.Type {
	case TypePersonUpdated:
		return h.Engine.UpdatePerson(ctx, n.MessageID, domain.Person{
			Identifier: n.Person.PersonIdentifier,
			FirstName:  n.Person.FirstName,
			LastName:   n.Person.LastName,
			PrisonCode: n.Person.PrisonCode,
		})
	case TypePersonMerged:
		if n.Person.RemovedPersonIdentifier == "" {
			return false, fmt.Errorf("merge %s has no removed person identifier", n.MessageID)
		}
		res, err := h.Engine.MergePerson(ctx, n.MessageID, n.Person.RemovedPersonIdentifier, n.Person.PersonIdentifier)
		return res.Applied, err
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownType, n.Type)
	}
}
