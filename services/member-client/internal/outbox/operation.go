package outbox

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/model"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Kind names a deferred write as <action>_<entity>, e.g. "create_event".
type Kind string

const (
	KindCreateEvent        Kind = "create_event"
	KindUpdateEvent        Kind = "update_event"
	KindDeleteEvent        Kind = "delete_event"
	KindCreateNews         Kind = "create_news"
	KindUpdateNews         Kind = "update_news"
	KindDeleteNews         Kind = "delete_news"
	KindCreateRegistration Kind = "create_registration"
	KindUpdateRegistration Kind = "update_registration"
	KindDeleteRegistration Kind = "delete_registration"
	KindCreateTeam         Kind = "create_team"
	KindUpdateTeam         Kind = "update_team"
	KindDeleteTeam         Kind = "delete_team"
	KindCreatePlayer       Kind = "create_player"
	KindUpdatePlayer       Kind = "update_player"
	KindDeletePlayer       Kind = "delete_player"
	KindCreateMatch        Kind = "create_match"
	KindUpdateMatch        Kind = "update_match"
	KindDeleteMatch        Kind = "delete_match"
	KindCreateUser         Kind = "create_user"
	KindUpdateUser         Kind = "update_user"
	KindDeleteUser         Kind = "delete_user"
)

var entityCollections = map[string]string{
	"event":        model.CollectionEvents,
	"news":         model.CollectionNews,
	"registration": model.CollectionRegistrations,
	"team":         model.CollectionTeams,
	"player":       model.CollectionPlayers,
	"match":        model.CollectionMatches,
	"user":         model.CollectionUsers,
}

func NewKind(action, entity string) Kind {
	return Kind(action + "_" + entity)
}

func (k Kind) split() (string, string) {
	action, entity, _ := strings.Cut(string(k), "_")
	return action, entity
}

func (k Kind) Action() string {
	action, _ := k.split()
	return action
}

func (k Kind) Entity() string {
	_, entity := k.split()
	return entity
}

// Collection returns the document collection a kind writes to.
func (k Kind) Collection() (string, bool) {
	action, entity := k.split()
	switch action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return "", false
	}
	c, ok := entityCollections[entity]
	return c, ok
}

func (k Kind) Valid() bool {
	_, ok := k.Collection()
	return ok
}

// Operation is one write waiting to reach the backend.
type Operation struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	EntityID    string          `json:"entity_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
	Traceparent string          `json:"traceparent,omitempty"`
	Tracestate  string          `json:"tracestate,omitempty"`
}

func (op Operation) entityKey() string {
	return op.Kind.Entity() + "/" + op.EntityID
}
