// Package oplog holds the replicated operation model: operations, their positions and chain hashes,
// checkpoints and the checks an operation must pass before it may be applied.
package oplog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/model"
	"github.com/tidwall/gjson"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Position orders operations in the upstream log: seconds since the epoch and an ordinal within the second
type Position = bson.Timestamp

// Kind is the kind of an operation
type Kind int

const (
	Noop Kind = iota
	Insert
	Update
	Delete
	Command
)

var kindNames = map[Kind]string{
	Noop:    "noop",
	Insert:  "insert",
	Update:  "update",
	Delete:  "delete",
	Command: "command",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses a kind name or a single letter oplog "op" code
func ParseKind(s string) (Kind, error) {
	switch s {
	case "n", "noop":
		return Noop, nil
	case "i", "insert":
		return Insert, nil
	case "u", "update":
		return Update, nil
	case "d", "delete":
		return Delete, nil
	case "c", "command":
		return Command, nil
	}
	return 0, errors.New(errors.Validation, "unknown operation kind %q", s)
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(bytes []byte) error {
	var s string
	if err := json.Unmarshal(bytes, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// CommandCollection is the pseudo collection commands are addressed to
const CommandCollection = "$cmd"

// Namespace is a database and collection pair
type Namespace struct {
	Database   string `json:"db"`
	Collection string `json:"coll"`
}

// ParseNamespace parses a "db.collection" string. Collection names may contain dots.
func ParseNamespace(ns string) Namespace {
	db, coll, _ := strings.Cut(ns, ".")
	return Namespace{Database: db, Collection: coll}
}

func (n Namespace) String() string {
	return n.Database + "." + n.Collection
}

// IsSystem reports whether the namespace is a server managed system collection
func (n Namespace) IsSystem() bool {
	return strings.HasPrefix(n.Collection, "system.")
}

// Operation is a single upstream mutation. Operations are immutable once fetched.
type Operation struct {
	Kind      Kind      `json:"kind"`
	Namespace Namespace `json:"ns"`
	// Filter selects the target of updates and deletes
	Filter *model.Document `json:"filter,omitempty"`
	// Document is the inserted document, the update (modifier or replacement) or the command body
	Document *model.Document `json:"doc,omitempty"`
	Upsert   bool            `json:"upsert,omitempty"`
	Position Position        `json:"ts"`
	Hash     int64           `json:"h"`
}

// ID returns the _id the operation targets. It doesn't exist for commands and noops.
func (o *Operation) ID() gjson.Result {
	switch o.Kind {
	case Insert:
		if o.Document != nil {
			return o.Document.ID()
		}
	case Update, Delete:
		if o.Filter != nil {
			return o.Filter.ID()
		}
	}
	return gjson.Result{}
}

// Checkpoint returns the checkpoint reached once the operation is applied
func (o *Operation) Checkpoint() Checkpoint {
	return Checkpoint{Position: o.Position, Hash: o.Hash}
}

func (o *Operation) String() string {
	return fmt.Sprintf("%s %s @%d.%d", o.Kind, o.Namespace, o.Position.T, o.Position.I)
}

// ApplierContext carries flags that change how operations are applied
type ApplierContext struct {
	// UpdatesAsUpserts treats every update as an upsert. Used while (re)syncing, where targets may be missing.
	UpdatesAsUpserts bool `json:"updatesAsUpserts"`
	// Reapplying marks a recovery pass over operations that may already be applied
	Reapplying bool `json:"reapplying"`
}
