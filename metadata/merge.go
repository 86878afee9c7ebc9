package metadata

import (
	"fmt"
	"slices"

	"github.com/autom8ter/docrepl/errors"
	"github.com/samber/lo"
)

// Strategy is how a proposed change relates to the committed snapshot
type Strategy int

const (
	// New adds an entry that is neither committed by identifier nor by position
	New Strategy = iota + 1
	// Unchanged adopts the identical committed entry
	Unchanged
	// Move repositions the committed entry to the free proposed position
	Move
	// Conflict rejects the change
	Conflict
	// Dropped removes a committed entry
	Dropped
)

func (s Strategy) String() string {
	switch s {
	case New:
		return "new"
	case Unchanged:
		return "unchanged"
	case Move:
		return "move"
	case Conflict:
		return "conflict"
	case Dropped:
		return "dropped"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// strategies is indexed by [committed by identifier][committed by position]. Named entries use their name
// as position, so for them an identifier match without a name match is a collision, not a move.
var strategies = [2][2][2]Strategy{
	// named
	{
		{New, Conflict},
		{Conflict, Unchanged},
	},
	// positional
	{
		{New, Conflict},
		{Move, Unchanged},
	},
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// resolve picks the strategy of a change. same reports whether both lookups found the same entry and
// compatible whether that entry matches the change.
func resolve(positional, byIdentifier, byPosition, same, compatible bool) Strategy {
	s := strategies[b2i(positional)][b2i(byIdentifier)][b2i(byPosition)]
	if s == Unchanged && (!same || !compatible) {
		return Conflict
	}
	return s
}

// Resolution records the strategy applied to a change
type Resolution struct {
	Change   Change
	Strategy Strategy
}

// ConflictError names a proposed change that collides with committed metadata
type ConflictError struct {
	Change    Change
	Committed string
}

func (c *ConflictError) Error() string {
	return fmt.Sprintf("%s conflicts with committed %s", c.Change, c.Committed)
}

func conflict(change Change, committed string, args ...any) error {
	return errors.Wrap(&ConflictError{Change: change, Committed: fmt.Sprintf(committed, args...)}, errors.Conflict, "")
}

// Merge applies changes to a copy of base. Additions are resolved in order, drops are applied afterwards and
// are no-ops when the entry is absent. The version only advances if the snapshot changed. base is never modified.
func Merge(base *Snapshot, changes []Change) (*Snapshot, []Resolution, error) {
	next := base.clone()
	drops := lo.Filter(changes, func(c Change, _ int) bool { return c.Kind.isDrop() })
	adds := lo.Reject(changes, func(c Change, _ int) bool { return c.Kind.isDrop() })
	resolutions := make([]Resolution, 0, len(changes))
	modified := false
	for _, c := range append(adds, drops...) {
		strategy, err := next.apply(c)
		if err != nil {
			return nil, resolutions, err
		}
		resolutions = append(resolutions, Resolution{Change: c, Strategy: strategy})
		if strategy != Unchanged {
			modified = true
		}
	}
	if !modified {
		return base, resolutions, nil
	}
	next.Version = base.Version + 1
	return next, resolutions, nil
}

func missingParent(c Change) error {
	return errors.New(errors.Assertion, "%s: parent entry is missing", c)
}

func (s *Snapshot) apply(c Change) (Strategy, error) {
	switch c.Kind {
	case AddDatabase:
		identifier := Identifier(c.Database)
		byID, _ := lo.Find(s.Databases, func(d *Database) bool { return d.Identifier == identifier })
		byName := s.Database(c.Database)
		strategy := resolve(false, byID != nil, byName != nil, byID == byName, true)
		switch strategy {
		case New:
			s.Databases = append(s.Databases, &Database{Name: c.Database, Identifier: identifier})
		case Conflict:
			return Conflict, conflict(c, "database %s", lo.Ternary(byID != nil, byID, byName).Name)
		}
		return strategy, nil
	case AddCollection:
		db := s.Database(c.Database)
		if db == nil {
			return 0, missingParent(c)
		}
		identifier := Identifier(c.Collection)
		byID, _ := lo.Find(db.Collections, func(coll *Collection) bool { return coll.Identifier == identifier })
		byName := db.Collection(c.Collection)
		strategy := resolve(false, byID != nil, byName != nil, byID == byName, true)
		switch strategy {
		case New:
			db.Collections = append(db.Collections, &Collection{Name: c.Collection, Identifier: identifier})
		case Conflict:
			return Conflict, conflict(c, "collection %s", lo.Ternary(byID != nil, byID, byName).Name)
		}
		return strategy, nil
	case AddDocPart:
		coll := s.Collection(c.Database, c.Collection)
		if coll == nil {
			return 0, missingParent(c)
		}
		identifier := DocPartIdentifier(c.Collection, c.TableRef)
		byID, _ := lo.Find(coll.DocParts, func(dp *DocPart) bool { return dp.Identifier == identifier })
		byRef := coll.DocPart(c.TableRef)
		strategy := resolve(false, byID != nil, byRef != nil, byID == byRef, true)
		switch strategy {
		case New:
			coll.DocParts = append(coll.DocParts, &DocPart{TableRef: slices.Clone(c.TableRef), Identifier: identifier})
		case Conflict:
			return Conflict, conflict(c, "doc part %s", lo.Ternary(byID != nil, byID, byRef).Identifier)
		}
		return strategy, nil
	case AddField:
		coll := s.Collection(c.Database, c.Collection)
		if coll == nil || coll.DocPart(c.TableRef) == nil {
			return 0, missingParent(c)
		}
		dp := coll.DocPart(c.TableRef)
		byID := dp.fieldByIdentifier(c.Field.Identifier)
		byPos := dp.fieldAt(c.Field.Position)
		compatible := byID != nil && byID.Name == c.Field.Name && byID.Type == c.Field.Type
		strategy := resolve(true, byID != nil, byPos != nil, byID == byPos, compatible)
		switch strategy {
		case New:
			f := *c.Field
			dp.Fields = append(dp.Fields, &f)
		case Move:
			byID.Position = c.Field.Position
		case Conflict:
			committed := lo.Ternary(byPos != nil, byPos, byID)
			return Conflict, conflict(c, "field %s:%s@%d", committed.Name, committed.Type, committed.Position)
		}
		return strategy, nil
	case AddIndex:
		coll := s.Collection(c.Database, c.Collection)
		if coll == nil {
			return 0, missingParent(c)
		}
		identifier := Identifier(c.Index)
		byID, _ := lo.Find(coll.Indexes, func(i *Index) bool { return i.Identifier == identifier })
		byName := coll.Index(c.Index)
		compatible := byID != nil && byID.Unique == c.Unique
		strategy := resolve(false, byID != nil, byName != nil, byID == byName, compatible)
		switch strategy {
		case New:
			coll.Indexes = append(coll.Indexes, &Index{Name: c.Index, Identifier: identifier, Unique: c.Unique})
		case Conflict:
			return Conflict, conflict(c, "index %s", lo.Ternary(byID != nil, byID, byName).Name)
		}
		return strategy, nil
	case AddIndexField:
		coll := s.Collection(c.Database, c.Collection)
		if coll == nil || coll.Index(c.Index) == nil {
			return 0, missingParent(c)
		}
		idx := coll.Index(c.Index)
		byID := idx.fieldByIdentifier(c.IndexField.identifier())
		byPos := idx.fieldAt(c.IndexField.Position)
		compatible := byID != nil && byID.Ascending == c.IndexField.Ascending
		strategy := resolve(true, byID != nil, byPos != nil, byID == byPos, compatible)
		switch strategy {
		case New:
			f := *c.IndexField
			f.TableRef = slices.Clone(c.IndexField.TableRef)
			idx.Fields = append(idx.Fields, &f)
		case Move:
			byID.Position = c.IndexField.Position
		case Conflict:
			committed := lo.Ternary(byPos != nil, byPos, byID)
			return Conflict, conflict(c, "index field %s@%d", committed.Path(), committed.Position)
		}
		return strategy, nil
	case DropDatabase:
		before := len(s.Databases)
		s.Databases = lo.Reject(s.Databases, func(d *Database, _ int) bool { return d.Name == c.Database })
		return lo.Ternary(len(s.Databases) < before, Dropped, Unchanged), nil
	case DropCollection:
		db := s.Database(c.Database)
		if db == nil {
			return Unchanged, nil
		}
		before := len(db.Collections)
		db.Collections = lo.Reject(db.Collections, func(coll *Collection, _ int) bool { return coll.Name == c.Collection })
		return lo.Ternary(len(db.Collections) < before, Dropped, Unchanged), nil
	case DropIndex:
		coll := s.Collection(c.Database, c.Collection)
		if coll == nil {
			return Unchanged, nil
		}
		before := len(coll.Indexes)
		coll.Indexes = lo.Reject(coll.Indexes, func(i *Index, _ int) bool { return i.Name == c.Index })
		return lo.Ternary(len(coll.Indexes) < before, Dropped, Unchanged), nil
	}
	return 0, errors.New(errors.Assertion, "unknown metadata change %s", c)
}
