package mongo

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/model"
	"github.com/autom8ter/docrepl/oplog"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func toOperation(e entry) (*oplog.Operation, error) {
	kind, err := oplog.ParseKind(e.Op)
	if err != nil {
		return nil, err
	}
	op := &oplog.Operation{
		Kind:      kind,
		Namespace: oplog.ParseNamespace(e.NS),
		Position:  e.TS,
	}
	switch kind {
	case oplog.Insert, oplog.Command, oplog.Noop:
		op.Document, err = toDocument(e.O)
	case oplog.Delete:
		op.Filter, err = toDocument(e.O)
	case oplog.Update:
		if op.Filter, err = toDocument(e.O2); err != nil {
			return nil, err
		}
		op.Document, err = toUpdate(e.O)
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

func toDocument(raw bson.Raw) (*model.Document, error) {
	if len(raw) == 0 {
		return model.NewDocument(), nil
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "mongo: decode document")
	}
	return encode(d)
}

func encode(d bson.D) (*model.Document, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, d); err != nil {
		return nil, err
	}
	return model.NewDocumentFromBytes(buf.Bytes())
}

// toUpdate converts an oplog update entry into a modifier or replacement document. Entries written by
// MongoDB 5+ ({$v: 2, diff: ...}) are translated into $set and $unset.
func toUpdate(raw bson.Raw) (*model.Document, error) {
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "mongo: decode update")
	}
	var (
		diff     bson.D
		version  any
		stripped bson.D
	)
	for _, e := range d {
		switch e.Key {
		case "$v":
			version = e.Value
		case "diff":
			diff, _ = e.Value.(bson.D)
		default:
			stripped = append(stripped, e)
		}
	}
	if diff == nil || version == nil {
		return encode(stripped)
	}
	set, unset := bson.D{}, bson.D{}
	flattenDiff("", diff, &set, &unset)
	mod := bson.D{}
	if len(set) > 0 {
		mod = append(mod, bson.E{Key: model.OpSet, Value: set})
	}
	if len(unset) > 0 {
		mod = append(mod, bson.E{Key: model.OpUnset, Value: unset})
	}
	if len(mod) == 0 {
		mod = append(mod, bson.E{Key: model.OpSet, Value: bson.D{}})
	}
	return encode(mod)
}

func flattenDiff(prefix string, diff bson.D, set, unset *bson.D) {
	for _, section := range diff {
		fields, _ := section.Value.(bson.D)
		switch {
		case section.Key == "u" || section.Key == "i":
			for _, f := range fields {
				*set = append(*set, bson.E{Key: prefix + f.Key, Value: f.Value})
			}
		case section.Key == "d":
			for _, f := range fields {
				*unset = append(*unset, bson.E{Key: prefix + f.Key, Value: ""})
			}
		case strings.HasPrefix(section.Key, "s"):
			// sub-document diff; array diffs ({a: true, ...}) are flattened by index
			sub := make(bson.D, 0, len(fields))
			for _, f := range fields {
				if f.Key == "a" {
					continue
				}
				if strings.HasPrefix(f.Key, "u") && len(f.Key) > 1 {
					sub = append(sub, bson.E{Key: "u", Value: bson.D{{Key: f.Key[1:], Value: f.Value}}})
					continue
				}
				sub = append(sub, f)
			}
			flattenDiff(prefix+section.Key[1:]+".", sub, set, unset)
		}
	}
}

// writeJSON writes v as relaxed json, keeping document key order. ObjectIDs become hex strings so they stay
// usable as scalar identifiers.
func writeJSON(buf *bytes.Buffer, v any) error {
	switch v := v.(type) {
	case bson.D:
		buf.WriteByte('{')
		for i, e := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(e.Key)
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeJSON(buf, e.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case bson.A:
		buf.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case bson.ObjectID:
		return writeValue(buf, v.Hex())
	case bson.DateTime:
		return writeValue(buf, v.Time().UTC())
	case bson.Timestamp:
		return writeValue(buf, map[string]uint32{"t": v.T, "i": v.I})
	case bson.Decimal128:
		return writeValue(buf, v.String())
	case bson.Binary:
		return writeValue(buf, base64.StdEncoding.EncodeToString(v.Data))
	case bson.Regex:
		return writeValue(buf, "/"+v.Pattern+"/"+v.Options)
	case nil:
		buf.WriteString("null")
		return nil
	default:
		return writeValue(buf, v)
	}
}

func writeValue(buf *bytes.Buffer, v any) error {
	bits, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.Validation, "mongo: encode value %v", v)
	}
	buf.Write(bits)
	return nil
}
