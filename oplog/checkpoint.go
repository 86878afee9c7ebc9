package oplog

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Checkpoint is the position and hash of the last durably applied operation
type Checkpoint struct {
	Position Position `json:"ts"`
	Hash     int64    `json:"h"`
}

// IsZero reports whether the checkpoint is the beginning of the log
func (c Checkpoint) IsZero() bool {
	return c.Position.IsZero() && c.Hash == 0
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("%d.%d#%x", c.Position.T, c.Position.I, uint64(c.Hash))
}

// ChainHash returns the hash of op chained to the hash of its predecessor
func ChainHash(prev int64, op *Operation) int64 {
	d := xxhash.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(prev))
	d.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], op.Position.T)
	binary.BigEndian.PutUint32(buf[4:], op.Position.I)
	d.Write(buf[:])
	d.Write([]byte{byte(op.Kind)})
	d.WriteString(op.Namespace.Database)
	d.Write([]byte{0})
	d.WriteString(op.Namespace.Collection)
	d.Write([]byte{0})
	if op.Filter != nil {
		d.Write(op.Filter.Bytes())
	}
	d.Write([]byte{0})
	if op.Document != nil {
		d.Write(op.Document.Bytes())
	}
	if op.Upsert {
		d.Write([]byte{1})
	} else {
		d.Write([]byte{0})
	}
	return int64(d.Sum64())
}

// Chain sets the chain hash of op from prev and returns the checkpoint reached by op
func Chain(prev Checkpoint, op *Operation) Checkpoint {
	op.Hash = ChainHash(prev.Hash, op)
	return op.Checkpoint()
}
