package master

import (
	"context"
	"encoding/json"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"
	"go.uber.org/atomic"

	"github.com/pyropy/gfs/core/model"
)

type OpType string

const (
	OpCreateFile  OpType = "create-file"
	OpDeleteFile  OpType = "delete-file"
	OpCreateChunk OpType = "create-chunk"
	OpRemoveChunk OpType = "remove-chunk"
	OpSetChunk    OpType = "set-chunk"
)

// OpRecord is one metadata mutation.
type OpRecord struct {
	Seq        uint64
	Type       OpType
	Filename   string                   `json:",omitempty"`
	ChunkIndex uint32                   `json:",omitempty"`
	Chunk      *model.FileChunkMetadata `json:",omitempty"`
	Handles    []string                 `json:",omitempty"`
}

const opLogPrefix = "/oplog"

// OpLog is an append-only log of metadata mutations kept in a datastore.
// A nil *OpLog is valid and records nothing.
type OpLog struct {
	store ds.Datastore
	seq   atomic.Uint64
}

func NewOpLog(store ds.Datastore) *OpLog {
	return &OpLog{store: store}
}

// OpenOpLog opens a leveldb backed log at path.
func OpenOpLog(path string) (*OpLog, error) {
	store, err := dslvl.NewDatastore(path, nil)
	if err != nil {
		return nil, err
	}

	return NewOpLog(store), nil
}

func opKey(seq uint64) ds.Key {
	return ds.NewKey(fmt.Sprintf("%s/%020d", opLogPrefix, seq))
}

func (l *OpLog) Append(ctx context.Context, rec OpRecord) error {
	if l == nil {
		return nil
	}

	rec.Seq = l.seq.Inc()
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return l.store.Put(ctx, opKey(rec.Seq), b)
}

// Replay calls apply for every record in append order and positions the log
// after the last one.
func (l *OpLog) Replay(ctx context.Context, apply func(OpRecord) error) error {
	if l == nil {
		return nil
	}

	q := dsq.Query{
		Prefix: opLogPrefix,
		Orders: []dsq.Order{dsq.OrderByKey{}},
	}

	res, err := l.store.Query(ctx, q)
	if err != nil {
		return err
	}
	defer res.Close()

	var last uint64
	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}

		if r.Error != nil {
			return r.Error
		}

		var rec OpRecord
		err = json.Unmarshal(r.Value, &rec)
		if err != nil {
			return fmt.Errorf("decode %s: %w", r.Key, err)
		}

		err = apply(rec)
		if err != nil {
			return err
		}

		if rec.Seq > last {
			last = rec.Seq
		}
	}

	l.seq.Store(last)
	return nil
}

func (l *OpLog) Close() error {
	if l == nil {
		return nil
	}

	return l.store.Close()
}
