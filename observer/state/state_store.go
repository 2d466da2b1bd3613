// Package state implements the node's stream table: a memdb working set with
// uniqueness enforced transactionally, optionally written through to a bolt
// database so streams survive process restarts.
package state

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-memdb"

	"github.com/lionheart1022/betwatch/observer/structs"
)

// Persister is the durable side of the store. The bolt implementation
// survives restarts; dev mode plugs in a no-op.
type Persister interface {
	// PutStream makes the row durable. Called after the memdb txn has
	// validated uniqueness and before it commits.
	PutStream(*structs.Stream) error

	// DeleteStream removes the row from durable storage.
	DeleteStream(structs.StreamKey) error

	// Streams returns every persisted row, for startup loading.
	Streams() ([]*structs.Stream, error)

	// Close releases the underlying storage.
	Close() error
}

// noopPersister backs dev mode and most tests.
type noopPersister struct{}

func (noopPersister) PutStream(*structs.Stream) error      { return nil }
func (noopPersister) DeleteStream(structs.StreamKey) error { return nil }
func (noopPersister) Streams() ([]*structs.Stream, error)  { return nil, nil }
func (noopPersister) Close() error                         { return nil }

// NewNoopPersister returns a Persister that keeps nothing.
func NewNoopPersister() Persister { return noopPersister{} }

// StateStore is the single source of truth for the streams this node has
// accepted. All reads return copies; stored objects are never handed out for
// mutation.
type StateStore struct {
	logger  hclog.Logger
	db      *memdb.MemDB
	persist Persister
}

// NewStateStore builds the store and loads every persisted row into the
// working set.
func NewStateStore(logger hclog.Logger, persist Persister) (*StateStore, error) {
	db, err := memdb.NewMemDB(stateStoreSchema())
	if err != nil {
		return nil, fmt.Errorf("state store setup failed: %w", err)
	}
	if persist == nil {
		persist = noopPersister{}
	}

	s := &StateStore{
		logger:  logger.Named("state"),
		db:      db,
		persist: persist,
	}

	rows, err := persist.Streams()
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted streams: %w", err)
	}
	if len(rows) > 0 {
		txn := db.Txn(true)
		defer txn.Abort()
		for _, stream := range rows {
			if err := txn.Insert(TableStreams, stream.Copy()); err != nil {
				return nil, fmt.Errorf("failed to load stream %s: %w", stream.Key(), err)
			}
		}
		txn.Commit()
		s.logger.Info("loaded persisted streams", "count", len(rows))
	}

	return s, nil
}

// UpsertStream inserts or replaces a row. For an insert, every game id the
// stream references (primary and supplementary) must be unused by any other
// row; the check runs inside the write txn so concurrent duplicate PUTs
// serialize and the loser observes structs.ErrGameExists.
func (s *StateStore) UpsertStream(stream *structs.Stream) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := streamByKeyTxn(txn, stream.Key())
	if err != nil {
		return err
	}

	for _, id := range stream.GameIDs() {
		owner, err := streamByGameIDTxn(txn, id)
		if err != nil {
			return err
		}
		if owner != nil && owner.Key() != stream.Key() {
			return fmt.Errorf("game %d: %w", id, structs.ErrGameExists)
		}
		if existing == nil && owner != nil {
			return fmt.Errorf("game %d: %w", id, structs.ErrGameExists)
		}
	}

	if err := s.persist.PutStream(stream); err != nil {
		return fmt.Errorf("failed to persist stream %s: %w", stream.Key(), err)
	}
	if err := txn.Insert(TableStreams, stream.Copy()); err != nil {
		return fmt.Errorf("stream insert failed: %w", err)
	}

	txn.Commit()
	return nil
}

// StreamByKey returns a copy of the row for (handle, gametype), or nil.
func (s *StateStore) StreamByKey(key structs.StreamKey) (*structs.Stream, error) {
	txn := s.db.Txn(false)
	stream, err := streamByKeyTxn(txn, key)
	if err != nil {
		return nil, err
	}
	return stream.Copy(), nil
}

// StreamByGameID returns a copy of the row whose primary or supplementary
// set contains id, or nil.
func (s *StateStore) StreamByGameID(id int64) (*structs.Stream, error) {
	txn := s.db.Txn(false)
	stream, err := streamByGameIDTxn(txn, id)
	if err != nil {
		return nil, err
	}
	return stream.Copy(), nil
}

// Streams returns copies of every row.
func (s *StateStore) Streams() ([]*structs.Stream, error) {
	txn := s.db.Txn(false)
	iter, err := txn.Get(TableStreams, "id")
	if err != nil {
		return nil, fmt.Errorf("stream lookup failed: %w", err)
	}

	var out []*structs.Stream
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Stream).Copy())
	}
	return out, nil
}

// DeleteStream removes the row. Missing rows return
// structs.ErrStreamNotFound.
func (s *StateStore) DeleteStream(key structs.StreamKey) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := streamByKeyTxn(txn, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return structs.ErrStreamNotFound
	}

	if err := s.persist.DeleteStream(key); err != nil {
		return fmt.Errorf("failed to delete persisted stream %s: %w", key, err)
	}
	if err := txn.Delete(TableStreams, existing); err != nil {
		return fmt.Errorf("stream delete failed: %w", err)
	}

	txn.Commit()
	return nil
}

// SetStreamState updates the state field of an existing row.
func (s *StateStore) SetStreamState(key structs.StreamKey, state string) error {
	return s.updateStream(key, func(stream *structs.Stream) {
		stream.State = state
	})
}

// SetStreamChild records (or clears) the delegation pointer.
func (s *StateStore) SetStreamChild(key structs.StreamKey, child string) error {
	return s.updateStream(key, func(stream *structs.Stream) {
		stream.Child = child
	})
}

// AppendSupplementary attaches a signed supplementary game id to an existing
// row. The id (by absolute value) must be unused on this node.
func (s *StateStore) AppendSupplementary(key structs.StreamKey, signedID int64) error {
	id := signedID
	if id < 0 {
		id = -id
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := streamByKeyTxn(txn, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return structs.ErrStreamNotFound
	}

	owner, err := streamByGameIDTxn(txn, id)
	if err != nil {
		return err
	}
	if owner != nil {
		return fmt.Errorf("game %d: %w", id, structs.ErrGameExists)
	}

	updated := existing.Copy()
	updated.SupplementaryGames = append(updated.SupplementaryGames, signedID)

	if err := s.persist.PutStream(updated); err != nil {
		return fmt.Errorf("failed to persist stream %s: %w", key, err)
	}
	if err := txn.Insert(TableStreams, updated); err != nil {
		return fmt.Errorf("stream update failed: %w", err)
	}

	txn.Commit()
	return nil
}

// Close flushes and closes the persister.
func (s *StateStore) Close() error {
	return s.persist.Close()
}

// updateStream applies fn to a copy of the row and swaps it in.
func (s *StateStore) updateStream(key structs.StreamKey, fn func(*structs.Stream)) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := streamByKeyTxn(txn, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return structs.ErrStreamNotFound
	}

	updated := existing.Copy()
	fn(updated)

	if err := s.persist.PutStream(updated); err != nil {
		return fmt.Errorf("failed to persist stream %s: %w", key, err)
	}
	if err := txn.Insert(TableStreams, updated); err != nil {
		return fmt.Errorf("stream update failed: %w", err)
	}

	txn.Commit()
	return nil
}

func streamByKeyTxn(txn *memdb.Txn, key structs.StreamKey) (*structs.Stream, error) {
	raw, err := txn.First(TableStreams, "id", key.Handle, key.Gametype)
	if err != nil {
		return nil, fmt.Errorf("stream lookup failed: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Stream), nil
}

// streamByGameIDTxn finds the row owning id as its primary game via the
// index, falling back to a scan of supplementary sets.
func streamByGameIDTxn(txn *memdb.Txn, id int64) (*structs.Stream, error) {
	raw, err := txn.First(TableStreams, "game_id", id)
	if err != nil {
		return nil, fmt.Errorf("stream lookup failed: %w", err)
	}
	if raw != nil {
		return raw.(*structs.Stream), nil
	}

	iter, err := txn.Get(TableStreams, "id")
	if err != nil {
		return nil, fmt.Errorf("stream lookup failed: %w", err)
	}
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		stream := raw.(*structs.Stream)
		if stream.TracksGame(id) {
			return stream, nil
		}
	}
	return nil, nil
}
