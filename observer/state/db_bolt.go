package state

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/v2/codec"
	"go.etcd.io/bbolt"

	"github.com/lionheart1022/betwatch/observer/structs"
)

/*
state.db layout:

streams/
|--> <handle>/<gametype> -> streamEntry{Stream}
meta/
|--> version -> '1'
*/

var (
	streamsBucketName = []byte("streams")
	metaBucketName    = []byte("meta")
	metaVersionKey    = []byte("version")
	metaVersion       = []byte{'1'}

	msgpackHandle = &codec.MsgpackHandle{}
)

// streamEntry wraps values in the streams bucket so fields can be added
// later without rewriting every key.
type streamEntry struct {
	Stream *structs.Stream
}

// BoltPersister writes the stream table through to a bolt database under the
// node's data_dir. All methods are safe for concurrent access.
type BoltPersister struct {
	db     *bbolt.DB
	logger hclog.Logger
}

// NewBoltPersister creates or opens state.db in dataDir.
func NewBoltPersister(logger hclog.Logger, dataDir string) (*BoltPersister, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	fn := filepath.Join(dataDir, "state.db")

	// Timeout to force failure when the data dir is already in use.
	opts := &bbolt.Options{Timeout: 5 * time.Second}

	db, err := bbolt.Open(fn, 0o600, opts)
	if err == bbolt.ErrTimeout {
		return nil, fmt.Errorf("timed out opening %s, is another observer using this data_dir?", fn)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	p := &BoltPersister{
		db:     db,
		logger: logger.Named("bolt"),
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(streamsBucketName); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucketName)
		if err != nil {
			return err
		}
		existing := meta.Get(metaVersionKey)
		if existing != nil && !bytes.Equal(existing, metaVersion) {
			return fmt.Errorf("unsupported state database version %q", existing)
		}
		return meta.Put(metaVersionKey, metaVersion)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return p, nil
}

func (p *BoltPersister) PutStream(stream *structs.Stream) error {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(&streamEntry{Stream: stream}); err != nil {
		return fmt.Errorf("failed to encode stream: %w", err)
	}

	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(streamsBucketName).Put(streamKeyBytes(stream.Key()), buf.Bytes())
	})
}

func (p *BoltPersister) DeleteStream(key structs.StreamKey) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(streamsBucketName).Delete(streamKeyBytes(key))
	})
}

// Streams decodes every persisted row. A row that fails to decode is logged
// and skipped; a single corrupt entry must not keep the node down.
func (p *BoltPersister) Streams() ([]*structs.Stream, error) {
	var out []*structs.Stream
	err := p.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(streamsBucketName).ForEach(func(k, v []byte) error {
			var entry streamEntry
			dec := codec.NewDecoder(bytes.NewReader(v), msgpackHandle)
			if err := dec.Decode(&entry); err != nil {
				p.logger.Error("failed to decode persisted stream, skipping", "key", string(k), "error", err)
				return nil
			}
			out = append(out, entry.Stream)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *BoltPersister) Close() error {
	return p.db.Close()
}

func streamKeyBytes(key structs.StreamKey) []byte {
	return []byte(key.String())
}
