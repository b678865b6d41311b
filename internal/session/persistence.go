package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ctcproto/ctcpd/internal/logger"
)

// BadgerPersistor is the Persistor implementation backed by an embedded
// BadgerDB, so a restarted ctcpd can recover live session groups without
// forcing every client to reconnect with a new SGID. Keying and
// transaction shape follow the teacher's metadata/store/badger CRUD
// package: one key prefix per record kind, txn.Update/View per operation,
// no business logic inside the store itself.
type BadgerPersistor struct {
	db *badger.DB
}

// OpenBadgerPersistor opens (creating if absent) a BadgerDB at dir.
func OpenBadgerPersistor(dir string) (*BadgerPersistor, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("session: open badger store: %w", err)
	}
	return &BadgerPersistor{db: db}, nil
}

// Close releases the underlying BadgerDB handle.
func (p *BadgerPersistor) Close() error {
	return p.db.Close()
}

func keyGroup(sgid uint32) []byte {
	key := make([]byte, 8)
	copy(key, "grp:")
	binary.BigEndian.PutUint32(key[4:], sgid)
	return key
}

func groupKeyPrefix() []byte {
	return []byte("grp:")
}

// SaveGroup persists sgid's full job snapshot list, overwriting whatever
// was stored before.
func (p *BadgerPersistor) SaveGroup(sgid uint32, jobs []Snapshot) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(jobs); err != nil {
		return fmt.Errorf("session: encode group snapshot: %w", err)
	}

	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyGroup(sgid), buf.Bytes())
	})
}

// DeleteGroup removes a persisted group snapshot.
func (p *BadgerPersistor) DeleteGroup(sgid uint32) error {
	return p.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(keyGroup(sgid))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// LoadAll reads every persisted group snapshot, used once at startup by
// Manager.Restore.
func (p *BadgerPersistor) LoadAll(ctx context.Context) (map[uint32][]Snapshot, error) {
	result := make(map[uint32][]Snapshot)

	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = groupKeyPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			key := item.Key()
			if len(key) != 8 {
				continue
			}
			sgid := binary.BigEndian.Uint32(key[4:])

			var jobs []Snapshot
			err := item.Value(func(val []byte) error {
				return gob.NewDecoder(bytes.NewReader(val)).Decode(&jobs)
			})
			if err != nil {
				logger.Warn("session: skipping unreadable group snapshot", "sgid", sgid, "error", err)
				continue
			}
			result[sgid] = jobs
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: load snapshots: %w", err)
	}

	return result, nil
}
