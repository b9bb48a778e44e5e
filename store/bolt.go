package store

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	kvBucket  = []byte("kv")
	logBucket = []byte("log")
)

// BoltDB is a single embedded bbolt file backing both a KV and a Log:
// the antenna map and PDoC map go into the KV, the service log into
// the Log. Per-device threshold sets are not persisted.
type BoltDB struct {
	db *bolt.DB
}

// OpenBolt opens (creating if necessary) a bbolt file at path and
// ensures the buckets this package uses exist.
func OpenBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(kvBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &BoltDB{db: db}, nil
}

// Close releases the underlying file.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// KV returns a KV view backed by this database's kv bucket.
func (b *BoltDB) KV() KV {
	return boltKV{b.db}
}

// Log returns a Log view backed by this database's log bucket.
func (b *BoltDB) Log() Log {
	return boltLog{b.db}
}

type boltKV struct {
	db *bolt.DB
}

func (k boltKV) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := k.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(kvBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	return out, out != nil, err
}

func (k boltKV) Put(key string, value []byte) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), value)
	})
}

func (k boltKV) Delete(key string) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Delete([]byte(key))
	})
}

type boltLog struct {
	db *bolt.DB
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func encodeEntry(e LogEntry) []byte {
	buf := make([]byte, 2+16+8+2+len(e.Message))
	binary.BigEndian.PutUint16(buf[0:], e.Antenna)
	copy(buf[2:18], e.ChipID[:])
	binary.BigEndian.PutUint64(buf[18:26], uint64(e.Timestamp.UnixNano()))
	binary.BigEndian.PutUint16(buf[26:28], uint16(len(e.Message)))
	copy(buf[28:], e.Message)
	return buf
}

func decodeEntry(buf []byte) (LogEntry, error) {
	if len(buf) < 28 {
		return LogEntry{}, fmt.Errorf("store: corrupt log record (%d bytes)", len(buf))
	}
	var e LogEntry
	e.Antenna = binary.BigEndian.Uint16(buf[0:])
	copy(e.ChipID[:], buf[2:18])
	e.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(buf[18:26])))
	msgLen := binary.BigEndian.Uint16(buf[26:28])
	e.Message = string(buf[28 : 28+int(msgLen)])
	return e, nil
}

func (l boltLog) Append(e LogEntry) (uint64, error) {
	var seq uint64
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		next, err := b.NextSequence()
		if err != nil {
			return err
		}
		seq = next - 1
		return b.Put(seqKey(seq), encodeEntry(e))
	})
	return seq, err
}

func (l boltLog) Len() (uint64, error) {
	var n uint64
	err := l.db.View(func(tx *bolt.Tx) error {
		n = uint64(tx.Bucket(logBucket).Stats().KeyN)
		return nil
	})
	return n, err
}

func (l boltLog) At(seq uint64) (LogEntry, error) {
	var out LogEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(logBucket).Get(seqKey(seq))
		if v == nil {
			return fmt.Errorf("store: log sequence %d not found", seq)
		}
		var derr error
		out, derr = decodeEntry(v)
		return derr
	})
	return out, err
}
