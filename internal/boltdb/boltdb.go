// Package boltdb stores request history in a bbolt file.
package boltdb

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/Fortunato28/ninegag2telegram/internal/session"
)

var Buckets = struct {
	Metadata []byte
	Requests []byte
}{
	Metadata: []byte("__metadata__"),
	Requests: []byte("requests"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

type Database interface {
	Close() error

	session.Database
}

type database struct {
	*bbolt.DB
}

func New(path string) (_ Database, err error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) (err error) {
		var metadata *bbolt.Bucket
		if metadata, err = tx.CreateBucketIfNotExists(Buckets.Metadata); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(Buckets.Requests); err != nil {
			return err
		}

		var version int
		if versionBytes := metadata.Get(MetadataKeys.Version); versionBytes == nil {
			version = 0
		} else if err = json.Unmarshal(versionBytes, &version); err != nil {
			return err
		}
		if version > currentVersion {
			return fmt.Errorf("history database version %d is newer than supported version %d", version, currentVersion)
		}

		if versionBytes, err := json.Marshal(currentVersion); err != nil {
			return err
		} else if err = metadata.Put(MetadataKeys.Version, versionBytes); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &database{db}, nil
}

// ListRequests returns records in the order they were written.
func (d database) ListRequests() (requests []session.RequestRecord, err error) {
	err = d.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(Buckets.Requests)
		return bucket.ForEach(func(k, v []byte) error {
			var record session.RequestRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("decode request %s: %w", k, err)
			}
			requests = append(requests, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// WriteRequest appends a record. Keys come from the bucket sequence so iteration order is write order.
func (d database) WriteRequest(record *session.RequestRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return d.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(Buckets.Requests)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(seq), data)
	})
}

func sequenceKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
