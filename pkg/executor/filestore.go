/*
 * Copyright (c) 2021. Ant Financial. All rights reserved.
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package executor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/hitrace/tracecore/pkg/container"
)

const databaseFileName = "tracecore.db"

var (
	rootBucket = []byte("v1")

	// One bucket per trace kind, keyed by FileInfo.Path, so the Executor's
	// output-file lists survive a controller restart (spec §6.3).
	bucketFor = map[container.Kind][]byte{
		container.KindSnapshot:  []byte("snapshot_files"),
		container.KindRecording: []byte("recording_files"),
		container.KindCache:     []byte("cache_files"),
	}
)

// FileInfo is the persisted record of one output file.
type FileInfo struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// FileStore persists each trace kind's output-file list across restarts.
type FileStore struct {
	db *bolt.DB
}

// NewFileStore opens (creating if absent) the database file under rootDir.
func NewFileStore(rootDir string) (*FileStore, error) {
	if err := os.MkdirAll(rootDir, 0700); err != nil {
		return nil, errors.Wrap(err, "create tracecore root dir")
	}

	db, err := bolt.Open(filepath.Join(rootDir, databaseFileName), 0600, &bolt.Options{Timeout: 4 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open file store database")
	}

	s := &FileStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileStore) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(rootBucket)
		if err != nil {
			return err
		}
		for _, name := range bucketFor {
			if _, err := root.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "bucket %s", name)
			}
		}
		return nil
	})
}

// Close releases the underlying database file.
func (s *FileStore) Close() error {
	return s.db.Close()
}

// Put records or updates fi in kind's bucket.
func (s *FileStore) Put(kind container.Kind, fi FileInfo) error {
	value, err := json.Marshal(fi)
	if err != nil {
		return errors.Wrap(err, "marshal file info")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootBucket).Bucket(bucketFor[kind])
		return b.Put([]byte(fi.Path), value)
	})
}

// Delete removes path from kind's bucket.
func (s *FileStore) Delete(kind container.Kind, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootBucket).Bucket(bucketFor[kind])
		return b.Delete([]byte(path))
	})
}

// List returns every persisted FileInfo for kind.
func (s *FileStore) List(kind container.Kind) ([]FileInfo, error) {
	var out []FileInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootBucket).Bucket(bucketFor[kind])
		return b.ForEach(func(_, v []byte) error {
			var fi FileInfo
			if err := json.Unmarshal(v, &fi); err != nil {
				return errors.Wrap(err, "unmarshal file info")
			}
			out = append(out, fi)
			return nil
		})
	})
	return out, err
}
