/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package bolt is a journal.Storage backed by bbolt.
//
// Each Context gets a bucket.  Keys are the bucket's sequence numbers
// (big-endian), so a cursor walks records in the order they were
// appended.  Values are JSON.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Comcast/opal/journal"
)

type Storage struct {
	Debug    bool
	filename string
	db       *bolt.DB
}

func NewStorage(filename string) (*Storage, error) {
	return &Storage{
		filename: filename,
	}, nil
}

func (s *Storage) Open(ctx context.Context) error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}

	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) logf(format string, args ...interface{}) {
	if s.Debug {
		log.Printf("BoltDB Storage."+format, args...)
	}
}

func (s *Storage) Append(ctx context.Context, rs []*journal.Record) error {
	s.logf("Append %d", len(rs))

	if len(rs) == 0 {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, r := range rs {
			name := journal.ContextName(r.Context, r.Unit)
			b, err := tx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return err
			}
			n, err := b.NextSequence()
			if err != nil {
				return err
			}
			js, err := json.Marshal(r)
			if err != nil {
				return err
			}
			var key [8]byte
			binary.BigEndian.PutUint64(key[:], n)
			if err = b.Put(key[:], js); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) Records(ctx context.Context, cid string) ([]*journal.Record, error) {
	s.logf("Records %s", cid)
	var rs []*journal.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cid))
		if b == nil {
			return journal.NotFound
		}
		rs = make([]*journal.Record, 0, b.Stats().KeyN)
		c := b.Cursor()
		for k, bs := c.First(); k != nil; k, bs = c.Next() {
			var r journal.Record
			if err := json.Unmarshal(bs, &r); err != nil {
				return err
			}
			rs = append(rs, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func (s *Storage) Contexts(ctx context.Context) ([]string, error) {
	var acc []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			acc = append(acc, string(name))
			return nil
		})
	})
	sort.Strings(acc)
	return acc, err
}

func (s *Storage) Rem(ctx context.Context, cid string) error {
	s.logf("Rem %s", cid)
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(cid))
		if err == bolt.ErrBucketNotFound {
			return journal.NotFound
		}
		return err
	})
}
