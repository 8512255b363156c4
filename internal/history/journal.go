package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/evanofslack/cloudflare-ddns/internal/metrics"
)

const publishPrefix = "publish:"

// Entry records one address change accepted by the DNS provider.
type Entry struct {
	Time     time.Time `json:"time"`
	Record   string    `json:"record"`
	Previous string    `json:"previous"`
	Address  string    `json:"address"`
}

// Journal is an append-only audit trail of publications. It is never read back
// to seed reconciliation; the provider stays the source of truth.
type Journal interface {
	Append(ctx context.Context, entry Entry) error
	Entries(ctx context.Context) ([]Entry, error)
	Close() error
}

type badgerJournal struct {
	db      *badger.DB
	metrics *metrics.Metrics
}

func Open(path string, metrics *metrics.Metrics) (Journal, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &badgerJournal{db: db, metrics: metrics}, nil
}

func entryKey(t time.Time) []byte {
	// zero padded so lexical key order is chronological
	return []byte(fmt.Sprintf("%s%020d", publishPrefix, t.UnixNano()))
}

func (j *badgerJournal) Append(ctx context.Context, entry Entry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		j.metrics.IncHistoryRequest("append", false)
		return fmt.Errorf("marshal entry: %w", err)
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.Time), data)
	})
	j.metrics.IncHistoryRequest("append", err == nil)
	return err
}

func (j *badgerJournal) Entries(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(publishPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var entry Entry
				if err := json.Unmarshal(val, &entry); err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	j.metrics.IncHistoryRequest("list", err == nil)
	return entries, err
}

func (j *badgerJournal) Close() error {
	return j.db.Close()
}
