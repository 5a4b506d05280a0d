package pubsub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/timshannon/badgerhold/v4"

	"github.com/bytabit/escrowd/internal/core/ports"
)

// ErrSubscriptionNotFound ...
var ErrSubscriptionNotFound = errors.New("webhook not found")

type store struct {
	db *badgerhold.Store
}

// newStore opens the subscriptions db in datadir, or in memory if datadir
// is empty.
func newStore(datadir string, logger badger.Logger) (*store, error) {
	isInMemory := len(datadir) <= 0

	opts := badger.DefaultOptions(datadir)
	opts.Logger = logger
	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          jsonEncode,
		Decoder:          jsonDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, fmt.Errorf("opening pubsub db: %w", err)
	}
	return &store{db}, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

// add returns false if a subscription with the same id already exists.
func (s *store) add(sub Subscription) (bool, error) {
	if err := s.db.Insert(sub.ID, sub); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *store) remove(id string) error {
	if err := s.db.Delete(id, Subscription{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return ErrSubscriptionNotFound
		}
		return err
	}
	return nil
}

// listForTopic returns the subscriptions for topic sorted by id, or all of
// them for the unspecified topic.
func (s *store) listForTopic(topic string) (subscriptions, error) {
	query := &badgerhold.Query{}
	if topic != ports.UnspecifiedTopic {
		query = badgerhold.Where("Event").Eq(topic).Index("Event")
	}

	var subs subscriptions
	if err := s.db.Find(&subs, query.SortBy("ID")); err != nil {
		return nil, err
	}
	return subs, nil
}

func jsonEncode(value interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func jsonDecode(data []byte, value interface{}) error {
	return json.NewDecoder(bytes.NewReader(data)).Decode(value)
}
