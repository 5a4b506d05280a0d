package dbbadger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const maxTxRetries = 10

type repoManager struct {
	store        *badgerhold.Store
	unspentStore *badgerhold.Store

	tradeEventRepository domain.TradeEventRepository
	offerRepository      domain.OfferRepository
	badgeRepository      domain.BadgeRepository
	unspentRepository    domain.UnspentRepository
}

// NewRepoManager opens (or creates if not exists) the badger stores on disk.
// It expects a base data dir and an optional logger. An empty dir makes the
// stores live in memory.
func NewRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	var mainDir, unspentDir string
	if len(baseDbDir) > 0 {
		mainDir = filepath.Join(baseDbDir, "main")
		unspentDir = filepath.Join(baseDbDir, "unspents")
	}

	store, err := createDb(mainDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening main db: %w", err)
	}

	unspentStore, err := createDb(unspentDir, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening unspents db: %w", err)
	}

	return &repoManager{
		store:                store,
		unspentStore:         unspentStore,
		tradeEventRepository: NewTradeEventRepositoryImpl(store),
		offerRepository:      NewOfferRepositoryImpl(store),
		badgeRepository:      NewBadgeRepositoryImpl(store),
		unspentRepository:    NewUnspentRepositoryImpl(unspentStore),
	}, nil
}

func (d *repoManager) TradeEventRepository() domain.TradeEventRepository {
	return d.tradeEventRepository
}

func (d *repoManager) OfferRepository() domain.OfferRepository {
	return d.offerRepository
}

func (d *repoManager) BadgeRepository() domain.BadgeRepository {
	return d.badgeRepository
}

func (d *repoManager) UnspentRepository() domain.UnspentRepository {
	return d.unspentRepository
}

func (d *repoManager) Close() {
	d.store.Close()
	d.unspentStore.Close()
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer

	if err := json.NewEncoder(&buff).Encode(value); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	return json.NewDecoder(bytes.NewReader(data)).Decode(value)
}

func createDb(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		ticker := time.NewTicker(30 * time.Minute)

		go func() {
			for {
				<-ticker.C
				if err := db.Badger().RunValueLogGC(0.5); err != nil &&
					err != badger.ErrNoRewrite {
					log.Error(err)
				}
			}
		}()
	}

	return db, nil
}

// update runs fn in a read-write badger transaction, retrying when it
// conflicts with a concurrent one.
func update(store *badgerhold.Store, fn func(tx *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = store.Badger().Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
	}
	return err
}
