package application

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/core/ports"
	dbbadger "github.com/bytabit/escrowd/internal/infrastructure/storage/db/badger"
	"github.com/bytabit/escrowd/internal/infrastructure/storage/db/inmemory"
	postgresdb "github.com/bytabit/escrowd/internal/infrastructure/storage/db/pg"
)

const (
	DBBadger   = "badger"
	DBInMemory = "inmemory"
	DBPostgres = "postgres"
)

var (
	SupportedDBType = map[string]struct{}{
		DBBadger:   {},
		DBInMemory: {},
		DBPostgres: {},
	}
)

type Config struct {
	DBType string
	// DBConfig is the datadir for badger and a postgresdb.DbConfig for
	// postgres.
	DBConfig interface{}

	Keystore       ports.Keystore
	BlockchainSvc  ports.BlockchainService
	AddressWatcher ports.AddressWatcher
	RelaySvc       ports.RelayService
	SecurePubSub   ports.SecurePubSub

	ArbitratorPubKey  string
	BadgeFeeAddress   string
	FeeRate           int64
	PayoutFee         int64
	MinConfirmations  int
	TradeTimeout      time.Duration
	RelayPollInterval time.Duration
	SyncInterval      time.Duration
	NumWorkers        int

	repo               ports.RepoManager
	broker             Broker
	dispatcher         Dispatcher
	wallet             EscrowWalletManager
	trade              TradeService
	offer              OfferService
	badge              BadgeService
	pubsub             PubSubService
	relayListener      RelayListener
	blockchainListener BlockchainListener
}

func (c *Config) Validate() error {
	if _, ok := SupportedDBType[c.DBType]; !ok {
		return fmt.Errorf("db type %q not supported", c.DBType)
	}
	if c.Keystore == nil {
		return fmt.Errorf("missing keystore")
	}
	if c.BlockchainSvc == nil {
		return fmt.Errorf("missing blockchain service")
	}
	if c.RelaySvc == nil {
		return fmt.Errorf("missing relay service")
	}
	if c.RelayPollInterval <= 0 || c.SyncInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive durations")
	}
	if _, err := c.repoManager(); err != nil {
		return err
	}
	if _, err := c.walletService(); err != nil {
		return err
	}
	if _, err := c.tradeService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) RepoManager() ports.RepoManager {
	svc, _ := c.repoManager()
	return svc
}

func (c *Config) Broker() Broker {
	if c.broker == nil {
		c.broker = NewBroker()
	}
	return c.broker
}

func (c *Config) Dispatcher() Dispatcher {
	if c.dispatcher == nil {
		c.dispatcher = NewDispatcher(c.NumWorkers)
	}
	return c.dispatcher
}

func (c *Config) WalletService() EscrowWalletManager {
	svc, _ := c.walletService()
	return svc
}

func (c *Config) TradeService() TradeService {
	svc, _ := c.tradeService()
	return svc
}

func (c *Config) OfferService() OfferService {
	svc, _ := c.offerService()
	return svc
}

// BadgeService returns nil if no badge fee address is configured.
func (c *Config) BadgeService() BadgeService {
	svc, _ := c.badgeService()
	return svc
}

// PubSubService returns nil if no pubsub is configured.
func (c *Config) PubSubService() PubSubService {
	if c.pubsub == nil && c.SecurePubSub != nil {
		c.pubsub = NewPubSubService(c.SecurePubSub, c.Broker())
	}
	return c.pubsub
}

func (c *Config) RelayListener() RelayListener {
	if c.relayListener == nil {
		trade, _ := c.tradeService()
		repo, _ := c.repoManager()
		c.relayListener = NewRelayListener(
			trade, repo, c.RelaySvc, c.Dispatcher(), c.RelayPollInterval,
		)
	}
	return c.relayListener
}

func (c *Config) BlockchainListener() BlockchainListener {
	if c.blockchainListener == nil {
		wallet, _ := c.walletService()
		badge, _ := c.badgeService()
		c.blockchainListener = NewBlockchainListener(wallet, badge, c.SyncInterval)
	}
	return c.blockchainListener
}

func (c *Config) repoManager() (ports.RepoManager, error) {
	if c.repo == nil {
		switch c.DBType {
		case DBBadger:
			datadir, _ := c.DBConfig.(string)
			repoManager, err := dbbadger.NewRepoManager(datadir, log.New())
			if err != nil {
				return nil, err
			}
			c.repo = repoManager
		case DBPostgres:
			dbConfig, ok := c.DBConfig.(postgresdb.DbConfig)
			if !ok {
				return nil, fmt.Errorf("invalid postgres db config")
			}
			repoManager, err := postgresdb.NewService(context.Background(), dbConfig)
			if err != nil {
				return nil, err
			}
			c.repo = repoManager
		default:
			c.repo = inmemory.NewRepoManager()
		}
	}
	return c.repo, nil
}

func (c *Config) walletService() (EscrowWalletManager, error) {
	if c.wallet == nil {
		repo, err := c.repoManager()
		if err != nil {
			return nil, err
		}
		wallet, err := NewEscrowWalletManager(
			repo.UnspentRepository(), c.Keystore, c.BlockchainSvc,
			c.AddressWatcher, c.FeeRate,
		)
		if err != nil {
			return nil, err
		}
		c.wallet = wallet
	}
	return c.wallet, nil
}

func (c *Config) tradeService() (TradeService, error) {
	if c.trade == nil {
		repo, err := c.repoManager()
		if err != nil {
			return nil, err
		}
		wallet, err := c.walletService()
		if err != nil {
			return nil, err
		}
		trade, err := NewTradeService(
			repo, c.Keystore, wallet, c.RelaySvc, c.Broker(), c.Dispatcher(),
			TradeServiceOpts{
				ArbitratorPubKey: c.ArbitratorPubKey,
				PayoutFee:        c.PayoutFee,
				TradeTimeout:     c.TradeTimeout,
			},
		)
		if err != nil {
			return nil, err
		}
		c.trade = trade
	}
	return c.trade, nil
}

func (c *Config) offerService() (OfferService, error) {
	if c.offer == nil {
		repo, err := c.repoManager()
		if err != nil {
			return nil, err
		}
		c.offer = NewOfferService(repo, c.Keystore, c.RelaySvc)
	}
	return c.offer, nil
}

func (c *Config) badgeService() (BadgeService, error) {
	if c.badge == nil {
		if len(c.BadgeFeeAddress) <= 0 {
			return nil, nil
		}
		repo, err := c.repoManager()
		if err != nil {
			return nil, err
		}
		wallet, err := c.walletService()
		if err != nil {
			return nil, err
		}
		badge, err := NewBadgeService(
			repo, c.Keystore, wallet, c.BlockchainSvc, c.RelaySvc,
			c.BadgeFeeAddress, c.MinConfirmations, nil,
		)
		if err != nil {
			return nil, err
		}
		c.badge = badge
	}
	return c.badge, nil
}
