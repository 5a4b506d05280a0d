package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/config"
	"github.com/bytabit/escrowd/internal/core/application"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/internal/infrastructure/blockchain/esplora"
	"github.com/bytabit/escrowd/internal/infrastructure/keystore"
	"github.com/bytabit/escrowd/internal/infrastructure/pricefeed/kraken"
	"github.com/bytabit/escrowd/internal/infrastructure/pubsub"
	"github.com/bytabit/escrowd/internal/infrastructure/relay"
	postgresdb "github.com/bytabit/escrowd/internal/infrastructure/storage/db/pg"
	httpinterface "github.com/bytabit/escrowd/internal/interfaces/http"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	datadir := config.GetDatadir()
	network := config.GetNetwork()

	ks, err := keystore.New(keystore.Opts{
		Datadir:    filepath.Join(datadir, config.KeystoreLocation),
		Passphrase: config.GetString(config.KeystorePassphraseKey),
		Network:    network,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to open keystore")
	}

	blockchainSvc, err := esplora.NewService(esplora.Opts{
		APIURL:            config.GetString(config.EsploraURLKey),
		Network:           network,
		RequestsPerSecond: config.GetInt(config.ExplorerRequestsPerSecondKey),
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to blockchain explorer")
	}
	pollInterval := config.GetDuration(config.ExplorerPollIntervalKey)
	addressWatcher := esplora.NewWatcher(blockchainSvc, pollInterval)

	relaySvc, err := relay.NewClient(relay.Opts{
		URL:        config.GetString(config.RelayURLKey),
		ProfileKey: ks.ProfileKey(),
		TokenTTL:   config.GetDuration(config.AuthTokenTTLKey),
	})
	if err != nil {
		log.WithError(err).Fatal("failed to init relay client")
	}

	var securePubSub ports.SecurePubSub
	if !config.GetBool(config.NoWebhooksKey) {
		securePubSub, err = pubsub.NewService(
			filepath.Join(datadir, config.PubSubLocation), log.New(),
			config.GetDuration(config.WebhookTimeoutKey),
		)
		if err != nil {
			log.WithError(err).Fatal("failed to init webhook pubsub")
		}
	}

	var priceFeeder ports.PriceFeeder
	if priceFeedURL := config.GetString(config.PriceFeedURLKey); len(priceFeedURL) > 0 {
		priceFeeder, err = kraken.NewPriceFeeder(kraken.Opts{URL: priceFeedURL})
		if err != nil {
			log.WithError(err).Fatal("failed to init price feed")
		}
	}

	appConfig := &application.Config{
		DBType:            config.GetString(config.DBTypeKey),
		DBConfig:          dbConfig(),
		Keystore:          ks,
		BlockchainSvc:     blockchainSvc,
		AddressWatcher:    addressWatcher,
		RelaySvc:          relaySvc,
		SecurePubSub:      securePubSub,
		ArbitratorPubKey:  config.GetString(config.ArbitratorPubKeyKey),
		BadgeFeeAddress:   config.GetString(config.BadgeFeeAddressKey),
		FeeRate:           config.GetInt64(config.FeeRateKey),
		PayoutFee:         config.GetInt64(config.PayoutFeeKey),
		MinConfirmations:  config.GetInt(config.MinConfirmationsKey),
		TradeTimeout:      config.GetDuration(config.TradeTimeoutKey),
		RelayPollInterval: config.GetDuration(config.RelayPollIntervalKey),
		SyncInterval:      pollInterval,
		NumWorkers:        config.GetInt(config.NumWorkersKey),
	}
	if err := appConfig.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	pubsubSvc := appConfig.PubSubService()
	httpSvc, err := httpinterface.NewService(httpinterface.ServiceOpts{
		Address:       fmt.Sprintf(":%d", config.GetInt(config.HTTPListeningPortKey)),
		BaseURL:       config.GetString(config.HTTPBaseURLKey),
		AuthPubKeys:   config.GetAuthPubKeys(),
		EnableMetrics: config.GetBool(config.EnableMetricsKey),
		TradeSvc:      appConfig.TradeService(),
		OfferSvc:      appConfig.OfferService(),
		WalletSvc:     appConfig.WalletService(),
		BadgeSvc:      appConfig.BadgeService(),
		PubSubSvc:     pubsubSvc,
		PriceFeeder:   priceFeeder,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to init http interface")
	}

	relayListener := appConfig.RelayListener()
	blockchainListener := appConfig.BlockchainListener()

	defer appConfig.RepoManager().Close()
	defer appConfig.Dispatcher().Stop()
	if securePubSub != nil {
		defer func() {
			if err := securePubSub.Store().Close(); err != nil {
				log.WithError(err).Warn("failed to close webhook store")
			}
		}()
	}

	if pubsubSvc != nil {
		pubsubSvc.Start()
		defer pubsubSvc.Stop()
	}
	blockchainListener.ObserveBlockchain()
	defer blockchainListener.StopObserveBlockchain()
	relayListener.ObserveRelay()
	defer relayListener.StopObserveRelay()

	if priceFeeder != nil {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := priceFeeder.Start(ctx); err != nil {
				log.WithError(err).Warn("price feed unavailable")
			}
		}()
	}

	if err := httpSvc.Start(); err != nil {
		log.WithError(err).Fatal("failed to start http interface")
	}
	defer httpSvc.Stop()

	log.Infof(
		"escrowd started on %s with profile %s",
		network.Name, profilePubKey(ks),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down daemon")
}

func dbConfig() interface{} {
	switch config.GetString(config.DBTypeKey) {
	case application.DBPostgres:
		return postgresdb.DbConfig{
			DataSourceURL: config.GetString(config.PgConnectAddrKey),
		}
	case application.DBBadger:
		return filepath.Join(config.GetDatadir(), config.DbLocation)
	default:
		return nil
	}
}

func profilePubKey(ks ports.Keystore) string {
	return fmt.Sprintf("%x", ks.ProfileKey().PubKey().SerializeCompressed())
}
