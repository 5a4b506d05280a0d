package application

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// BlockchainListener defines the methods to start and stop keeping the
// wallet and the badges in sync with the blockchain.
type BlockchainListener interface {
	ObserveBlockchain()
	StopObserveBlockchain()
}

type blockchainListener struct {
	wallet   EscrowWalletManager
	badgeSvc BadgeService
	interval time.Duration

	quit chan struct{}
	wg   *sync.WaitGroup
	// Loggers
	syncErrLogged bool
}

// NewBlockchainListener returns a BlockchainListener syncing every interval.
// badgeSvc is optional.
func NewBlockchainListener(
	wallet EscrowWalletManager,
	badgeSvc BadgeService,
	interval time.Duration,
) BlockchainListener {
	return newBlockchainListener(wallet, badgeSvc, interval)
}

func newBlockchainListener(
	wallet EscrowWalletManager,
	badgeSvc BadgeService,
	interval time.Duration,
) *blockchainListener {
	return &blockchainListener{
		wallet:   wallet,
		badgeSvc: badgeSvc,
		interval: interval,
		quit:     make(chan struct{}),
		wg:       &sync.WaitGroup{},
	}
}

func (b *blockchainListener) ObserveBlockchain() {
	b.wg.Add(1)
	go b.listen()
}

func (b *blockchainListener) StopObserveBlockchain() {
	close(b.quit)
	b.wg.Wait()
}

func (b *blockchainListener) listen() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		b.sync()

		select {
		case <-b.quit:
			return
		case <-ticker.C:
		}
	}
}

func (b *blockchainListener) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), b.interval)
	defer cancel()

	if err := b.wallet.SyncUnspents(ctx); err != nil {
		// log once until the next successful sync.
		if !b.syncErrLogged {
			log.Warnf("trying to sync wallet unspents: %s", err)
			b.syncErrLogged = true
		}
		return
	}
	b.syncErrLogged = false

	if b.badgeSvc == nil {
		return
	}
	if _, err := b.badgeSvc.ConfirmBadges(ctx); err != nil {
		log.Warnf("trying to confirm pending badges: %s", err)
	}
}
