package application

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/pkg/crypto"
)

// BadgeService manages the badges of the local profile and verifies the
// ones of peers. A badge is active once its fee transaction, paid to the
// badge fee address, reached the minimum number of confirmations.
type BadgeService interface {
	RequestBadge(
		ctx context.Context, badgeType domain.BadgeType,
		currency *domain.CurrencyCode, paymentMethod *domain.PaymentMethod,
		detailsHash string,
	) (*domain.BadgeRecord, error)
	// ConfirmBadges updates the confirmation depth of the pending badges
	// and returns how many got confirmed.
	ConfirmBadges(ctx context.Context) (int, error)
	// GetBadges returns the badges of profilePubKey. Badges of peers are
	// fetched from the relay and verified against the blockchain.
	GetBadges(ctx context.Context, profilePubKey string) ([]domain.BadgeRecord, error)
	DeleteBadge(ctx context.Context, badgeID string) error
}

type badgeService struct {
	badgeRepository  domain.BadgeRepository
	keystore         ports.Keystore
	wallet           EscrowWalletManager
	blockchain       ports.BlockchainService
	relay            ports.RelayService
	feeAddress       string
	minConfirmations int
	now              func() time.Time
}

// NewBadgeService ...
func NewBadgeService(
	repoManager ports.RepoManager,
	keystore ports.Keystore,
	wallet EscrowWalletManager,
	blockchain ports.BlockchainService,
	relay ports.RelayService,
	feeAddress string,
	minConfirmations int,
	now func() time.Time,
) (BadgeService, error) {
	if len(feeAddress) <= 0 {
		return nil, fmt.Errorf("missing badge fee address")
	}
	if minConfirmations <= 0 {
		minConfirmations = 1
	}
	if now == nil {
		now = time.Now
	}
	return &badgeService{
		badgeRepository:  repoManager.BadgeRepository(),
		keystore:         keystore,
		wallet:           wallet,
		blockchain:       blockchain,
		relay:            relay,
		feeAddress:       feeAddress,
		minConfirmations: minConfirmations,
		now:              now,
	}, nil
}

func (s *badgeService) RequestBadge(
	ctx context.Context, badgeType domain.BadgeType,
	currency *domain.CurrencyCode, paymentMethod *domain.PaymentMethod,
	detailsHash string,
) (*domain.BadgeRecord, error) {
	key := s.keystore.ProfileKey()
	badge, err := domain.NewBadge(
		crypto.PubKeyHex(key.PubKey()), badgeType, s.now(), currency,
		paymentMethod, detailsHash,
	)
	if err != nil {
		return nil, err
	}

	tx, err := s.wallet.SendToAddress(ctx, s.feeAddress, badgeType.FeeSats())
	if err != nil {
		return nil, err
	}
	request, err := domain.NewBadgeRequest(*badge, tx.TxID, key)
	if err != nil {
		if err := s.wallet.ReleaseReservation(ctx, tx.Owner); err != nil {
			log.WithError(err).Warn("failed to release badge fee unspents")
		}
		return nil, err
	}
	if _, err := s.wallet.Broadcast(ctx, *tx); err != nil {
		return nil, err
	}

	record := domain.BadgeRecord{
		Request: *request,
		Status:  domain.BadgeStatusPending,
	}
	if err := s.badgeRepository.AddBadge(ctx, record); err != nil {
		return nil, err
	}
	if err := s.relay.PostBadge(ctx, *request); err != nil {
		log.WithError(err).Warnf("failed to publish badge %s", record.ID())
	}

	log.Infof("requested %s badge %s, fee tx %s", badgeType, record.ID(), tx.TxID)
	return &record, nil
}

func (s *badgeService) ConfirmBadges(ctx context.Context) (int, error) {
	pending, err := s.badgeRepository.GetPendingBadges(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) <= 0 {
		return 0, nil
	}

	depths, err := s.feeTxDepths(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, b := range pending {
		fee, ok := depths[b.Request.TransactionID]
		if !ok {
			continue
		}
		confirmed := false
		if err := s.badgeRepository.UpdateBadge(
			ctx, b.ID(),
			func(r *domain.BadgeRecord) (*domain.BadgeRecord, error) {
				confirmed = r.Confirm(fee.depth, s.minConfirmations)
				return r, nil
			},
		); err != nil {
			return count, err
		}
		if confirmed {
			count++
			log.Infof("badge %s confirmed", b.ID())
		}
	}
	return count, nil
}

func (s *badgeService) GetBadges(
	ctx context.Context, profilePubKey string,
) ([]domain.BadgeRecord, error) {
	if profilePubKey == crypto.PubKeyHex(s.keystore.ProfileKey().PubKey()) {
		return s.badgeRepository.GetBadgesForProfile(ctx, profilePubKey)
	}

	requests, err := s.relay.GetBadges(ctx, profilePubKey)
	if err != nil {
		return nil, err
	}
	depths, err := s.feeTxDepths(ctx)
	if err != nil {
		return nil, err
	}

	badges := make([]domain.BadgeRecord, 0, len(requests))
	for _, r := range requests {
		if r.Badge.ProfilePubKey != profilePubKey {
			continue
		}
		if err := r.Verify(); err != nil {
			log.WithError(err).Debugf("dropping invalid badge %s", r.Badge.ID)
			continue
		}
		fee, ok := depths[r.TransactionID]
		if !ok || fee.amount < r.BtcAmount {
			log.Debugf("dropping badge %s without fee payment", r.Badge.ID)
			continue
		}
		record := domain.BadgeRecord{Request: r, Status: domain.BadgeStatusPending}
		record.Confirm(fee.depth, s.minConfirmations)
		badges = append(badges, record)
	}
	return badges, nil
}

func (s *badgeService) DeleteBadge(ctx context.Context, badgeID string) error {
	return s.badgeRepository.DeleteBadge(ctx, badgeID)
}

type feeTx struct {
	depth  int
	amount int64
}

// feeTxDepths returns the confirmation depth and received amount of the
// transactions paying the badge fee address, by txid.
func (s *badgeService) feeTxDepths(ctx context.Context) (map[string]feeTx, error) {
	txs, err := s.blockchain.GetAddressTransactions(ctx, s.feeAddress)
	if err != nil {
		return nil, err
	}
	tip, err := s.blockchain.GetTipHeight(ctx)
	if err != nil {
		return nil, err
	}
	res := make(map[string]feeTx, len(txs))
	for _, tx := range txs {
		depth := 0
		if tx.Confirmed && tx.BlockHeight > 0 {
			depth = tip - tx.BlockHeight + 1
		}
		res[tx.TxID] = feeTx{depth, tx.NetAmount}
	}
	return res, nil
}
