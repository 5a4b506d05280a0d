package application_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bytabit/escrowd/internal/core/application"
	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/internal/infrastructure/storage/db/inmemory"
	"github.com/bytabit/escrowd/pkg/crypto"
	"github.com/bytabit/escrowd/pkg/escrow"
)

const (
	feeRate   = int64(2)
	payoutFee = int64(500)
)

var net = &chaincfg.RegressionNetParams

func newKey(seed byte) *btcec.PrivateKey {
	buf := make([]byte, 32)
	buf[0] = 0x11
	buf[31] = seed
	key, _ := btcec.PrivKeyFromBytes(buf)
	return key
}

func pubHex(key *btcec.PrivateKey) string {
	return crypto.PubKeyHex(key.PubKey())
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// **** Keystore ****

// testKeystore derives escrow keys from the hash of profile key and label
// and wallet keys from a seed byte.
type testKeystore struct {
	profile    *btcec.PrivateKey
	walletSeed byte
}

func newTestKeystore(profileSeed, walletSeed byte) *testKeystore {
	return &testKeystore{newKey(profileSeed), walletSeed}
}

func (k *testKeystore) Network() *chaincfg.Params {
	return net
}

func (k *testKeystore) ProfileKey() *btcec.PrivateKey {
	return k.profile
}

func (k *testKeystore) EscrowKey(label string) (*btcec.PrivateKey, error) {
	buf := append(k.profile.Serialize(), []byte(label)...)
	key, _ := btcec.PrivKeyFromBytes(chainhash.HashB(buf))
	return key, nil
}

func (k *testKeystore) walletKey(i int) *btcec.PrivateKey {
	buf := make([]byte, 32)
	buf[0] = 0x22
	buf[1] = k.walletSeed
	buf[31] = byte(i)
	key, _ := btcec.PrivKeyFromBytes(buf)
	return key
}

func (k *testKeystore) walletAddress(i int) string {
	addr, _ := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(k.walletKey(i).PubKey().SerializeCompressed()), net,
	)
	return addr.EncodeAddress()
}

func (k *testKeystore) WalletAddresses(num int) ([]string, error) {
	addresses := make([]string, 0, num)
	for i := 0; i < num; i++ {
		addresses = append(addresses, k.walletAddress(i))
	}
	return addresses, nil
}

func (k *testKeystore) WalletKey(pkScript []byte) (*btcec.PrivateKey, error) {
	for i := 0; i < 256; i++ {
		key := k.walletKey(i)
		if bytes.Equal(pkScript[2:], btcutil.Hash160(key.PubKey().SerializeCompressed())) {
			return key, nil
		}
	}
	return nil, fmt.Errorf("key not found")
}

func walletUtxo(t *testing.T, k *testKeystore, i int, txid string, value int64) domain.Unspent {
	addr, err := btcutil.DecodeAddress(k.walletAddress(i), net)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return domain.NewUnspent(escrow.Utxo{
		TxID: txid, VOut: 0, Value: value, PkScript: script,
	}, addr.EncodeAddress(), true)
}

// **** Relay ****

// testRelay is an in memory relay shared by the parties of a test.
type testRelay struct {
	lock         sync.Mutex
	offers       map[string]domain.SignedOffer
	requests     map[string][]domain.TradeRequest
	acceptances  map[string][]domain.TradeAcceptance
	events       map[string][]domain.EventEnvelope
	rulings      map[string][]domain.ArbitrationRuling
	badges       map[string][]domain.BadgeRequest
	postEventErr error
}

func newTestRelay() *testRelay {
	return &testRelay{
		offers:      make(map[string]domain.SignedOffer),
		requests:    make(map[string][]domain.TradeRequest),
		acceptances: make(map[string][]domain.TradeAcceptance),
		events:      make(map[string][]domain.EventEnvelope),
		rulings:     make(map[string][]domain.ArbitrationRuling),
		badges:      make(map[string][]domain.BadgeRequest),
	}
}

func (r *testRelay) PublishOffer(_ context.Context, offer domain.SignedOffer) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.offers[offer.ID] = offer
	return nil
}

func (r *testRelay) RemoveOffer(_ context.Context, offerID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.offers, offerID)
	return nil
}

func (r *testRelay) GetOffers(_ context.Context) ([]domain.SignedOffer, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	offers := make([]domain.SignedOffer, 0, len(r.offers))
	for _, o := range r.offers {
		offers = append(offers, o)
	}
	return offers, nil
}

func (r *testRelay) PostTradeRequest(_ context.Context, request domain.TradeRequest) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.requests[request.OfferID] = append(r.requests[request.OfferID], request)
	return nil
}

func (r *testRelay) GetTradeRequests(_ context.Context, offerID string) ([]domain.TradeRequest, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]domain.TradeRequest{}, r.requests[offerID]...), nil
}

func (r *testRelay) PostTradeAcceptance(_ context.Context, acceptance domain.TradeAcceptance) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	id := acceptance.TradeRequestID
	r.acceptances[id] = append(r.acceptances[id], acceptance)
	return nil
}

func (r *testRelay) GetTradeAcceptances(_ context.Context, requestID string) ([]domain.TradeAcceptance, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]domain.TradeAcceptance{}, r.acceptances[requestID]...), nil
}

func (r *testRelay) PostEvent(_ context.Context, event domain.EventEnvelope) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.postEventErr != nil {
		return r.postEventErr
	}
	for _, e := range r.events[event.EscrowAddress] {
		if e.ID == event.ID {
			return nil
		}
	}
	r.events[event.EscrowAddress] = append(r.events[event.EscrowAddress], event)
	return nil
}

func (r *testRelay) GetEvents(_ context.Context, escrowAddress string) ([]domain.EventEnvelope, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]domain.EventEnvelope{}, r.events[escrowAddress]...), nil
}

func (r *testRelay) PostRuling(_ context.Context, ruling domain.ArbitrationRuling) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	addr := ruling.EscrowAddress
	r.rulings[addr] = append(r.rulings[addr], ruling)
	return nil
}

func (r *testRelay) GetRulings(_ context.Context, escrowAddress string) ([]domain.ArbitrationRuling, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]domain.ArbitrationRuling{}, r.rulings[escrowAddress]...), nil
}

func (r *testRelay) PostBadge(_ context.Context, request domain.BadgeRequest) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	profile := request.Badge.ProfilePubKey
	r.badges[profile] = append(r.badges[profile], request)
	return nil
}

func (r *testRelay) GetBadges(_ context.Context, profilePubKey string) ([]domain.BadgeRequest, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]domain.BadgeRequest{}, r.badges[profilePubKey]...), nil
}

func (r *testRelay) setPostEventErr(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.postEventErr = err
}

// **** Parties ****

// party is a daemon of a trade participant wired with in memory storage.
type party struct {
	keystore   *testKeystore
	repo       ports.RepoManager
	blockchain *mockBlockchainService
	wallet     application.EscrowWalletManager
	offers     application.OfferService
	trades     application.TradeService
	dispatcher application.Dispatcher
}

func newParty(
	t *testing.T, relay ports.RelayService, profileSeed, walletSeed byte,
	arbitrator string,
) *party {
	keystore := newTestKeystore(profileSeed, walletSeed)
	repo := inmemory.NewRepoManager()

	blockchain := &mockBlockchainService{}
	blockchain.On("BroadcastTransaction", mock.Anything, mock.Anything).
		Return(func(txHex string) string {
			tx, err := domain.DecodeTx(txHex)
			if err != nil {
				return ""
			}
			return tx.TxHash().String()
		}, nil)

	wallet, err := application.NewEscrowWalletManager(
		repo.UnspentRepository(), keystore, blockchain, nil, feeRate,
	)
	require.NoError(t, err)

	dispatcher := application.NewDispatcher(4)
	t.Cleanup(dispatcher.Stop)

	trades, err := application.NewTradeService(
		repo, keystore, wallet, relay, application.NewBroker(), dispatcher,
		application.TradeServiceOpts{
			ArbitratorPubKey: arbitrator,
			PayoutFee:        payoutFee,
			TradeTimeout:     24 * time.Hour,
		},
	)
	require.NoError(t, err)

	return &party{
		keystore:   keystore,
		repo:       repo,
		blockchain: blockchain,
		wallet:     wallet,
		offers:     application.NewOfferService(repo, keystore, relay),
		trades:     trades,
		dispatcher: dispatcher,
	}
}

func (p *party) fundWallet(t *testing.T, values ...int64) {
	unspents := make([]domain.Unspent, 0, len(values))
	for i, v := range values {
		txid := chainhash.HashH([]byte(fmt.Sprintf("%x:%d", p.keystore.walletSeed, i))).String()
		unspents = append(unspents, walletUtxo(t, p.keystore, i, txid, v))
	}
	require.NoError(t, p.repo.UnspentRepository().AddUnspents(context.Background(), unspents))
}

// deliver applies to p the events shared on the relay for the trade.
func (p *party) deliver(t *testing.T, relay *testRelay, escrowAddress string) *application.TradeInfo {
	ctx := context.Background()
	envelopes, err := relay.GetEvents(ctx, escrowAddress)
	require.NoError(t, err)
	for _, env := range envelopes {
		if env.Type == domain.EventTypeCreated {
			continue
		}
		e, err := domain.DecodeEvent(env)
		require.NoError(t, err)
		_, err = p.trades.ApplyEvent(ctx, e)
		require.NoError(t, err)
	}
	info, err := p.trades.GetTrade(ctx, escrowAddress)
	require.NoError(t, err)
	return info
}
