package esplora

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"golang.org/x/sync/errgroup"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/pkg/escrow"
)

const (
	defaultRequestTimeout    = 15 * time.Second
	defaultRequestsPerSecond = 10
	maxParallelRequests      = 4

	// esplora pages confirmed txs of an address 25 at a time.
	chainPageSize = 25
)

// Opts ...
type Opts struct {
	APIURL            string
	Network           *chaincfg.Params
	RequestTimeout    time.Duration
	RequestsPerSecond int
	SkipHealthCheck   bool
}

type service struct {
	apiURL  string
	network *chaincfg.Params
	client  *client
}

// NewService returns a BlockchainService backed by the esplora REST API at
// APIURL.
func NewService(opts Opts) (ports.BlockchainService, error) {
	svc, err := newService(opts)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func newService(opts Opts) (*service, error) {
	if len(opts.APIURL) <= 0 {
		return nil, fmt.Errorf("missing esplora url")
	}
	if opts.Network == nil {
		return nil, fmt.Errorf("missing network")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}

	svc := &service{
		apiURL:  strings.TrimSuffix(opts.APIURL, "/"),
		network: opts.Network,
		client:  newClient(opts.RequestTimeout, opts.RequestsPerSecond),
	}
	if !opts.SkipHealthCheck {
		if _, err := svc.GetTipHeight(context.Background()); err != nil {
			return nil, fmt.Errorf("health check: %w", err)
		}
	}
	return svc, nil
}

func (s *service) GetUnspents(
	ctx context.Context, addresses []string,
) ([]domain.Unspent, error) {
	results := make([][]domain.Unspent, len(addresses))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxParallelRequests)
	for i := range addresses {
		i := i
		eg.Go(func() error {
			unspents, err := s.getUnspentsForAddress(ctx, addresses[i])
			if err != nil {
				return err
			}
			results[i] = unspents
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	unspents := make([]domain.Unspent, 0)
	for _, r := range results {
		unspents = append(unspents, r...)
	}
	return unspents, nil
}

func (s *service) GetAddressTransactions(
	ctx context.Context, address string,
) ([]ports.AddressTx, error) {
	txs, err := s.getTransactionsForAddress(ctx, address)
	if err != nil {
		return nil, err
	}

	addrTxs := make([]ports.AddressTx, 0, len(txs))
	for _, t := range txs {
		addrTxs = append(addrTxs, t.toPortable(address))
	}
	return addrTxs, nil
}

func (s *service) GetTransactionHex(ctx context.Context, txid string) (string, error) {
	return s.client.get(ctx, fmt.Sprintf("%s/tx/%s/hex", s.apiURL, txid))
}

func (s *service) GetTipHeight(ctx context.Context) (int, error) {
	resp, err := s.client.get(ctx, fmt.Sprintf("%s/blocks/tip/height", s.apiURL))
	if err != nil {
		return -1, err
	}
	height, err := strconv.Atoi(resp)
	if err != nil {
		return -1, fmt.Errorf("invalid tip height %q", resp)
	}
	return height, nil
}

func (s *service) BroadcastTransaction(ctx context.Context, txHex string) (string, error) {
	msgTx, err := domain.DecodeTx(txHex)
	if err != nil {
		return "", err
	}
	txid := msgTx.TxHash().String()

	resp, err := s.client.do(
		ctx, http.MethodPost, fmt.Sprintf("%s/tx", s.apiURL), txHex,
		map[string]string{"Content-Type": "text/plain"},
	)
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusOK {
		return "", &ports.BroadcastRejectedError{TxID: txid, Reason: resp.body}
	}
	return resp.body, nil
}

func (s *service) getUnspentsForAddress(
	ctx context.Context, address string,
) ([]domain.Unspent, error) {
	addr, err := btcutil.DecodeAddress(address, s.network)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", address, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.get(ctx, fmt.Sprintf("%s/address/%s/utxo", s.apiURL, address))
	if err != nil {
		return nil, err
	}
	var utxos []utxo
	if err := json.Unmarshal([]byte(resp), &utxos); err != nil {
		return nil, fmt.Errorf("invalid utxos of %s: %w", address, err)
	}

	unspents := make([]domain.Unspent, 0, len(utxos))
	for _, u := range utxos {
		unspents = append(unspents, domain.NewUnspent(escrow.Utxo{
			TxID:     u.TxID,
			VOut:     u.VOut,
			Value:    u.Value,
			PkScript: script,
		}, address, u.Status.Confirmed))
	}
	return unspents, nil
}

// getTransactionsForAddress returns mempool txs followed by all confirmed
// ones, newest first.
func (s *service) getTransactionsForAddress(
	ctx context.Context, address string,
) ([]tx, error) {
	page, err := s.getTxPage(ctx, fmt.Sprintf("%s/address/%s/txs", s.apiURL, address))
	if err != nil {
		return nil, err
	}
	txs := page

	for {
		confirmed := 0
		for _, t := range page {
			if t.Status.Confirmed {
				confirmed++
			}
		}
		if confirmed < chainPageSize {
			return txs, nil
		}

		lastSeen := page[len(page)-1].TxID
		page, err = s.getTxPage(
			ctx, fmt.Sprintf("%s/address/%s/txs/chain/%s", s.apiURL, address, lastSeen),
		)
		if err != nil {
			return nil, err
		}
		txs = append(txs, page...)
	}
}

func (s *service) getTxPage(ctx context.Context, url string) ([]tx, error) {
	resp, err := s.client.get(ctx, url)
	if err != nil {
		return nil, err
	}
	var txs []tx
	if err := json.Unmarshal([]byte(resp), &txs); err != nil {
		return nil, fmt.Errorf("invalid transactions: %w", err)
	}
	return txs, nil
}
