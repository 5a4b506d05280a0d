package httpinterface_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bytabit/escrowd/internal/core/application"
	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	httpinterface "github.com/bytabit/escrowd/internal/interfaces/http"
	"github.com/bytabit/escrowd/pkg/authtoken"
	"github.com/bytabit/escrowd/pkg/crypto"
	"github.com/bytabit/escrowd/pkg/escrow"
)

const escrowAddress = "bcrt1qescrow"

type testServer struct {
	*httptest.Server
	trade  *mockTradeService
	offer  *mockOfferService
	wallet *mockWallet
}

func newTestServer(t *testing.T, configure func(opts *httpinterface.ServiceOpts)) *testServer {
	s := &testServer{
		trade:  &mockTradeService{},
		offer:  &mockOfferService{},
		wallet: &mockWallet{},
	}
	s.Server = httptest.NewUnstartedServer(nil)

	opts := httpinterface.ServiceOpts{
		Address:   s.Listener.Addr().String(),
		BaseURL:   "http://" + s.Listener.Addr().String(),
		TradeSvc:  s.trade,
		OfferSvc:  s.offer,
		WalletSvc: s.wallet,
	}
	if configure != nil {
		configure(&opts)
	}
	s.Config.Handler = httpinterface.NewRouter(opts)
	s.Start()
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(buf)
}

func TestNewService(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts httpinterface.ServiceOpts
	}{
		{"missing address", httpinterface.ServiceOpts{
			TradeSvc: &mockTradeService{}, OfferSvc: &mockOfferService{}, WalletSvc: &mockWallet{},
		}},
		{"missing base url", httpinterface.ServiceOpts{
			Address: ":0", AuthPubKeys: []string{"02aa"},
			TradeSvc: &mockTradeService{}, OfferSvc: &mockOfferService{}, WalletSvc: &mockWallet{},
		}},
		{"missing trade service", httpinterface.ServiceOpts{
			Address: ":0", OfferSvc: &mockOfferService{}, WalletSvc: &mockWallet{},
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := httpinterface.NewService(tt.opts)
			require.Error(t, err)
		})
	}
}

func TestServiceStartStop(t *testing.T) {
	svc, err := httpinterface.NewService(httpinterface.ServiceOpts{
		Address:   "127.0.0.1:0",
		TradeSvc:  &mockTradeService{},
		OfferSvc:  &mockOfferService{},
		WalletSvc: &mockWallet{},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	svc.Stop()
}

func TestCreateOffer(t *testing.T) {
	s := newTestServer(t, nil)

	signed := &domain.SignedOffer{Offer: domain.Offer{ID: "offer-1"}}
	s.offer.On(
		"CreateOffer", mock.Anything, domain.OfferTypeSell, domain.CurrencyEUR,
		domain.PaymentMethodSEPA, mock.Anything, mock.Anything, mock.Anything,
	).Return(signed, nil)
	s.offer.On(
		"CreateOffer", mock.Anything, domain.OfferTypeSell, domain.CurrencyEUR,
		domain.PaymentMethodSwish, mock.Anything, mock.Anything, mock.Anything,
	).Return(nil, domain.ErrUnsupportedPaymentMethod)

	status, body := s.do(t, http.MethodPost, "/offers", `{
		"offerType":"SELL","currencyCode":"EUR","paymentMethod":"SEPA",
		"minAmount":"10","maxAmount":"100","price":"8000"
	}`)
	require.Equal(t, http.StatusCreated, status)
	require.Contains(t, body, `"id":"offer-1"`)

	status, body = s.do(t, http.MethodPost, "/offers", `{
		"offerType":"SELL","currencyCode":"EUR","paymentMethod":"SWISH",
		"minAmount":"10","maxAmount":"100","price":"8000"
	}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body, "payment method not supported")

	status, _ = s.do(t, http.MethodPost, "/offers", `not json`)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestOfferRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	s.offer.On("ListOffers", mock.Anything).Return([]domain.SignedOffer{}, nil)
	s.offer.On("GetOffer", mock.Anything, "missing").Return(nil, domain.ErrOfferNotFound)
	s.offer.On("RemoveOffer", mock.Anything, "offer-1").Return(nil)
	s.offer.On("SyncOffers", mock.Anything).Return(nil, fmt.Errorf("%w: relay down", ports.ErrNetwork))
	s.trade.On("TakeOffer", mock.Anything, "offer-1", mock.Anything).
		Return(&domain.TradeRequest{ID: "request-1"}, nil)
	s.trade.On("GetPendingTradeRequests", mock.Anything).
		Return([]application.PendingTradeRequest{})

	tests := []struct {
		method, path, body string
		expectedStatus     int
	}{
		{http.MethodGet, "/offers", "", http.StatusOK},
		{http.MethodGet, "/offers/missing", "", http.StatusNotFound},
		{http.MethodDelete, "/offers/offer-1", "", http.StatusNoContent},
		{http.MethodPost, "/offers/sync", "", http.StatusBadGateway},
		{http.MethodPost, "/offers/offer-1/take", `{"paymentAmount":"50"}`, http.StatusCreated},
		{http.MethodGet, "/trade-requests", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			status, _ := s.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.expectedStatus, status)
		})
	}
}

func TestTradeActions(t *testing.T) {
	s := newTestServer(t, nil)

	info := &application.TradeInfo{
		Status: domain.TradeStatusFunded, NextAction: domain.ActionPay,
	}
	s.trade.On("Fund", mock.Anything, escrowAddress, "IBAN 123").Return(info, nil)
	s.trade.On("Fund", mock.Anything, "poor", "IBAN 123").Return(nil, escrow.ErrInsufficientFunds)
	s.trade.On("Pay", mock.Anything, escrowAddress, "ref").Return(nil, application.ErrNotExpectedAction)
	s.trade.On("RequestArbitration", mock.Anything, escrowAddress, "").Return(info, nil)
	s.trade.On("CompletePayout", mock.Anything, escrowAddress).
		Return(nil, &ports.BroadcastRejectedError{TxID: "tx", Reason: "missing inputs"})
	s.trade.On("Arbitrate", mock.Anything, escrowAddress, domain.RoleBuyer).
		Return(nil, application.ErrNotArbitrator)
	s.trade.On("ClaimArbitration", mock.Anything, escrowAddress).
		Return(nil, application.ErrRulingNotFound)
	s.trade.On("ClaimArbitration", mock.Anything, "reserved").
		Return(nil, domain.ErrOutputReserved)
	s.trade.On("GetTrade", mock.Anything, "unknown").Return(nil, domain.ErrTradeNotFound)
	s.trade.On("ImportTrade", mock.Anything, escrowAddress).Return(info, nil)
	s.trade.On("ListTrades", mock.Anything).Return([]application.TradeInfo{*info}, nil)

	tests := []struct {
		name, path, body string
		expectedStatus   int
	}{
		{"fund", "/trades/" + escrowAddress + "/fund", `{"paymentDetails":"IBAN 123"}`, http.StatusOK},
		{"fund without details", "/trades/" + escrowAddress + "/fund", `{}`, http.StatusBadRequest},
		{"fund without funds", "/trades/poor/fund", `{"paymentDetails":"IBAN 123"}`, http.StatusUnprocessableEntity},
		{"pay out of turn", "/trades/" + escrowAddress + "/pay", `{"paymentReference":"ref"}`, http.StatusConflict},
		{"arbitration without body", "/trades/" + escrowAddress + "/arbitration", "", http.StatusOK},
		{"payout rejected", "/trades/" + escrowAddress + "/payout", "", http.StatusBadGateway},
		{"arbitrate as non arbitrator", "/trades/" + escrowAddress + "/arbitrate", `{"winner":"BUYER"}`, http.StatusForbidden},
		{"claim before ruling", "/trades/" + escrowAddress + "/claim", "", http.StatusNotFound},
		{"claim reserved escrow", "/trades/reserved/claim", "", http.StatusConflict},
		{"import", "/trades/" + escrowAddress + "/import", "", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := s.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.expectedStatus, status)
		})
	}

	status, body := s.do(t, http.MethodGet, "/trades", "")
	require.Equal(t, http.StatusOK, status)
	var trades []application.TradeInfo
	require.NoError(t, json.Unmarshal([]byte(body), &trades))
	require.Len(t, trades, 1)
	require.Equal(t, domain.ActionPay, trades[0].NextAction)

	status, _ = s.do(t, http.MethodGet, "/trades/unknown", "")
	require.Equal(t, http.StatusNotFound, status)
}

func TestWalletRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	s.wallet.On("GetBalance", mock.Anything).Return(&application.Balance{Confirmed: 1000}, nil)
	s.wallet.On("GetNewAddress", mock.Anything).Return("bcrt1qnew", nil)
	s.wallet.On("ListUnspents", mock.Anything).Return([]domain.Unspent{}, nil)
	s.wallet.On("SyncUnspents", mock.Anything).Return(nil)

	status, body := s.do(t, http.MethodGet, "/wallet/balance", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"confirmed":1000,"unconfirmed":0,"reserved":0}`, body)

	status, body = s.do(t, http.MethodPost, "/wallet/address", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"address":"bcrt1qnew"}`, body)

	status, _ = s.do(t, http.MethodGet, "/wallet/unspents", "")
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/wallet/sync", "")
	require.Equal(t, http.StatusOK, status)
	s.wallet.AssertCalled(t, "SyncUnspents", mock.Anything)
}

func TestOptionalServicesDisabled(t *testing.T) {
	s := newTestServer(t, nil)

	status, _ := s.do(t, http.MethodPost, "/badges", `{"badgeType":"BETA_TESTER"}`)
	require.Equal(t, http.StatusServiceUnavailable, status)
	status, _ = s.do(t, http.MethodGet, "/webhooks", "")
	require.Equal(t, http.StatusServiceUnavailable, status)
	status, _ = s.do(t, http.MethodGet, "/prices", "")
	require.Equal(t, http.StatusServiceUnavailable, status)
	status, _ = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusNotFound, status)
}

func TestPrices(t *testing.T) {
	eur := ports.PriceQuote{
		Currency: domain.CurrencyEUR,
		Price:    decimal.RequireFromString("25000.13"),
		Time:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	prices := &mockPriceFeeder{}
	prices.On("LatestPrices").Return([]ports.PriceQuote{eur})
	prices.On("LatestPrice", domain.CurrencyEUR).Return(eur, true)
	prices.On("LatestPrice", domain.CurrencySEK).Return(ports.PriceQuote{}, false)

	s := newTestServer(t, func(opts *httpinterface.ServiceOpts) {
		opts.PriceFeeder = prices
	})

	tests := []struct {
		path         string
		expectedCode int
		expectedBody string
	}{
		{"/prices", http.StatusOK, `"price":"25000.13"`},
		{"/prices/EUR", http.StatusOK, `"currencyCode":"EUR"`},
		{"/prices/SEK", http.StatusNotFound, "no price"},
		{"/prices/XYZ", http.StatusBadRequest, "unknown currency"},
	}
	for _, tt := range tests {
		status, body := s.do(t, http.MethodGet, tt.path, "")
		require.Equal(t, tt.expectedCode, status, tt.path)
		require.Contains(t, body, tt.expectedBody, tt.path)
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, func(opts *httpinterface.ServiceOpts) {
		opts.EnableMetrics = true
	})

	status, body := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "go_goroutines")
}

func TestAuthentication(t *testing.T) {
	key, err := crypto.NewPrivateKey()
	require.NoError(t, err)
	other, err := crypto.NewPrivateKey()
	require.NoError(t, err)

	s := newTestServer(t, func(opts *httpinterface.ServiceOpts) {
		opts.AuthPubKeys = []string{crypto.PubKeyHex(key.PubKey())}
	})
	s.wallet.On("GetBalance", mock.Anything).Return(&application.Balance{}, nil)

	tokenFor := func(signer *btcec.PrivateKey, path string) string {
		token, err := authtoken.Issue(signer, s.URL+path, time.Now().Add(time.Minute))
		require.NoError(t, err)
		encoded, err := token.Encode()
		require.NoError(t, err)
		return encoded
	}

	status, _ := s.do(t, http.MethodGet, "/wallet/balance", "")
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodGet, "/wallet/balance", "",
		authtoken.HeaderKey, tokenFor(key, "/wallet/unspents"))
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodGet, "/wallet/balance", "",
		authtoken.HeaderKey, tokenFor(other, "/wallet/balance"))
	require.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodGet, "/wallet/balance", "",
		authtoken.HeaderKey, tokenFor(key, "/wallet/balance"))
	require.Equal(t, http.StatusOK, status)
}

func TestStreamTrade(t *testing.T) {
	s := newTestServer(t, nil)

	updates := make(chan application.TradeUpdate, 1)
	unsubscribed := make(chan struct{})
	info := &application.TradeInfo{Status: domain.TradeStatusCreated}
	s.trade.On("GetTrade", mock.Anything, escrowAddress).Return(info, nil)
	s.trade.On("Subscribe", escrowAddress).Return(
		(<-chan application.TradeUpdate)(updates), func() { close(unsubscribed) },
	)

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/trades/" + escrowAddress + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var first application.TradeInfo
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, domain.TradeStatusCreated, first.Status)

	updates <- application.TradeUpdate{Type: domain.EventTypeFunded, Seq: 2}
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.True(t, bytes.Contains(msg, []byte(`"type":"FUNDED"`)))

	require.NoError(t, conn.Close())
	select {
	case <-unsubscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after client went away")
	}
}

func TestStreamAddress(t *testing.T) {
	s := newTestServer(t, nil)

	snapshots := make(chan domain.TransactionWithAmt, 1)
	snapshots <- domain.TransactionWithAmt{
		Hash: "tx", ConfidenceType: domain.ConfidenceBuilding, Depth: 1, NetAmount: 5000,
	}
	close(snapshots)
	s.wallet.On("ObserveAddress", mock.Anything, escrowAddress).
		Return((<-chan domain.TransactionWithAmt)(snapshots), nil)

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/addresses/" + escrowAddress + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snapshot domain.TransactionWithAmt
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.Equal(t, "tx", snapshot.Hash)
	require.Equal(t, int64(5000), snapshot.NetAmount)

	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
