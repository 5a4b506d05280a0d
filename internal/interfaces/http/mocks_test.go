package httpinterface_test

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/bytabit/escrowd/internal/core/application"
	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/pkg/escrow"
)

type mockTradeService struct {
	mock.Mock
}

func (m *mockTradeService) TakeOffer(
	ctx context.Context, offerID string, paymentAmount decimal.Decimal,
) (*domain.TradeRequest, error) {
	args := m.Called(ctx, offerID, paymentAmount)
	var res *domain.TradeRequest
	if a := args.Get(0); a != nil {
		res = a.(*domain.TradeRequest)
	}
	return res, args.Error(1)
}

func (m *mockTradeService) GetPendingTradeRequests(ctx context.Context) []application.PendingTradeRequest {
	args := m.Called(ctx)
	return args.Get(0).([]application.PendingTradeRequest)
}

func (m *mockTradeService) AcceptTradeRequest(
	ctx context.Context, request domain.TradeRequest,
) (*application.TradeInfo, error) {
	return tradeInfoResult(m.Called(ctx, request))
}

func (m *mockTradeService) CreateTrade(
	ctx context.Context, acceptance domain.TradeAcceptance,
) (*application.TradeInfo, error) {
	return tradeInfoResult(m.Called(ctx, acceptance))
}

func (m *mockTradeService) ImportTrade(
	ctx context.Context, escrowAddress string,
) (*application.TradeInfo, error) {
	return tradeInfoResult(m.Called(ctx, escrowAddress))
}

func (m *mockTradeService) Fund(
	ctx context.Context, escrowAddress, paymentDetails string,
) (*application.TradeInfo, error) {
	return tradeInfoResult(m.Called(ctx, escrowAddress, paymentDetails))
}

func (m *mockTradeService) Pay(
	ctx context.Context, escrowAddress, paymentReference string,
) (*application.TradeInfo, error) {
	return tradeInfoResult(m.Called(ctx, escrowAddress, paymentReference))
}

func (m *mockTradeService) RequestArbitration(
	ctx context.Context, escrowAddress, reason string,
) (*application.TradeInfo, error) {
	return tradeInfoResult(m.Called(ctx, escrowAddress, reason))
}

func (m *mockTradeService) CompletePayout(
	ctx context.Context, escrowAddress string,
) (*application.TradeInfo, error) {
	return tradeInfoResult(m.Called(ctx, escrowAddress))
}

func (m *mockTradeService) Arbitrate(
	ctx context.Context, escrowAddress string, winner domain.Role,
) (*application.TradeInfo, error) {
	return tradeInfoResult(m.Called(ctx, escrowAddress, winner))
}

func (m *mockTradeService) ClaimArbitration(
	ctx context.Context, escrowAddress string,
) (*application.TradeInfo, error) {
	return tradeInfoResult(m.Called(ctx, escrowAddress))
}

func (m *mockTradeService) ApplyEvent(
	ctx context.Context, event domain.TradeEvent,
) (*application.TradeInfo, error) {
	return tradeInfoResult(m.Called(ctx, event))
}

func (m *mockTradeService) GetTrade(
	ctx context.Context, escrowAddress string,
) (*application.TradeInfo, error) {
	return tradeInfoResult(m.Called(ctx, escrowAddress))
}

func (m *mockTradeService) ListTrades(ctx context.Context) ([]application.TradeInfo, error) {
	args := m.Called(ctx)
	var res []application.TradeInfo
	if a := args.Get(0); a != nil {
		res = a.([]application.TradeInfo)
	}
	return res, args.Error(1)
}

func (m *mockTradeService) Subscribe(escrowAddress string) (<-chan application.TradeUpdate, func()) {
	args := m.Called(escrowAddress)
	return args.Get(0).(<-chan application.TradeUpdate), args.Get(1).(func())
}

func tradeInfoResult(args mock.Arguments) (*application.TradeInfo, error) {
	var res *application.TradeInfo
	if a := args.Get(0); a != nil {
		res = a.(*application.TradeInfo)
	}
	return res, args.Error(1)
}

type mockOfferService struct {
	mock.Mock
}

func (m *mockOfferService) CreateOffer(
	ctx context.Context, offerType domain.OfferType,
	currency domain.CurrencyCode, paymentMethod domain.PaymentMethod,
	minAmount, maxAmount, price decimal.Decimal,
) (*domain.SignedOffer, error) {
	args := m.Called(ctx, offerType, currency, paymentMethod, minAmount, maxAmount, price)
	var res *domain.SignedOffer
	if a := args.Get(0); a != nil {
		res = a.(*domain.SignedOffer)
	}
	return res, args.Error(1)
}

func (m *mockOfferService) RemoveOffer(ctx context.Context, offerID string) error {
	return m.Called(ctx, offerID).Error(0)
}

func (m *mockOfferService) SyncOffers(ctx context.Context) ([]domain.SignedOffer, error) {
	args := m.Called(ctx)
	var res []domain.SignedOffer
	if a := args.Get(0); a != nil {
		res = a.([]domain.SignedOffer)
	}
	return res, args.Error(1)
}

func (m *mockOfferService) GetOffer(ctx context.Context, offerID string) (*domain.SignedOffer, error) {
	args := m.Called(ctx, offerID)
	var res *domain.SignedOffer
	if a := args.Get(0); a != nil {
		res = a.(*domain.SignedOffer)
	}
	return res, args.Error(1)
}

func (m *mockOfferService) ListOffers(ctx context.Context) ([]domain.SignedOffer, error) {
	args := m.Called(ctx)
	var res []domain.SignedOffer
	if a := args.Get(0); a != nil {
		res = a.([]domain.SignedOffer)
	}
	return res, args.Error(1)
}

type mockWallet struct {
	mock.Mock
}

func (m *mockWallet) GetNewAddress(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockWallet) GetBalance(ctx context.Context) (*application.Balance, error) {
	args := m.Called(ctx)
	var res *application.Balance
	if a := args.Get(0); a != nil {
		res = a.(*application.Balance)
	}
	return res, args.Error(1)
}

func (m *mockWallet) ListUnspents(ctx context.Context) ([]domain.Unspent, error) {
	args := m.Called(ctx)
	var res []domain.Unspent
	if a := args.Get(0); a != nil {
		res = a.([]domain.Unspent)
	}
	return res, args.Error(1)
}

func (m *mockWallet) SyncUnspents(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockWallet) FundEscrow(
	ctx context.Context, esc *escrow.Escrow, amount int64,
) (*application.SignedTx, error) {
	args := m.Called(ctx, esc, amount)
	var res *application.SignedTx
	if a := args.Get(0); a != nil {
		res = a.(*application.SignedTx)
	}
	return res, args.Error(1)
}

func (m *mockWallet) SendToAddress(
	ctx context.Context, address string, amount int64,
) (*application.SignedTx, error) {
	args := m.Called(ctx, address, amount)
	var res *application.SignedTx
	if a := args.Get(0); a != nil {
		res = a.(*application.SignedTx)
	}
	return res, args.Error(1)
}

func (m *mockWallet) Broadcast(ctx context.Context, tx application.SignedTx) (string, error) {
	args := m.Called(ctx, tx)
	return args.String(0), args.Error(1)
}

func (m *mockWallet) ReleaseReservation(ctx context.Context, owner string) error {
	return m.Called(ctx, owner).Error(0)
}

func (m *mockWallet) ReservePayout(
	ctx context.Context, escrowAddress string, outputs []escrow.Utxo, owner string,
) error {
	return m.Called(ctx, escrowAddress, outputs, owner).Error(0)
}

func (m *mockWallet) ObserveAddress(
	ctx context.Context, address string,
) (<-chan domain.TransactionWithAmt, error) {
	args := m.Called(ctx, address)
	var res <-chan domain.TransactionWithAmt
	if a := args.Get(0); a != nil {
		res = a.(<-chan domain.TransactionWithAmt)
	}
	return res, args.Error(1)
}

type mockPriceFeeder struct {
	mock.Mock
}

func (m *mockPriceFeeder) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockPriceFeeder) LatestPrice(currency domain.CurrencyCode) (ports.PriceQuote, bool) {
	args := m.Called(currency)
	return args.Get(0).(ports.PriceQuote), args.Bool(1)
}

func (m *mockPriceFeeder) LatestPrices() []ports.PriceQuote {
	args := m.Called()
	return args.Get(0).([]ports.PriceQuote)
}
