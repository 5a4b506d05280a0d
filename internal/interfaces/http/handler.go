package httpinterface

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bytabit/escrowd/internal/core/application"
	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
)

type handler struct {
	tradeSvc  application.TradeService
	offerSvc  application.OfferService
	walletSvc application.EscrowWalletManager
	badgeSvc  application.BadgeService
	pubsubSvc application.PubSubService
	prices    ports.PriceFeeder
}

/**** OFFERS ****/

type createOfferRequest struct {
	OfferType     domain.OfferType     `json:"offerType"`
	CurrencyCode  domain.CurrencyCode  `json:"currencyCode"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
	MinAmount     decimal.Decimal      `json:"minAmount"`
	MaxAmount     decimal.Decimal      `json:"maxAmount"`
	Price         decimal.Decimal      `json:"price"`
}

func (h *handler) listOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.offerSvc.ListOffers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}

func (h *handler) createOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	offer, err := h.offerSvc.CreateOffer(
		r.Context(), req.OfferType, req.CurrencyCode, req.PaymentMethod,
		req.MinAmount, req.MaxAmount, req.Price,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (h *handler) syncOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.offerSvc.SyncOffers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}

func (h *handler) getOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := h.offerSvc.GetOffer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (h *handler) removeOffer(w http.ResponseWriter, r *http.Request) {
	if err := h.offerSvc.RemoveOffer(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type takeOfferRequest struct {
	PaymentAmount decimal.Decimal `json:"paymentAmount"`
}

func (h *handler) takeOffer(w http.ResponseWriter, r *http.Request) {
	var req takeOfferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	request, err := h.tradeSvc.TakeOffer(r.Context(), chi.URLParam(r, "id"), req.PaymentAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

func (h *handler) listPendingRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tradeSvc.GetPendingTradeRequests(r.Context()))
}

/**** TRADES ****/

func (h *handler) listTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.tradeSvc.ListTrades(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (h *handler) getTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := h.tradeSvc.GetTrade(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

func (h *handler) importTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := h.tradeSvc.ImportTrade(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

type tradeActionRequest struct {
	PaymentDetails   string      `json:"paymentDetails"`
	PaymentReference string      `json:"paymentReference"`
	Reason           string      `json:"reason"`
	Winner           domain.Role `json:"winner"`
}

// tradeAction returns a handler running the given action on the trade of
// the requested escrow address.
func (h *handler) tradeAction(
	action func(h *handler, r *http.Request, address string, req tradeActionRequest) (*application.TradeInfo, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tradeActionRequest
		if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, err)
			return
		}
		trade, err := action(h, r, chi.URLParam(r, "address"), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, trade)
	}
}

func fund(h *handler, r *http.Request, address string, req tradeActionRequest) (*application.TradeInfo, error) {
	if len(req.PaymentDetails) <= 0 {
		return nil, fmt.Errorf("%w: missing payment details", domain.ErrValidation)
	}
	return h.tradeSvc.Fund(r.Context(), address, req.PaymentDetails)
}

func pay(h *handler, r *http.Request, address string, req tradeActionRequest) (*application.TradeInfo, error) {
	if len(req.PaymentReference) <= 0 {
		return nil, fmt.Errorf("%w: missing payment reference", domain.ErrValidation)
	}
	return h.tradeSvc.Pay(r.Context(), address, req.PaymentReference)
}

func requestArbitration(h *handler, r *http.Request, address string, req tradeActionRequest) (*application.TradeInfo, error) {
	return h.tradeSvc.RequestArbitration(r.Context(), address, req.Reason)
}

func completePayout(h *handler, r *http.Request, address string, _ tradeActionRequest) (*application.TradeInfo, error) {
	return h.tradeSvc.CompletePayout(r.Context(), address)
}

func arbitrate(h *handler, r *http.Request, address string, req tradeActionRequest) (*application.TradeInfo, error) {
	return h.tradeSvc.Arbitrate(r.Context(), address, req.Winner)
}

func claimArbitration(h *handler, r *http.Request, address string, _ tradeActionRequest) (*application.TradeInfo, error) {
	return h.tradeSvc.ClaimArbitration(r.Context(), address)
}

/**** PRICES ****/

func (h *handler) listPrices(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		writeError(w, errPricesDisabled)
		return
	}
	writeJSON(w, http.StatusOK, h.prices.LatestPrices())
}

func (h *handler) getPrice(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		writeError(w, errPricesDisabled)
		return
	}
	currency := domain.CurrencyCode(chi.URLParam(r, "currency"))
	if !currency.IsValid() {
		writeError(w, fmt.Errorf("%w: %s", domain.ErrUnknownCurrency, currency))
		return
	}
	quote, ok := h.prices.LatestPrice(currency)
	if !ok {
		writeError(w, errPriceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

/**** WALLET ****/

type addressResponse struct {
	Address string `json:"address"`
}

func (h *handler) getBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.walletSvc.GetBalance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *handler) getNewAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := h.walletSvc.GetNewAddress(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addressResponse{addr})
}

func (h *handler) listUnspents(w http.ResponseWriter, r *http.Request) {
	unspents, err := h.walletSvc.ListUnspents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unspents)
}

func (h *handler) syncWallet(w http.ResponseWriter, r *http.Request) {
	if err := h.walletSvc.SyncUnspents(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.getBalance(w, r)
}

/**** BADGES ****/

type requestBadgeRequest struct {
	BadgeType     domain.BadgeType      `json:"badgeType"`
	CurrencyCode  *domain.CurrencyCode  `json:"currencyCode,omitempty"`
	PaymentMethod *domain.PaymentMethod `json:"paymentMethod,omitempty"`
	DetailsHash   string                `json:"detailsHash,omitempty"`
}

func (h *handler) requestBadge(w http.ResponseWriter, r *http.Request) {
	if h.badgeSvc == nil {
		writeError(w, errBadgesDisabled)
		return
	}
	var req requestBadgeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	badge, err := h.badgeSvc.RequestBadge(
		r.Context(), req.BadgeType, req.CurrencyCode, req.PaymentMethod, req.DetailsHash,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, badge)
}

func (h *handler) listBadges(w http.ResponseWriter, r *http.Request) {
	if h.badgeSvc == nil {
		writeError(w, errBadgesDisabled)
		return
	}
	badges, err := h.badgeSvc.GetBadges(r.Context(), chi.URLParam(r, "pubkey"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, badges)
}

func (h *handler) deleteBadge(w http.ResponseWriter, r *http.Request) {
	if h.badgeSvc == nil {
		writeError(w, errBadgesDisabled)
		return
	}
	if err := h.badgeSvc.DeleteBadge(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/**** WEBHOOKS ****/

type addWebhookRequest struct {
	Event    string `json:"event"`
	Endpoint string `json:"endpoint"`
	Secret   string `json:"secret,omitempty"`
	Secured  bool   `json:"secured,omitempty"`
}

type addWebhookResponse struct {
	ID     string `json:"id"`
	Secret string `json:"secret,omitempty"`
}

func (h *handler) addWebhook(w http.ResponseWriter, r *http.Request) {
	if h.pubsubSvc == nil {
		writeError(w, errWebhooksDisabled)
		return
	}
	var req addWebhookRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, secret, err := h.pubsubSvc.AddWebhook(r.Context(), application.Webhook{
		Event:    req.Event,
		Endpoint: req.Endpoint,
		Secret:   req.Secret,
		Secured:  req.Secured,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addWebhookResponse{id, secret})
}

func (h *handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	if h.pubsubSvc == nil {
		writeError(w, errWebhooksDisabled)
		return
	}
	hooks, err := h.pubsubSvc.ListWebhooks(r.Context(), r.URL.Query().Get("event"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (h *handler) removeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.pubsubSvc == nil {
		writeError(w, errWebhooksDisabled)
		return
	}
	if err := h.pubsubSvc.RemoveWebhook(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
