package httpinterface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/core/application"
	"github.com/bytabit/escrowd/internal/core/ports"
	interfaces "github.com/bytabit/escrowd/internal/interfaces"
	"github.com/bytabit/escrowd/pkg/authtoken"
)

const shutdownTimeout = 5 * time.Second

// ServiceOpts ...
type ServiceOpts struct {
	Address string
	// BaseURL is the url clients reach the service at. Auth tokens must be
	// scoped to it.
	BaseURL string
	// AuthPubKeys are the profile keys allowed to call the api. Empty
	// disables authentication.
	AuthPubKeys   []string
	EnableMetrics bool

	TradeSvc  application.TradeService
	OfferSvc  application.OfferService
	WalletSvc application.EscrowWalletManager
	// BadgeSvc, PubSubSvc and PriceFeeder are optional.
	BadgeSvc    application.BadgeService
	PubSubSvc   application.PubSubService
	PriceFeeder ports.PriceFeeder
}

func (o ServiceOpts) validate() error {
	if len(o.Address) <= 0 {
		return fmt.Errorf("missing listening address")
	}
	if len(o.AuthPubKeys) > 0 && len(o.BaseURL) <= 0 {
		return fmt.Errorf("base url is required when authentication is enabled")
	}
	if o.TradeSvc == nil {
		return fmt.Errorf("trade app service must not be null")
	}
	if o.OfferSvc == nil {
		return fmt.Errorf("offer app service must not be null")
	}
	if o.WalletSvc == nil {
		return fmt.Errorf("wallet app service must not be null")
	}
	return nil
}

type service struct {
	opts   ServiceOpts
	server *http.Server
}

// NewService returns the REST and websocket interface of the daemon.
func NewService(opts ServiceOpts) (interfaces.Service, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid opts: %s", err)
	}
	return &service{
		opts: opts,
		server: &http.Server{
			Addr:              opts.Address,
			Handler:           NewRouter(opts),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *service) Start() error {
	lis, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()
	log.Infof("http interface is listening on %s", lis.Addr())
	return nil
}

func (s *service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("failed to gracefully stop http interface")
	}
	log.Debug("stopped http interface")
}

// NewRouter returns the routes of the interface.
func NewRouter(opts ServiceOpts) http.Handler {
	h := &handler{
		tradeSvc:  opts.TradeSvc,
		offerSvc:  opts.OfferSvc,
		walletSvc: opts.WalletSvc,
		badgeSvc:  opts.BadgeSvc,
		pubsubSvc: opts.PubSubSvc,
		prices:    opts.PriceFeeder,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	if opts.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		if len(opts.AuthPubKeys) > 0 {
			r.Use(authtoken.Middleware(authtoken.MiddlewareOpts{
				BaseURL:        opts.BaseURL,
				AllowedPubKeys: opts.AuthPubKeys,
			}))
		}

		r.Route("/offers", func(r chi.Router) {
			r.Get("/", h.listOffers)
			r.Post("/", h.createOffer)
			r.Post("/sync", h.syncOffers)
			r.Get("/{id}", h.getOffer)
			r.Delete("/{id}", h.removeOffer)
			r.Post("/{id}/take", h.takeOffer)
		})
		r.Get("/trade-requests", h.listPendingRequests)
		r.Get("/prices", h.listPrices)
		r.Get("/prices/{currency}", h.getPrice)

		r.Route("/trades", func(r chi.Router) {
			r.Get("/", h.listTrades)
			r.Get("/{address}", h.getTrade)
			r.Get("/{address}/ws", h.streamTrade)
			r.Post("/{address}/import", h.importTrade)
			r.Post("/{address}/fund", h.tradeAction(fund))
			r.Post("/{address}/pay", h.tradeAction(pay))
			r.Post("/{address}/arbitration", h.tradeAction(requestArbitration))
			r.Post("/{address}/payout", h.tradeAction(completePayout))
			r.Post("/{address}/arbitrate", h.tradeAction(arbitrate))
			r.Post("/{address}/claim", h.tradeAction(claimArbitration))
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/balance", h.getBalance)
			r.Post("/address", h.getNewAddress)
			r.Get("/unspents", h.listUnspents)
			r.Post("/sync", h.syncWallet)
		})
		r.Get("/addresses/{address}/ws", h.streamAddress)

		r.Post("/badges", h.requestBadge)
		r.Delete("/badges/{id}", h.deleteBadge)
		r.Get("/profiles/{pubkey}/badges", h.listBadges)

		r.Route("/webhooks", func(r chi.Router) {
			r.Get("/", h.listWebhooks)
			r.Post("/", h.addWebhook)
			r.Delete("/{id}", h.removeWebhook)
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
