package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/pkg/authtoken"
	"github.com/bytabit/escrowd/pkg/circuitbreaker"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultTokenTTL       = time.Minute
)

// ErrRequestRefused is returned when the relay answers a request with a
// client error, ie. a rejected message or an invalid auth token.
var ErrRequestRefused = errors.New("relay refused request")

// Opts ...
type Opts struct {
	URL string
	// ProfileKey signs the auth token attached to every request.
	ProfileKey     *btcec.PrivateKey
	TokenTTL       time.Duration
	RequestTimeout time.Duration
}

func (o Opts) validate() error {
	if len(o.URL) <= 0 {
		return fmt.Errorf("missing relay url")
	}
	u, err := url.Parse(o.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid relay url, must be a valid http URI")
	}
	if o.ProfileKey == nil {
		return fmt.Errorf("missing profile key")
	}
	return nil
}

type client struct {
	baseURL    string
	profileKey *btcec.PrivateKey
	tokenTTL   time.Duration
	http       *http.Client
	cb         *gobreaker.CircuitBreaker
}

// NewClient returns a RelayService talking to the relay REST API at URL.
func NewClient(opts Opts) (ports.RelayService, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	return &client{
		baseURL:    strings.TrimSuffix(opts.URL, "/"),
		profileKey: opts.ProfileKey,
		tokenTTL:   opts.TokenTTL,
		http:       &http.Client{Timeout: opts.RequestTimeout},
		cb:         circuitbreaker.NewCircuitBreaker("relay"),
	}, nil
}

func (c *client) PublishOffer(ctx context.Context, offer domain.SignedOffer) error {
	return c.post(ctx, "/offers", offer)
}

func (c *client) RemoveOffer(ctx context.Context, offerID string) error {
	return c.do(ctx, http.MethodDelete, pathOf("offers", offerID), nil, nil)
}

func (c *client) GetOffers(ctx context.Context) ([]domain.SignedOffer, error) {
	offers := make([]domain.SignedOffer, 0)
	if err := c.get(ctx, "/offers", &offers); err != nil {
		return nil, err
	}
	return offers, nil
}

func (c *client) PostTradeRequest(ctx context.Context, request domain.TradeRequest) error {
	return c.post(ctx, "/trade-requests", request)
}

func (c *client) GetTradeRequests(
	ctx context.Context, offerID string,
) ([]domain.TradeRequest, error) {
	requests := make([]domain.TradeRequest, 0)
	if err := c.get(ctx, pathOf("offers", offerID, "trade-requests"), &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

func (c *client) PostTradeAcceptance(
	ctx context.Context, acceptance domain.TradeAcceptance,
) error {
	return c.post(ctx, "/trade-acceptances", acceptance)
}

func (c *client) GetTradeAcceptances(
	ctx context.Context, requestID string,
) ([]domain.TradeAcceptance, error) {
	acceptances := make([]domain.TradeAcceptance, 0)
	path := pathOf("trade-requests", requestID, "acceptances")
	if err := c.get(ctx, path, &acceptances); err != nil {
		return nil, err
	}
	return acceptances, nil
}

func (c *client) PostEvent(ctx context.Context, event domain.EventEnvelope) error {
	return c.post(ctx, pathOf("trades", event.EscrowAddress, "events"), event)
}

func (c *client) GetEvents(
	ctx context.Context, escrowAddress string,
) ([]domain.EventEnvelope, error) {
	events := make([]domain.EventEnvelope, 0)
	if err := c.get(ctx, pathOf("trades", escrowAddress, "events"), &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *client) PostRuling(ctx context.Context, ruling domain.ArbitrationRuling) error {
	return c.post(ctx, pathOf("trades", ruling.EscrowAddress, "rulings"), ruling)
}

func (c *client) GetRulings(
	ctx context.Context, escrowAddress string,
) ([]domain.ArbitrationRuling, error) {
	rulings := make([]domain.ArbitrationRuling, 0)
	if err := c.get(ctx, pathOf("trades", escrowAddress, "rulings"), &rulings); err != nil {
		return nil, err
	}
	return rulings, nil
}

func (c *client) PostBadge(ctx context.Context, request domain.BadgeRequest) error {
	return c.post(ctx, "/badges", request)
}

func (c *client) GetBadges(
	ctx context.Context, profilePubKey string,
) ([]domain.BadgeRequest, error) {
	badges := make([]domain.BadgeRequest, 0)
	if err := c.get(ctx, pathOf("profiles", profilePubKey, "badges"), &badges); err != nil {
		return nil, err
	}
	return badges, nil
}

func (c *client) post(ctx context.Context, path string, body interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, buf, nil)
}

func (c *client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do sends an authenticated request to the relay and decodes the response
// into out, if any. Transport failures and server errors are network
// errors, client errors wrap ErrRequestRefused.
func (c *client) do(
	ctx context.Context, method, path string, body []byte, out interface{},
) error {
	target := c.baseURL + path
	token, err := c.authToken(target)
	if err != nil {
		return err
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set(authtoken.HeaderKey, token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		rs, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer rs.Body.Close()

		buf, err := io.ReadAll(rs.Body)
		if err != nil {
			return nil, err
		}
		if rs.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf(
				"%s %s answered %d: %s", method, path, rs.StatusCode, bytes.TrimSpace(buf),
			)
		}
		return &response{rs.StatusCode, buf}, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s", ports.ErrNetwork, err)
	}

	resp := res.(*response)
	if resp.status < 200 || resp.status >= 300 {
		return fmt.Errorf(
			"%w: %s %s answered %d: %s",
			ErrRequestRefused, method, path, resp.status, bytes.TrimSpace(resp.body),
		)
	}
	if out == nil || len(resp.body) <= 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		log.WithError(err).Debugf("invalid relay response to %s %s", method, path)
		return fmt.Errorf("invalid relay response: %w", err)
	}
	return nil
}

func (c *client) authToken(target string) (string, error) {
	token, err := authtoken.Issue(c.profileKey, target, time.Now().Add(c.tokenTTL))
	if err != nil {
		return "", err
	}
	return token.Encode()
}

type response struct {
	status int
	body   []byte
}

func pathOf(elems ...string) string {
	escaped := make([]string, 0, len(elems))
	for _, e := range elems {
		escaped = append(escaped, url.PathEscape(e))
	}
	return "/" + strings.Join(escaped, "/")
}
