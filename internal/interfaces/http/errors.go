package httpinterface

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/core/application"
	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/internal/infrastructure/pubsub"
	"github.com/bytabit/escrowd/pkg/crypto"
	"github.com/bytabit/escrowd/pkg/escrow"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusOf maps application errors to http status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrTradeNotFound),
		errors.Is(err, domain.ErrOfferNotFound),
		errors.Is(err, domain.ErrBadgeNotFound),
		errors.Is(err, application.ErrTradeRequestNotFound),
		errors.Is(err, application.ErrRulingNotFound),
		errors.Is(err, pubsub.ErrSubscriptionNotFound),
		errors.Is(err, errPriceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, crypto.ErrCrypto),
		errors.Is(err, escrow.ErrCrypto):
		return http.StatusBadRequest
	case errors.Is(err, application.ErrNotArbitrator),
		errors.Is(err, application.ErrNotOfferMaker):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrOutputReserved),
		errors.Is(err, application.ErrTradeAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ports.ErrNetwork),
		errors.Is(err, ports.ErrBroadcastRejected):
		return http.StatusBadGateway
	case errors.Is(err, application.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Warn("request failed")
	}
	writeJSON(w, status, errorResponse{err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Debug("failed to write response")
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidBody{err}
	}
	return nil
}

type errInvalidBody struct {
	err error
}

func (e errInvalidBody) Error() string {
	return "invalid request body: " + e.err.Error()
}

func (e errInvalidBody) Is(target error) bool {
	return target == domain.ErrValidation || errors.Is(e.err, target)
}

var (
	errBadgesDisabled   = fmt.Errorf("%w: badges are disabled, missing fee address", application.ErrServiceUnavailable)
	errWebhooksDisabled = fmt.Errorf("%w: webhooks are disabled", application.ErrServiceUnavailable)
	errPricesDisabled   = fmt.Errorf("%w: price feed is disabled", application.ErrServiceUnavailable)

	errPriceNotFound = errors.New("no price received yet for currency")
)
