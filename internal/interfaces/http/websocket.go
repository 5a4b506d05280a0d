package httpinterface

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamTrade sends the current state of the trade followed by every
// update appended to it.
func (h *handler) streamTrade(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	trade, err := h.tradeSvc.GetTrade(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("failed to upgrade connection")
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.tradeSvc.Subscribe(address)
	defer unsubscribe()

	if err := writeMessage(conn, trade); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go readUntilClosed(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				closeConn(conn)
				return
			}
			if err := writeMessage(conn, update); err != nil {
				return
			}
		case <-ticker.C:
			if err := ping(conn); err != nil {
				return
			}
		}
	}
}

// streamAddress sends the snapshots of the transactions of an address.
func (h *handler) streamAddress(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots, err := h.walletSvc.ObserveAddress(ctx, chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("failed to upgrade connection")
		return
	}
	defer conn.Close()

	go readUntilClosed(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				closeConn(conn)
				return
			}
			if err := writeMessage(conn, snapshot); err != nil {
				return
			}
		case <-ticker.C:
			if err := ping(conn); err != nil {
				return
			}
		}
	}
}

// readUntilClosed consumes control messages and calls cancel once the peer
// goes away.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	//nolint
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, v interface{}) error {
	//nolint
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		log.WithError(err).Debug("failed to write websocket message")
		return err
	}
	return nil
}

func ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func closeConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	//nolint
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
