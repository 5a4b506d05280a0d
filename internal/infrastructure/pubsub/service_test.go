package pubsub_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"

	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/internal/infrastructure/pubsub"
)

const testMessage = `{"event":"FUNDED","escrowAddress":"bcrt1qescrow","seq":1}`

type received struct {
	path, body, auth string
}

type testWebServer struct {
	*httptest.Server
	lock     sync.Mutex
	requests []received
}

func newTestWebServer(t *testing.T) *testWebServer {
	srv := &testWebServer{}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Bad method", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Content-Type") == "" {
			http.Error(w, "Missing Content-Type header", http.StatusUnsupportedMediaType)
			return
		}
		switch r.URL.Path {
		case "/failing":
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		case "/verbose":
			http.Error(w, strings.Repeat("x", 4096), http.StatusBadGateway)
			return
		}
		body, _ := io.ReadAll(r.Body)
		srv.lock.Lock()
		srv.requests = append(srv.requests, received{
			r.URL.Path, string(body), r.Header.Get("Authorization"),
		})
		srv.lock.Unlock()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *testWebServer) received() []received {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]received{}, s.requests...)
}

func newTestService(t *testing.T) ports.SecurePubSub {
	svc, err := pubsub.NewService("", nil, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		//nolint
		svc.Store().Close()
	})
	return svc
}

func TestPubSubService(t *testing.T) {
	server := newTestWebServer(t)
	svc := newTestService(t)

	secret := "s3cr3t"
	fundedID, err := svc.Subscribe("FUNDED", server.URL+"/funded", secret)
	require.NoError(t, err)
	require.NotEmpty(t, fundedID)
	allID, err := svc.Subscribe(ports.AnyTopic, server.URL+"/all", "")
	require.NoError(t, err)
	_, err = svc.Subscribe("PAID", server.URL+"/paid", "")
	require.NoError(t, err)

	subs := svc.ListSubscriptionsForTopic("FUNDED")
	require.Len(t, subs, 2)
	subs = svc.ListSubscriptionsForTopic(ports.UnspecifiedTopic)
	require.Len(t, subs, 3)

	require.NoError(t, svc.Publish("FUNDED", testMessage))

	requests := server.received()
	require.Len(t, requests, 2)
	for _, r := range requests {
		require.Equal(t, testMessage, r.body)
		switch r.path {
		case "/funded":
			tokenString := strings.TrimPrefix(r.auth, "Bearer ")
			claims := &jwt.StandardClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			})
			require.NoError(t, err)
			require.True(t, token.Valid)
			require.Equal(t, "FUNDED", claims.Subject)
		case "/all":
			require.Empty(t, r.auth)
		default:
			t.Fatalf("unexpected request to %s", r.path)
		}
	}

	require.NoError(t, svc.Unsubscribe("FUNDED", fundedID))
	require.NoError(t, svc.Unsubscribe(ports.AnyTopic, allID))
	require.Error(t, svc.Unsubscribe(ports.AnyTopic, allID))
	require.Empty(t, svc.ListSubscriptionsForTopic("FUNDED"))

	// it's all ok if there are no hooks to invoke.
	require.NoError(t, svc.Publish("COMPLETED", testMessage))
}

func TestSubscribeWithID(t *testing.T) {
	server := newTestWebServer(t)
	svc := newTestService(t)

	id, err := svc.SubscribeWithID("hook-1", "FUNDED", server.URL, "")
	require.NoError(t, err)
	require.Equal(t, "hook-1", id)

	// subscribing again with the same id is a no-op.
	id, err = svc.SubscribeWithID("hook-1", "PAID", server.URL, "")
	require.NoError(t, err)
	require.Equal(t, "hook-1", id)

	subs := svc.ListSubscriptionsForTopic(ports.UnspecifiedTopic)
	require.Len(t, subs, 1)
	require.Equal(t, "FUNDED", subs[0].Topic())
}

func TestSubscribeInvalid(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name, topic, endpoint string
	}{
		{"missing topic", "", "http://localhost/hook"},
		{"invalid endpoint", "FUNDED", "not a url"},
		{"unsupported scheme", "FUNDED", "ftp://localhost/hook"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Subscribe(tt.topic, tt.endpoint, "")
			require.Error(t, err)
		})
	}
}

func TestPublishFailingWebhook(t *testing.T) {
	server := newTestWebServer(t)
	svc := newTestService(t)

	_, err := svc.Subscribe("FUNDED", server.URL+"/failing", "")
	require.NoError(t, err)
	_, err = svc.Subscribe("FUNDED", server.URL+"/ok", "")
	require.NoError(t, err)

	err = svc.Publish("FUNDED", testMessage)
	require.Error(t, err)
	require.Contains(t, err.Error(), "answered 500: boom")
	require.Len(t, server.received(), 1)
}

func TestPublishTruncatesWebhookErrors(t *testing.T) {
	server := newTestWebServer(t)
	svc := newTestService(t)

	_, err := svc.Subscribe("PAID", server.URL+"/verbose", "")
	require.NoError(t, err)

	err = svc.Publish("PAID", testMessage)
	require.Error(t, err)
	require.Contains(t, err.Error(), "answered 502")
	require.Less(t, len(err.Error()), 1024)
}
