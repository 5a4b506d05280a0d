package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytabit/escrowd/pkg/authtoken"
)

const (
	requestTimeout = 30 * time.Second
	tokenTTL       = time.Minute
)

type daemonClient struct {
	baseURL string
	http    *http.Client
}

func getDaemonClient() (*daemonClient, error) {
	state, err := getState()
	if err != nil {
		return nil, err
	}
	baseURL := strings.TrimSuffix(state["daemon"], "/")
	if len(baseURL) <= 0 {
		return nil, fmt.Errorf("missing daemon url: try 'config set daemon <url>'")
	}
	return &daemonClient{baseURL, &http.Client{Timeout: requestTimeout}}, nil
}

func (c *daemonClient) get(path string, query url.Values) (interface{}, error) {
	if len(query) > 0 {
		path = path + "?" + query.Encode()
	}
	return c.do(http.MethodGet, path, nil)
}

func (c *daemonClient) post(path string, body interface{}) (interface{}, error) {
	return c.do(http.MethodPost, path, body)
}

func (c *daemonClient) delete(path string) (interface{}, error) {
	return c.do(http.MethodDelete, path, nil)
}

func (c *daemonClient) do(
	method, path string, body interface{},
) (interface{}, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authenticate(req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf(
			"daemon answered %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)),
		)
	}
	if len(respBody) <= 0 {
		return nil, nil
	}

	var out interface{}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("invalid daemon response: %w", err)
	}
	return out, nil
}

// authenticate attaches an auth token for the request url if a private key
// is configured. Daemons without authentication ignore it.
func (c *daemonClient) authenticate(req *http.Request) error {
	key, err := getPrivateKey()
	if err != nil {
		return nil
	}
	token, err := authtoken.Issue(key, c.baseURL+req.URL.Path, time.Now().Add(tokenTTL))
	if err != nil {
		return err
	}
	encoded, err := token.Encode()
	if err != nil {
		return err
	}
	req.Header.Set(authtoken.HeaderKey, encoded)
	return nil
}

func printDaemonResp(resp interface{}, err error) error {
	if err != nil {
		return err
	}
	if resp == nil {
		fmt.Println("done")
		return nil
	}
	printRespJSON(resp)
	return nil
}
