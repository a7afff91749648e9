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
	"strconv"

	"github.com/google/uuid"

	"whisper/internal/domain"
)

const requestIDHeader = "X-Request-ID"

// ErrNotFound is matched by a StatusError for a 404 response.
var ErrNotFound = errors.New("relay: not found")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("relay %s %s: %d: %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("relay %s %s: %d", e.Method, e.Path, e.Code)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// HTTP talks to a relay over its JSON API. It is the device side Transport,
// BundleFetcher and KeyDirectory.
type HTTP struct {
	Base string
	HTTP *http.Client
}

// NewHTTP returns a client for the relay at base. A nil hc means
// http.DefaultClient.
func NewHTTP(base string, hc *http.Client) *HTTP {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTP{Base: base, HTTP: hc}
}

var (
	_ domain.Transport     = (*HTTP)(nil)
	_ domain.BundleFetcher = (*HTTP)(nil)
	_ domain.KeyDirectory  = (*HTTP)(nil)
)

func devicePath(kind string, a domain.Address) string {
	return "/v1/" + kind + "/" + url.PathEscape(a.Name) + "/" + strconv.FormatUint(uint64(a.DeviceID), 10)
}

func (c *HTTP) PublishKeys(ctx context.Context, keys domain.PublishedKeys) error {
	return c.do(ctx, http.MethodPut, devicePath("keys", keys.Address), encodeKeys(keys), nil)
}

func (c *HTTP) FetchBundle(ctx context.Context, peer domain.Address) (domain.PreKeyBundle, error) {
	var out bundleJSON
	if err := c.do(ctx, http.MethodGet, devicePath("keys", peer), nil, &out); err != nil {
		return domain.PreKeyBundle{}, err
	}
	return out.decode(peer)
}

func (c *HTTP) Send(ctx context.Context, env domain.Envelope) error {
	var out sentJSON
	return c.do(ctx, http.MethodPut, devicePath("messages", env.Destination), env, &out)
}

func (c *HTTP) Fetch(ctx context.Context, me domain.Address, limit int) ([]domain.Envelope, error) {
	path := devicePath("messages", me)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var envs []domain.Envelope
	if err := c.do(ctx, http.MethodGet, path, nil, &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

func (c *HTTP) Ack(ctx context.Context, me domain.Address, id string) error {
	return c.do(ctx, http.MethodDelete, devicePath("messages", me)+"/"+url.PathEscape(id), nil, nil)
}

func (c *HTTP) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e errorJSON
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: e.Error}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
