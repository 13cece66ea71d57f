// Package ipfs retrieves proposal payloads addressed by content URIs.
package ipfs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrMalformedURI = errors.New("malformed content uri")
	ErrNetwork      = errors.New("content network failure")
	ErrTimeout      = errors.New("content fetch timed out")
	// ErrUnavailable marks content the gateway will never serve as asked:
	// a client error status or a payload over the size limit.
	ErrUnavailable = errors.New("content unavailable")
)

const (
	schemeIPFS = "ipfs://"
	schemeData = "data:"

	defaultTimeout = 30 * time.Second
	maxPayloadSize = 32 << 20
)

// Fetcher returns the bytes addressed by a content URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Client fetches ipfs:// URIs through an HTTP gateway and decodes data: URIs
// inline. It never retries.
type Client struct {
	gateway string
	timeout time.Duration
	http    *http.Client
	maxSize int64
}

func NewClient(gatewayURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		gateway: strings.TrimRight(gatewayURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
		maxSize: maxPayloadSize,
	}
}

// NewClientWithHTTP is used when the caller owns the transport.
func NewClientWithHTTP(gatewayURL string, timeout time.Duration, httpClient *http.Client) *Client {
	c := NewClient(gatewayURL, timeout)
	c.http = httpClient
	return c
}

func (c *Client) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return c.FetchWithTimeout(ctx, uri, c.timeout)
}

// FetchWithTimeout bounds the whole fetch, including reading the body, by
// timeout.
func (c *Client) FetchWithTimeout(ctx context.Context, uri string, timeout time.Duration) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, schemeData):
		return DecodeDataURI(uri)
	case strings.HasPrefix(uri, schemeIPFS):
		cid, err := ParseCID(uri)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return c.get(ctx, cid)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme in %q", ErrMalformedURI, truncate(uri))
	}
}

func (c *Client) get(ctx context.Context, cid string) ([]byte, error) {
	if c.gateway == "" {
		return nil, fmt.Errorf("%w: no gateway configured", ErrNetwork)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gateway+"/ipfs/"+cid, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrMalformedURI, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, err, "request "+cid)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: gateway returned %d for %s", statusError(resp.StatusCode), resp.StatusCode, cid)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, classify(ctx, err, "read "+cid)
	}
	if int64(len(body)) > c.maxSize {
		return nil, fmt.Errorf("%w: payload for %s exceeds %d bytes", ErrUnavailable, cid, c.maxSize)
	}
	return body, nil
}

// statusError maps a non-2xx gateway status to its error class. Timeouts and
// rate limits are worth retrying, other client errors are not.
func statusError(code int) error {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return ErrNetwork
	case code >= 400 && code < 500:
		return ErrUnavailable
	default:
		return ErrNetwork
	}
}

func classify(ctx context.Context, err error, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, what, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, what, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrNetwork, what, err)
}

// ParseCID extracts the content identifier (and optional path) from an
// ipfs:// URI.
func ParseCID(uri string) (string, error) {
	if !strings.HasPrefix(uri, schemeIPFS) {
		return "", fmt.Errorf("%w: %q is not an ipfs uri", ErrMalformedURI, truncate(uri))
	}
	cid := strings.TrimPrefix(uri, schemeIPFS)
	cid = strings.TrimPrefix(cid, "ipfs/")
	if cid == "" || strings.ContainsAny(cid, " ?#") {
		return "", fmt.Errorf("%w: bad cid in %q", ErrMalformedURI, truncate(uri))
	}
	return cid, nil
}

// DecodeDataURI returns the payload embedded in an RFC 2397 data URI. Both
// base64 and percent-encoded payloads are accepted.
func DecodeDataURI(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, schemeData) {
		return nil, fmt.Errorf("%w: %q is not a data uri", ErrMalformedURI, truncate(uri))
	}
	header, data, ok := strings.Cut(strings.TrimPrefix(uri, schemeData), ",")
	if !ok {
		return nil, fmt.Errorf("%w: data uri has no payload separator", ErrMalformedURI)
	}

	if strings.HasSuffix(header, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			// Some encoders drop padding.
			decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
			if err != nil {
				return nil, fmt.Errorf("%w: invalid base64 payload: %v", ErrMalformedURI, err)
			}
		}
		return decoded, nil
	}

	decoded, err := url.PathUnescape(data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid percent-encoded payload: %v", ErrMalformedURI, err)
	}
	return []byte(decoded), nil
}

// EncodeDataURI builds a base64 data URI for payload.
func EncodeDataURI(mimeType string, payload []byte) string {
	return schemeData + mimeType + ";base64," + base64.StdEncoding.EncodeToString(payload)
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
