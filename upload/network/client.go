// Package network implements the collector's resumable upload protocol over HTTP.
package network

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sensorsync/go-collector-sync/upload"
)

// DefaultTimeout bounds a single HTTP exchange, so a stalled connection surfaces as a failure.
const DefaultTimeout = 60 * time.Second

const (
	payloadContentType  = "application/octet-stream"
	metaDataContentType = "application/json; charset=UTF-8"
	maxErrorBodyLength  = 1024
)

// ClientParams ...
type ClientParams struct {
	// APIURL is the collector API root, e.g. https://collector.example.com/api/v4
	APIURL string
	Logger log.Logger

	// Timeout of one HTTP exchange, DefaultTimeout if zero.
	Timeout time.Duration

	// RetryMax, RetryWaitMin and RetryWaitMax tune the retries of the announcement and
	// status requests. Zero values keep the retryablehttp defaults.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client sends the pre-, status and upload requests of the upload protocol.
// Announcement and status requests carry no payload and are retried on transport errors and
// 5xx responses. Transfers are never retried here: the upload state machine asks the server
// for its status first.
type Client struct {
	apiURL         *url.URL
	announceClient *retryablehttp.Client
	transferClient *retryablehttp.Client
	logger         log.Logger
}

var _ upload.Requester = (*Client)(nil)

// NewClient ...
func NewClient(params ClientParams) (*Client, error) {
	if params.APIURL == "" {
		return nil, fmt.Errorf("API URL is empty")
	}
	apiURL, err := url.Parse(strings.TrimSuffix(params.APIURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse API URL: %w", err)
	}
	if apiURL.Scheme != "http" && apiURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported API URL scheme: %q", apiURL.Scheme)
	}

	logger := params.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	announceClient := newHTTPClient(logger, timeout)
	if params.RetryMax > 0 {
		announceClient.RetryMax = params.RetryMax
	}
	if params.RetryWaitMin > 0 {
		announceClient.RetryWaitMin = params.RetryWaitMin
	}
	if params.RetryWaitMax > 0 {
		announceClient.RetryWaitMax = params.RetryWaitMax
	}

	transferClient := newHTTPClient(logger, timeout)
	transferClient.RetryMax = 0

	return &Client{
		apiURL:         apiURL,
		announceClient: announceClient,
		transferClient: transferClient,
		logger:         logger,
	}, nil
}

func newHTTPClient(logger log.Logger, timeout time.Duration) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	// Hand back the last response instead of a "giving up" error, its status is part of the protocol.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.HTTPClient.Timeout = timeout
	// 308 means "resume incomplete" in this protocol, not a redirect.
	client.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return client
}

func (c *Client) endpoint(path string) string {
	return c.apiURL.String() + path
}

// resolveLocation turns a possibly relative Location header into an absolute URL.
func (c *Client) resolveLocation(location string) (string, error) {
	loc, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse location %q: %w", location, err)
	}
	return c.apiURL.ResolveReference(loc).String(), nil
}

func setAuthorization(req *retryablehttp.Request, token string) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
}

func (c *Client) do(client *retryablehttp.Client, req *retryablehttp.Request, name string, dumpBody bool) (*http.Response, error) {
	dump, err := httputil.DumpRequest(req.Request, dumpBody)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("%s request dump: %s", name, redactAuthorization(string(dump)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	dump, err = httputil.DumpResponse(resp, false)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("%s response dump: %s", name, string(dump))

	return resp, nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	if err := body.Close(); err != nil {
		c.logger.Printf("%s", err)
	}
}

func unwrapError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
	if err != nil {
		return &upload.RequestFailedError{StatusCode: resp.StatusCode}
	}
	return &upload.RequestFailedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func redactAuthorization(dump string) string {
	lines := strings.Split(dump, "\r\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(line), "authorization:") {
			lines[i] = "Authorization: [REDACTED]"
		}
	}
	return strings.Join(lines, "\r\n")
}
