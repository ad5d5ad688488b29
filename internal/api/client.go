// Package api implements the HTTP side of the meeting server contract:
// segment upload, meeting status, websocket endpoint addressing and the
// request credentials shared by both transports.
package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/huddlehq/huddle-recorder/internal/util"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	uploadPath        = "/api/upload-audio/"
	meetingStatusPath = "/api/meeting/%s/status/"

	// CSRFHeader carries the CSRF token issued by the web application.
	CSRFHeader = "X-CSRFToken"

	// statusTimeout bounds a meeting status request.
	statusTimeout = 10 * time.Second
	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 4096
)

// ErrUnexpectedStatus is returned for non-2xx meeting status responses.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// Credentials identify this client to the meeting server.
type Credentials struct {
	CSRFToken     string
	SessionCookie string
	UserAgent     string
}

// Header returns the request headers that carry c. Origin is set to the
// server itself so websocket origin checks accept the handshake.
func (c Credentials) Header(baseURL string) http.Header {
	h := http.Header{}
	if c.CSRFToken != "" {
		h.Set(CSRFHeader, c.CSRFToken)
	}
	if c.SessionCookie != "" {
		h.Set("Cookie", c.SessionCookie)
	}
	if c.UserAgent != "" {
		h.Set("User-Agent", c.UserAgent)
	}
	if baseURL != "" {
		h.Set("Origin", strings.TrimRight(baseURL, "/"))
	}
	return h
}

// OAuthConfig holds optional OAuth2 client credentials.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// IsConfigured reports whether OAuth2 client credentials are present.
func (o OAuthConfig) IsConfigured() bool {
	return util.IsConfigured(o.TokenURL, o.ClientID, o.ClientSecret)
}

// NewHTTPClient returns the HTTP client used for uploads and status queries.
// With OAuth2 configured every request carries a bearer token obtained via
// the client credentials grant.
func NewHTTPClient(oauth OAuthConfig, insecureSkipVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Opt-in for development servers
	}
	baseClient := &http.Client{Timeout: types.UploadTimeout, Transport: transport}

	if !oauth.IsConfigured() {
		return baseClient
	}

	conf := &clientcredentials.Config{
		ClientID:     oauth.ClientID,
		ClientSecret: oauth.ClientSecret,
		TokenURL:     oauth.TokenURL,
		Scopes:       oauth.Scopes,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)
	client := conf.Client(ctx)
	client.Timeout = types.UploadTimeout
	return client
}

// TokenSource returns a bearer token source for websocket handshakes, or nil
// when OAuth2 is not configured.
func TokenSource(oauth OAuthConfig, httpClient *http.Client) oauth2.TokenSource {
	if !oauth.IsConfigured() {
		return nil
	}
	conf := &clientcredentials.Config{
		ClientID:     oauth.ClientID,
		ClientSecret: oauth.ClientSecret,
		TokenURL:     oauth.TokenURL,
		Scopes:       oauth.Scopes,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	return oauth2.ReuseTokenSource(nil, conf.TokenSource(ctx))
}

// Client talks to the meeting server's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
}

// NewClient creates an API client rooted at baseURL.
func NewClient(baseURL string, httpClient *http.Client, creds Credentials) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: types.UploadTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		creds:      creds,
	}
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// MeetingStatus fetches the participant list for a meeting.
func (c *Client) MeetingStatus(ctx context.Context, meetingID string) (*types.MeetingStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	endpoint := c.baseURL + fmt.Sprintf(meetingStatusPath, url.PathEscape(meetingID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, util.WrapError("build status request", err)
	}
	c.applyHeaders(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, util.WrapError("fetch meeting status", err)
	}
	defer util.SafeCloseFunc(resp.Body, "meeting status response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: meeting status returned %d: %s", ErrUnexpectedStatus, resp.StatusCode, errorMessage(resp.Body))
	}

	var status types.MeetingStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, util.WrapError("decode meeting status", err)
	}
	if status.Participants == nil {
		status.Participants = []types.Participant{}
	}
	return &status, nil
}

func (c *Client) applyHeaders(req *http.Request) {
	for k, v := range c.creds.Header("") {
		req.Header[k] = v
	}
}

// errorMessage extracts the server's {"error": "..."} message, falling back
// to the raw body.
func errorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	return util.LastLine(string(data))
}
