package api

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/huddlehq/huddle-recorder/internal/types"
)

// ChannelURL derives the websocket endpoint for a channel from the HTTP base
// URL: http becomes ws, https becomes wss.
func ChannelURL(baseURL string, channel types.ChannelName, meetingID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = fmt.Sprintf("%s/ws/%s/%s/", u.Path, channel, meetingID)
	u.RawQuery = ""
	return u.String(), nil
}
