package handler

import (
	"fmt"
	"strings"
)

// URLBuilder renders the URLs returned from CreateSession. Empty bases fall
// back to paths relative to the service host.
type URLBuilder struct {
	WSBase    string // e.g. wss://track.example.com
	ShareBase string // e.g. https://track.example.com/live
}

// Publish returns the publisher's WebSocket URL for a session.
func (u *URLBuilder) Publish(sessionID string) string {
	base := strings.TrimRight(u.WSBase, "/")
	return fmt.Sprintf("%s/ws/sessions/%s/publish", base, sessionID)
}

// Watch returns the viewer WebSocket URL for a session.
func (u *URLBuilder) Watch(sessionID string) string {
	base := strings.TrimRight(u.WSBase, "/")
	return fmt.Sprintf("%s/ws/sessions/%s", base, sessionID)
}

// Share returns the link a publisher hands to viewers.
func (u *URLBuilder) Share(sessionID string) string {
	if u.ShareBase == "" {
		return "/sessions/" + sessionID
	}
	return strings.TrimRight(u.ShareBase, "/") + "/" + sessionID
}
