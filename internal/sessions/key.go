// Package sessions provides the in-memory session manager plus the
// helpers for deriving a session key: either a canonical user id (after
// link-graph resolution) or, for a never-linked channel, the channel key
// itself — both are valid session keys.
package sessions

import "strings"

// ChannelKey is an opaque external identifier namespaced by channel, e.g.
// "line:U123", "tg:4567", "webchat:<uuid>".
type ChannelKey string

// Channel returns the namespace prefix of a channel key ("line", "tg",
// "webchat", ...), or "" if the key isn't namespaced.
func (k ChannelKey) Channel() string {
	if idx := strings.IndexByte(string(k), ':'); idx > 0 {
		return string(k)[:idx]
	}
	return ""
}

func (k ChannelKey) String() string { return string(k) }

// ResolveSessionKey derives the session key to use for this request: the
// canonical user id if resolve succeeds, otherwise the channel key
// itself (an unlinked key is a valid session key per §3's Session
// entity).
func ResolveSessionKey(channelKey ChannelKey, resolve func(ChannelKey) (userID string, ok bool)) string {
	if userID, ok := resolve(channelKey); ok {
		return userID
	}
	return channelKey.String()
}
