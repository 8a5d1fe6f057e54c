// Package gate decides whether an incoming relay connection is admitted.
package gate

import (
	"context"
	"net/http"
	"strings"
)

// HeaderAuthKey carries the client's endpoint key during the handshake.
const HeaderAuthKey = "X-Auth-Key"

// ConnInfo describes a connection attempt before it is upgraded.
type ConnInfo struct {
	Key        string `json:"key"`
	RemoteAddr string `json:"remote_addr"`
	UserAgent  string `json:"user_agent"`
}

// Gate is consulted before a connection is registered.
type Gate interface {
	Allow(ctx context.Context, info ConnInfo) bool
}

// Func adapts a function to Gate.
type Func func(ctx context.Context, info ConnInfo) bool

// Allow calls f.
func (f Func) Allow(ctx context.Context, info ConnInfo) bool {
	return f(ctx, info)
}

// AllowAll admits every connection.
var AllowAll Gate = Func(func(context.Context, ConnInfo) bool { return true })

// InfoFromRequest extracts handshake details from an upgrade request.
// The key comes from the X-Auth-Key header, falling back to the "key" query parameter.
func InfoFromRequest(r *http.Request, remoteAddr string) ConnInfo {
	key := strings.TrimSpace(r.Header.Get(HeaderAuthKey))
	if key == "" {
		key = strings.TrimSpace(r.URL.Query().Get("key"))
	}
	return ConnInfo{
		Key:        key,
		RemoteAddr: remoteAddr,
		UserAgent:  r.UserAgent(),
	}
}

// AllowList admits connections whose key is listed. An empty list admits everyone.
type AllowList struct {
	keys map[string]struct{}
}

// NewAllowList builds an AllowList from keys, ignoring blanks.
func NewAllowList(keys []string) *AllowList {
	l := &AllowList{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			l.keys[k] = struct{}{}
		}
	}
	return l
}

// Allow reports whether info.Key is on the list.
func (l *AllowList) Allow(_ context.Context, info ConnInfo) bool {
	if len(l.keys) == 0 {
		return true
	}
	_, ok := l.keys[info.Key]
	return ok
}

// Len returns the number of listed keys.
func (l *AllowList) Len() int {
	return len(l.keys)
}

// Chain admits a connection only if every gate admits it.
func Chain(gates ...Gate) Gate {
	return Func(func(ctx context.Context, info ConnInfo) bool {
		for _, g := range gates {
			if g != nil && !g.Allow(ctx, info) {
				return false
			}
		}
		return true
	})
}
