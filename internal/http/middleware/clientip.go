package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientKeyCtx struct{}

// ClientIP resolves the caller once per request for ClientKey. X-Forwarded-For
// is read only when the socket peer is one of trusted; the rightmost hop that
// is not itself a trusted proxy is the client.
func ClientIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientKeyCtx{}, resolveClient(r, trusted))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientKey identifies the caller for rate limiting and as the submission
// throttle fallback when no requester id is supplied. Without ClientIP in the
// chain it is the socket peer; forwarding headers are never read here.
func ClientKey(r *http.Request) string {
	if key, ok := r.Context().Value(clientKeyCtx{}).(string); ok && key != "" {
		return key
	}
	return peerHost(r)
}

func resolveClient(r *http.Request, trusted []netip.Prefix) string {
	peer := peerHost(r)
	if len(trusted) == 0 {
		return peer
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil || !isTrusted(trusted, addr) {
		return peer
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			// garbage left of here was written by someone we do not trust
			break
		}
		client = hop.Unmap().String()
		if !isTrusted(trusted, hop) {
			break
		}
	}
	return client
}

func isTrusted(trusted []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func peerHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "anonymous"
}
