package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy is the parsed form of Config.AllowedOrigins. It is rebuilt
// whenever SetConfig runs and read by both the WebSocket upgrader and the
// CORS layer of the JSON API.
type originPolicy struct {
	any     bool
	origins []string
	set     map[string]struct{}
}

func newOriginPolicy(entries []string) originPolicy {
	p := originPolicy{set: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "*":
			p.any = true
			continue
		}

		origin, err := canonicalOrigin(entry)
		if err != nil {
			slog.Warn("config.origin_ignored", "origin", entry, "error", err)
			continue
		}
		if _, dup := p.set[origin]; dup {
			continue
		}
		p.set[origin] = struct{}{}
		p.origins = append(p.origins, origin)
	}
	return p
}

// canonicalOrigin reduces an Origin header or allow-list entry to
// scheme://host[:port], lowercased and without the scheme's default port.
func canonicalOrigin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errors.New("missing host")
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	switch port := u.Port(); {
	case port == "", scheme == "http" && port == "80", scheme == "https" && port == "443":
	default:
		host += ":" + port
	}
	return scheme + "://" + host, nil
}

// allows reports whether a request carrying origin may connect. An empty
// origin is never allowed, even with the wildcard.
func (p originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	canonical, err := canonicalOrigin(origin)
	if err != nil {
		return false
	}
	if p.any {
		return true
	}
	_, ok := p.set[canonical]
	return ok
}

// corsOrigins is the AllowedOrigins list handed to rs/cors.
func (p originPolicy) corsOrigins() []string {
	if p.any {
		return []string{"*"}
	}
	return append([]string(nil), p.origins...)
}

func currentOrigins() originPolicy {
	configMu.RLock()
	defer configMu.RUnlock()
	return activeOrigins
}

// checkOrigin is the upgrader's origin policy. Browsers always send Origin on
// WebSocket handshakes, so a missing header is refused as well.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if currentOrigins().allows(origin) {
		return true
	}

	slog.Warn("ws.origin_blocked", "origin", origin, "addr", r.RemoteAddr)
	return false
}
