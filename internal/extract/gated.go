package extract

import (
	"fmt"
	"net/url"
	"strings"
)

// Gated describes a linked page that requires an external login.
type Gated struct {
	Author string `json:"author"`
	Kind   string `json:"kind"`
	URL    string `json:"url"`
}

// Title is the placeholder title recorded for a gated item.
func (g *Gated) Title() string {
	author := strings.TrimPrefix(strings.TrimSpace(g.Author), "@")
	if author == "" {
		author = "unknown"
	}
	return fmt.Sprintf("@%s shared: %s (login required)", author, g.Kind)
}

type gatedRule struct {
	host     string
	prefixes []string
	kind     string
}

// gatedRules are pages that never render content without a login.
var gatedRules = []gatedRule{
	{host: "instagram.com", prefixes: []string{"/reel/", "/reels/"}, kind: "instagram reel"},
	{host: "instagram.com", prefixes: []string{"/p/"}, kind: "instagram post"},
	{host: "instagram.com", prefixes: []string{"/stories/"}, kind: "instagram story"},
	{host: "linkedin.com", prefixes: []string{"/posts/", "/feed/update/", "/pulse/"}, kind: "linkedin post"},
	{host: "facebook.com", prefixes: []string{"/"}, kind: "facebook post"},
	{host: "fb.watch", prefixes: []string{"/"}, kind: "facebook video"},
	{host: "x.com", prefixes: []string{"/i/article/", "/i/spaces/"}, kind: "x article"},
	{host: "twitter.com", prefixes: []string{"/i/article/", "/i/spaces/"}, kind: "x article"},
	{host: "patreon.com", prefixes: []string{"/posts/"}, kind: "patreon post"},
	{host: "discord.com", prefixes: []string{"/channels/"}, kind: "discord message"},
}

// GatedKind reports whether raw points at a known login-gated page kind.
func GatedKind(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(strings.TrimPrefix(host, "www."), "m.")
	path := strings.ToLower(u.Path)
	for _, r := range gatedRules {
		if host != r.host && !strings.HasSuffix(host, "."+r.host) {
			continue
		}
		for _, p := range r.prefixes {
			if strings.HasPrefix(path, p) {
				return r.kind, true
			}
		}
	}
	return "", false
}

// siteName is the bare registrable-looking name of a host, for labels.
func siteName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "linked"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return "linked"
	}
	if i := strings.LastIndex(host, "."); i > 0 {
		host = host[:i]
		if j := strings.LastIndex(host, "."); j >= 0 {
			host = host[j+1:]
		}
	}
	return host
}
