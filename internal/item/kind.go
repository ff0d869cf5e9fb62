package item

import (
	"net/url"
	"strings"
)

// SourceKind selects the extraction strategy for an item.
type SourceKind string

const (
	SourceCodeRepo   SourceKind = "code_repo"
	SourceVideoShort SourceKind = "video_short"
	SourceVideoLong  SourceKind = "video_long"
	SourceSocialPost SourceKind = "social_post"
	SourceArticle    SourceKind = "article"
)

// AllSourceKinds lists every known source kind.
var AllSourceKinds = []SourceKind{
	SourceCodeRepo, SourceVideoShort, SourceVideoLong, SourceSocialPost, SourceArticle,
}

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	for _, known := range AllSourceKinds {
		if k == known {
			return true
		}
	}
	return false
}

// RequiresTranscript reports whether extraction producing no text is a hard failure.
func (k SourceKind) RequiresTranscript() bool {
	return k == SourceVideoShort || k == SourceVideoLong || k == SourceSocialPost
}

var socialHosts = map[string]bool{
	"x.com": true, "twitter.com": true, "mobile.twitter.com": true,
	"threads.net": true, "bsky.app": true,
}

var shortVideoHosts = map[string]bool{
	"tiktok.com": true, "vm.tiktok.com": true,
}

var longVideoHosts = map[string]bool{
	"youtube.com": true, "m.youtube.com": true, "youtu.be": true, "vimeo.com": true,
}

// DetectSourceKind infers the source kind from a URL's host and path.
// Anything unrecognized is treated as an article.
func DetectSourceKind(raw string) SourceKind {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return SourceArticle
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.ToLower(u.Path)

	switch {
	case host == "github.com":
		if _, _, ok := SplitRepoPath(u.Path); ok {
			return SourceCodeRepo
		}
		return SourceArticle
	case socialHosts[host]:
		return SourceSocialPost
	case shortVideoHosts[host]:
		return SourceVideoShort
	case host == "instagram.com" && (strings.HasPrefix(path, "/reel/") || strings.HasPrefix(path, "/reels/")):
		return SourceVideoShort
	case longVideoHosts[host]:
		if strings.HasPrefix(path, "/shorts/") {
			return SourceVideoShort
		}
		return SourceVideoLong
	}
	return SourceArticle
}

// reservedOwners are github.com path prefixes that are not repository owners.
var reservedOwners = map[string]bool{
	"orgs": true, "topics": true, "search": true, "marketplace": true,
	"settings": true, "features": true, "collections": true, "trending": true,
	"sponsors": true, "login": true, "about": true, "explore": true,
}

// SplitRepoPath extracts owner and repository from a github.com URL path.
func SplitRepoPath(path string) (owner, repo string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if reservedOwners[strings.ToLower(parts[0])] {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}
