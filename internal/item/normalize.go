package item

import (
	"net/url"
	"regexp"
	"strings"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize trims, lowercases and collapses internal whitespace.
// Container names are compared through it so "AI  Agents" and "ai agents"
// land in the same bucket.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// NormalizeRepoURL reduces a repository URL to "github.com/owner/repo" in
// lowercase. Returns "" for anything that is not a repository URL.
func NormalizeRepoURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "github.com" {
		return ""
	}
	owner, repo, ok := SplitRepoPath(u.Path)
	if !ok {
		return ""
	}
	return strings.ToLower("github.com/" + owner + "/" + repo)
}

// CanonicalRepoURL builds the https URL for owner/repo.
func CanonicalRepoURL(owner, repo string) string {
	return "https://github.com/" + owner + "/" + repo
}

// ContainsRepo reports whether target matches any URL in urls after normalization.
func ContainsRepo(urls []string, target string) bool {
	key := NormalizeRepoURL(target)
	if key == "" {
		return false
	}
	for _, u := range urls {
		if NormalizeRepoURL(u) == key {
			return true
		}
	}
	return false
}
