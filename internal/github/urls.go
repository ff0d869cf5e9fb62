package github

import (
	"regexp"
	"strings"

	"github.com/hpungsan/trove/internal/item"
)

var repoURLRegex = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?github\.com/([a-z0-9][a-z0-9-]*)/([a-z0-9._-]+)`)

// FindRepoURLs returns the distinct GitHub repository URLs mentioned in
// text, in order of first appearance, as canonical https URLs.
func FindRepoURLs(text string) []string {
	matches := repoURLRegex.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		owner := m[1]
		repo := strings.TrimRight(strings.TrimSuffix(strings.TrimRight(m[2], ".,"), ".git"), ".,")
		if repo == "" {
			continue
		}
		canonical := item.CanonicalRepoURL(owner, repo)
		key := item.NormalizeRepoURL(canonical)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, canonical)
	}
	return out
}
