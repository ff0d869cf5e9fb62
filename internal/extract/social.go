package extract

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hpungsan/trove/internal/cost"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/logger"
)

const maxLinksChecked = 3

var linkRegex = regexp.MustCompile(`https?://[^\s<>"'()]+`)

// SocialPost is the content of one social-media post.
type SocialPost struct {
	Author          string   `json:"author"`
	Text            string   `json:"text"`
	VideoTranscript string   `json:"video_transcript"`
	Citations       []string `json:"citations"`
}

// SocialSource is the rich provider for social posts.
type SocialSource interface {
	Post(ctx context.Context, postURL string) (*SocialPost, cost.Ledger, error)
}

// SocialExtractor prefers the rich provider and falls back to the public
// embed API. Posts linking to login-gated pages are flagged.
type SocialExtractor struct {
	Social   SocialSource
	Embeds   EmbedSource
	Pages    PageFetcher
	Resolver Resolver
	Logger   logger.Logger
}

// Extract implements Extractor.
func (e *SocialExtractor) Extract(ctx context.Context, in Input) (*Output, error) {
	log := e.Logger
	if log == nil {
		log = logger.NewNop()
	}
	out := &Output{}

	post, err := e.richPost(ctx, in.SourceURL, out, log)
	if err != nil {
		return nil, err
	}
	if post == nil {
		post = e.embedPost(ctx, in.SourceURL, log)
	}
	if post == nil {
		return nil, errors.NewExtractionEmpty(string(in.SourceKind), in.SourceURL)
	}
	if strings.TrimSpace(post.Author) == "" {
		post.Author = authorFromURL(in.SourceURL)
	}

	text := strings.TrimSpace(post.Text)
	videoText := strings.TrimSpace(post.VideoTranscript)
	links := postLinks(in.SourceURL, text, post.Citations)

	bare := false
	switch {
	case text == "" && videoText == "" && len(links) == 0:
		return nil, errors.NewExtractionEmpty(string(in.SourceKind), in.SourceURL)
	case isBareLink(text) && videoText == "" && len(links) > 0:
		bare = true
		text = "shared link: " + links[0]
	}

	transcript := text
	if videoText != "" {
		if transcript != "" {
			transcript += "\n\n"
		}
		transcript += "Video transcript:\n" + videoText
	}
	out.Transcript = strPtr(transcript)
	out.Gated = e.findGated(ctx, post.Author, links, log)

	scan := transcript
	if len(links) > 0 {
		scan += "\n" + strings.Join(links, "\n")
	}
	entities, ledger, err := discoverRepos(ctx, e.Resolver, scan, !bare && out.Gated == nil)
	if err != nil {
		return nil, err
	}
	out.Entities = entities
	out.Cost = out.Cost.Merge(ledger)
	return out, nil
}

func (e *SocialExtractor) richPost(ctx context.Context, postURL string, out *Output, log logger.Logger) (*SocialPost, error) {
	if e.Social == nil {
		return nil, nil
	}
	post, ledger, err := e.Social.Post(ctx, postURL)
	out.Cost = out.Cost.Merge(ledger)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("rich social provider unavailable, using embed fallback",
			logger.String("url", postURL), logger.Error(err))
		return nil, nil
	}
	return post, nil
}

// embedPost reads the post through the oEmbed blockquote HTML.
func (e *SocialExtractor) embedPost(ctx context.Context, postURL string, log logger.Logger) *SocialPost {
	if e.Embeds == nil {
		return nil
	}
	embed, err := e.Embeds.Embed(ctx, postURL)
	if err != nil {
		log.Warn("social embed fallback failed", logger.String("url", postURL), logger.Error(err))
		return nil
	}

	post := &SocialPost{Author: handleFromURL(embed.AuthorURL)}
	if post.Author == "" {
		post.Author = embed.AuthorName
	}
	if embed.HTML == "" {
		post.Text = embed.Title
		return post
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(embed.HTML))
	if err != nil {
		post.Text = embed.Title
		return post
	}

	var paragraphs []string
	doc.Find("blockquote p").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			paragraphs = append(paragraphs, t)
		}
	})
	post.Text = strings.Join(paragraphs, "\n")
	doc.Find("blockquote p a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			post.Citations = append(post.Citations, href)
		}
	})
	return post
}

// findGated returns the first linked page that needs a login, if any.
func (e *SocialExtractor) findGated(ctx context.Context, author string, links []string, log logger.Logger) *Gated {
	checked := 0
	for _, link := range links {
		if item.NormalizeRepoURL(link) != "" {
			continue
		}
		if checked == maxLinksChecked {
			break
		}
		checked++

		if kind, ok := GatedKind(link); ok {
			return &Gated{Author: author, Kind: kind, URL: link}
		}
		if e.Pages == nil {
			continue
		}
		page, err := e.Pages.Fetch(ctx, link)
		if page == nil {
			log.Debug("linked page fetch failed", logger.String("url", link), logger.Error(err))
			continue
		}
		final := page.FinalURL
		if final == "" {
			final = link
		}
		if kind, ok := GatedKind(final); ok {
			return &Gated{Author: author, Kind: kind, URL: final}
		}
		if err == nil && looksLoginWalled(page) {
			return &Gated{Author: author, Kind: siteName(final) + " page", URL: final}
		}
	}
	return nil
}

// looksLoginWalled reports whether an HTML page is a sign-in form with
// little else on it.
func looksLoginWalled(p *Page) bool {
	if !strings.Contains(strings.ToLower(p.ContentType), "html") || len(p.Body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return false
	}
	hasPassword := doc.Find(`input[type="password"]`).Length() > 0
	title := strings.ToLower(doc.Find("title").First().Text())
	loginTitle := strings.Contains(title, "log in") || strings.Contains(title, "login") || strings.Contains(title, "sign in")
	doc.Find("script, style, noscript").Remove()
	thin := len(strings.TrimSpace(doc.Find("body").Text())) < 1500
	return thin && (hasPassword || loginTitle)
}

// postLinks collects outbound links from the text and citations, skipping
// links back to the post itself.
func postLinks(postURL, text string, citations []string) []string {
	self := strings.TrimRight(postURL, "/")
	seen := map[string]bool{self: true}
	var links []string
	add := func(l string) {
		l = strings.TrimRight(strings.TrimSpace(l), ".,;:!?")
		if l == "" || seen[strings.TrimRight(l, "/")] {
			return
		}
		if u, err := url.Parse(l); err != nil || u.Host == "" {
			return
		}
		seen[strings.TrimRight(l, "/")] = true
		links = append(links, l)
	}
	for _, l := range linkRegex.FindAllString(text, -1) {
		add(l)
	}
	for _, l := range citations {
		add(l)
	}
	return links
}

// isBareLink reports whether text is nothing but links and punctuation.
func isBareLink(text string) bool {
	rest := linkRegex.ReplaceAllString(text, "")
	rest = strings.Trim(rest, " \t\r\n.,;:!?-—…")
	return rest == ""
}

// authorFromURL extracts the handle from a post URL such as
// https://x.com/<handle>/status/<id> or https://bsky.app/profile/<handle>/post/<id>.
func authorFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "profile" {
		return parts[1]
	}
	if len(parts) >= 1 && parts[0] != "" && parts[0] != "i" {
		return strings.TrimPrefix(parts[0], "@")
	}
	return ""
}

func handleFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	return authorFromURL(raw)
}
