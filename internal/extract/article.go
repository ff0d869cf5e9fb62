package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"

	"github.com/hpungsan/trove/internal/logger"
)

const maxArticleChars = 60000

var spaceRunRegex = regexp.MustCompile(`[ \t]+`)
var blankRunRegex = regexp.MustCompile(`\n\s*\n+`)

// ArticleExtractor fetches a page and extracts its readable text, or the
// text layer of a PDF. No content is a soft failure: the output carries no
// text and the pipeline continues.
type ArticleExtractor struct {
	Pages    PageFetcher
	Resolver Resolver
	Logger   logger.Logger
}

// Extract implements Extractor.
func (e *ArticleExtractor) Extract(ctx context.Context, in Input) (*Output, error) {
	log := e.Logger
	if log == nil {
		log = logger.NewNop()
	}
	out := &Output{}
	if e.Pages == nil {
		return out, nil
	}

	page, err := e.Pages.Fetch(ctx, in.SourceURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("article fetch failed", logger.String("url", in.SourceURL), logger.Error(err))
		return out, nil
	}

	text, links, err := extractPage(page)
	if err != nil {
		log.Warn("article text extraction failed", logger.String("url", in.SourceURL), logger.Error(err))
		return out, nil
	}
	if text == "" {
		return out, nil
	}
	out.PageText = strPtr(text)

	scan := text
	if len(links) > 0 {
		scan += "\n" + strings.Join(links, "\n")
	}
	entities, ledger, err := discoverRepos(ctx, e.Resolver, scan, true)
	if err != nil {
		return nil, err
	}
	out.Entities, out.Cost = entities, ledger
	return out, nil
}

// extractPage returns the readable text and the links found in it.
func extractPage(p *Page) (string, []string, error) {
	var (
		text  string
		links []string
		err   error
	)
	if isPDF(p) {
		text, err = pdfText(p.Body)
	} else {
		text, links, err = htmlText(p)
	}
	if err != nil {
		return "", nil, err
	}
	text = tidy(text)
	if len(text) > maxArticleChars {
		text = strings.ToValidUTF8(text[:maxArticleChars], "")
	}
	return text, links, nil
}

func isPDF(p *Page) bool {
	if strings.Contains(strings.ToLower(p.ContentType), "application/pdf") {
		return true
	}
	return bytes.HasPrefix(p.Body, []byte("%PDF-"))
}

func htmlText(p *Page) (string, []string, error) {
	base := p.FinalURL
	if base == "" {
		base = p.URL
	}
	pageURL, err := url.Parse(base)
	if err != nil {
		return "", nil, fmt.Errorf("parse page url: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(p.Body), pageURL)
	if err != nil {
		return "", nil, fmt.Errorf("readability: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return "", nil, fmt.Errorf("parse article html: %w", err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.HasPrefix(href, "http") {
			links = append(links, href)
		}
	})

	var blocks []string
	if t := strings.TrimSpace(article.Title); t != "" {
		blocks = append(blocks, t)
	}
	doc.Find("h1, h2, h3, h4, p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// nested matches are covered by their outermost block
		if s.ParentsFiltered("p, li, pre, blockquote").Length() > 0 {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			blocks = append(blocks, t)
		}
	})
	if len(blocks) <= 1 {
		blocks = append(blocks, strings.TrimSpace(doc.Text()))
	}
	return strings.Join(blocks, "\n\n"), links, nil
}

func pdfText(body []byte) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("pdf text: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(plain, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(data), nil
}

func tidy(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRunRegex.ReplaceAllString(s, " ")
	s = blankRunRegex.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
