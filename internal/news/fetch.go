// Package news fetches recent headlines for an instrument from Google News
// RSS and formats them as context for analysis prompts. Fetch failures are
// soft: callers proceed with whatever articles were gathered.
package news

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"log/slog"
)

// Article is a single news article.
type Article struct {
	Time     time.Time
	Source   string
	Headline string
	Content  string
}

const defaultFeedURL = "https://news.google.com/rss/search"

// Fetcher retrieves news over RSS.
type Fetcher struct {
	feedURL string
	httpc   *http.Client
	log     *slog.Logger
}

// NewFetcher creates a Fetcher against the default Google News feed.
func NewFetcher(log *slog.Logger) *Fetcher {
	return &Fetcher{
		feedURL: defaultFeedURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// NewFetcherWithURL creates a Fetcher against a custom feed endpoint.
func NewFetcherWithURL(feedURL string, log *slog.Logger) *Fetcher {
	f := NewFetcher(log)
	f.feedURL = feedURL
	return f
}

type rssResponse struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	PubDate string `xml:"pubDate"`
	Desc    string `xml:"description"`
}

// Fetch returns up to limit recent articles matching the query (a stock name
// or code), newest first.
func (f *Fetcher) Fetch(ctx context.Context, query string, limit int) ([]Article, error) {
	q := url.QueryEscape(query + " 股票")
	u := f.feedURL + "?q=" + q + "&hl=zh-CN&gl=CN&ceid=CN:zh-Hans"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news feed: status %d", resp.StatusCode)
	}

	var rss rssResponse
	if err := xml.NewDecoder(resp.Body).Decode(&rss); err != nil {
		return nil, err
	}

	var articles []Article
	for _, item := range rss.Channel.Items {
		t, err := time.Parse(time.RFC1123Z, item.PubDate)
		if err != nil {
			t, err = time.Parse(time.RFC1123, item.PubDate)
			if err != nil {
				continue
			}
		}
		headline := item.Title
		// Google appends " - <publisher>"; keep it as the source.
		source := "google"
		if idx := strings.LastIndex(headline, " - "); idx > 0 {
			source = headline[idx+3:]
			headline = headline[:idx]
		}
		articles = append(articles, Article{
			Time:     t,
			Source:   source,
			Headline: headline,
			Content:  StripHTML(item.Desc),
		})
		if limit > 0 && len(articles) >= limit {
			break
		}
	}
	return articles, nil
}

// FormatContext renders articles as a plain-text block for a prompt.
// Returns "" when there are no articles.
func FormatContext(articles []Article) string {
	if len(articles) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range articles {
		fmt.Fprintf(&b, "[%s] %s (%s)\n", a.Time.Format("2006-01-02 15:04"), a.Headline, a.Source)
		if a.Content != "" && a.Content != a.Headline {
			b.WriteString(a.Content)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes HTML tags and normalizes whitespace.
func StripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
