package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"IssueAssembler/internal/domain"
)

const defaultListingPageSize = 200

var dateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// ListingScanner reads arXiv-style listing pages (dl > dt/dd pairs, newest first)
// and turns entries into article candidates.
type ListingScanner struct {
	client   *http.Client
	pageSize int
}

// NewListingScanner wires an HTTP client; pageSize defaults to 200.
func NewListingScanner(client *http.Client) *ListingScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &ListingScanner{client: client, pageSize: defaultListingPageSize}
}

// Name identifies the strategy inside the source.
func (l *ListingScanner) Name() string {
	return "listing"
}

// Scan walks each category URL and returns entries published on or after req.Since.
func (l *ListingScanner) Scan(ctx context.Context, req Request) ([]domain.Candidate, error) {
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("no categories provided for source %s", req.SourceName)
	}

	since := req.Since.UTC().Truncate(24 * time.Hour)
	results := make([]domain.Candidate, 0)
	seen := map[string]struct{}{}

	for _, cat := range req.Categories {
		skip := 0
		for {
			pageURL, err := buildPageURL(cat.URL, skip, l.pageSize)
			if err != nil {
				return nil, fmt.Errorf("category %s: %w", cat.Name, err)
			}

			doc, err := l.fetchDocument(ctx, pageURL)
			if err != nil {
				return nil, fmt.Errorf("category %s: %w", cat.Name, err)
			}

			page, more := l.extract(doc, since, req.PublicationID, baseURL(cat.URL))
			for _, c := range page {
				if _, ok := seen[c.ID]; ok {
					continue
				}
				seen[c.ID] = struct{}{}
				results = append(results, c)
			}

			if !more {
				break
			}
			skip += l.pageSize
		}
	}

	return results, nil
}

func (l *ListingScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "IssueAssembler/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

// extract stops at the first entry older than since; listings are newest first.
func (l *ListingScanner) extract(doc *goquery.Document, since time.Time, publicationID, base string) ([]domain.Candidate, bool) {
	var (
		collected []domain.Candidate
		more      = true
		processed int
	)

	doc.Find("dl > dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		processed++
		c, ok := parseEntry(dt, dt.Next(), publicationID, base)
		if !ok {
			return true
		}
		day := c.PublishedAt.UTC().Truncate(24 * time.Hour)
		if day.Before(since) {
			more = false
			return false
		}
		collected = append(collected, c)
		return true
	})

	if processed < l.pageSize {
		more = false
	}

	return collected, more
}

func parseEntry(dt, dd *goquery.Selection, publicationID, base string) (domain.Candidate, bool) {
	link := dt.Find(`a[href*="/abs/"]`).First()
	href, _ := link.Attr("href")
	code := strings.TrimSpace(link.Text())
	if code == "" {
		code = strings.TrimPrefix(href, "/abs/")
	}
	if href == "" && code == "" {
		return domain.Candidate{}, false
	}
	if href != "" && !strings.HasPrefix(href, "http") {
		href = strings.TrimSuffix(base, "/") + href
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))
	if title == "" {
		return domain.Candidate{}, false
	}

	summary := strings.TrimSpace(dd.Find("p.mathjax").First().Text())
	summary = strings.TrimSpace(strings.TrimPrefix(summary, "Abstract:"))

	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}
	publishedAt := time.Now().UTC()
	if match := dateExpr.FindString(dateText); match != "" {
		if parsed, err := time.Parse("2 Jan 2006", match); err == nil {
			publishedAt = parsed
		}
	}

	if code == "" {
		code = href
	}
	return domain.Candidate{
		ID:            CandidateID(publicationID, code),
		PublicationID: publicationID,
		Family:        domain.FamilyArticle,
		Code:          code,
		Title:         title,
		Summary:       summary,
		SourceURL:     href,
		PublishedAt:   publishedAt,
	}, true
}

// CandidateID derives a stable id so re-ingesting the same entry is a no-op.
func CandidateID(publicationID, code string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(publicationID+"|"+code)).String()
}

func buildPageURL(base string, skip, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid category url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func baseURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}
