package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gocolly/colly"
)

// DefaultIndexURL lists the CelesTrak GP groups.
const DefaultIndexURL = "https://celestrak.org/NORAD/elements/"

// Group is a named element set collection offered by the catalog service.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ctxTransport binds every request made by the collector to ctx.
type ctxTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t ctxTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(r.WithContext(t.ctx))
}

// DiscoverGroups scrapes the index page for gp.php?GROUP= links. Groups
// are returned sorted by ID with duplicates removed.
func DiscoverGroups(ctx context.Context, indexURL, userAgent string) ([]Group, error) {
	if indexURL == "" {
		indexURL = DefaultIndexURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	c := colly.NewCollector(colly.UserAgent(userAgent))
	c.WithTransport(ctxTransport{ctx: ctx, base: http.DefaultTransport})

	seen := make(map[string]Group)
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if !strings.Contains(strings.ToLower(href), "gp.php") {
			return
		}
		abs := e.Request.AbsoluteURL(href)
		u, err := url.Parse(abs)
		if err != nil {
			return
		}
		id := ""
		for k, v := range u.Query() {
			if strings.EqualFold(k, "group") && len(v) > 0 {
				id = strings.ToLower(strings.TrimSpace(v[0]))
			}
		}
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		name := strings.Join(strings.Fields(e.Text), " ")
		if name == "" {
			name = id
		}
		seen[id] = Group{ID: id, Name: name, URL: abs}
	})

	var scrapeErr error
	c.OnError(func(r *colly.Response, err error) {
		scrapeErr = fmt.Errorf("%w: scraping %s (status %d): %v", ErrSourceUnavailable, r.Request.URL, r.StatusCode, err)
	})

	if err := c.Visit(indexURL); err != nil && scrapeErr == nil {
		scrapeErr = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if scrapeErr != nil {
		return nil, scrapeErr
	}

	groups := make([]Group, 0, len(seen))
	for _, g := range seen {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}
