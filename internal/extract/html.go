package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// OverlayRootID is the DOM id of the injected panel; its text is never
// considered page content.
const OverlayRootID = "mp-overlay-root"

// Selectors lists site-specific CSS selectors used to pull sources out of a
// page snapshot.
type Selectors struct {
	SiteTitles  []string
	Breadcrumbs []string
	Search      []string
	Exclude     []string
}

// DefaultSelectors covers the common marketplace layouts.
func DefaultSelectors() Selectors {
	return Selectors{
		SiteTitles: []string{
			`[data-testid="product-title"]`,
			`[itemprop="name"]`,
			`.product-details__name`,
			`.product-title`,
			`#productTitle`,
			`meta[property="og:title"]`,
		},
		Breadcrumbs: []string{
			`nav[aria-label*="readcrumb"] a`,
			`.breadcrumb a`,
			`.breadcrumbs a`,
			`[data-testid="breadcrumbs"] a`,
		},
		Search: []string{
			`input[type="search"]`,
			`input[name="q"]`,
			`input[name="query"]`,
		},
		Exclude: []string{"#" + OverlayRootID, "script", "style", "noscript", "template"},
	}
}

// PageSnapshot is the raw material captured from a live page.
type PageSnapshot struct {
	Address     string `json:"address"`
	Title       string `json:"title"`
	SearchValue string `json:"search_value"`
	HTML        string `json:"html"`
}

// SourcesFromHTML parses a serialized DOM into ordered detection sources.
func SourcesFromHTML(snap PageSnapshot, sel Selectors) (Sources, error) {
	src := Sources{
		Address:     snap.Address,
		Title:       collapseSpace(snap.Title),
		SearchValue: strings.TrimSpace(snap.SearchValue),
	}
	if strings.TrimSpace(snap.HTML) == "" {
		return src, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return src, fmt.Errorf("extract: parse html: %w", err)
	}
	for _, ex := range sel.Exclude {
		doc.Find(ex).Remove()
	}

	if src.Title == "" {
		src.Title = collapseSpace(doc.Find("title").First().Text())
	}
	src.Heading = collapseSpace(doc.Find("h1").First().Text())

	for _, q := range sel.SiteTitles {
		s := doc.Find(q).First()
		if s.Length() == 0 {
			continue
		}
		text := collapseSpace(s.Text())
		if content, ok := s.Attr("content"); ok && text == "" {
			text = collapseSpace(content)
		}
		if text != "" {
			src.SiteTitles = append(src.SiteTitles, text)
		}
	}

	for _, q := range sel.Breadcrumbs {
		doc.Find(q).Each(func(_ int, s *goquery.Selection) {
			if text := collapseSpace(s.Text()); text != "" {
				src.Breadcrumbs = append(src.Breadcrumbs, text)
			}
		})
		if len(src.Breadcrumbs) > 0 {
			break
		}
	}

	if src.SearchValue == "" {
		for _, q := range sel.Search {
			if v, ok := doc.Find(q).First().Attr("value"); ok && strings.TrimSpace(v) != "" {
				src.SearchValue = strings.TrimSpace(v)
				break
			}
		}
	}

	src.BodyText = truncateRunes(collapseSpace(doc.Find("body").Text()), BodyTextLimit)
	return src, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
