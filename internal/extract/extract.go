// Package extract turns registry HTML into result links and entity records.
// Everything here is a pure function of the parsed document.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

// DefaultLinkClass marks result anchors on the registry search page.
const DefaultLinkClass = "company_search_result"

// Extractor holds the registry-specific selectors.
type Extractor struct {
	base      *url.URL
	linkClass string
}

// New builds an Extractor that resolves hrefs against baseURL.
func New(baseURL, linkClass string) (*Extractor, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if linkClass == "" {
		linkClass = DefaultLinkClass
	}
	return &Extractor{base: base, linkClass: linkClass}, nil
}

// Links returns the detail-page URLs on a search results page in document
// order. Duplicates are kept; an empty result is not an error.
func (x *Extractor) Links(doc *goquery.Document) []string {
	links := []string{}
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		if !hasClassToken(a, x.linkClass) {
			return
		}
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		links = append(links, x.base.ResolveReference(ref).String())
	})
	return links
}

// Entity reads one detail page. The first h1 becomes the company name and the
// attributes block contributes its dt/dd pairs verbatim.
func (x *Extractor) Entity(doc *goquery.Document, link string) (crawler.Entity, error) {
	name := strings.TrimSpace(doc.Find("h1").First().Text())
	if name == "" {
		return nil, &crawler.ExtractError{
			Reason: crawler.ReasonMissingRequiredField,
			Field:  "h1",
			URL:    link,
		}
	}

	entity := crawler.Entity{
		crawler.LabelCompanyLink: link,
		crawler.LabelCompanyName: name,
	}

	attrs := doc.Find("div#attributes").First()
	if attrs.Length() == 0 {
		return entity, nil
	}
	labels := attrs.Find("dt")
	values := attrs.Find("dd")
	n := min(labels.Length(), values.Length())
	for i := range n {
		label := strings.TrimSpace(labels.Eq(i).Text())
		if label == "" {
			continue
		}
		entity[label] = strings.TrimSpace(values.Eq(i).Text())
	}
	return entity, nil
}

func hasClassToken(sel *goquery.Selection, token string) bool {
	class, ok := sel.Attr("class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(class) {
		if c == token {
			return true
		}
	}
	return false
}
