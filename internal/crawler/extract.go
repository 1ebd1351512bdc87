package crawler

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extractors are pure transforms from a rendered document to structured
// records. Missing optional fields degrade to empty values instead of failing
// the page; the selector chains mirror the markup variants observed on the
// live directory.

var agencyIdxPattern = regexp.MustCompile(`idx=(\d+)`)

// ParseDocument parses a page body into a queryable document.
func ParseDocument(page Page) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", page.URL, err)
	}
	return doc, nil
}

// ParseCategoryList extracts every category tuple from the directory root.
// Each anchor carries the category name on the first line and an agency count
// like "12개의 대행사" on the second.
func ParseCategoryList(doc *goquery.Document) []CategoryListing {
	var out []CategoryListing
	doc.Find("div.category_wrap ul li a").Each(func(_ int, sel *goquery.Selection) {
		name, count := splitCategoryText(sel.Text())
		if name == "" {
			return
		}
		href, _ := sel.Attr("href")
		out = append(out, CategoryListing{
			Name:        name,
			Link:        href,
			AgencyCount: count,
		})
	})
	return out
}

func splitCategoryText(text string) (string, int) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 0 {
		return "", 0
	}
	name := strings.TrimSpace(lines[0])
	count := 0
	if len(lines) > 1 {
		raw := strings.TrimSpace(strings.ReplaceAll(lines[1], "개의 대행사", ""))
		raw = strings.ReplaceAll(raw, ",", "")
		if n, err := strconv.Atoi(raw); err == nil {
			count = n
		}
	}
	return name, count
}

// listingContainerSelectors are tried in order; the first selector yielding
// any cards wins.
var listingContainerSelectors = []string{
	"div._list > div",
	"div.conts div[class^='list_'] > div",
}

// ParseAgencyList extracts agency cards from one listing page. Cards without
// a recognizable name are skipped; every other field is optional.
func ParseAgencyList(doc *goquery.Document) []AgencyListing {
	var cards *goquery.Selection
	for _, selector := range listingContainerSelectors {
		cards = doc.Find(selector)
		if cards.Length() > 0 {
			break
		}
	}
	if cards == nil || cards.Length() == 0 {
		return nil
	}

	var out []AgencyListing
	cards.Each(func(_ int, card *goquery.Selection) {
		name := firstText(card,
			"a.link_tit > span.AB-LF-common",
			"a > span[class*='AB-']",
			"a[class*='link_'] > span",
			"a > span",
		)
		if name == "" {
			return
		}
		out = append(out, AgencyListing{
			Name:    name,
			SiteURL: firstText(card, "div.url > a.link_tit", "div.url > a", "div[class*='url'] > a", "a[class*='link_url']"),
			LogoURL: firstAttr(card, "src",
				"div.logo_thumb > a > img",
				"div[class*='logo'] > a > img",
				"div[class*='logo'] img",
				"img[class*='logo']",
				"img",
			),
			Description: firstText(card, "p.desc", "p[class*='desc']", "p", "div[class*='desc']"),
			Href:        firstAttr(card, "href", "a.link_tit", "a[href*='idx=']"),
		})
	})
	return out
}

// ExtractAgencyIdx pulls the detail-page identifier out of a listing href.
// The observed rule is an idx query parameter; returns "" when absent.
func ExtractAgencyIdx(href string) string {
	m := agencyIdxPattern.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return m[1]
}

func firstText(root *goquery.Selection, selectors ...string) string {
	for _, selector := range selectors {
		if sel := root.Find(selector).First(); sel.Length() > 0 {
			if text := strings.TrimSpace(sel.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

func firstAttr(root *goquery.Selection, attr string, selectors ...string) string {
	for _, selector := range selectors {
		if sel := root.Find(selector).First(); sel.Length() > 0 {
			if val, ok := sel.Attr(attr); ok && strings.TrimSpace(val) != "" {
				return strings.TrimSpace(val)
			}
		}
	}
	return ""
}
