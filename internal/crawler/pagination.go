package crawler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Pagination describes how to reach the next listing page, if any. When the
// next control carries a real href the engine navigates to NextURL; when it
// is script-driven the engine evaluates ClickScript in the live tab.
type Pagination struct {
	HasNext     bool
	NextURL     string
	ClickScript string
}

var paginationContainerSelectors = []string{
	"div.paging",
	"div[class*='paging']",
	"ul.pagination",
	"div.pagination",
	"nav.pagination",
	".page_nav",
	"[class*='pagination']",
	"[class*='page_navi']",
	"div.bbsPaging",
}

var nextTextPatterns = []string{"다음", ">", "next", "→", "▶"}

var firstPagePatterns = []string{"처음", "첫 페이지", "<<", "first", "맨앞"}

// ParsePagination inspects the page's pagination control and resolves the
// next-page action. resolve absolutizes relative hrefs. Absence of a control,
// of a next button, or a disabled next button all mean the listing ended.
func ParsePagination(doc *goquery.Document, resolve func(string) string) Pagination {
	var container *goquery.Selection
	var containerSelector string
	for _, selector := range paginationContainerSelectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			container, containerSelector = sel, selector
			break
		}
	}
	if container == nil {
		return Pagination{}
	}

	links := container.Find("a")
	if links.Length() == 0 {
		return Pagination{}
	}

	idx := findNextLink(links)
	if idx < 0 {
		return Pagination{}
	}
	next := links.Eq(idx)
	if class, _ := next.Attr("class"); strings.Contains(class, "disabled") || strings.Contains(class, "none") {
		return Pagination{}
	}

	if href, ok := next.Attr("href"); ok {
		href = strings.TrimSpace(href)
		if href != "" && href != "#" && !strings.HasPrefix(href, "javascript:") {
			return Pagination{HasNext: true, NextURL: resolve(href)}
		}
	}
	script := fmt.Sprintf("document.querySelectorAll(%q)[%d].click()", containerSelector+" a", idx)
	return Pagination{HasNext: true, ClickScript: script}
}

// findNextLink returns the index of the link most likely to advance the page,
// or -1. Discovery order: explicit next text, arrow-ish inner HTML, aria
// labels, the numeric successor of the current-page marker, then the last
// link unless it points back to the start. A marker with no successor means
// the listing is on its last page, so the trailing-link fallback only applies
// when no marker was found at all.
func findNextLink(links *goquery.Selection) int {
	found := -1
	links.EachWithBreak(func(i int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		for _, pattern := range nextTextPatterns {
			if text == pattern || strings.Contains(text, pattern) {
				found = i
				return false
			}
		}
		if html, err := sel.Html(); err == nil {
			lower := strings.ToLower(html)
			if strings.Contains(lower, "next") || strings.Contains(lower, "arr") || strings.Contains(lower, "right") {
				found = i
				return false
			}
		}
		if label, ok := sel.Attr("aria-label"); ok {
			lower := strings.ToLower(label)
			if strings.Contains(lower, "next") || strings.Contains(lower, "다음") {
				found = i
				return false
			}
		}
		return true
	})
	if found >= 0 {
		return found
	}

	if idx, marked := successorOfCurrent(links); marked {
		return idx
	}

	last := links.Length() - 1
	lastText := strings.TrimSpace(links.Eq(last).Text())
	for _, pattern := range firstPagePatterns {
		if lastText == pattern {
			return -1
		}
	}
	if links.Length() > 1 {
		return last
	}
	return -1
}

// successorOfCurrent locates the current-page marker and the link whose text
// is the next page number. marked reports whether a marker was present at
// all; next is -1 when the marker exists but nothing follows it.
func successorOfCurrent(links *goquery.Selection) (next int, marked bool) {
	current := -1
	currentNum := 0
	links.Each(func(i int, sel *goquery.Selection) {
		class, _ := sel.Attr("class")
		if strings.Contains(class, "LF_page_link_current") ||
			strings.Contains(class, "active") ||
			strings.Contains(class, "current") {
			current = i
			currentNum, _ = strconv.Atoi(strings.TrimSpace(sel.Text()))
		}
	})
	if current < 0 {
		return -1, false
	}
	next = -1
	if currentNum > 0 {
		links.Each(func(i int, sel *goquery.Selection) {
			if n, err := strconv.Atoi(strings.TrimSpace(sel.Text())); err == nil && n == currentNum+1 {
				next = i
			}
		})
	}
	return next, true
}
