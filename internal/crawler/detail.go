package crawler

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DetailStrategy is one attempt at pulling the long-form description out of
// an agency detail page. Strategies are pure and independently testable; the
// chain tries them in priority order and keeps the first non-empty result.
type DetailStrategy struct {
	Name    string
	Extract func(doc *goquery.Document) string
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// maxBodyFallbackRunes bounds the last-resort body-text extraction.
const maxBodyFallbackRunes = 1000

// DefaultDetailStrategies returns the selector chain observed to cover the
// directory's detail-page markup variants, most specific first.
func DefaultDetailStrategies() []DetailStrategy {
	selectorStrategy := func(selector string) func(*goquery.Document) string {
		return func(doc *goquery.Document) string {
			return strings.TrimSpace(doc.Find(selector).First().Text())
		}
	}
	return []DetailStrategy{
		{Name: "intro_exact", Extract: selectorStrategy("#_RST_dir div.cont_main div.intro")},
		{Name: "intro_class", Extract: selectorStrategy("div.intro")},
		{Name: "intro_partial", Extract: selectorStrategy("div[class*='intro']")},
		{Name: "cont_main_intro", Extract: selectorStrategy("div.cont_main div[class*='intro']")},
		{Name: "cont_main_para", Extract: selectorStrategy("div.cont_main p")},
		{Name: "rst_para", Extract: selectorStrategy("#_RST_dir p")},
		{Name: "body_text", Extract: bodyTextFallback},
	}
}

// ParseAgencyDetail runs the strategies in order and returns the first
// non-empty description, or "" when every strategy comes up empty.
func ParseAgencyDetail(doc *goquery.Document, strategies []DetailStrategy) (string, string) {
	for _, strategy := range strategies {
		if text := strategy.Extract(doc); text != "" {
			return text, strategy.Name
		}
	}
	return "", ""
}

func bodyTextFallback(doc *goquery.Document) string {
	text := whitespaceRun.ReplaceAllString(strings.TrimSpace(doc.Find("body").Text()), " ")
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) > maxBodyFallbackRunes {
		runes = runes[:maxBodyFallbackRunes]
	}
	return string(runes)
}
