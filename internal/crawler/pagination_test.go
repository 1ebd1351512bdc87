package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveAgainstBase(link string) string {
	if link == "" || link[0] != '/' {
		return link
	}
	return "https://dir.test" + link
}

func parsePaginationHTML(t *testing.T, html string) Pagination {
	t.Helper()
	doc, err := ParseDocument(Page{URL: "https://dir.test/list", Body: []byte(html)})
	require.NoError(t, err)
	return ParsePagination(doc, resolveAgainstBase)
}

func TestParsePaginationNextHref(t *testing.T) {
	p := parsePaginationHTML(t, `<div class="paging">
		<a class="LF_page_link_current">1</a>
		<a href="/list?page=2">2</a>
		<a href="/list?page=2">다음</a>
	</div>`)
	assert.True(t, p.HasNext)
	assert.Equal(t, "https://dir.test/list?page=2", p.NextURL)
	assert.Empty(t, p.ClickScript)
}

func TestParsePaginationScriptDriven(t *testing.T) {
	p := parsePaginationHTML(t, `<div class="paging">
		<a href="#">1</a>
		<a href="javascript:void(0)">다음</a>
	</div>`)
	assert.True(t, p.HasNext)
	assert.Empty(t, p.NextURL)
	assert.Equal(t, `document.querySelectorAll("div.paging a")[1].click()`, p.ClickScript)
}

func TestParsePaginationDisabledNext(t *testing.T) {
	p := parsePaginationHTML(t, `<div class="paging">
		<a>1</a>
		<a class="next disabled">다음</a>
	</div>`)
	assert.False(t, p.HasNext)
}

func TestParsePaginationNoControl(t *testing.T) {
	p := parsePaginationHTML(t, `<div class="content">no paging here</div>`)
	assert.False(t, p.HasNext)
}

func TestParsePaginationNumericSuccessor(t *testing.T) {
	p := parsePaginationHTML(t, `<ul class="pagination">
		<a href="/list?page=1">1</a>
		<a class="LF_page_link_current">2</a>
		<a href="/list?page=3">3</a>
	</ul>`)
	assert.True(t, p.HasNext)
	assert.Equal(t, "https://dir.test/list?page=3", p.NextURL)
}

func TestParsePaginationStopsOnLastMarkedPage(t *testing.T) {
	p := parsePaginationHTML(t, `<div class="paging">
		<a href="/list?page=4">4</a>
		<a class="LF_page_link_current" href="/list?page=5">5</a>
	</div>`)
	assert.False(t, p.HasNext)
	assert.Empty(t, p.NextURL)
}

func TestParsePaginationLastLinkBackToStart(t *testing.T) {
	p := parsePaginationHTML(t, `<div class="paging">
		<a href="/list?page=1">5</a>
		<a href="/list">처음</a>
	</div>`)
	assert.False(t, p.HasNext)
}

func TestParsePaginationAriaLabel(t *testing.T) {
	p := parsePaginationHTML(t, `<nav class="pagination">
		<a href="/list?page=1">1</a>
		<a aria-label="Next page" href="/list?page=2">2</a>
	</nav>`)
	assert.True(t, p.HasNext)
	assert.Equal(t, "https://dir.test/list?page=2", p.NextURL)
}
