package fetch

import (
	"net/url"
	"regexp"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"prowler/internal/model"
)

// pageContent is the parsed form of one HTML document, shared by every
// tier that starts from raw HTML.
type pageContent struct {
	Title       string
	Description string
	Markdown    string
	Text        string
	doc         *goquery.Document
}

var whitespaceRun = regexp.MustCompile(`[ \t\r\f]+`)
var blankLines = regexp.MustCompile(`\n{3,}`)

// parsePage runs the goquery + markdown pipeline over an HTML payload.
func parsePage(htmlStr, baseURL string) (*pageContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return nil, err
	}

	host := ""
	if u, err := url.Parse(baseURL); err == nil {
		host = u.Hostname()
	}

	converter := htmlmd.NewConverter(host, true, nil)
	markdown, mdErr := converter.ConvertString(htmlStr)

	// Strip non-content nodes before flattening to text.
	clone := doc.Clone()
	clone.Find("script, style, noscript").Remove()
	text := collapseText(clone.Text())
	if mdErr != nil {
		markdown = text
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	desc := doc.Find("meta[name=description]").AttrOr("content", "")
	if desc == "" {
		desc = doc.Find("meta[property='og:description']").AttrOr("content", "")
	}

	return &pageContent{
		Title:       title,
		Description: strings.TrimSpace(desc),
		Markdown:    markdown,
		Text:        text,
		doc:         doc,
	}, nil
}

// collapseText squeezes whitespace runs so flattened DOM text is
// comparable and countable.
func collapseText(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

var htmlMarker = regexp.MustCompile(`(?i)<html|<body|<!doctype`)

// looksLikeHTML guards against APIs and binary payloads being treated
// as pages.
func looksLikeHTML(body string) bool {
	return htmlMarker.MatchString(body)
}

// appendSection attaches augmented content (AJAX payloads, frame text)
// to a result: plain text gets a sentinel-delimited block, html gets a
// comment so the original markup stays parseable.
func appendSection(res *model.FetchResult, label, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	res.Text += "\n\n--- " + label + " ---\n" + content
	res.HTML += "\n<!-- " + label + "\n" + strings.ReplaceAll(content, "-->", "--\\>") + "\n-->"
}
