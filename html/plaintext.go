package html

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements whose text never shows up in a mail client.
var ignoredSelector cascadia.Selector = cascadia.MustCompile("head, script, style, template, noscript")

// These elements start on a new line and are followed by one. Inline
// elements such as a, b or span are rendered in place.
var blockTags = map[atom.Atom]struct{}{
	atom.Address:    {},
	atom.Article:    {},
	atom.Blockquote: {},
	atom.Div:        {},
	atom.Footer:     {},
	atom.H1:         {},
	atom.H2:         {},
	atom.H3:         {},
	atom.H4:         {},
	atom.H5:         {},
	atom.H6:         {},
	atom.Header:     {},
	atom.Hr:         {},
	atom.Ol:         {},
	atom.P:          {},
	atom.Pre:        {},
	atom.Section:    {},
	atom.Table:      {},
	atom.Ul:         {},
}

var whitespaceRe *regexp.Regexp = regexp.MustCompile(`\s+`)
var blankLinesRe *regexp.Regexp = regexp.MustCompile(`\n{3,}`)

// PlainText renders body, an HTML document or fragment, as readable plain
// text. Paragraphs and other block elements are separated by blank lines,
// list items become "- " lines, and links are followed by their URL in
// parentheses unless the link text already is the URL.
func PlainText(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}

	doc, err := html.Parse(strings.NewReader(body))
	// html.Parse only fails if the reader does, which a strings.Reader
	// won't.
	if err != nil {
		return body
	}

	for _, n := range ignoredSelector.MatchAll(doc) {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	var b strings.Builder
	writeText(&b, doc)
	return tidy(b.String())
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(whitespaceRe.ReplaceAllString(n.Data, " "))
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Br:
			b.WriteString("\n")
			return
		case atom.Img:
			b.WriteString(attr(n, "alt"))
			return
		case atom.Li:
			b.WriteString("\n- ")
		case atom.Td, atom.Th:
			b.WriteString(" ")
		}
		if _, ok := blockTags[n.DataAtom]; ok {
			b.WriteString("\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}

	if n.Type != html.ElementNode {
		return
	}

	if n.DataAtom == atom.A {
		href := attr(n, "href")
		if href != "" && href != strings.TrimSpace(textContent(n)) {
			fmt.Fprintf(b, " (%v)", href)
		}
	}

	if _, ok := blockTags[n.DataAtom]; ok || n.DataAtom == atom.Tr {
		b.WriteString("\n")
	}
}

// tidy trims every line, collapses runs of spaces and allows at most one
// blank line in a row.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	s = strings.Join(lines, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}
