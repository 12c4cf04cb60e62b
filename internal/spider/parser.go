package spider

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Parser extracts links and page metadata from HTML.
// Relative references are resolved against the page URL, or against a
// <base href> when the document declares one.
type Parser struct {
	baseURL *url.URL
}

// ParseResult is what Parser finds in one document.
type ParseResult struct {
	// Title is the text of the first <title> element.
	Title string

	// Links are resolved <a href> targets in document order, without
	// duplicates.
	Links []string

	// InternalLinks are the Links on the page's own host.
	InternalLinks []string

	// ExternalLinks are the Links on other hosts.
	ExternalLinks []string

	// NoFollow holds links marked rel="nofollow".
	NoFollow map[string]bool

	// Scripts and Images are resolved src attributes.
	Scripts []string
	Images  []string

	// MetaTags maps meta name (or property) to content.
	MetaTags map[string]string

	// Canonical is the resolved <link rel="canonical"> target.
	Canonical string

	// Forms lists the forms on the page.
	Forms []Form
}

// Form describes an HTML form.
type Form struct {
	Action string
	Method string
	Fields []string
}

// RobotsNoFollow reports whether the page asks crawlers not to follow
// its links.
func (r *ParseResult) RobotsNoFollow() bool {
	return strings.Contains(strings.ToLower(r.MetaTags["robots"]), "nofollow")
}

// NewParser creates a parser for a page at baseURL.
func NewParser(baseURL string) (*Parser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Parser{baseURL: u}, nil
}

// Parse parses an HTML document.
func (p *Parser) Parse(content io.Reader) (*ParseResult, error) {
	doc, err := html.Parse(content)
	if err != nil {
		return nil, err
	}
	return p.ParseNode(doc), nil
}

// ParseNode extracts from an already parsed document.
func (p *Parser) ParseNode(doc *html.Node) *ParseResult {
	result := &ParseResult{
		Links:         make([]string, 0),
		InternalLinks: make([]string, 0),
		ExternalLinks: make([]string, 0),
		NoFollow:      make(map[string]bool),
		Scripts:       make([]string, 0),
		Images:        make([]string, 0),
		MetaTags:      make(map[string]string),
		Forms:         make([]Form, 0),
	}

	if href := findBase(doc); href != "" {
		if b, err := url.Parse(href); err == nil {
			p = &Parser{baseURL: p.baseURL.ResolveReference(b)}
		}
	}

	seen := make(map[string]bool)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			p.processElement(n, result, seen)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return result
}

func findBase(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "base" {
		return getAttr(n, "href")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if href := findBase(c); href != "" {
			return href
		}
	}
	return ""
}

func (p *Parser) processElement(n *html.Node, result *ParseResult, seen map[string]bool) {
	switch n.Data {
	case "title":
		if result.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			result.Title = strings.TrimSpace(n.FirstChild.Data)
		}

	case "a", "area":
		link := p.resolveURL(getAttr(n, "href"))
		if link == "" {
			return
		}
		if hasToken(getAttr(n, "rel"), "nofollow") {
			result.NoFollow[link] = true
		}
		if seen[link] {
			return
		}
		seen[link] = true
		result.Links = append(result.Links, link)
		if p.sameHost(link) {
			result.InternalLinks = append(result.InternalLinks, link)
		} else {
			result.ExternalLinks = append(result.ExternalLinks, link)
		}

	case "script":
		if src := p.resolveURL(getAttr(n, "src")); src != "" {
			result.Scripts = append(result.Scripts, src)
		}

	case "img":
		if src := p.resolveURL(getAttr(n, "src")); src != "" {
			result.Images = append(result.Images, src)
		}

	case "meta":
		name := getAttr(n, "name")
		if name == "" {
			name = getAttr(n, "property")
		}
		if content := getAttr(n, "content"); name != "" && content != "" {
			result.MetaTags[strings.ToLower(name)] = content
		}

	case "link":
		if hasToken(getAttr(n, "rel"), "canonical") {
			result.Canonical = p.resolveURL(getAttr(n, "href"))
		}

	case "form":
		form := Form{
			Action: p.resolveURL(getAttr(n, "action")),
			Method: strings.ToUpper(getAttr(n, "method")),
		}
		if form.Action == "" {
			form.Action = p.baseURL.String()
		}
		if form.Method == "" {
			form.Method = "GET"
		}
		collectFields(n, &form)
		result.Forms = append(result.Forms, form)
	}
}

func collectFields(n *html.Node, form *Form) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "input", "select", "textarea", "button":
			if name := getAttr(n, "name"); name != "" {
				form.Fields = append(form.Fields, name)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectFields(c, form)
	}
}

// resolveURL resolves href against the base URL. Non-navigational
// references (javascript:, mailto:, tel:, data:, bare fragments) and
// schemes other than http and https yield "". Fragments are dropped.
func (p *Parser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := p.baseURL.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String()
}

func (p *Parser) sameHost(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, p.baseURL.Host)
}

func hasToken(attr, token string) bool {
	for _, f := range strings.Fields(strings.ToLower(attr)) {
		if f == token {
			return true
		}
	}
	return false
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
