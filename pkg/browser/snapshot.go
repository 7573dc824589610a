package browser

import (
	"strings"

	"golang.org/x/net/html"
)

// DOMSummary captures the coarse shape of a page for error diagnostics: when
// a wait fails, knowing which page we actually landed on is the difference
// between "re-run bootstrap" and "check the selector".
type DOMSummary struct {
	Title     string
	Headings  []string
	LoginForm bool
}

// SummarizeDOM parses raw HTML and extracts its title, top-level headings,
// and whether a password form is present. Parse failures yield an empty
// summary; this is diagnostic-only and must never fail a flow.
func SummarizeDOM(rawHTML string) DOMSummary {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return DOMSummary{}
	}

	var summary DOMSummary
	walkNodes(doc, &summary)
	return summary
}

func walkNodes(n *html.Node, summary *DOMSummary) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "title":
			if summary.Title == "" {
				summary.Title = strings.TrimSpace(textOf(n))
			}
		case "h1", "h2":
			if len(summary.Headings) < 8 {
				if text := strings.TrimSpace(textOf(n)); text != "" {
					summary.Headings = append(summary.Headings, text)
				}
			}
		case "input":
			for _, attr := range n.Attr {
				if attr.Key == "type" && attr.Val == "password" {
					summary.LoginForm = true
				}
			}
		}
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walkNodes(child, summary)
	}
}

func textOf(n *html.Node) string {
	var builder strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			builder.WriteString(child.Data)
		} else {
			builder.WriteString(textOf(child))
		}
	}
	return builder.String()
}
