package server

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// checkFormTemplate parses the embedded form page and verifies it carries a
// control for every schema field. A schema key with no matching control
// would silently never round-trip through drafts, so a mismatch fails
// startup.
func (s *Server) checkFormTemplate() error {
	f, err := staticFS.Open("static/index.html")
	if err != nil {
		return fmt.Errorf("server: form template: %w", err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return fmt.Errorf("server: parse form template: %w", err)
	}

	names := map[string]bool{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "input", "select", "textarea":
				for _, a := range n.Attr {
					if a.Key == "name" && a.Val != "" {
						names[a.Val] = true
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var missing []string
	for _, d := range s.schema.Descs() {
		if !names[d.Key] {
			missing = append(missing, d.Key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("server: form template missing controls: %s", strings.Join(missing, ", "))
	}
	return nil
}
