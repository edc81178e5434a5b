package article

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	sanitizer    = bluemonday.UGCPolicy()
	tripleBreaks = regexp.MustCompile(`\n\s*\n\s*\n`)
	spaceRun     = regexp.MustCompile(`[ \t\r\f\v]+`)
)

type cleanupConfig struct {
	formatTables bool
	imageLinks   bool
}

// cleanup converts an html fragment to plain text and returns the image and anchor links found in it
func cleanup(text string, cfg cleanupConfig) (res string, images, anchors []string) {
	if strings.TrimSpace(text) == "" {
		return "", nil, nil
	}

	doc, err := html.Parse(strings.NewReader(sanitizer.Sanitize(text)))
	if err != nil {
		return strings.TrimSpace(text), nil, nil
	}

	w := &textWriter{cfg: cfg}
	w.walk(doc)

	out := tripleBreaks.ReplaceAllString(w.buf.String(), "\n\n")
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(strings.TrimLeft(l, " "), " \t")
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n "), w.images, w.anchors
}

type textWriter struct {
	cfg     cleanupConfig
	buf     strings.Builder
	images  []string
	anchors []string
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.buf.WriteString(spaceRun.ReplaceAllString(strings.ReplaceAll(n.Data, "\n", " "), " "))
		return
	case html.ElementNode:
		if w.element(n) {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

// element writes element-specific output, returns true if children were handled
func (w *textWriter) element(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Img:
		w.image(n)
		return true
	case atom.Br:
		w.buf.WriteString("\n")
		return true
	case atom.A:
		if href := strings.TrimSpace(attr(n, "href")); href != "" && len(w.anchors) < maxAnchors {
			w.anchors = append(w.anchors, href)
		}
		return false
	case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Blockquote, atom.Pre, atom.Ul, atom.Ol:
		w.buf.WriteString("\n\n")
		w.children(n)
		w.buf.WriteString("\n\n")
		return true
	case atom.Li:
		w.buf.WriteString("\n * ")
		w.children(n)
		return true
	case atom.Tr:
		w.buf.WriteString("\n")
		w.row(n)
		return true
	}
	return false
}

func (w *textWriter) row(tr *html.Node) {
	first := true
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		if !first {
			if w.cfg.formatTables {
				w.buf.WriteString(" | ")
			} else {
				w.buf.WriteString(" ")
			}
		}
		first = false
		w.children(c)
	}
}

func (w *textWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *textWriter) image(n *html.Node) {
	link := strings.TrimSpace(attr(n, "src"))
	if link == "" {
		return
	}
	switch {
	case strings.HasPrefix(link, "//"):
		link = "http:" + link
	case !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://"):
		link = "http://" + link
	}
	if len(w.images) < maxImages {
		w.images = append(w.images, link)
	}
	if w.cfg.imageLinks {
		w.buf.WriteString(link)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
