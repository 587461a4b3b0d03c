package fichier

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// nbsp separates a directory's name from its decorations in the listing.
const nbsp = "\u00a0"

// parseDirs extracts child directories from a dirs.pl fragment. Each entry
// is an <li rel="id"> whose first <div> holds the name; a nested div.fcp
// marks a node with sub-directories.
func parseDirs(body []byte) ([]DirEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fichier: parsing directory listing: %w", err)
	}

	var dirs []DirEntry

	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		id, ok := li.Attr("rel")
		if !ok || id == "" {
			return
		}

		div := li.Find("div").First()
		name := strings.TrimSpace(strings.SplitN(div.Text(), nbsp, 2)[0])

		dirs = append(dirs, DirEntry{
			ID:          id,
			Name:        name,
			HasChildren: div.Find("div.fcp").Length() > 0,
		})
	})

	return dirs, nil
}

// parseFiles extracts file rows from a files.pl fragment, preserving the
// listing order.
func parseFiles(body []byte) ([]fileEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fichier: parsing file listing: %w", err)
	}

	var files []fileEntry

	doc.Find("li.file").Each(func(_ int, li *goquery.Selection) {
		id, ok := li.Attr("rel")
		if !ok || id == "" {
			return
		}

		files = append(files, fileEntry{
			ID:   id,
			Name: strings.TrimSpace(leadingText(li.Find("a").First())),
		})
	})

	return files, nil
}

// leadingText returns the anchor's first child when it is a text node, so
// badges nested after the name are not folded into it. An anchor that opens
// with an element falls back to that element's text.
func leadingText(a *goquery.Selection) string {
	first := a.Contents().First()
	if first.Length() == 0 {
		return ""
	}

	if node := first.Get(0); node.Type == html.TextNode {
		return node.Data
	}

	return first.Text()
}

// parseLink returns the first anchor in a link.pl fragment that points back
// at the service (prefix is the base URL with a trailing slash).
func parseLink(body []byte, prefix string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("fichier: parsing link page: %w", err)
	}

	var link string

	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if strings.HasPrefix(href, prefix) {
			link = href
			return false
		}

		return true
	})

	if link == "" {
		return "", fmt.Errorf("fichier: no download link in response: %w", ErrUnexpectedResponse)
	}

	return link, nil
}

// parseDirectURL takes the first field of the semicolon-delimited answer to
// an authenticated download link.
func parseDirectURL(body []byte) (string, error) {
	first, _, _ := strings.Cut(string(body), ";")
	first = strings.TrimSpace(first)

	if !strings.HasPrefix(first, "http://") && !strings.HasPrefix(first, "https://") {
		return "", fmt.Errorf("fichier: no direct url in download response: %w", ErrUnexpectedResponse)
	}

	return first, nil
}
