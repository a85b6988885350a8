package source

import (
	"io"
	"regexp"

	"golang.org/x/net/html"
)

var (
	imageHref      = regexp.MustCompile(`^http://www[.]iorise[.]com/blog/wp-content/uploads/20[0-9]{2}/[01][0-9]/.+[.](jpg|jpeg)$`)
	attachmentHref = regexp.MustCompile(`^http://www[.]iorise[.]com/(blog/)?[?]attachment_id=[0-9]+$`)
	attachmentRel  = regexp.MustCompile(`^attachment wp-att-[0-9]+$`)
)

// ExtractImageLinks returns the full-size wallpaper URLs of a page. Only anchors
// carrying nothing but a matching href qualify; thumbnails and gallery links
// always carry extra attributes.
func ExtractImageLinks(r io.Reader) []string {
	return extractAnchors(r, func(attrs []html.Attribute) (string, bool) {
		var href string
		for _, a := range attrs {
			if a.Key != "href" {
				return "", false
			}
			if imageHref.MatchString(a.Val) {
				href = a.Val
			}
		}
		return href, href != ""
	})
}

// ExtractAttachmentLinks returns the attachment page URLs of a day page published
// in the older layout.
func ExtractAttachmentLinks(r io.Reader) []string {
	return extractAnchors(r, func(attrs []html.Attribute) (string, bool) {
		var href string
		relOK := false
		for _, a := range attrs {
			switch a.Key {
			case "href":
				if attachmentHref.MatchString(a.Val) {
					href = a.Val
				}
			case "rel":
				if attachmentRel.MatchString(a.Val) {
					relOK = true
				}
			default:
				return "", false
			}
		}
		return href, href != "" && relOK
	})
}

// extractAnchors walks every <a> start tag and keeps the href accept returns.
// Tokenizer errors end the walk with whatever was collected.
func extractAnchors(r io.Reader, accept func([]html.Attribute) (string, bool)) []string {
	var links []string
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "a" {
				continue
			}
			if href, ok := accept(tok.Attr); ok {
				links = append(links, href)
			}
		}
	}
}
