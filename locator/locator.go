// Package locator finds the images embedded in a page body.
package locator

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// EmoticonClass marks decorative images which are never summarized.
const EmoticonClass = "emoticon"

// Reference is an image found in a page body.
type Reference struct {
	URL     string
	AltText *string

	// Ordinal is the 0-based position of the image among the page's
	// qualifying images, in document order.
	Ordinal int
}

// Locate returns the images in markup in document order, skipping emoticons.
// An img element without a src is logged and skipped, it does not consume an
// ordinal. logger may be nil.
func Locate(markup string, logger *zap.Logger) ([]Reference, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}

	var refs []Reference
	doc.Find("img").Not("." + EmoticonClass).Each(func(i int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" {
			html, _ := goquery.OuterHtml(s)
			logger.Warn("skipping image without src", zap.String("element", html))
			return
		}

		ref := Reference{URL: src, Ordinal: len(refs)}
		if alt, ok := s.Attr("alt"); ok {
			ref.AltText = &alt
		}
		refs = append(refs, ref)
	})

	return refs, nil
}
