package httpstages

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dcshock/scrapepipe/pipeline"
)

// ParseHTML returns a stage that parses its input ([]byte or string) into a
// *goquery.Document.
func ParseHTML() pipeline.Stage {
	return pipeline.Transform("parse_html", func(ctx context.Context, input any) (any, error) {
		raw, err := bodyOf(input)
		if err != nil {
			return nil, fmt.Errorf("parsehtml: %w", err)
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parsehtml: %w", err)
		}
		return doc, nil
	})
}

// SelectText returns a stage that yields the trimmed text of every element
// matching selector in an incoming *goquery.Document. Empty texts are skipped.
func SelectText(selector string) pipeline.Stage {
	return pipeline.FlatMap("select_text", func(ctx context.Context, input any) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			doc, ok := input.(*goquery.Document)
			if !ok {
				yield(nil, fmt.Errorf("select_text: input must be *goquery.Document, got %T", input))
				return
			}
			doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				text := strings.TrimSpace(s.Text())
				if text == "" {
					return true
				}
				return yield(text, nil)
			})
		}
	})
}

// SelectAttr returns a stage that yields attribute attr of every element
// matching selector, e.g. SelectAttr("a.event", "href").
func SelectAttr(selector, attr string) pipeline.Stage {
	return pipeline.FlatMap("select_attr", func(ctx context.Context, input any) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			doc, ok := input.(*goquery.Document)
			if !ok {
				yield(nil, fmt.Errorf("select_attr: input must be *goquery.Document, got %T", input))
				return
			}
			doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				v, ok := s.Attr(attr)
				if !ok {
					return true
				}
				return yield(strings.TrimSpace(v), nil)
			})
		}
	})
}
