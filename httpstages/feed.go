package httpstages

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/dcshock/scrapepipe/pipeline"
	"github.com/mmcdole/gofeed"
)

// ParseFeed parses an RSS, Atom or JSON feed body into a *gofeed.Feed.
func ParseFeed() pipeline.Stage {
	return pipeline.Transform("parse_feed", func(ctx context.Context, input any) (any, error) {
		body, err := bodyOf(input)
		if err != nil {
			return nil, fmt.Errorf("parse_feed: %w", err)
		}
		feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse_feed: %w", err)
		}
		return feed, nil
	})
}

// FeedItems fans a *gofeed.Feed out into one record per item with the keys
// guid, title, link, published, updated and description. Dates the feed
// does not carry, or that gofeed cannot read, are nil.
func FeedItems() pipeline.Stage {
	return pipeline.FlatMap("feed_items", func(ctx context.Context, input any) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			feed, ok := input.(*gofeed.Feed)
			if !ok {
				yield(nil, fmt.Errorf("feed_items: want *gofeed.Feed, got %T", input))
				return
			}
			for _, item := range feed.Items {
				rec := pipeline.NewRecord(
					"guid", item.GUID,
					"title", item.Title,
					"link", item.Link,
					"published", timeOrNil(item.PublishedParsed),
					"updated", timeOrNil(item.UpdatedParsed),
					"description", item.Description,
				)
				if !yield(rec, nil) {
					return
				}
			}
		}
	})
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
