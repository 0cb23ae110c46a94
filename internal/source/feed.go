package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/TobiSchelling/meddash/internal/article"
)

const defaultMaxPerFeed = 100

// Feed is one RSS or Atom feed, typically a PubMed saved-search feed.
type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// FeedSource reads articles from PubMed RSS feeds.
type FeedSource struct {
	feeds      []Feed
	parser     *gofeed.Parser
	maxPerFeed int
	logger     *zap.Logger
}

// NewFeedSource creates a feed source. A nil client uses a 30s timeout.
func NewFeedSource(feeds []Feed, client *http.Client, logger *zap.Logger) *FeedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = toolName + "/1.0"
	return &FeedSource{feeds: feeds, parser: parser, maxPerFeed: defaultMaxPerFeed, logger: logger}
}

// Name identifies the source in run logs.
func (fs *FeedSource) Name() string { return "feeds" }

// Articles yields feed items inside the query window. Undated items are kept.
// A feed that fails is logged and skipped; only when every feed fails is an
// error yielded.
func (fs *FeedSource) Articles(ctx context.Context, q Query) iter.Seq2[article.Raw, error] {
	return func(yield func(article.Raw, error) bool) {
		var errs []error
		for _, f := range fs.feeds {
			feed, err := fs.parser.ParseURLWithContext(f.URL, ctx)
			if err != nil {
				fs.logger.Warn("feed failed", zap.String("url", f.URL), zap.Error(err))
				errs = append(errs, fmt.Errorf("feed %s: %w", f.URL, err))
				continue
			}
			name := f.Name
			if name == "" {
				name = feed.Title
			}
			kept := 0
			for _, item := range feed.Items {
				if kept >= fs.maxPerFeed {
					break
				}
				raw, ok := itemRaw(item, name)
				if !ok || !q.selects(raw) {
					continue
				}
				kept++
				if !yield(raw, nil) {
					return
				}
			}
			fs.logger.Info("feed parsed", zap.String("feed", name), zap.Int("items", kept))
		}
		if len(fs.feeds) > 0 && len(errs) == len(fs.feeds) {
			yield(article.Raw{}, errors.Join(errs...))
		}
	}
}

// selects applies the identifier list or publication window to a feed item.
func (q Query) selects(raw article.Raw) bool {
	if len(q.IDs) > 0 {
		return slices.Contains(q.IDs, raw.ExternalID)
	}
	key := article.DateSortKey(raw.PublicationDate)
	if key == "" {
		return true
	}
	if q.From != "" && key < q.From {
		return false
	}
	if q.To != "" && key > q.To {
		return false
	}
	return true
}

func itemRaw(item *gofeed.Item, feedName string) (article.Raw, bool) {
	pmid := ""
	for _, candidate := range []string{item.Link, item.GUID} {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "pubmed:")
		if id, err := article.ExtractPMID(candidate); err == nil {
			pmid = id
			break
		}
	}
	title := StripMarkup(item.Title)
	if pmid == "" || title == "" {
		return article.Raw{}, false
	}

	raw := article.Raw{
		ExternalID: pmid,
		Title:      title,
		URL:        article.PubMedURL(pmid),
		Source:     "feed:" + feedName,
	}
	switch {
	case item.Content != "":
		raw.Abstract = StripMarkup(item.Content)
	case item.Description != "":
		raw.Abstract = StripMarkup(item.Description)
	}
	for _, p := range item.Authors {
		if p != nil && strings.TrimSpace(p.Name) != "" {
			raw.Authors = append(raw.Authors, strings.TrimSpace(p.Name))
		}
	}
	switch {
	case item.PublishedParsed != nil:
		raw.PublicationDate = item.PublishedParsed.Format("2006-01-02")
	case item.UpdatedParsed != nil:
		raw.PublicationDate = item.UpdatedParsed.Format("2006-01-02")
	}
	if dc := item.DublinCoreExt; dc != nil {
		if len(dc.Source) > 0 {
			raw.Journal = strings.TrimSpace(dc.Source[0])
		}
		for _, id := range dc.Identifier {
			if doi, ok := strings.CutPrefix(strings.TrimSpace(id), "doi:"); ok {
				raw.DOI = doi
			}
		}
		if len(raw.Authors) == 0 {
			for _, c := range dc.Creator {
				if c = strings.TrimSpace(c); c != "" {
					raw.Authors = append(raw.Authors, c)
				}
			}
		}
	}
	return raw, true
}
