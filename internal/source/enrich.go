package source

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/TobiSchelling/meddash/internal/article"
)

const (
	minExtractedChars = 100
	maxExtractedChars = 4000
)

// Enricher fills missing abstracts from the article landing page.
type Enricher struct {
	client *http.Client
	logger *zap.Logger

	mu            sync.Mutex
	failedDomains map[string]struct{}
}

// NewEnricher creates an enricher. A zero timeout uses 15s.
func NewEnricher(timeout time.Duration, logger *zap.Logger) *Enricher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger:        logger,
		failedDomains: make(map[string]struct{}),
	}
}

// Wrap enriches every record of seq that lacks an abstract.
func (e *Enricher) Wrap(ctx context.Context, seq iter.Seq2[article.Raw, error]) iter.Seq2[article.Raw, error] {
	return func(yield func(article.Raw, error) bool) {
		for raw, err := range seq {
			if err == nil {
				raw = e.Enrich(ctx, raw)
			}
			if !yield(raw, err) {
				return
			}
		}
	}
}

// Lister yields raw records for a query.
type Lister interface {
	Articles(ctx context.Context, q Query) iter.Seq2[article.Raw, error]
}

// Source returns a Lister that enriches the records of l.
func (e *Enricher) Source(l Lister) Lister {
	return enriched{inner: l, e: e}
}

type enriched struct {
	inner Lister
	e     *Enricher
}

func (s enriched) Articles(ctx context.Context, q Query) iter.Seq2[article.Raw, error] {
	return s.e.Wrap(ctx, s.inner.Articles(ctx, q))
}

// Enrich returns raw with an abstract extracted from its DOI or URL landing
// page. Failures leave the record unchanged; a domain that answers with an
// HTTP error is not asked again.
func (e *Enricher) Enrich(ctx context.Context, raw article.Raw) article.Raw {
	if strings.TrimSpace(raw.Abstract) != "" {
		return raw
	}
	target := raw.URL
	if raw.DOI != "" {
		target = "https://doi.org/" + raw.DOI
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return raw
	}
	domain := strings.ToLower(u.Host)
	if e.domainFailed(domain) {
		return raw
	}

	text, err := e.extract(ctx, u)
	if err != nil {
		e.logger.Debug("abstract enrichment failed",
			zap.String("external_id", raw.ExternalID),
			zap.String("url", target),
			zap.Error(err),
		)
		if _, ok := err.(*httpError); ok {
			e.markFailed(domain)
		}
		return raw
	}
	if text != "" {
		raw.Abstract = text
		e.logger.Debug("abstract enriched", zap.String("external_id", raw.ExternalID))
	}
	return raw
}

func (e *Enricher) extract(ctx context.Context, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", toolName+"/1.0 (literature curation)")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	page, err := readability.FromReader(io.LimitReader(resp.Body, maxResponseBytes), resp.Request.URL)
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	text := strings.Join(strings.Fields(page.TextContent), " ")
	if len(text) < minExtractedChars {
		return "", nil
	}
	if len(text) > maxExtractedChars {
		text = strings.ToValidUTF8(text[:maxExtractedChars], "")
	}
	return text, nil
}

func (e *Enricher) domainFailed(domain string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.failedDomains[domain]
	return ok
}

func (e *Enricher) markFailed(domain string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedDomains[domain] = struct{}{}
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, http.StatusText(e.code))
}
