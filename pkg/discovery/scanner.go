package discovery

import (
	"context"

	"github.com/PentesterFlow/PSD2Scout/internal/errors"
	"github.com/PentesterFlow/PSD2Scout/internal/queue"
	"github.com/PentesterFlow/PSD2Scout/internal/scope"
	"github.com/PentesterFlow/PSD2Scout/internal/state"
)

// ScanSite crawls one seed URL within the depth and page budget and
// returns its endpoints. Failures of single pages are logged and skipped.
// The returned error is a *errors.SiteError and only occurs when the seed
// cannot be scanned at all or ctx is cancelled.
func (d *Discoverer) ScanSite(ctx context.Context, seed string) (*SiteScanResult, error) {
	checker, err := scope.NewChecker(seed)
	if err != nil {
		return nil, errors.NewSiteError(seed, err)
	}
	base, err := scope.BaseURL(seed)
	if err != nil {
		return nil, errors.NewSiteError(seed, err)
	}

	maxDepth := d.config.MaxDepth
	maxPages := d.config.MaxPages
	log := d.logger.WithSite(seed)

	visited := state.NewDeduplicator(maxPages)
	frontier := queue.NewFrontier(d.taxonomy.IsAPIRelatedURL)
	start, ok := checker.Clean(seed)
	if !ok {
		start = seed
	}
	frontier.Push(start, 0)

	result := &SiteScanResult{
		URL:             seed,
		Status:          StatusSuccess,
		APIRelatedPages: []APIRelatedPage{},
	}
	var endpoints []APIEndpoint

	for !frontier.IsEmpty() && result.PagesScanned < maxPages {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewSiteError(seed, errors.NewCancelledError(seed, "scan", err))
		}

		entry, err := frontier.Pop()
		if err != nil {
			break
		}
		if entry.Depth > maxDepth || visited.HasSeen(entry.URL) {
			continue
		}

		visited.Add(entry.URL)
		result.PagesScanned++
		d.metrics.RecordPageCrawled()

		analysis, err := d.analyzer.Analyze(ctx, entry.URL, checker)
		if err != nil {
			if errors.GetErrorType(err) == errors.Cancelled && ctx.Err() != nil {
				return nil, errors.NewSiteError(seed, err)
			}
			log.WithURL(entry.URL).WithDepth(entry.Depth).WithError(err).
				WithField("error_type", errors.GetErrorType(err).String()).
				WithField("status_code", errors.GetStatusCode(err)).
				Warn("Error analyzing page")
			continue
		}

		log.PageEvent(entry.URL, entry.Depth, analysis.RelevanceScore, analysis.IsAPIRelated)

		if analysis.IsAPIRelated {
			result.APIRelatedPages = append(result.APIRelatedPages, APIRelatedPage{
				URL:            entry.URL,
				RelevanceScore: analysis.RelevanceScore,
				Keywords:       analysis.Keywords,
			})
			d.metrics.RecordAPIPage()

			for _, ep := range Synthesize(analysis, entry.URL, base, d.clock()) {
				log.EndpointEvent(string(ep.APIType), ep.URL, ep.SourcePage)
				endpoints = append(endpoints, ep)
			}
		}

		if entry.Depth < maxDepth {
			frontier.PushBatch(analysis.Links, entry.Depth+1)
		}
	}

	result.APIs = Dedupe(endpoints)
	d.metrics.RecordEndpoints(len(result.APIs), len(endpoints)-len(result.APIs))

	return result, nil
}
