package insights

import (
	insightsclient "github.com/Apurer/go-annotation-service/internal/clients/http/insights"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
)

// toSummary converts the wire payload into the domain shape, preserving
// the server's category ordering. A null categories field maps to a nil
// summary: the remote answered but knows nothing usable, which callers
// must not cache. An empty list stays an empty, cacheable summary.
func toSummary(payload *insightsclient.SummaryPayload) *domain.RemarkSummary {
	if payload == nil || payload.Categories == nil {
		return nil
	}
	categories := make([]domain.CategoryCount, 0, len(payload.Categories))
	for _, rec := range payload.Categories {
		categories = append(categories, domain.CategoryCount{
			Name:      rec.Category,
			Count:     rec.Count,
			Truncated: rec.Truncated,
		})
	}
	return &domain.RemarkSummary{
		Handle:     payload.Handle,
		WindowDays: payload.WindowDays,
		SampleSize: payload.SampleSize,
		Categories: categories,
	}
}
