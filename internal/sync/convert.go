package sync

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/suitableit/smm-panel-backend/internal/db/repositories"
	"github.com/suitableit/smm-panel-backend/internal/upstream"
)

// toUpstreamUpdate converts a catalog entry into the update applied to
// the imported row. The stored rate is the upstream rate marked up by
// the profit margin multiplier, rounded to the column scale.
func toUpstreamUpdate(svc upstream.Service, multiplier decimal.Decimal) (repositories.UpstreamUpdate, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(string(svc.Rate)))
	if err != nil {
		return repositories.UpstreamUpdate{}, fmt.Errorf("invalid rate %q: %w", svc.Rate, err)
	}

	return repositories.UpstreamUpdate{
		UpstreamServiceID: string(svc.ID),
		Rate:              rate.Mul(multiplier).Round(4),
		MinQuantity:       int(svc.Min),
		MaxQuantity:       int(svc.Max),
		Status:            normalizeServiceStatus(string(svc.Status)),
	}, nil
}

// normalizeServiceStatus maps the assorted upstream status spellings
// onto our two-state model. Absent or unrecognized values count as
// active; only explicit disable markers deactivate a service.
func normalizeServiceStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inactive", "disabled", "0", "false", "off":
		return "inactive"
	}
	return "active"
}
