package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderService is a service imported from an upstream provider's
// catalog. Rows are created by an import flow outside this service;
// synchronization only updates rows that already exist.
type ProviderService struct {
	ID                int64           `db:"id" json:"id"`
	ProviderID        int64           `db:"provider_id" json:"providerId"`
	UpstreamServiceID string          `db:"upstream_service_id" json:"upstreamServiceId"`
	Name              string          `db:"name" json:"name"`
	Category          string          `db:"category" json:"category"`
	Rate              decimal.Decimal `db:"rate" json:"rate"`
	MinQuantity       int             `db:"min_quantity" json:"minQuantity"`
	MaxQuantity       int             `db:"max_quantity" json:"maxQuantity"`
	Status            string          `db:"status" json:"status"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updatedAt"`
}
