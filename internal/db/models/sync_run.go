package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncRunStatus is the terminal (or in-flight) state of a sync run.
type SyncRunStatus string

const (
	SyncRunRunning SyncRunStatus = "running"
	SyncRunSuccess SyncRunStatus = "success"
	SyncRunFailed  SyncRunStatus = "failed"
)

// SyncRun records one synchronization attempt against a provider.
type SyncRun struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	ProviderID      *int64        `db:"provider_id" json:"providerId,omitempty"`
	StartedAt       time.Time     `db:"started_at" json:"startedAt"`
	CompletedAt     *time.Time    `db:"completed_at" json:"completedAt,omitempty"`
	Status          SyncRunStatus `db:"status" json:"status"`
	ServicesUpdated int           `db:"services_updated" json:"servicesUpdated"`
	PriceChanges    int           `db:"price_changes" json:"priceChanges"`
	StatusChanges   int           `db:"status_changes" json:"statusChanges"`
	ErrorMessage    *string       `db:"error_message" json:"errorMessage,omitempty"`
}

// SyncResult is the per-provider outcome reported to API callers.
type SyncResult struct {
	ProviderID   int64  `json:"providerId"`
	ProviderName string `json:"providerName"`
	Success      bool   `json:"success"`
	Updated      int    `json:"updated"`
	PriceChanges int    `json:"priceChanges"`
	StatusChange int    `json:"statusChanges"`
	Error        string `json:"error,omitempty"`
}

// SyncTotals aggregates results across a bulk sync.
type SyncTotals struct {
	Updated      int `json:"updated"`
	PriceChanges int `json:"priceChanges"`
	StatusChange int `json:"statusChanges"`
	Failed       int `json:"failed"`
}

// SyncSummary is the response body of a bulk synchronization.
type SyncSummary struct {
	Results            []SyncResult `json:"results"`
	Totals             SyncTotals   `json:"totals"`
	ProvidersProcessed int          `json:"providersProcessed"`
}
