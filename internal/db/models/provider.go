package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderStatus is the persistent lifecycle state of a provider.
type ProviderStatus string

const (
	ProviderStatusActive   ProviderStatus = "active"
	ProviderStatusInactive ProviderStatus = "inactive"
	ProviderStatusTrash    ProviderStatus = "trash"
)

// Valid reports whether s is one of the known lifecycle states.
func (s ProviderStatus) Valid() bool {
	switch s {
	case ProviderStatusActive, ProviderStatusInactive, ProviderStatusTrash:
		return true
	}
	return false
}

// HTTPMethod values accepted for upstream calls.
const (
	MethodGet  = "GET"
	MethodPost = "POST"
)

// Wire formats accepted for upstream requests and responses.
const (
	FormatForm = "form"
	FormatJSON = "json"
)

// Provider is a configured upstream SMM provider.
type Provider struct {
	ID         int64  `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	APIURL     string `db:"api_url" json:"apiUrl"`
	APIKey     string `db:"api_key" json:"apiKey"`
	HTTPMethod string `db:"http_method" json:"httpMethod"`

	APIKeyParam        string `db:"api_key_param" json:"apiKeyParam"`
	ActionParam        string `db:"action_param" json:"actionParam"`
	ServicesAction     string `db:"services_action" json:"servicesAction"`
	AddOrderAction     string `db:"add_order_action" json:"addOrderAction"`
	StatusAction       string `db:"status_action" json:"statusAction"`
	RefillAction       string `db:"refill_action" json:"refillAction"`
	RefillStatusAction string `db:"refill_status_action" json:"refillStatusAction"`
	CancelAction       string `db:"cancel_action" json:"cancelAction"`
	BalanceAction      string `db:"balance_action" json:"balanceAction"`

	ServicesEndpoint     string `db:"services_endpoint" json:"servicesEndpoint"`
	AddOrderEndpoint     string `db:"add_order_endpoint" json:"addOrderEndpoint"`
	StatusEndpoint       string `db:"status_endpoint" json:"statusEndpoint"`
	RefillEndpoint       string `db:"refill_endpoint" json:"refillEndpoint"`
	RefillStatusEndpoint string `db:"refill_status_endpoint" json:"refillStatusEndpoint"`
	CancelEndpoint       string `db:"cancel_endpoint" json:"cancelEndpoint"`
	BalanceEndpoint      string `db:"balance_endpoint" json:"balanceEndpoint"`

	RequestFormat   string `db:"request_format" json:"requestFormat"`
	ResponseFormat  string `db:"response_format" json:"responseFormat"`
	ResponseMapping string `db:"response_mapping" json:"responseMapping"`
	RateLimitPerMin int    `db:"rate_limit_per_min" json:"rateLimitPerMin"`
	TimeoutSeconds  int    `db:"timeout_seconds" json:"timeoutSeconds"`

	CurrentBalance decimal.Decimal `db:"current_balance" json:"currentBalance"`

	Status     ProviderStatus `db:"status" json:"status"`
	DeletedAt  *time.Time     `db:"deleted_at" json:"deletedAt,omitempty"`
	LastSyncAt *time.Time     `db:"last_sync_at" json:"lastSyncAt,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updatedAt"`
}

// Configured reports whether the provider has enough connection
// configuration to be probed or synced.
func (p *Provider) Configured() bool {
	return p.APIURL != "" && p.APIKey != ""
}

// Timeout returns the per-provider upstream timeout, falling back to
// 30 seconds when unset.
func (p *Provider) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ProviderWithCounts decorates a provider with derived service counts
// for list views.
type ProviderWithCounts struct {
	Provider
	ServiceCount       int `db:"service_count" json:"serviceCount"`
	ActiveServiceCount int `db:"active_service_count" json:"activeServiceCount"`
}

// CreateProviderRequest is the payload accepted when registering a
// provider. Only name, apiUrl and apiKey are required; everything else
// has documented defaults.
type CreateProviderRequest struct {
	Name       string `json:"name" binding:"required"`
	APIURL     string `json:"apiUrl" binding:"required,url"`
	APIKey     string `json:"apiKey" binding:"required"`
	HTTPMethod string `json:"httpMethod"`

	APIKeyParam        string `json:"apiKeyParam"`
	ActionParam        string `json:"actionParam"`
	ServicesAction     string `json:"servicesAction"`
	AddOrderAction     string `json:"addOrderAction"`
	StatusAction       string `json:"statusAction"`
	RefillAction       string `json:"refillAction"`
	RefillStatusAction string `json:"refillStatusAction"`
	CancelAction       string `json:"cancelAction"`
	BalanceAction      string `json:"balanceAction"`

	ServicesEndpoint     string `json:"servicesEndpoint"`
	AddOrderEndpoint     string `json:"addOrderEndpoint"`
	StatusEndpoint       string `json:"statusEndpoint"`
	RefillEndpoint       string `json:"refillEndpoint"`
	RefillStatusEndpoint string `json:"refillStatusEndpoint"`
	CancelEndpoint       string `json:"cancelEndpoint"`
	BalanceEndpoint      string `json:"balanceEndpoint"`

	RequestFormat   string `json:"requestFormat"`
	ResponseFormat  string `json:"responseFormat"`
	ResponseMapping string `json:"responseMapping"`
	RateLimitPerMin *int   `json:"rateLimitPerMin"`
	TimeoutSeconds  *int   `json:"timeoutSeconds"`
	Status          string `json:"status"`
}

// UpdateProviderRequest is a partial update; nil fields are left
// untouched.
type UpdateProviderRequest struct {
	Name       *string `json:"name"`
	APIURL     *string `json:"apiUrl"`
	APIKey     *string `json:"apiKey"`
	HTTPMethod *string `json:"httpMethod"`

	APIKeyParam        *string `json:"apiKeyParam"`
	ActionParam        *string `json:"actionParam"`
	ServicesAction     *string `json:"servicesAction"`
	AddOrderAction     *string `json:"addOrderAction"`
	StatusAction       *string `json:"statusAction"`
	RefillAction       *string `json:"refillAction"`
	RefillStatusAction *string `json:"refillStatusAction"`
	CancelAction       *string `json:"cancelAction"`
	BalanceAction      *string `json:"balanceAction"`

	ServicesEndpoint     *string `json:"servicesEndpoint"`
	AddOrderEndpoint     *string `json:"addOrderEndpoint"`
	StatusEndpoint       *string `json:"statusEndpoint"`
	RefillStatusEndpoint *string `json:"refillStatusEndpoint"`
	RefillEndpoint       *string `json:"refillEndpoint"`
	CancelEndpoint       *string `json:"cancelEndpoint"`
	BalanceEndpoint      *string `json:"balanceEndpoint"`

	RequestFormat   *string `json:"requestFormat"`
	ResponseFormat  *string `json:"responseFormat"`
	ResponseMapping *string `json:"responseMapping"`
	RateLimitPerMin *int    `json:"rateLimitPerMin"`
	TimeoutSeconds  *int    `json:"timeoutSeconds"`
	Status          *string `json:"status"`
}

// ApplyDefaults fills zero-valued optional fields with the standard
// SMM panel API conventions.
func (r *CreateProviderRequest) ApplyDefaults() {
	if r.HTTPMethod == "" {
		r.HTTPMethod = MethodPost
	}
	if r.APIKeyParam == "" {
		r.APIKeyParam = "key"
	}
	if r.ActionParam == "" {
		r.ActionParam = "action"
	}
	if r.ServicesAction == "" {
		r.ServicesAction = "services"
	}
	if r.AddOrderAction == "" {
		r.AddOrderAction = "add"
	}
	if r.StatusAction == "" {
		r.StatusAction = "status"
	}
	if r.RefillAction == "" {
		r.RefillAction = "refill"
	}
	if r.RefillStatusAction == "" {
		r.RefillStatusAction = "refill_status"
	}
	if r.CancelAction == "" {
		r.CancelAction = "cancel"
	}
	if r.BalanceAction == "" {
		r.BalanceAction = "balance"
	}
	if r.RequestFormat == "" {
		r.RequestFormat = FormatForm
	}
	if r.ResponseFormat == "" {
		r.ResponseFormat = FormatJSON
	}
	if r.Status == "" {
		r.Status = string(ProviderStatusActive)
	}
}
