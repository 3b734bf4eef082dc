package admin

import (
	"net/url"

	"github.com/suitableit/smm-panel-backend/internal/db/models"
)

// validateCreateRequest checks the fields gin's binding tags cannot
// express. Returns an empty string when valid.
func validateCreateRequest(req *models.CreateProviderRequest) string {
	if req.HTTPMethod != models.MethodGet && req.HTTPMethod != models.MethodPost {
		return "httpMethod must be GET or POST"
	}
	if req.RequestFormat != models.FormatForm && req.RequestFormat != models.FormatJSON {
		return "requestFormat must be form or json"
	}
	if req.ResponseFormat != models.FormatForm && req.ResponseFormat != models.FormatJSON {
		return "responseFormat must be form or json"
	}
	if !models.ProviderStatus(req.Status).Valid() || req.Status == string(models.ProviderStatusTrash) {
		return "status must be active or inactive"
	}
	if u, err := url.Parse(req.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "apiUrl must be a valid http or https URL"
	}
	if req.RateLimitPerMin != nil && *req.RateLimitPerMin <= 0 {
		return "rateLimitPerMin must be positive"
	}
	if req.TimeoutSeconds != nil && *req.TimeoutSeconds <= 0 {
		return "timeoutSeconds must be positive"
	}
	return ""
}

// providerFromCreateRequest builds the persistent record from a
// validated create request.
func providerFromCreateRequest(req *models.CreateProviderRequest) *models.Provider {
	p := &models.Provider{
		Name:       req.Name,
		APIURL:     req.APIURL,
		APIKey:     req.APIKey,
		HTTPMethod: req.HTTPMethod,

		APIKeyParam:        req.APIKeyParam,
		ActionParam:        req.ActionParam,
		ServicesAction:     req.ServicesAction,
		AddOrderAction:     req.AddOrderAction,
		StatusAction:       req.StatusAction,
		RefillAction:       req.RefillAction,
		RefillStatusAction: req.RefillStatusAction,
		CancelAction:       req.CancelAction,
		BalanceAction:      req.BalanceAction,

		ServicesEndpoint:     req.ServicesEndpoint,
		AddOrderEndpoint:     req.AddOrderEndpoint,
		StatusEndpoint:       req.StatusEndpoint,
		RefillEndpoint:       req.RefillEndpoint,
		RefillStatusEndpoint: req.RefillStatusEndpoint,
		CancelEndpoint:       req.CancelEndpoint,
		BalanceEndpoint:      req.BalanceEndpoint,

		RequestFormat:   req.RequestFormat,
		ResponseFormat:  req.ResponseFormat,
		ResponseMapping: req.ResponseMapping,
		RateLimitPerMin: 60,
		TimeoutSeconds:  30,
		Status:          models.ProviderStatus(req.Status),
	}

	if req.RateLimitPerMin != nil {
		p.RateLimitPerMin = *req.RateLimitPerMin
	}
	if req.TimeoutSeconds != nil {
		p.TimeoutSeconds = *req.TimeoutSeconds
	}

	return p
}

// applyUpdateRequest copies non-nil fields onto the stored provider.
// Returns a non-empty message when a provided value is invalid.
func applyUpdateRequest(p *models.Provider, req *models.UpdateProviderRequest) string {
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.APIURL != nil {
		if u, err := url.Parse(*req.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "apiUrl must be a valid http or https URL"
		}
		p.APIURL = *req.APIURL
	}
	if req.APIKey != nil {
		p.APIKey = *req.APIKey
	}
	if req.HTTPMethod != nil {
		if *req.HTTPMethod != models.MethodGet && *req.HTTPMethod != models.MethodPost {
			return "httpMethod must be GET or POST"
		}
		p.HTTPMethod = *req.HTTPMethod
	}

	if req.APIKeyParam != nil {
		p.APIKeyParam = *req.APIKeyParam
	}
	if req.ActionParam != nil {
		p.ActionParam = *req.ActionParam
	}
	if req.ServicesAction != nil {
		p.ServicesAction = *req.ServicesAction
	}
	if req.AddOrderAction != nil {
		p.AddOrderAction = *req.AddOrderAction
	}
	if req.StatusAction != nil {
		p.StatusAction = *req.StatusAction
	}
	if req.RefillAction != nil {
		p.RefillAction = *req.RefillAction
	}
	if req.RefillStatusAction != nil {
		p.RefillStatusAction = *req.RefillStatusAction
	}
	if req.CancelAction != nil {
		p.CancelAction = *req.CancelAction
	}
	if req.BalanceAction != nil {
		p.BalanceAction = *req.BalanceAction
	}

	if req.ServicesEndpoint != nil {
		p.ServicesEndpoint = *req.ServicesEndpoint
	}
	if req.AddOrderEndpoint != nil {
		p.AddOrderEndpoint = *req.AddOrderEndpoint
	}
	if req.StatusEndpoint != nil {
		p.StatusEndpoint = *req.StatusEndpoint
	}
	if req.RefillEndpoint != nil {
		p.RefillEndpoint = *req.RefillEndpoint
	}
	if req.RefillStatusEndpoint != nil {
		p.RefillStatusEndpoint = *req.RefillStatusEndpoint
	}
	if req.CancelEndpoint != nil {
		p.CancelEndpoint = *req.CancelEndpoint
	}
	if req.BalanceEndpoint != nil {
		p.BalanceEndpoint = *req.BalanceEndpoint
	}

	if req.RequestFormat != nil {
		if *req.RequestFormat != models.FormatForm && *req.RequestFormat != models.FormatJSON {
			return "requestFormat must be form or json"
		}
		p.RequestFormat = *req.RequestFormat
	}
	if req.ResponseFormat != nil {
		if *req.ResponseFormat != models.FormatForm && *req.ResponseFormat != models.FormatJSON {
			return "responseFormat must be form or json"
		}
		p.ResponseFormat = *req.ResponseFormat
	}
	if req.ResponseMapping != nil {
		p.ResponseMapping = *req.ResponseMapping
	}
	if req.RateLimitPerMin != nil {
		if *req.RateLimitPerMin <= 0 {
			return "rateLimitPerMin must be positive"
		}
		p.RateLimitPerMin = *req.RateLimitPerMin
	}
	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds <= 0 {
			return "timeoutSeconds must be positive"
		}
		p.TimeoutSeconds = *req.TimeoutSeconds
	}

	if req.Status != nil {
		status := models.ProviderStatus(*req.Status)
		if status != models.ProviderStatusActive && status != models.ProviderStatusInactive {
			return "status must be active or inactive"
		}
		p.Status = status
	}

	return ""
}
