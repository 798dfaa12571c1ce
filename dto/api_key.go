package dto

import "time"

type CreateAPIKeyRequest struct {
	Name             string     `json:"name" validate:"required,min=3,max=128" example:"payments-api"`
	Description      string     `json:"description,omitempty" validate:"omitempty,max=512"`
	OwnerID          string     `json:"owner_id,omitempty" example:"usr_123456789"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RateLimit        int        `json:"rate_limit,omitempty" validate:"omitempty,gt=0" example:"1000"`
	IPWhitelist      []string   `json:"ip_whitelist,omitempty" validate:"omitempty,dive,ip"`
	AllowedEndpoints []string   `json:"allowed_endpoints,omitempty" validate:"omitempty,dive,startswith=/"`
}

func (r CreateAPIKeyRequest) Validate() error {
	return GetValidator().Struct(r)
}

// CreateAPIKeyResponse carries the plaintext secret. It is returned exactly
// once at creation and never stored.
type CreateAPIKeyResponse struct {
	Key    string     `json:"key" example:"sk_3f7c1b..."`
	APIKey APIKeyInfo `json:"api_key"`
}

type APIKeyInfo struct {
	ID               string     `json:"id" example:"key_123456789"`
	Name             string     `json:"name" example:"payments-api"`
	Description      string     `json:"description,omitempty"`
	OwnerID          string     `json:"owner_id,omitempty" example:"usr_123456789"`
	Status           string     `json:"status" example:"active"`
	RateLimit        int        `json:"rate_limit" example:"1000"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	IPWhitelist      []string   `json:"ip_whitelist,omitempty"`
	AllowedEndpoints []string   `json:"allowed_endpoints,omitempty"`
}

type APIKeyListResponse struct {
	Keys  []APIKeyInfo `json:"keys"`
	Total int          `json:"total" example:"2"`
}
