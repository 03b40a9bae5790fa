package dto

// RegisterSubscriptionRequest is the admin-surface payload for creating a
// webhook subscription.
type RegisterSubscriptionRequest struct {
	OriginSystem string   `json:"originSystem" binding:"required"`
	CallbackURL  string   `json:"callbackUrl" binding:"required"`
	Events       []string `json:"events" binding:"required,min=1"`
	Description  string   `json:"description"`
	ContactEmail string   `json:"contactEmail" binding:"omitempty,email"`
	MaxRetries   *int     `json:"maxRetries"`
}

// UpdateSubscriptionRequest is the admin-surface payload for updating a
// webhook subscription. Nil fields leave the stored value unchanged.
type UpdateSubscriptionRequest struct {
	CallbackURL  *string  `json:"callbackUrl"`
	Events       []string `json:"events"`
	IsActive     *bool    `json:"isActive"`
	Description  *string  `json:"description"`
	ContactEmail *string  `json:"contactEmail"`
	MaxRetries   *int     `json:"maxRetries"`
}

// SubscriptionResponse is the admin-surface representation of a
// subscription. Secret is populated only in the registration response,
// once, as plaintext; subsequent reads never expose it.
type SubscriptionResponse struct {
	ID           string   `json:"id"`
	OriginSystem string   `json:"originSystem"`
	CallbackURL  string   `json:"callbackUrl"`
	Events       []string `json:"events"`
	IsActive     bool     `json:"isActive"`
	Description  string   `json:"description"`
	ContactEmail string   `json:"contactEmail"`
	SuccessCount int64    `json:"successCount"`
	FailureCount int64    `json:"failureCount"`
	Secret       string   `json:"secret,omitempty"`
}
