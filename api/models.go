package api

// ErrorResponse is the JSON body of every error answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned from POST /auth/login.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	CSRFToken    string `json:"csrf_token,omitempty"`
}

// RefreshResponse is returned from POST /auth/refresh. The refresh token
// itself is not rotated.
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// MeResponse is returned from GET /me.
type MeResponse struct {
	Username  string `json:"username"`
	SessionID string `json:"session_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// Item is a resource owned by one user.
type Item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateItemRequest is the JSON body for POST /items.
type CreateItemRequest struct {
	Name string `json:"name"`
}

// ListItemsResponse is returned from GET /items.
type ListItemsResponse struct {
	Items []Item `json:"items"`
}
