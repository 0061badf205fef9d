package apiclient

// LoginRequest is the credential payload for POST login/.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the freshly issued token pair.
type LoginResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// RefreshRequest is the payload for POST accounts/refresh/.
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshResponse carries the new access token and, when the server
// rotates, a new refresh token.
type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// LogoutRequest is the payload for POST logout/.
type LogoutRequest struct {
	Refresh string `json:"refresh"`
}

// User is a dashboard account.
type User struct {
	ID         int    `json:"id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

// PointsBalance is an employee's current merit/demerit standing.
type PointsBalance struct {
	UserID   int `json:"user_id"`
	Merits   int `json:"merits"`
	Demerits int `json:"demerits"`
	Total    int `json:"total"`
}

// PointEntry is one audited merit/demerit record.
type PointEntry struct {
	ID        int    `json:"id"`
	UserID    int    `json:"user_id"`
	Points    int    `json:"points"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	Status    string `json:"status"`
	CreatedBy int    `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

// PointEntryPage is a paginated entries listing.
type PointEntryPage struct {
	Count   int          `json:"count"`
	Results []PointEntry `json:"results"`
}

// NotificationRecord is a persisted notification as returned by the REST
// listing (the socket-delivered shape lives in internal/notify).
type NotificationRecord struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Status      string            `json:"status"`
	Type        string            `json:"type"`
	NavigateURL string            `json:"navigate_url"`
	Metadata    map[string]string `json:"metadata"`
	CreatedAt   string            `json:"created_at"`
}
