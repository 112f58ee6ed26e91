package dto

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserInfo is the public view of an authenticated operator
type UserInfo struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Token   string   `json:"token"`
	User    UserInfo `json:"user"`
}
