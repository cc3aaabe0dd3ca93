package domain

// API roles carried in bearer tokens.
const (
	RoleAdmin  = "admin"
	RoleClient = "client"
)
