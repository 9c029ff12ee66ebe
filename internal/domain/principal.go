package domain

// Principal is the identity driving one connection.
type Principal struct {
	ID            string
	Username      string
	Authenticated bool
}

// Anonymous returns the unauthenticated principal.
func Anonymous() Principal {
	return Principal{Username: "anonymous"}
}

// NewPrincipal returns an authenticated principal.
func NewPrincipal(id, username string) Principal {
	return Principal{ID: id, Username: username, Authenticated: true}
}

// User is an identity known to the membership directory.
type User struct {
	ID       string
	Username string
}
