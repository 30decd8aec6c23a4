package auth

// Caller is the identity resolved from a request's bearer token.
type Caller struct {
	Domain   string `json:"domain"`
	Subject  string `json:"subject,omitempty"`
	Token    string `json:"-"`
	Verified bool   `json:"verified"`
}

// Authenticated reports whether a domain was resolved.
func (c Caller) Authenticated() bool { return c.Domain != "" }
