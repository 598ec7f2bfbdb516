package mockidp

import (
	"sort"
	"strings"
)

// User is a realm user.
type User struct {
	ID         string
	Username   string
	Email      string
	GivenName  string
	FamilyName string
	RealmRoles []string
	// ClientRoles maps client id to granted roles.
	ClientRoles map[string][]string
}

// Name returns the display name.
func (u *User) Name() string {
	return strings.TrimSpace(u.GivenName + " " + u.FamilyName)
}

// Client is a realm client registration.
type Client struct {
	ID           string
	Secret       string
	Public       bool
	BearerOnly   bool
	RedirectURIs []string
	// PostLogoutRedirectURIs are accepted by the logout endpoint.
	PostLogoutRedirectURIs []string
}

// Demo client ids.
const (
	ClientOIDCPlayground  = "oidc-playground"
	ClientOAuthPlayground = "oauth-playground"
	ClientBackend         = "nodejs-oauth-backend"
)

var defaultRealmRoles = []string{"offline_access", "uma_authorization"}

func (idp *MockIdP) initDemoData() {
	idp.users["alice"] = &User{
		ID:         "9a1c7a4e-1f6b-4c1e-9d55-0f0c3a0b2a11",
		Username:   "alice",
		Email:      "alice@example.com",
		GivenName:  "Alice",
		FamilyName: "Liddell",
		RealmRoles: defaultRealmRoles,
		ClientRoles: map[string][]string{
			ClientBackend: {"user"},
			"account":     {"manage-account", "view-profile"},
		},
	}
	idp.users["bob"] = &User{
		ID:         "4f2d8b90-6a3e-4d0b-8c4a-7e1d2c3b4a55",
		Username:   "bob",
		Email:      "bob@example.com",
		GivenName:  "Bob",
		FamilyName: "Builder",
		RealmRoles: defaultRealmRoles,
		ClientRoles: map[string][]string{
			"account": {"view-profile"},
		},
	}

	playgroundRedirects := []string{
		"http://localhost:8000/*",
		"http://127.0.0.1:8400/*",
	}
	idp.clients[ClientOIDCPlayground] = &Client{
		ID:                     ClientOIDCPlayground,
		Public:                 true,
		RedirectURIs:           playgroundRedirects,
		PostLogoutRedirectURIs: playgroundRedirects,
	}
	idp.clients[ClientOAuthPlayground] = &Client{
		ID:                     ClientOAuthPlayground,
		Public:                 true,
		RedirectURIs:           playgroundRedirects,
		PostLogoutRedirectURIs: playgroundRedirects,
	}
	idp.clients[ClientBackend] = &Client{
		ID:         ClientBackend,
		BearerOnly: true,
	}
}

// AddUser registers or replaces a user.
func (idp *MockIdP) AddUser(u *User) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	idp.users[u.Username] = u
}

// AddClient registers or replaces a client.
func (idp *MockIdP) AddClient(c *Client) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	idp.clients[c.ID] = c
}

// GetUser looks a user up by username.
func (idp *MockIdP) GetUser(username string) (*User, bool) {
	idp.mu.RLock()
	defer idp.mu.RUnlock()
	u, ok := idp.users[username]
	return u, ok
}

func (idp *MockIdP) userByID(id string) (*User, bool) {
	idp.mu.RLock()
	defer idp.mu.RUnlock()
	for _, u := range idp.users {
		if u.ID == id {
			return u, true
		}
	}
	return nil, false
}

// GetClient retrieves a client by ID
func (idp *MockIdP) GetClient(id string) (*Client, bool) {
	idp.mu.RLock()
	defer idp.mu.RUnlock()
	c, ok := idp.clients[id]
	return c, ok
}

// matchRedirect follows Keycloak's redirect rules: exact, or prefix for entries ending in "*".
func matchRedirect(patterns []string, uri string) bool {
	if uri == "" {
		return false
	}
	for _, p := range patterns {
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(uri, strings.TrimSuffix(p, "*")) {
				return true
			}
			continue
		}
		if p == uri {
			return true
		}
	}
	return false
}

// profileClaims returns the claims granted by the requested scopes.
func profileClaims(u *User, scopes []string) map[string]interface{} {
	claims := map[string]interface{}{"sub": u.ID}
	for _, scope := range scopes {
		switch scope {
		case "profile":
			claims["preferred_username"] = u.Username
			claims["name"] = u.Name()
			claims["given_name"] = u.GivenName
			claims["family_name"] = u.FamilyName
		case "email":
			claims["email"] = u.Email
			claims["email_verified"] = true
		}
	}
	return claims
}

// audiences lists the clients a token is meant for: every client the user holds a role in,
// plus the backend, which the playground clients carry through an audience mapper.
func audiences(u *User, azp string) []string {
	set := map[string]bool{ClientBackend: true}
	for client := range u.ClientRoles {
		set[client] = true
	}
	delete(set, azp)
	out := make([]string, 0, len(set))
	for client := range set {
		out = append(out, client)
	}
	sort.Strings(out)
	return out
}

func resourceAccess(u *User) map[string]interface{} {
	out := make(map[string]interface{}, len(u.ClientRoles))
	for client, roles := range u.ClientRoles {
		out[client] = map[string]interface{}{"roles": roles}
	}
	return out
}
