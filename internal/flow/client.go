package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ParleSec/KeycloakPlayground/internal/gateway"
	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
	"github.com/ParleSec/KeycloakPlayground/pkg/models"
)

// ProxyClient calls a playground server's /api endpoints, the way the browser pages do.
type ProxyClient struct {
	base    string
	gateway *gateway.Gateway
	// SessionID binds calls to a looking glass session when set.
	SessionID string
}

// NewProxyClient creates a client for the playground server at base.
func NewProxyClient(base string, gw *gateway.Gateway) *ProxyClient {
	if gw == nil {
		gw = gateway.New()
	}
	return &ProxyClient{base: strings.TrimRight(base, "/"), gateway: gw}
}

// Base returns the server root.
func (c *ProxyClient) Base() string {
	return c.base
}

// ProxyError is a non-success answer from the playground server.
type ProxyError struct {
	Status int
	Body   string
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("playground server answered %d: %s", e.Status, strings.TrimSpace(e.Body))
}

func (c *ProxyClient) header() http.Header {
	h := http.Header{}
	if c.SessionID != "" {
		h.Set(lookingglass.SessionHeader, c.SessionID)
	}
	return h
}

// Discovery fetches the discovery document for issuer through the proxy.
func (c *ProxyClient) Discovery(ctx context.Context, issuer string) (map[string]interface{}, error) {
	target := c.base + "/api/keycloak/discovery"
	if issuer != "" {
		target += "?issuer=" + url.QueryEscape(issuer)
	}
	resp, err := c.gateway.Get(ctx, target, c.header())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProxyError{Status: resp.StatusCode, Body: string(resp.Body)}
	}
	var doc map[string]interface{}
	if err := resp.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode discovery document: %w", err)
	}
	return doc, nil
}

// Token posts a token request through the proxy. Provider errors come back as a
// TokenResponse with Error set, alongside the status.
func (c *ProxyClient) Token(ctx context.Context, req models.TokenRequest) (*models.TokenResponse, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, err
	}
	header := c.header()
	header.Set("Content-Type", "application/json")
	resp, err := c.gateway.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		URL:    c.base + "/api/keycloak/token",
		Header: header,
		Body:   body,
	})
	if err != nil {
		return nil, 0, err
	}
	var out models.TokenResponse
	if err := resp.Decode(&out); err != nil {
		return nil, resp.StatusCode, &ProxyError{Status: resp.StatusCode, Body: string(resp.Body)}
	}
	return &out, resp.StatusCode, nil
}

// UserInfo calls the userinfo proxy with an Authorization header.
func (c *ProxyClient) UserInfo(ctx context.Context, endpoint, authorization string) (map[string]interface{}, error) {
	header := c.header()
	header.Set("Authorization", authorization)
	resp, err := c.gateway.Get(ctx, c.base+"/api/keycloak/userinfo?endpoint="+url.QueryEscape(endpoint), header)
	if err != nil {
		return nil, err
	}
	var claims map[string]interface{}
	if err := resp.Decode(&claims); err != nil || resp.StatusCode != http.StatusOK {
		return claims, &ProxyError{Status: resp.StatusCode, Body: string(resp.Body)}
	}
	return claims, nil
}

// Service calls the protected backend through /api/service and returns its answer as is.
func (c *ProxyClient) Service(ctx context.Context, authorization string) (int, string, error) {
	header := c.header()
	header.Set("Authorization", authorization)
	resp, err := c.gateway.Get(ctx, c.base+"/api/service", header)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(resp.Body), nil
}

// Resolve makes a server-relative path absolute.
func (c *ProxyClient) Resolve(path string) string {
	return c.base + path
}
