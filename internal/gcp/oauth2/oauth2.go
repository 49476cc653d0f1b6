// Package oauth2 provides typed bindings for the Google OAuth2 API
// (v2): token introspection and the userinfo endpoint.
package oauth2

import (
	"context"
	"net/url"

	"gcpwire/internal/gcp"
	"gcpwire/internal/wire"
)

const basePath = "https://www.googleapis.com"

var tokeninfoSchema = &wire.Schema{
	Name: "Tokeninfo",
	Fields: map[string]wire.Field{
		"audience":       {Kind: wire.String},
		"email":          {Kind: wire.String},
		"expires_in":     {Kind: wire.Int64},
		"issued_to":      {Kind: wire.String},
		"scope":          {Kind: wire.String},
		"user_id":        {Kind: wire.String},
		"verified_email": {Kind: wire.Bool},
	},
}

var userinfoSchema = &wire.Schema{
	Name: "Userinfo",
	Fields: map[string]wire.Field{
		"id":             {Kind: wire.String},
		"email":          {Kind: wire.String},
		"verified_email": {Kind: wire.Bool},
		"name":           {Kind: wire.String},
		"given_name":     {Kind: wire.String},
		"family_name":    {Kind: wire.String},
		"picture":        {Kind: wire.String},
		"locale":         {Kind: wire.String},
	},
}

// Service wraps the OAuth2 API endpoints.
type Service struct {
	client *gcp.Client
}

// NewService creates an OAuth2 API client. An empty BaseURL uses the
// production endpoint.
func NewService(cfg gcp.Config) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = basePath
	}
	return &Service{client: gcp.NewClient(cfg)}
}

// Tokeninfo introspects an access or ID token. Exactly one of the two
// arguments should be non-empty.
func (s *Service) Tokeninfo(ctx context.Context, accessToken, idToken string) (wire.Object, error) {
	query := url.Values{}
	if accessToken != "" {
		query.Set("access_token", accessToken)
	}
	if idToken != "" {
		query.Set("id_token", idToken)
	}
	return s.client.Post(ctx, "/oauth2/v2/tokeninfo", query, nil, nil, tokeninfoSchema)
}

// Userinfo fetches the profile of the authenticated user.
func (s *Service) Userinfo(ctx context.Context) (wire.Object, error) {
	return s.client.Get(ctx, "/oauth2/v2/userinfo", nil, userinfoSchema)
}
