// Package profiler provides typed bindings for the Cloud Profiler API
// (v2). Collected profile data travels base64-encoded on the wire and is
// exposed natively as []byte.
package profiler

import (
	"context"
	"net/http"
	"net/url"

	"gcpwire/internal/gcp"
	"gcpwire/internal/wire"
)

const basePath = "https://cloudprofiler.googleapis.com"

var deploymentSchema = &wire.Schema{
	Name: "Deployment",
	Fields: map[string]wire.Field{
		"projectId": {Kind: wire.String},
		"target":    {Kind: wire.String},
		"labels":    {Kind: wire.Any},
	},
}

var profileSchema = &wire.Schema{
	Name: "Profile",
	Fields: map[string]wire.Field{
		"name":         {Kind: wire.String},
		"profileType":  {Kind: wire.String},
		"deployment":   {Kind: wire.Message, Schema: deploymentSchema},
		"duration":     {Kind: wire.Duration},
		"profileBytes": {Kind: wire.Bytes},
		"labels":       {Kind: wire.Any},
	},
}

var createProfileRequestSchema = &wire.Schema{
	Name: "CreateProfileRequest",
	Fields: map[string]wire.Field{
		"deployment":  {Kind: wire.Message, Schema: deploymentSchema},
		"profileType": {Kind: wire.String, Repeated: true},
	},
}

// Service wraps the Cloud Profiler API endpoints.
type Service struct {
	client *gcp.Client
}

// NewService creates a Cloud Profiler API client. An empty BaseURL uses
// the production endpoint.
func NewService(cfg gcp.Config) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = basePath
	}
	return &Service{client: gcp.NewClient(cfg)}
}

// CreateProfile asks the server to allocate a profile of one of the
// given types for a deployment. The call hangs until the server wants a
// profile collected, so pass a context with the agent's deadline.
func (s *Service) CreateProfile(ctx context.Context, parent string, deployment wire.Object, profileTypes []string) (wire.Object, error) {
	types := make([]any, len(profileTypes))
	for i, pt := range profileTypes {
		types[i] = pt
	}
	body := wire.Object{
		"deployment":  map[string]any(deployment),
		"profileType": types,
	}
	return s.client.Post(ctx, "/v2/"+parent+"/profiles", nil,
		createProfileRequestSchema, body, profileSchema)
}

// CreateOfflineProfile uploads a profile that was collected outside the
// online creation flow. profile must carry profileBytes as raw bytes.
func (s *Service) CreateOfflineProfile(ctx context.Context, parent string, profile wire.Object) (wire.Object, error) {
	return s.client.Post(ctx, "/v2/"+parent+"/profiles:createOffline", nil,
		profileSchema, profile, profileSchema)
}

// UpdateProfile uploads the collected bytes for a profile previously
// allocated by CreateProfile. name is the profile resource name.
func (s *Service) UpdateProfile(ctx context.Context, name string, profile wire.Object, updateMask string) (wire.Object, error) {
	query := url.Values{}
	if updateMask != "" {
		query.Set("updateMask", updateMask)
	}
	return s.client.Do(ctx, http.MethodPatch, "/v2/"+name, query,
		profileSchema, profile, profileSchema)
}
