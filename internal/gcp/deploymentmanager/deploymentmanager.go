// Package deploymentmanager provides typed bindings for the Deployment
// Manager API (v2). Deployment fingerprints are raw bytes natively,
// resource IDs are int64, and all times are time.Time.
package deploymentmanager

import (
	"context"
	"net/http"

	"gcpwire/internal/gcp"
	"gcpwire/internal/wire"
)

const basePath = "https://deploymentmanager.googleapis.com"

var operationSchema = &wire.Schema{
	Name: "Operation",
	Fields: map[string]wire.Field{
		"id":            {Kind: wire.Int64},
		"name":          {Kind: wire.String},
		"operationType": {Kind: wire.String},
		"targetId":      {Kind: wire.Int64},
		"targetLink":    {Kind: wire.String},
		"status":        {Kind: wire.String},
		"statusMessage": {Kind: wire.String},
		"progress":      {Kind: wire.Double},
		"insertTime":    {Kind: wire.Timestamp},
		"startTime":     {Kind: wire.Timestamp},
		"endTime":       {Kind: wire.Timestamp},
		"selfLink":      {Kind: wire.String},
		"error":         {Kind: wire.Any},
	},
}

var deploymentSchema = &wire.Schema{
	Name: "Deployment",
	Fields: map[string]wire.Field{
		"id":          {Kind: wire.Int64},
		"name":        {Kind: wire.String},
		"description": {Kind: wire.String},
		"fingerprint": {Kind: wire.Bytes},
		"manifest":    {Kind: wire.String},
		"selfLink":    {Kind: wire.String},
		"insertTime":  {Kind: wire.Timestamp},
		"updateTime":  {Kind: wire.Timestamp},
		"operation":   {Kind: wire.Message, Schema: operationSchema},
		"target":      {Kind: wire.Any},
		"labels":      {Kind: wire.Any},
	},
}

// Service wraps the Deployment Manager API endpoints for one project.
type Service struct {
	client *gcp.Client
}

// NewService creates a Deployment Manager API client. An empty BaseURL
// uses the production endpoint.
func NewService(cfg gcp.Config) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = basePath
	}
	return &Service{client: gcp.NewClient(cfg)}
}

func deploymentPath(project, deployment string) string {
	return "/deploymentmanager/v2/projects/" + project + "/global/deployments/" + deployment
}

// GetDeployment fetches a deployment.
func (s *Service) GetDeployment(ctx context.Context, project, deployment string) (wire.Object, error) {
	return s.client.Get(ctx, deploymentPath(project, deployment), nil, deploymentSchema)
}

// InsertDeployment creates a deployment and returns the resulting
// long-running operation.
func (s *Service) InsertDeployment(ctx context.Context, project string, deployment wire.Object) (wire.Object, error) {
	return s.client.Post(ctx, "/deploymentmanager/v2/projects/"+project+"/global/deployments",
		nil, deploymentSchema, deployment, operationSchema)
}

// DeleteDeployment deletes a deployment and returns the resulting
// long-running operation.
func (s *Service) DeleteDeployment(ctx context.Context, project, deployment string) (wire.Object, error) {
	return s.client.Do(ctx, http.MethodDelete, deploymentPath(project, deployment),
		nil, nil, nil, operationSchema)
}

// GetOperation fetches a long-running operation by name.
func (s *Service) GetOperation(ctx context.Context, project, operation string) (wire.Object, error) {
	return s.client.Get(ctx,
		"/deploymentmanager/v2/projects/"+project+"/global/operations/"+operation,
		nil, operationSchema)
}
