// Package tables provides typed bindings for the Area 120 Tables API
// (v1alpha1). Row values are exposed as opaque JSON values; create and
// update times are native time.Time.
package tables

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"gcpwire/internal/gcp"
	"gcpwire/internal/wire"
)

const basePath = "https://area120tables.googleapis.com"

var rowSchema = &wire.Schema{
	Name: "Row",
	Fields: map[string]wire.Field{
		"name":       {Kind: wire.String},
		"values":     {Kind: wire.Any},
		"createTime": {Kind: wire.Timestamp},
		"updateTime": {Kind: wire.Timestamp},
	},
}

var columnSchema = &wire.Schema{
	Name: "ColumnDescription",
	Fields: map[string]wire.Field{
		"name":     {Kind: wire.String},
		"id":       {Kind: wire.String},
		"dataType": {Kind: wire.String},
		"readonly": {Kind: wire.Bool},
		"labels":   {Kind: wire.Any},
	},
}

var tableSchema = &wire.Schema{
	Name: "Table",
	Fields: map[string]wire.Field{
		"name":        {Kind: wire.String},
		"displayName": {Kind: wire.String},
		"columns":     {Kind: wire.Message, Repeated: true, Schema: columnSchema},
		"timeZone":    {Kind: wire.String},
		"createTime":  {Kind: wire.Timestamp},
		"updateTime":  {Kind: wire.Timestamp},
	},
}

var workspaceSchema = &wire.Schema{
	Name: "Workspace",
	Fields: map[string]wire.Field{
		"name":        {Kind: wire.String},
		"displayName": {Kind: wire.String},
		"tables":      {Kind: wire.Message, Repeated: true, Schema: tableSchema},
		"createTime":  {Kind: wire.Timestamp},
		"updateTime":  {Kind: wire.Timestamp},
	},
}

var listRowsResponseSchema = &wire.Schema{
	Name: "ListRowsResponse",
	Fields: map[string]wire.Field{
		"rows":          {Kind: wire.Message, Repeated: true, Schema: rowSchema},
		"nextPageToken": {Kind: wire.String},
	},
}

var batchGetRowsResponseSchema = &wire.Schema{
	Name: "BatchGetRowsResponse",
	Fields: map[string]wire.Field{
		"rows": {Kind: wire.Message, Repeated: true, Schema: rowSchema},
	},
}

var batchCreateRowsRequestSchema = &wire.Schema{
	Name: "BatchCreateRowsRequest",
	Fields: map[string]wire.Field{
		"requests": {Kind: wire.Message, Repeated: true, Schema: &wire.Schema{
			Name: "CreateRowRequest",
			Fields: map[string]wire.Field{
				"parent": {Kind: wire.String},
				"row":    {Kind: wire.Message, Schema: rowSchema},
			},
		}},
	},
}

var batchCreateRowsResponseSchema = &wire.Schema{
	Name: "BatchCreateRowsResponse",
	Fields: map[string]wire.Field{
		"rows": {Kind: wire.Message, Repeated: true, Schema: rowSchema},
	},
}

// Service wraps the Tables API endpoints.
type Service struct {
	client *gcp.Client
}

// NewService creates a Tables API client. An empty BaseURL uses the
// production endpoint.
func NewService(cfg gcp.Config) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = basePath
	}
	return &Service{client: gcp.NewClient(cfg)}
}

// GetRow fetches a row by resource name ("tables/{table}/rows/{row}").
func (s *Service) GetRow(ctx context.Context, name string) (wire.Object, error) {
	return s.client.Get(ctx, "/v1alpha1/"+name, nil, rowSchema)
}

// ListRows lists rows in a table. pageSize <= 0 uses the server default;
// pageToken continues a previous listing.
func (s *Service) ListRows(ctx context.Context, parent string, pageSize int, pageToken string) (wire.Object, error) {
	query := url.Values{}
	if pageSize > 0 {
		query.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}
	return s.client.Get(ctx, "/v1alpha1/"+parent+"/rows", query, listRowsResponseSchema)
}

// BatchGetRows fetches multiple rows from a table in one call.
func (s *Service) BatchGetRows(ctx context.Context, parent string, names []string) (wire.Object, error) {
	query := url.Values{"names": names}
	return s.client.Get(ctx, "/v1alpha1/"+parent+"/rows:batchGet", query, batchGetRowsResponseSchema)
}

// CreateRow creates a row in a table.
func (s *Service) CreateRow(ctx context.Context, parent string, row wire.Object) (wire.Object, error) {
	return s.client.Post(ctx, "/v1alpha1/"+parent+"/rows", nil, rowSchema, row, rowSchema)
}

// UpdateRow updates a row. updateMask limits the updated fields when
// non-empty.
func (s *Service) UpdateRow(ctx context.Context, name string, row wire.Object, updateMask string) (wire.Object, error) {
	query := url.Values{}
	if updateMask != "" {
		query.Set("updateMask", updateMask)
	}
	return s.client.Do(ctx, http.MethodPatch, "/v1alpha1/"+name, query, rowSchema, row, rowSchema)
}

// BatchCreateRows creates multiple rows in a table in one call.
func (s *Service) BatchCreateRows(ctx context.Context, parent string, rows []wire.Object) (wire.Object, error) {
	requests := make([]any, len(rows))
	for i, row := range rows {
		requests[i] = map[string]any{"parent": parent, "row": map[string]any(row)}
	}
	body := wire.Object{"requests": requests}
	return s.client.Post(ctx, "/v1alpha1/"+parent+"/rows:batchCreate", nil,
		batchCreateRowsRequestSchema, body, batchCreateRowsResponseSchema)
}

// GetTable fetches a table by resource name ("tables/{table}").
func (s *Service) GetTable(ctx context.Context, name string) (wire.Object, error) {
	return s.client.Get(ctx, "/v1alpha1/"+name, nil, tableSchema)
}

// GetWorkspace fetches a workspace by resource name ("workspaces/{workspace}").
func (s *Service) GetWorkspace(ctx context.Context, name string) (wire.Object, error) {
	return s.client.Get(ctx, "/v1alpha1/"+name, nil, workspaceSchema)
}
