package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})
	slog.SetDefault(slog.New(h))
	os.Exit(m.Run())
}

const deploymentDescriptor = `{
	"name": "Deployment",
	"fields": {
		"name":        {"kind": "string"},
		"id":          {"kind": "int64"},
		"fingerprint": {"kind": "bytes"},
		"insertTime":  {"kind": "timestamp"}
	}
}`

const deploymentDescriptorV2 = `{
	"name": "Deployment",
	"fields": {
		"name":        {"kind": "string"},
		"id":          {"kind": "int64"},
		"fingerprint": {"kind": "bytes"},
		"insertTime":  {"kind": "timestamp"},
		"updateTime":  {"kind": "timestamp"}
	}
}`

// setupRoutes resets the handlers onto fresh in-memory storage.
func setupRoutes(t *testing.T) *gin.Engine {
	t.Helper()
	Init(nil, nil)
	return SetupRouter()
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func registerDoc(t *testing.T, router *gin.Engine, name, doc string) int {
	t.Helper()
	w := doRequest(router, http.MethodPost, "/messages/"+name+"/versions",
		`{"descriptor": `+doc+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp DescriptorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.ID
}

func TestRegisterDescriptor(t *testing.T) {
	router := setupRoutes(t)

	id := registerDoc(t, router, "Deployment", deploymentDescriptor)
	assert.Equal(t, 1, id)

	// Identical document returns the existing ID
	again := registerDoc(t, router, "Deployment", deploymentDescriptor)
	assert.Equal(t, id, again)

	// Compatible evolution gets a new ID
	v2 := registerDoc(t, router, "Deployment", deploymentDescriptorV2)
	assert.Equal(t, 2, v2)
}

func TestRegisterDescriptor_Invalid(t *testing.T) {
	router := setupRoutes(t)

	w := doRequest(router, http.MethodPost, "/messages/Deployment/versions",
		`{"descriptor": {"fields": {}}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doRequest(router, http.MethodPost, "/messages/Deployment/versions", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterDescriptor_Incompatible(t *testing.T) {
	router := setupRoutes(t)
	registerDoc(t, router, "Deployment", deploymentDescriptor)

	// Changing a field's kind violates the default BACKWARD policy
	w := doRequest(router, http.MethodPost, "/messages/Deployment/versions",
		`{"descriptor": {"name": "Deployment", "fields": {
			"name":        {"kind": "bytes"},
			"id":          {"kind": "int64"},
			"fingerprint": {"kind": "bytes"},
			"insertTime":  {"kind": "timestamp"}
		}}}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetDescriptor(t *testing.T) {
	router := setupRoutes(t)
	id := registerDoc(t, router, "Deployment", deploymentDescriptor)

	w := doRequest(router, http.MethodGet, "/messages/Deployment/versions/1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var rec DescriptorRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "Deployment", rec.Name)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, id, rec.ID)
	assert.JSONEq(t, deploymentDescriptor, string(rec.Descriptor))

	// "latest" resolves to the newest version
	registerDoc(t, router, "Deployment", deploymentDescriptorV2)
	w = doRequest(router, http.MethodGet, "/messages/Deployment/versions/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, 2, rec.Version)

	w = doRequest(router, http.MethodGet, "/messages/Unknown/versions/latest", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListMessagesAndVersions(t *testing.T) {
	router := setupRoutes(t)

	w := doRequest(router, http.MethodGet, "/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	registerDoc(t, router, "Deployment", deploymentDescriptor)
	registerDoc(t, router, "Deployment", deploymentDescriptorV2)

	w = doRequest(router, http.MethodGet, "/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["Deployment"]`, w.Body.String())

	w = doRequest(router, http.MethodGet, "/messages/Deployment/versions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[1, 2]`, w.Body.String())

	w = doRequest(router, http.MethodGet, "/messages/Unknown/versions", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDescriptorByID(t *testing.T) {
	router := setupRoutes(t)
	registerDoc(t, router, "Deployment", deploymentDescriptor)

	w := doRequest(router, http.MethodGet, "/descriptors/ids/1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Descriptor json.RawMessage `json:"descriptor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.JSONEq(t, deploymentDescriptor, string(resp.Descriptor))

	w = doRequest(router, http.MethodGet, "/descriptors/ids/99", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodGet, "/descriptors/ids/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckCompatibility(t *testing.T) {
	router := setupRoutes(t)
	registerDoc(t, router, "Deployment", deploymentDescriptor)

	w := doRequest(router, http.MethodPost, "/compatibility/messages/Deployment/versions",
		`{"descriptor": `+deploymentDescriptorV2+`}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp CompatibilityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsCompatible)

	w = doRequest(router, http.MethodPost, "/compatibility/messages/Deployment/versions",
		`{"descriptor": {"name": "Deployment", "fields": {"name": {"kind": "int64"}}}}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsCompatible)

	w = doRequest(router, http.MethodPost, "/compatibility/messages/Deployment/versions",
		`{"descriptor": {"fields": {}}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestConfig(t *testing.T) {
	router := setupRoutes(t)

	w := doRequest(router, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"compatibilityLevel": "BACKWARD"}`, w.Body.String())

	w = doRequest(router, http.MethodPut, "/config", `{"compatibility": "FULL"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"compatibilityLevel": "FULL"}`, w.Body.String())

	w = doRequest(router, http.MethodPut, "/config", `{"compatibility": "SIDEWAYS"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Per-message config overrides global
	w = doRequest(router, http.MethodPut, "/config/Deployment", `{"compatibility": "NONE"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/config/Deployment", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"compatibilityLevel": "NONE"}`, w.Body.String())
}

func TestValidatePayload(t *testing.T) {
	router := setupRoutes(t)
	registerDoc(t, router, "Deployment", deploymentDescriptor)

	w := doRequest(router, http.MethodPost, "/messages/Deployment/validate",
		`{"name": "web", "id": "42", "fingerprint": "/w==", "insertTime": "2021-01-01T10:30:00Z"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ValidationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)

	// Malformed base64 reports the offending field
	w = doRequest(router, http.MethodPost, "/messages/Deployment/validate",
		`{"name": "web", "fingerprint": "####"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	assert.Equal(t, "fingerprint", resp.Field)

	w = doRequest(router, http.MethodPost, "/messages/Unknown/validate", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCanonicalizePayload(t *testing.T) {
	router := setupRoutes(t)
	registerDoc(t, router, "Deployment", deploymentDescriptor)

	// Zero fractional seconds and leading zeros are normalized away
	w := doRequest(router, http.MethodPost, "/messages/Deployment/canonicalize",
		`{"name": "web", "id": "0042", "insertTime": "2021-01-01T10:30:00.000Z", "extra": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t,
		`{"name": "web", "id": "42", "insertTime": "2021-01-01T10:30:00Z", "extra": true}`,
		w.Body.String())

	w = doRequest(router, http.MethodPost, "/messages/Deployment/canonicalize",
		`{"insertTime": "not a time"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestLookupDescriptor(t *testing.T) {
	router := setupRoutes(t)
	registerDoc(t, router, "Deployment", deploymentDescriptor)

	w := doRequest(router, http.MethodPost, "/messages/Deployment",
		`{"descriptor": `+deploymentDescriptor+`}`)
	require.Equal(t, http.StatusOK, w.Code)

	var rec DescriptorRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, 1, rec.ID)
	assert.Equal(t, 1, rec.Version)

	w = doRequest(router, http.MethodPost, "/messages/Deployment",
		`{"descriptor": `+deploymentDescriptorV2+`}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteOperations(t *testing.T) {
	router := setupRoutes(t)
	registerDoc(t, router, "Deployment", deploymentDescriptor)
	registerDoc(t, router, "Deployment", deploymentDescriptorV2)

	w := doRequest(router, http.MethodDelete, "/messages/Deployment/versions/1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/messages/Deployment/versions/1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodDelete, "/messages/Deployment/versions/9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodDelete, "/messages/Deployment", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/messages/Deployment/versions", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// flakyKeyValue fails reads on demand to simulate a storage outage.
type flakyKeyValue struct {
	*MemoryKeyValue
	failGets bool
}

func (f *flakyKeyValue) Get(key string) (nats.KeyValueEntry, error) {
	if f.failGets {
		return nil, errors.New("kv read failed")
	}
	return f.MemoryKeyValue.Get(key)
}

func TestCheckCompatibility_StoreFailure(t *testing.T) {
	kv := &flakyKeyValue{MemoryKeyValue: NewMemoryKeyValue("DESCRIPTORS")}
	Init(kv, nil)
	router := SetupRouter()

	registerDoc(t, router, "Deployment", deploymentDescriptor)
	kv.failGets = true

	// A store failure is a server error, never a compatibility verdict
	w := doRequest(router, http.MethodPost, "/compatibility/messages/Deployment/versions",
		`{"descriptor": `+deploymentDescriptorV2+`}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Message, "kv read failed")
}
