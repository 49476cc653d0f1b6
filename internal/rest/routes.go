package rest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	reg "gcpwire/internal/registry"
	"gcpwire/internal/wire"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
)

var registry *reg.Registry
var kvEntries, kvConfig nats.KeyValue

// Init initializes the REST handlers with the descriptor registry.
// If NATS is not available, it will use in-memory storage.
func Init(entries, config nats.KeyValue) {
	slog.Info("Initializing descriptor registry handlers")

	if entries == nil {
		slog.Warn("Descriptor storage not available, using in-memory fallback")
		entries = NewMemoryKeyValue("DESCRIPTORS")
	} else {
		slog.Info("Using external descriptor storage", "bucket", entries.Bucket())
	}

	if config == nil {
		slog.Warn("Config storage not available, using in-memory fallback")
		config = NewMemoryKeyValue("CONFIG")
	} else {
		slog.Info("Using external config storage", "bucket", config.Bucket())
	}

	kvEntries = entries
	kvConfig = config

	registry = reg.New(kvEntries, kvConfig)

	slog.Info("Descriptor registry handlers initialized successfully")
}

// DescriptorRecord represents a stored descriptor version
type DescriptorRecord struct {
	Descriptor json.RawMessage `json:"descriptor"`
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	ID         int             `json:"id"`
}

// DescriptorRequest is payload for registering descriptors.
type DescriptorRequest struct {
	Descriptor json.RawMessage `json:"descriptor"`
}

// DescriptorResponse returns the descriptor ID.
type DescriptorResponse struct {
	ID int `json:"id"`
}

// CompatibilityResponse indicates compatibility result.
type CompatibilityResponse struct {
	IsCompatible bool `json:"is_compatible"`
}

// ConfigRequest updates compatibility.
type ConfigRequest struct {
	Compatibility string `json:"compatibility"`
}

// ConfigResponse returns compatibility.
type ConfigResponse struct {
	CompatibilityLevel string `json:"compatibilityLevel"`
}

// ValidationResponse reports whether a payload coerces cleanly.
type ValidationResponse struct {
	Valid bool   `json:"valid"`
	Field string `json:"field,omitempty"`
	Error string `json:"error,omitempty"`
}

// ErrorResponse represents an error message
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// SetupRouter creates and configures a Gin router with all registry routes
func SetupRouter() *gin.Engine {
	// Set Gin to release mode in production
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Set custom content type for all responses
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/vnd.gcpwire.v1+json")
		c.Next()
	})

	// Message routes
	r.GET("/messages", handleMessages)

	// Message version routes
	messageGroup := r.Group("/messages/:name")
	{
		messageGroup.GET("/versions", listVersions)
		messageGroup.POST("/versions", registerDescriptor)
		messageGroup.GET("/versions/:version", getDescriptor)
		messageGroup.DELETE("/versions/:version", deleteVersion)
		messageGroup.DELETE("", deleteName)
		messageGroup.POST("", lookupDescriptor)
		messageGroup.POST("/validate", validatePayload)
		messageGroup.POST("/canonicalize", canonicalizePayload)
	}

	// Descriptor ID routes
	r.GET("/descriptors/ids/:id", getDescriptorByID)

	// Compatibility routes
	r.POST("/compatibility/messages/:name/versions", checkCompatibility)

	// Config routes
	r.GET("/config", getGlobalConfig)
	r.PUT("/config", updateGlobalConfig)
	r.GET("/config/:name", getNameConfig)
	r.PUT("/config/:name", updateNameConfig)

	return r
}

// Routes returns an http.Handler for the registry surface
func Routes() http.Handler {
	return SetupRouter()
}

func storageUnavailable(c *gin.Context) bool {
	if kvEntries == nil || registry == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			ErrorCode: 50300,
			Message:   "storage backend unavailable",
		})
		return true
	}
	return false
}

func handleMessages(c *gin.Context) {
	if storageUnavailable(c) {
		return
	}

	keys, err := kvEntries.Keys()
	if err != nil && err != nats.ErrNoKeysFound {
		slog.Error("Failed to get keys", "error", err, "bucket", kvEntries.Bucket())
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			ErrorCode: 50000,
			Message:   fmt.Sprintf("failed to get keys: %v", err),
		})
		return
	}

	// Extract unique message names from the version keys
	names := make(map[string]bool)
	prefix := "messages/"
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(key, prefix), "/")
		if len(parts) > 0 {
			names[parts[0]] = true
		}
	}

	nameList := make([]string, 0, len(names))
	for name := range names {
		nameList = append(nameList, name)
	}

	c.JSON(http.StatusOK, nameList)
}

func registerDescriptor(c *gin.Context) {
	name := c.Param("name")

	if storageUnavailable(c) {
		return
	}

	var req DescriptorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorCode: 42201,
			Message:   "invalid JSON",
		})
		return
	}

	slog.Debug("Registering descriptor", "name", name)
	id, err := registry.Register(name, req.Descriptor)
	if err != nil {
		if strings.Contains(err.Error(), "incompatible descriptor") {
			c.JSON(http.StatusConflict, ErrorResponse{
				ErrorCode: 40901,
				Message:   err.Error(),
			})
		} else {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				ErrorCode: 42201,
				Message:   err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, DescriptorResponse{ID: id})
}

func getDescriptor(c *gin.Context) {
	name := c.Param("name")
	version := c.Param("version")

	if storageUnavailable(c) {
		return
	}

	entry, err := registry.GetByNameVersion(name, version)
	if err != nil {
		code := http.StatusInternalServerError
		if err.Error() == "no versions found" || err == nats.ErrKeyNotFound {
			code = http.StatusNotFound
		}

		c.JSON(code, ErrorResponse{
			ErrorCode: 40401,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, DescriptorRecord{
		Descriptor: entry.Descriptor,
		Name:       entry.Name,
		Version:    entry.Version,
		ID:         entry.ID,
	})
}

func listVersions(c *gin.Context) {
	name := c.Param("name")

	if storageUnavailable(c) {
		return
	}

	versions, err := registry.Versions(name)
	if err != nil {
		code := http.StatusInternalServerError
		if err.Error() == "no versions found" {
			code = http.StatusNotFound
		}
		c.JSON(code, ErrorResponse{
			ErrorCode: 40401,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, versions)
}

func checkCompatibility(c *gin.Context) {
	name := c.Param("name")

	if storageUnavailable(c) {
		return
	}

	var req DescriptorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorCode: 42201,
			Message:   "invalid JSON",
		})
		return
	}

	level, err := registry.GetCompatibilityLevel(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			ErrorCode: 50000,
			Message:   err.Error(),
		})
		return
	}

	compatible, err := registry.CheckCompatibility(name, req.Descriptor, level)
	if err != nil {
		if strings.Contains(err.Error(), "parse descriptor") {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				ErrorCode: 42201,
				Message:   err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			ErrorCode: 50000,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, CompatibilityResponse{IsCompatible: compatible})
}

// validatePayload coerces a wire payload through a registered descriptor
// and reports the first malformed field, if any.
func validatePayload(c *gin.Context) {
	name := c.Param("name")
	version := c.DefaultQuery("version", "latest")

	if storageUnavailable(c) {
		return
	}

	schema, err := registry.Schema(name, version)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			ErrorCode: 40401,
			Message:   err.Error(),
		})
		return
	}

	var payload wire.Object
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorCode: 42201,
			Message:   "invalid JSON",
		})
		return
	}

	if _, err := wire.ToNative(schema, payload); err != nil {
		resp := ValidationResponse{Valid: false, Error: err.Error()}
		if decErr, ok := wire.IsDecode(err); ok {
			resp.Field = decErr.Path
		}
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}

	c.JSON(http.StatusOK, ValidationResponse{Valid: true})
}

// canonicalizePayload round-trips a wire payload through its native form
// and returns the normalized wire encoding: minimal timestamps, no
// leading zeros on integers, strict base64.
func canonicalizePayload(c *gin.Context) {
	name := c.Param("name")
	version := c.DefaultQuery("version", "latest")

	if storageUnavailable(c) {
		return
	}

	schema, err := registry.Schema(name, version)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			ErrorCode: 40401,
			Message:   err.Error(),
		})
		return
	}

	var payload wire.Object
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorCode: 42201,
			Message:   "invalid JSON",
		})
		return
	}

	native, err := wire.ToNative(schema, payload)
	if err != nil {
		resp := ValidationResponse{Valid: false, Error: err.Error()}
		if decErr, ok := wire.IsDecode(err); ok {
			resp.Field = decErr.Path
		}
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}

	canonical, err := wire.ToWire(schema, native)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			ErrorCode: 50000,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, canonical)
}

func getGlobalConfig(c *gin.Context) {
	if kvConfig == nil || registry == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			ErrorCode: 50300,
			Message:   "storage backend unavailable",
		})
		return
	}

	level, err := registry.GetCompatibilityLevel("global")
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			ErrorCode: 50000,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(level)})
}

func updateGlobalConfig(c *gin.Context) {
	if kvConfig == nil || registry == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			ErrorCode: 50300,
			Message:   "storage backend unavailable",
		})
		return
	}

	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorCode: 42201,
			Message:   "invalid JSON",
		})
		return
	}

	if err := registry.SetCompatibilityLevel("global", reg.Level(req.Compatibility)); err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			ErrorCode: 42203,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: req.Compatibility})
}

func getNameConfig(c *gin.Context) {
	name := c.Param("name")

	if kvConfig == nil || registry == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			ErrorCode: 50300,
			Message:   "storage backend unavailable",
		})
		return
	}

	level, err := registry.GetCompatibilityLevel(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			ErrorCode: 50000,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(level)})
}

func updateNameConfig(c *gin.Context) {
	name := c.Param("name")

	if kvConfig == nil || registry == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			ErrorCode: 50300,
			Message:   "storage backend unavailable",
		})
		return
	}

	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorCode: 42201,
			Message:   "invalid JSON",
		})
		return
	}

	if err := registry.SetCompatibilityLevel(name, reg.Level(req.Compatibility)); err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			ErrorCode: 42203,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: req.Compatibility})
}

func getDescriptorByID(c *gin.Context) {
	id := c.Param("id")

	if storageUnavailable(c) {
		return
	}

	idNum, err := strconv.Atoi(id)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorCode: 42202,
			Message:   fmt.Sprintf("invalid descriptor ID: %s", id),
		})
		return
	}

	entry, err := registry.GetByID(idNum)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			ErrorCode: 40403,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"descriptor": json.RawMessage(entry.Descriptor)})
}

func deleteVersion(c *gin.Context) {
	name := c.Param("name")
	version := c.Param("version")

	if storageUnavailable(c) {
		return
	}

	err := registry.DeleteVersion(name, version)
	if err != nil {
		code := http.StatusInternalServerError
		if err.Error() == "version not found" {
			code = http.StatusNotFound
		}

		c.JSON(code, ErrorResponse{
			ErrorCode: 40402,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, version)
}

func deleteName(c *gin.Context) {
	name := c.Param("name")

	if storageUnavailable(c) {
		return
	}

	versions, err := registry.DeleteName(name)
	if err != nil {
		code := http.StatusInternalServerError
		if err.Error() == "message not found" || err.Error() == "no versions found" {
			code = http.StatusNotFound
		}

		c.JSON(code, ErrorResponse{
			ErrorCode: 40401,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, versions)
}

func lookupDescriptor(c *gin.Context) {
	name := c.Param("name")

	if storageUnavailable(c) {
		return
	}

	var req DescriptorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorCode: 42201,
			Message:   "invalid JSON",
		})
		return
	}

	entry, err := registry.Lookup(name, req.Descriptor)
	if err != nil {
		if err.Error() == "descriptor not found" || err.Error() == "no versions found" {
			c.JSON(http.StatusNotFound, ErrorResponse{
				ErrorCode: 40403,
				Message:   err.Error(),
			})
		} else {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				ErrorCode: 42201,
				Message:   err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, DescriptorRecord{
		Descriptor: entry.Descriptor,
		Name:       entry.Name,
		Version:    entry.Version,
		ID:         entry.ID,
	})
}
