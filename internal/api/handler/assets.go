package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/calebsch/vqhub/internal/api/response"
	"github.com/calebsch/vqhub/internal/store"
)

// NewListAssetsHandler returns an http.HandlerFunc for GET /api/v1/assets.
// An optional ?prefix= narrows the listing.
func NewListAssetsHandler(gw store.Gateway, defaultBucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bucket := bucketParam(r, defaultBucket)

		keys, err := gw.ListObjects(r.Context(), bucket, r.URL.Query().Get("prefix"))
		if err != nil {
			response.Error(w, http.StatusBadGateway, "STORAGE_ERROR",
				"Failed to list objects", nil)
			return
		}
		if keys == nil {
			keys = []string{}
		}
		response.JSON(w, map[string]any{"bucket": bucket, "keys": keys})
	}
}

// NewPresignUploadHandler returns an http.HandlerFunc for
// POST /api/v1/assets/presign. The returned URL lets the caller PUT the asset
// directly to object storage without routing video bytes through this server.
func NewPresignUploadHandler(gw store.Gateway, defaultBucket string, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Bucket      string `json:"bucket"`
			Key         string `json:"key"`
			ContentType string `json:"content_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Key == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "key is required", nil)
			return
		}

		bucket := req.Bucket
		if bucket == "" {
			bucket = defaultBucket
		}
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		url, err := gw.PresignUpload(r.Context(), bucket, req.Key, contentType, ttl)
		if err != nil {
			response.Error(w, http.StatusBadGateway, "STORAGE_ERROR",
				"Failed to presign upload", nil)
			return
		}

		response.JSON(w, map[string]any{
			"bucket":     bucket,
			"key":        req.Key,
			"url":        url,
			"expires_in": int(ttl.Seconds()),
		})
	}
}

// NewDeleteAssetHandler returns an http.HandlerFunc for DELETE /api/v1/assets.
// The key to delete arrives as ?key= since object keys contain slashes.
func NewDeleteAssetHandler(gw store.Gateway, defaultBucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "key is required", nil)
			return
		}

		if err := gw.DeleteObject(r.Context(), bucketParam(r, defaultBucket), key); err != nil && !errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusBadGateway, "STORAGE_ERROR",
				"Failed to delete object", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// NewCreateBucketHandler returns an http.HandlerFunc for POST /api/v1/buckets.
func NewCreateBucketHandler(gw store.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}

		if err := gw.CreateBucket(r.Context(), req.Name); err != nil {
			response.Error(w, http.StatusBadGateway, "STORAGE_ERROR",
				"Failed to create bucket", nil)
			return
		}
		response.Created(w, map[string]string{"name": req.Name})
	}
}
