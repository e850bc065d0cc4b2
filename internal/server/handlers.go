package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/openmined/artifactsync/internal/artifact"
)

type contentHandler struct {
	store            *ContentStore
	omitFingerprints bool
}

type listEntry struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type recipeWriteBody struct {
	Payload *string `json:"payload"`
	Type    string  `json:"type"`
}

func abortWithError(ctx *gin.Context, err error) {
	ctx.Error(err)
	switch {
	case errors.Is(err, ErrNotFound):
		ctx.PureJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrIsDir), errors.Is(err, artifact.ErrInvalidKey):
		ctx.PureJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		ctx.PureJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *contentHandler) listPlugins(ctx *gin.Context) {
	ids := h.store.Plugins()
	plugins := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		plugins = append(plugins, gin.H{"id": id})
	}
	ctx.PureJSON(http.StatusOK, plugins)
}

// treeHandler serves listings (empty path) and single files of one tree kind.
func (h *contentHandler) treeHandler(kind, idParam string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param(idParam)
		rawPath := strings.TrimPrefix(ctx.Param("path"), "/")

		if rawPath == "" {
			if ctx.Request.Method != http.MethodGet {
				ctx.PureJSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
				return
			}
			h.list(ctx, kind, id)
			return
		}

		path, err := artifact.CleanRemotePath(rawPath)
		if err != nil {
			abortWithError(ctx, err)
			return
		}

		switch ctx.Request.Method {
		case http.MethodGet:
			data, err := h.store.ReadFile(kind, id, path)
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.Data(http.StatusOK, "application/octet-stream", data)
		case http.MethodPut:
			data, err := io.ReadAll(ctx.Request.Body)
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			if err := h.store.WriteFile(kind, id, path, data); err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.PureJSON(http.StatusOK, gin.H{"path": path, "size": len(data)})
		case http.MethodDelete:
			if err := h.store.DeleteFile(kind, id, path); err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.PureJSON(http.StatusOK, gin.H{"path": path})
		default:
			ctx.PureJSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
		}
	}
}

func (h *contentHandler) list(ctx *gin.Context, kind, id string) {
	entries, err := h.store.List(kind, id)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	out := make([]listEntry, 0, len(entries))
	for _, e := range entries {
		entry := listEntry{Path: e.Path, Size: e.Size}
		if !h.omitFingerprints {
			entry.Fingerprint = e.Fingerprint.String()
		}
		out = append(out, entry)
	}
	ctx.PureJSON(http.StatusOK, out)
}

func (h *contentHandler) listRecipes(ctx *gin.Context) {
	names, types := h.store.Recipes(ctx.Param("key"))
	recipes := make([]gin.H, 0, len(names))
	for _, name := range names {
		recipes = append(recipes, gin.H{"name": name, "type": types[name]})
	}
	ctx.PureJSON(http.StatusOK, recipes)
}

func (h *contentHandler) getRecipe(ctx *gin.Context) {
	name := ctx.Param("name")
	r, err := h.store.ReadRecipe(ctx.Param("key"), name)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, gin.H{
		"recipe": gin.H{
			"name":       name,
			"type":       r.Type,
			"versionTag": gin.H{"versionNumber": r.Version},
		},
		"payload": string(r.Payload),
	})
}

func (h *contentHandler) putRecipe(ctx *gin.Context) {
	var body recipeWriteBody
	if err := ctx.ShouldBindJSON(&body); err != nil || body.Payload == nil {
		ctx.PureJSON(http.StatusBadRequest, gin.H{"error": "payload is required"})
		return
	}
	v := h.store.WriteRecipe(ctx.Param("key"), ctx.Param("name"), body.Type, []byte(*body.Payload))
	ctx.PureJSON(http.StatusOK, gin.H{
		"versionTag": gin.H{"versionNumber": v},
	})
}

func (h *contentHandler) deleteRecipe(ctx *gin.Context) {
	if err := h.store.DeleteRecipe(ctx.Param("key"), ctx.Param("name")); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, gin.H{"name": ctx.Param("name")})
}
