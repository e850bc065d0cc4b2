package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/openmined/artifactsync/internal/version"
)

func SetupRoutes(config *Config, store *ContentStore, faults *Faults) (http.Handler, error) {
	r := gin.New()

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.BestSpeed))
	r.Use(cors.Default())
	r.Use(secure.New(secure.Config{
		IsDevelopment:      true,
		FrameDeny:          true,
		ContentTypeNosniff: true,
	}))

	if config.RateLimit != "" {
		rateLimiter, err := rateLimiter(config.RateLimit)
		if err != nil {
			return nil, err
		}
		r.Use(rateLimiter)
	}

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	h := &contentHandler{store: store, omitFingerprints: config.OmitFingerprints}

	api := r.Group("/public/api")
	api.Use(faults.middleware())
	if config.APIKey != "" {
		api.Use(gin.BasicAuth(gin.Accounts{config.APIKey: ""}))
	}
	{
		plugin := h.treeHandler("plugin", "id")
		api.GET("/plugins/", h.listPlugins)
		api.GET("/plugins/:id/contents/*path", plugin)
		api.PUT("/plugins/:id/contents/*path", plugin)
		api.DELETE("/plugins/:id/contents/*path", plugin)

		library := h.treeHandler("library", "key")
		api.GET("/projects/:key/libraries/contents/*path", library)
		api.PUT("/projects/:key/libraries/contents/*path", library)
		api.DELETE("/projects/:key/libraries/contents/*path", library)

		api.GET("/projects/:key/recipes/", h.listRecipes)
		api.GET("/projects/:key/recipes/:name", h.getRecipe)
		api.PUT("/projects/:key/recipes/:name", h.putRecipe)
		api.DELETE("/projects/:key/recipes/:name", h.deleteRecipe)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler(), nil
}

func rateLimiter(formattedRate string) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(formattedRate)
	if err != nil {
		return nil, err
	}
	return mgin.NewMiddleware(
		limiter.New(memory.NewStore(), rate),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.PureJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			c.PureJSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
		}),
	), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.Detailed())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
