// Package httpapi is the HTTP adapter binding URL routes onto registered
// pipeline methods. HTTP routing and body parsing are treated as an
// interface obligation, not part of the core request-processing contract:
// this package's job is to decode a request into {source, username, auth,
// headers, query, params}, hand it to internal/pipeline, and translate the
// typed error (or result) back into an HTTP response.
//
// Built on gin. The ambient middleware chain (request id, structured
// logging, security headers, rate limiting, size limits, timeouts) lives in
// internal/middleware, reused as-is since none of it is domain-coupled.
package httpapi

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apierrors "github.com/corestream/datacore/internal/errors"
	"github.com/corestream/datacore/internal/methodcontext"
	"github.com/corestream/datacore/internal/middleware"
	"github.com/corestream/datacore/internal/pipeline"
	"github.com/corestream/datacore/internal/streaming"
)

// apiVersion is echoed on every response.
const apiVersion = "1.0.0"

// subdomainPattern matches the DNS label rewritten into the URL path
// prefix, e.g. "alice.datacore.example.com" -> path prefix "/alice".
var subdomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{3,21}[a-z0-9]$`)

// HTTPConfig parameterizes the ambient middleware Engine mounts: per-IP rate
// limiting and response compression.
type HTTPConfig struct {
	RateLimitPerSecond float64
	RateLimitBurst     int
	GzipLevel          int
}

// Router builds the gin engine wiring HTTP routes onto pipeline methods.
type Router struct {
	pipeline    *pipeline.Pipeline
	deps        methodcontext.Deps
	ignorePaths map[string]bool
	httpConfig  HTTPConfig
	streams     *streaming.Hub
}

// New creates a Router. ignorePaths lists path prefixes the subdomain
// rewrite must pass through untouched (e.g. "/health", "/metrics"). streams
// may be nil, in which case events.getStreamed refuses every connection.
func New(p *pipeline.Pipeline, deps methodcontext.Deps, ignorePaths []string, httpConfig HTTPConfig, streams *streaming.Hub) *Router {
	ignore := make(map[string]bool, len(ignorePaths))
	for _, path := range ignorePaths {
		ignore[path] = true
	}
	return &Router{pipeline: p, deps: deps, ignorePaths: ignore, httpConfig: httpConfig, streams: streams}
}

// Engine assembles the full gin engine: ambient middleware, then
// subdomain rewrite + CORS + API-Version stamping, then the method routes.
func (rt *Router) Engine() *gin.Engine {
	engine := gin.New()

	rateLimit := rt.httpConfig.RateLimitPerSecond
	if rateLimit <= 0 {
		rateLimit = 50
	}
	burst := rt.httpConfig.RateLimitBurst
	if burst <= 0 {
		burst = 100
	}
	limiter := middleware.NewRateLimiter(rateLimit, burst)

	gzipLevel := rt.httpConfig.GzipLevel
	if gzipLevel == 0 {
		gzipLevel = middleware.DefaultCompression
	}

	engine.Use(
		middleware.RequestID(),
		middleware.StructuredLogger(),
		middleware.SecurityHeaders(),
		middleware.DefaultSizeLimiter(),
		middleware.Timeout(middleware.DefaultTimeoutConfig()),
		limiter.Middleware(),
		middleware.GzipWithExclusions(gzipLevel, []string{"/:username/events/stream"}),
		rt.subdomainRewrite(),
		rt.cors(),
		rt.stampVersion(),
	)

	engine.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusOK) })

	// events.*
	engine.GET("/:username/events", rt.handle("events.get"))
	engine.POST("/:username/events", rt.handle("events.create"))
	engine.PUT("/:username/events/:id", rt.handle("events.update"))
	engine.DELETE("/:username/events/:id", rt.handle("events.delete"))

	// streams.*
	engine.GET("/:username/streams", rt.handle("streams.get"))
	engine.POST("/:username/streams", rt.handle("streams.create"))
	engine.PUT("/:username/streams/:id", rt.handle("streams.update"))
	engine.DELETE("/:username/streams/:id", rt.handle("streams.delete"))

	// accesses.*
	engine.GET("/:username/accesses", rt.handle("accesses.get"))
	engine.POST("/:username/accesses", rt.handle("accesses.create"))
	engine.DELETE("/:username/accesses/:id", rt.handle("accesses.delete"))

	// account.*
	engine.GET("/:username/account", rt.handle("account.get"))
	engine.PUT("/:username/account", rt.handle("account.update"))

	// auth.*
	engine.POST("/:username/auth/login", rt.handle("auth.login"))
	engine.POST("/:username/auth/logout", rt.handle("auth.logout"))
	engine.POST("/:username/auth/totp-enroll", rt.handle("auth.totpEnroll"))

	// batch
	engine.POST("/:username/batch", rt.handleBatch())

	// events.getStreamed: a websocket feed of newly created events, in
	// place of polling events.get.
	engine.GET("/:username/events/stream", rt.handleEventStream())

	return engine
}

// handleEventStream upgrades an authenticated request to a websocket and
// streams that user's newly created events to it until disconnect.
func (rt *Router) handleEventStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		mc, err := rt.buildMethodContext(c)
		if err != nil {
			respondError(c, err)
			return
		}
		if rt.streams == nil {
			respondError(c, apierrors.Unexpected(nil))
			return
		}

		conn, err := streaming.Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		rt.streams.Serve(conn, mc.UserID())
	}
}

// subdomainRewrite rewrites a leading DNS label matching the username
// pattern into the URL path prefix, unless the path is already prefixed or
// appears in the configured ignore list.
func (rt *Router) subdomainRewrite() gin.HandlerFunc {
	return func(c *gin.Context) {
		host := strings.SplitN(c.Request.Host, ":", 2)[0]
		labels := strings.SplitN(host, ".", 2)
		if len(labels) < 2 || !subdomainPattern.MatchString(labels[0]) {
			c.Next()
			return
		}
		for prefix := range rt.ignorePaths {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}
		if !strings.HasPrefix(c.Request.URL.Path, "/"+labels[0]) {
			c.Request.URL.Path = "/" + labels[0] + c.Request.URL.Path
		}
		c.Next()
	}
}

// cors answers CORS preflight permissively and echoes request headers on
// every response.
func (rt *Router) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if reqHeaders := c.GetHeader("Access-Control-Request-Headers"); reqHeaders != "" {
			c.Header("Access-Control-Allow-Headers", reqHeaders)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// stampVersion adds the API-Version header every response carries;
// Pryv-Access-Id is set by the handlers once the access is resolved.
func (rt *Router) stampVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("API-Version", apiVersion)
		c.Next()
	}
}

// authFromRequest extracts the auth string from the Authorization header or
// the ?auth= query parameter.
func authFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return h
	}
	return c.Query("auth")
}

func headersMap(c *gin.Context) map[string]string {
	out := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		out[k] = c.Request.Header.Get(k)
	}
	return out
}

func queryMap(c *gin.Context) map[string]string {
	out := make(map[string]string, len(c.Request.URL.Query()))
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// buildMethodContext resolves MethodContext for one request.
func (rt *Router) buildMethodContext(c *gin.Context) (*methodcontext.Context, error) {
	username := c.Param("username")
	auth := authFromRequest(c)
	if auth == "" {
		return nil, apierrors.InvalidAccessToken("missing access token")
	}
	source := methodcontext.Source{Name: c.Request.UserAgent(), IP: c.ClientIP()}
	return methodcontext.New(c.Request.Context(), rt.deps, source, username, auth, headersMap(c), queryMap(c))
}

// handle returns a gin handler invoking the named pipeline method with the
// request body as params.
func (rt *Router) handle(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		mc, err := rt.buildMethodContext(c)
		if err != nil {
			respondError(c, err)
			return
		}

		var params map[string]interface{}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&params); err != nil {
				respondError(c, apierrors.InvalidRequestStructure(err.Error()))
				return
			}
		}
		if params == nil {
			params = map[string]interface{}{}
		}
		for _, p := range c.Params {
			params[p.Key] = p.Value
		}
		for k, v := range queryMap(c) {
			params[k] = v
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		result, err := rt.pipeline.Invoke(ctx, mc, name, params)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Pryv-Access-Id", mc.Access().ID)
		c.JSON(http.StatusOK, result)
	}
}

// handleBatch decodes an ordered {method, params} list and runs it through
// pipeline.Batch, sharing one resolved MethodContext across every sub-call.
func (rt *Router) handleBatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		mc, err := rt.buildMethodContext(c)
		if err != nil {
			respondError(c, err)
			return
		}

		var body []struct {
			Method string                 `json:"method"`
			Params map[string]interface{} `json:"params"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, apierrors.InvalidRequestStructure(err.Error()))
			return
		}

		requests := make([]pipeline.BatchRequest, len(body))
		for i, b := range body {
			requests[i] = pipeline.BatchRequest{Method: b.Method, Params: b.Params}
		}

		results := rt.pipeline.Batch(c.Request.Context(), mc, requests)
		payload := make([]gin.H, len(results))
		for i, r := range results {
			if r.Error != nil {
				appErr := apierrors.AsAppError(r.Error)
				payload[i] = gin.H{"error": appErr.ToResponse().Error}
				continue
			}
			payload[i] = gin.H{"result": r.Result}
		}

		c.Header("Pryv-Access-Id", mc.Access().ID)
		c.JSON(http.StatusOK, gin.H{"results": payload})
	}
}

func respondError(c *gin.Context, err error) {
	appErr := apierrors.AsAppError(err)
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}
