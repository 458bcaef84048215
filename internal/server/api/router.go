package api

import (
	"fmt"
	"net/http"

	"filevault/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/acme/autocert"
)

// multipartOverhead is the body allowance on top of MaxFileSize for form
// boundaries and the comment field.
const multipartOverhead = 1 << 20

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = httpErrorHandler

	// Global middleware
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAuthorization},
		ExposeHeaders: []string{echo.HeaderContentDisposition, "X-Filename"},
	}))
	e.Use(middleware.Secure())
	e.Use(RequestLogger())

	// One limiter for credential and public endpoints, one for uploads.
	publicLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	bodyLimit := middleware.BodyLimit(fmt.Sprintf("%dB", cfg.MaxFileSize+multipartOverhead))

	authenticated := handler.gate(AccessAuthenticated)
	owner := handler.gate(AccessOwner)
	admin := handler.gate(AccessAdmin)

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats, admin)

	auth := e.Group("/api/auth")
	auth.POST("/register", handler.HandleRegister, publicLimiter.Middleware())
	auth.POST("/login", handler.HandleLogin, publicLimiter.Middleware())
	auth.POST("/logout", handler.HandleLogout, authenticated)

	users := e.Group("/api/users")
	users.GET("", handler.HandleListUsers, admin)
	users.GET("/me", handler.HandleMe, authenticated)
	users.PATCH("/:user/role", handler.HandleUpdateRole, admin)
	users.DELETE("/:user", handler.HandleDeleteUser, owner)

	st := e.Group("/api/storage")
	st.GET("/shared/:token", handler.HandleShared, publicLimiter.Middleware())
	st.GET("/download/:file", handler.HandleDownload, authenticated)
	st.GET("/view/:user/:file", handler.HandleView, owner)
	st.POST("/link/:user/:file", handler.HandleIssueLink, owner)
	st.POST("/:user", handler.HandleUpload, uploadLimiter.Middleware(), bodyLimit, owner)
	st.GET("/:user", handler.HandleListFiles, owner)
	st.PATCH("/:user/:file", handler.HandleRename, owner)
	st.DELETE("/:user/:file", handler.HandleDeleteFile, owner)

	return e
}

// ConfigureAutoTLS sets up Let's Encrypt certificates for the configured
// hosts. It reports whether TLS was enabled.
func ConfigureAutoTLS(e *echo.Echo, cfg *config.Config) bool {
	if len(cfg.AutoTLSHosts) == 0 {
		return false
	}
	e.AutoTLSManager.Prompt = autocert.AcceptTOS
	e.AutoTLSManager.HostPolicy = autocert.HostWhitelist(cfg.AutoTLSHosts...)
	e.AutoTLSManager.Cache = autocert.DirCache(cfg.AutoTLSCacheDir)
	return true
}
