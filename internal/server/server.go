package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"formbridge/internal/challenge"
	"formbridge/internal/config"
	"formbridge/internal/forms"
	"formbridge/internal/kv"
	"formbridge/internal/model"
	"formbridge/internal/plugins"
	"formbridge/internal/quota"
	"formbridge/internal/render"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db       *gorm.DB
	cfg      *config.Config
	store    kv.Store
	forms    *forms.Service
	gate     *challenge.Gate
	nonces   *challenge.NonceStore
	renderer *render.TemplateRenderer
	plugins  *plugins.Manager
	ledger   *quota.Ledger
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, cfg *config.Config, store kv.Store, formsSvc *forms.Service, gate *challenge.Gate, nonces *challenge.NonceStore, renderer *render.TemplateRenderer, manager *plugins.Manager, ledger *quota.Ledger) *Handlers {
	return &Handlers{
		db:       db,
		cfg:      cfg,
		store:    store,
		forms:    formsSvc,
		gate:     gate,
		nonces:   nonces,
		renderer: renderer,
		plugins:  manager,
		ledger:   ledger,
	}
}

// SetupRouter configures routes and middleware
func SetupRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())
	h.SetupRoutes(router)
	return router
}

// SetupRoutes registers every route on the engine
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/thanks", h.ThanksPage)
	router.GET("/confirm/:nonce", h.ConfirmForm)
	router.GET("/unconfirm/:form_id/:digest", h.UnconfirmForm)
	router.POST("/unconfirm/:form_id/:digest", h.UnconfirmForm)
	router.GET("/submissions/:id/spam/:digest", h.MarkSpamPage)

	// anonymous intake; browsers post here cross-origin
	intakeCORS := cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodPost},
		AllowHeaders:    []string{"Accept", "Content-Type", "X-Requested-With", "Authorization"},
		MaxAge:          12 * time.Hour,
	})
	router.POST("/:target", intakeCORS, h.PostSubmission)
	router.GET("/:target", h.BadMethod)

	api := router.Group("/api/v1/forms/:hashid", h.formControl())
	{
		api.GET("", h.GetForm)
		api.POST("/reset-apikey", h.ResetAPIKey)

		api.GET("/submissions", h.ListSubmissions)
		api.PATCH("/submissions", h.SetSubmissionsSpam)
		api.DELETE("/submissions", h.DeleteSubmissions)

		api.GET("/rules", h.ListRules)
		api.POST("/rules", h.CreateRule)
		api.PUT("/rules/:ruleid", h.UpdateRule)
		api.DELETE("/rules/:ruleid", h.DeleteRule)

		api.GET("/plugins", h.ListPlugins)
		api.POST("/plugins/webhook", h.CreateWebhookPlugin)
		api.POST("/plugins/trello", h.CreateTrelloPlugin)
		api.PUT("/plugins/trello", h.SetTrelloPlugin)
		api.PUT("/plugins/mailchimp", h.SetMailchimpPlugin)
		api.PATCH("/plugins/:kind", h.UpdatePlugin)
		api.DELETE("/plugins/:kind", h.DeletePlugin)

		api.PUT("/whitelabel", h.SetTemplate)
	}
}

func loggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}

// formControl authenticates API requests with the form's API key,
// passed as a bearer token. The read-only key grants GET only.
func (h *Handlers) formControl() gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := h.forms.GetByHashid(c.Param("hashid"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{
				Error: "not_found", Message: "Form not found", Code: http.StatusNotFound})
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" || form.APIKey == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "unauthorized", Message: "Missing or invalid API key", Code: http.StatusUnauthorized})
			return
		}

		switch token {
		case *form.APIKey:
		case form.APIKeyReadonly():
			if c.Request.Method != http.MethodGet {
				c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
					Error: "forbidden", Message: "Read-only API key", Code: http.StatusForbidden})
				return
			}
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "unauthorized", Message: "Missing or invalid API key", Code: http.StatusUnauthorized})
			return
		}

		c.Set("form", form)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func contextForm(c *gin.Context) *model.Form {
	return c.MustGet("form").(*model.Form)
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Store:     "ok",
	}

	if err := h.db.Raw("SELECT 1").Error; err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}
	if _, _, err := h.store.Get(c.Request.Context(), "healthcheck"); err != nil {
		response.Status = "error"
		response.Store = "error"
		logrus.Errorf("Store health check failed: %v", err)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}
