// Package admin exposes the JSON management API for keys, profiles, model
// configs and global settings. It listens separately from the gateway so the
// forwarding surface carries no management routes.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/keystore"
	"github.com/chatgate/chatgate/internal/settings"
)

// Server is the management API server.
type Server struct {
	engine *gin.Engine
	server *http.Server
	config *config.Config
	keys   keystore.Store
	store  settings.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewServer creates the management API bound to cfg.AdminListenAddr.
func NewServer(cfg *config.Config, keys keystore.Store, store settings.Store, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		config: cfg,
		keys:   keys,
		store:  store,
		logger: logger,
		now:    time.Now,
		server: &http.Server{
			Addr:              cfg.AdminListenAddr,
			Handler:           engine,
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

// Start starts the management API server.
func (s *Server) Start() error {
	s.logger.Info("management API listening", zap.String("addr", s.config.AdminListenAddr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the management API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the gin engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	manage := s.engine.Group("/manage", s.requireManagementToken)
	{
		keys := manage.Group("/keys")
		keys.GET("", s.handleKeysList)
		keys.POST("", s.handleKeyCreate)
		keys.GET("/:key", s.handleKeyShow)
		keys.PATCH("/:key", s.handleKeyUpdate)
		keys.DELETE("/:key", s.handleKeyDelete)

		profiles := manage.Group("/profiles")
		profiles.GET("", s.handleProfilesList)
		profiles.POST("", s.handleProfileSave)
		profiles.GET("/:id", s.handleProfileShow)
		profiles.PUT("/:id", s.handleProfileSave)
		profiles.DELETE("/:id", s.handleProfileDelete)

		models := manage.Group("/models")
		models.GET("", s.handleModelsList)
		models.POST("", s.handleModelSave)
		models.GET("/:id", s.handleModelShow)
		models.PUT("/:id", s.handleModelSave)
		models.DELETE("/:id", s.handleModelDelete)

		manage.GET("/settings", s.handleSettingsShow)
		manage.PUT("/settings", s.handleSettingsUpdate)
	}
}

// requireManagementToken authenticates every management call with the
// configured bearer token, compared in constant time.
func (s *Server) requireManagementToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || s.config.ManagementToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(s.config.ManagementToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management token"})
		return
	}
	c.Next()
}

type keyRequest struct {
	ExpiresAt             *time.Time `json:"expires_at"`
	DailyLimit            *int       `json:"daily_limit"`
	SessionTimeoutMinutes *int       `json:"session_timeout_minutes"`
	SelectedModelID       *string    `json:"selected_model"`
	SelectedProfileID     *string    `json:"selected_api_profile_id"`
}

func (s *Server) handleKeysList(c *gin.Context) {
	keys, err := s.keys.ListKeys(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (s *Server) handleKeyCreate(c *gin.Context) {
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	generated, err := keystore.GenerateKey()
	if err != nil {
		s.fail(c, err)
		return
	}
	now := s.now()
	k := keystore.Key{
		Key:                   generated,
		DailyLimit:            s.config.DefaultDailyLimit,
		UsageDate:             keystore.Day(now),
		UsageCount:            0,
		SessionTimeoutMinutes: keystore.DefaultSessionTimeoutMinutes,
	}
	applyKeyRequest(&k, req)

	if err := s.keys.CreateKey(c.Request.Context(), k); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("created access key", zap.String("key", keystore.Obfuscate(k.Key)))
	c.JSON(http.StatusCreated, k)
}

func (s *Server) handleKeyShow(c *gin.Context) {
	k, err := s.keys.GetKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, k)
}

func (s *Server) handleKeyUpdate(c *gin.Context) {
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	k, err := s.keys.GetKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.fail(c, err)
		return
	}
	applyKeyRequest(&k, req)
	if err := s.keys.UpdateKey(c.Request.Context(), k); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, k)
}

func (s *Server) handleKeyDelete(c *gin.Context) {
	if err := s.keys.DeleteKey(c.Request.Context(), c.Param("key")); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("deleted access key", zap.String("key", keystore.Obfuscate(c.Param("key"))))
	c.Status(http.StatusNoContent)
}

func applyKeyRequest(k *keystore.Key, req keyRequest) {
	if req.ExpiresAt != nil {
		k.ExpiresAt = *req.ExpiresAt
	}
	if req.DailyLimit != nil {
		k.DailyLimit = *req.DailyLimit
	}
	if req.SessionTimeoutMinutes != nil {
		k.SessionTimeoutMinutes = *req.SessionTimeoutMinutes
	}
	if req.SelectedModelID != nil {
		k.SelectedModelID = *req.SelectedModelID
	}
	if req.SelectedProfileID != nil {
		k.SelectedProfileID = *req.SelectedProfileID
	}
}

func (s *Server) handleProfilesList(c *gin.Context) {
	profiles, err := s.store.ListProfiles(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

func (s *Server) handleProfileShow(c *gin.Context) {
	p, err := s.store.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleProfileSave(c *gin.Context) {
	var p settings.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if id := c.Param("id"); id != "" {
		p.ID = id
	}
	created := false
	if p.ID == "" {
		p.ID = uuid.New().String()
		created = true
	}
	if err := s.store.SaveProfile(c.Request.Context(), p); err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, p)
}

func (s *Server) handleProfileDelete(c *gin.Context) {
	if err := s.store.DeleteProfile(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleModelsList(c *gin.Context) {
	models, err := s.store.ListModelConfigs(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (s *Server) handleModelShow(c *gin.Context) {
	m, err := s.store.GetModelConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleModelSave(c *gin.Context) {
	var m settings.ModelConfig
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if id := c.Param("id"); id != "" {
		m.ID = id
	}
	created := false
	if m.ID == "" {
		m.ID = uuid.New().String()
		created = true
	}
	if err := s.store.SaveModelConfig(c.Request.Context(), m); err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, m)
}

func (s *Server) handleModelDelete(c *gin.Context) {
	if err := s.store.DeleteModelConfig(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSettingsShow(c *gin.Context) {
	got, err := s.store.GetSettings(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, got)
}

func (s *Server) handleSettingsUpdate(c *gin.Context) {
	var in settings.Settings
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.store.SetSettings(c.Request.Context(), in); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

// fail maps store errors onto management API status codes.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, keystore.ErrKeyNotFound),
		errors.Is(err, settings.ErrProfileNotFound),
		errors.Is(err, settings.ErrModelConfigNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, keystore.ErrKeyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error("management operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
