package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"botstudio/server/internal/apperr"
	"botstudio/server/internal/auth"
	"botstudio/server/internal/config"
	"botstudio/server/internal/model"
	"botstudio/server/internal/notifier"
	"botstudio/server/internal/orchestrator"
	"botstudio/server/internal/query"
	"botstudio/server/internal/response"
)

type Server struct {
	config       *config.Config
	queries      *query.Facade
	orchestrator *orchestrator.Orchestrator
	notifier     *notifier.Service
	gate         auth.Gate
	jwtGate      *auth.JWTGate // auth mode 为 none 时为 nil

	// WebSocket upgrader
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, queries *query.Facade, orch *orchestrator.Orchestrator, n *notifier.Service, gate auth.Gate, jwtGate *auth.JWTGate) *Server {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}

	return &Server{
		config:       cfg,
		queries:      queries,
		orchestrator: orch,
		notifier:     n,
		gate:         gate,
		jwtGate:      jwtGate,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 非浏览器客户端不带 Origin 头，直接放行。
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
	}
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由，便于扩展日志/鉴权/限流等能力。
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware(), s.authMiddleware())

	engine.GET("/healthz", s.handleHealthz)

	engine.POST("/api/projects", s.handleCreateProject)
	engine.GET("/api/projects/:projectId", s.handleGetProject)
	engine.POST("/api/projects/:projectId/languages", s.handleAddLanguage)
	engine.DELETE("/api/projects/:projectId/languages/:lang", s.handleDeleteLanguage)

	engine.GET("/api/projects/:projectId/responses", s.handleListResponses)
	engine.POST("/api/projects/:projectId/responses", s.handleCreateResponses)
	engine.POST("/api/projects/:projectId/responses/overwrite", s.handleOverwriteResponses)
	engine.PUT("/api/projects/:projectId/responses", s.handleUpsertFullResponse)
	engine.GET("/api/projects/:projectId/responses/:key", s.handleGetResponse)
	engine.PATCH("/api/projects/:projectId/responses/:key", s.handleUpsertResponse)
	engine.DELETE("/api/projects/:projectId/responses/:key", s.handleDeleteResponse)
	engine.DELETE("/api/projects/:projectId/responses/:key/languages/:lang/variations/:index", s.handleDeleteVariation)
	engine.POST("/api/projects/:projectId/responses/:key/import", s.handleImportFromLang)
	engine.GET("/api/responses/:id", s.handleGetResponseByID)

	// 订阅面：两条长连接流，服务端按 projectId 过滤。
	engine.GET("/api/projects/:projectId/responses/stream/modified", s.handleStreamModified)
	engine.GET("/api/projects/:projectId/responses/stream/deleted", s.handleStreamDeleted)

	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateProject(c *gin.Context) {
	var p model.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := s.orchestrator.CreateProject(c.Request.Context(), &p); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handleGetProject(c *gin.Context) {
	proj, err := s.queries.Project(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

type languageRequest struct {
	Lang string `json:"lang"`
}

func (s *Server) handleAddLanguage(c *gin.Context) {
	var req languageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	proj, err := s.orchestrator.AddLanguage(c.Request.Context(), c.Param("projectId"), req.Lang)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

func (s *Server) handleDeleteLanguage(c *gin.Context) {
	proj, err := s.orchestrator.DeleteLanguage(c.Request.Context(), c.Param("projectId"), c.Param("lang"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

func (s *Server) handleListResponses(c *gin.Context) {
	docs, err := s.queries.BotResponses(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if docs == nil {
		docs = []*model.BotResponse{}
	}
	c.JSON(http.StatusOK, docs)
}

func (s *Server) handleGetResponse(c *gin.Context) {
	doc, err := s.queries.BotResponse(c.Request.Context(), c.Param("projectId"), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "response not found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleGetResponseByID(c *gin.Context) {
	doc, err := s.queries.BotResponseByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "response not found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

type fullUpsertRequest struct {
	ID     string                   `json:"_id"`
	Key    string                   `json:"key"`
	Values []model.BotResponseValue `json:"values"`
}

func (s *Server) handleUpsertFullResponse(c *gin.Context) {
	var req fullUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key required"})
		return
	}
	result, err := s.orchestrator.UpsertFullResponse(c.Request.Context(), c.Param("projectId"), req.ID, req.Key, req.Values)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"_id": result.ID, "created": result.Created, "success": true})
}

type responsesRequest struct {
	Responses []*model.BotResponse `json:"responses"`
}

func (s *Server) handleCreateResponses(c *gin.Context) {
	var req responsesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	docs, err := s.orchestrator.CreateResponses(c.Request.Context(), c.Param("projectId"), req.Responses)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, docs)
}

func (s *Server) handleOverwriteResponses(c *gin.Context) {
	var req responsesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	docs, err := s.orchestrator.CreateAndOverwriteResponses(c.Request.Context(), c.Param("projectId"), req.Responses)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

type upsertRequest struct {
	Lang            string             `json:"lang"`
	Index           *int               `json:"index"`
	Content         *model.Content     `json:"content"`
	NewResponseType model.ResponseType `json:"new_response_type"`
}

func (s *Server) handleUpsertResponse(c *gin.Context) {
	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	index := -1 // 缺省追加
	if req.Index != nil {
		index = *req.Index
	}
	doc, err := s.orchestrator.UpsertResponse(c.Request.Context(), orchestrator.UpsertRequest{
		ProjectID:       c.Param("projectId"),
		Key:             c.Param("key"),
		Lang:            req.Lang,
		Index:           index,
		Content:         req.Content,
		NewResponseType: req.NewResponseType,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDeleteResponse(c *gin.Context) {
	result, err := s.orchestrator.DeleteResponse(c.Request.Context(), c.Param("projectId"), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDeleteVariation(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid variation index"})
		return
	}
	doc, err := s.orchestrator.DeleteVariation(c.Request.Context(), response.DeleteVariationArgs{
		ProjectID: c.Param("projectId"),
		Key:       c.Param("key"),
		Lang:      c.Param("lang"),
		Index:     index,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

type importRequest struct {
	FromLang string `json:"from_lang"`
	ToLang   string `json:"to_lang"`
}

func (s *Server) handleImportFromLang(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	doc, err := s.orchestrator.ImportResponseFromLang(c.Request.Context(), response.LangCopyArgs{
		ProjectID: c.Param("projectId"),
		Key:       c.Param("key"),
		FromLang:  req.FromLang,
		ToLang:    req.ToLang,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// corsMiddleware 允许白名单内的跨域来源。
func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.config.Server.AllowedOrigins))
	for _, o := range s.config.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authMiddleware 解析 Bearer token 并把 claims 挂到请求上下文。
// 具体的 (capability, projectId) 检查在编排器/查询门面里做，
// 这里只负责身份信息进上下文；没带 token 的请求也放行到那一层被拒。
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.jwtGate == nil {
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := s.jwtGate.ParseToken(token)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(auth.WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

// bearerToken 从 Authorization 头取 token；WebSocket 端点允许走
// access_token 查询参数（浏览器建 ws 连接时带不了自定义头）。
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("access_token")
}

// writeError 把 apperr 的分类映射成 HTTP 状态码，保持稳定的错误体结构。
func writeError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		c.JSON(statusFor(appErr.Code), gin.H{"error": appErr.Message, "code": string(appErr.Code)})
		return
	}
	log.Printf("[API] ❌ internal error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodePermission:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
