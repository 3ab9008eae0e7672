package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/student-portal-api/api/swagger"
	"github.com/noah-isme/student-portal-api/internal/handler"
	"github.com/noah-isme/student-portal-api/internal/middleware"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/service"
	"github.com/noah-isme/student-portal-api/pkg/config"
	"github.com/noah-isme/student-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/student-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/student-portal-api/pkg/middleware/requestid"
)

type routeHandlers struct {
	auth       *handler.AuthHandler
	audit      *handler.AuditHandler
	users      *handler.UserHandler
	profiles   *handler.ProfileHandler
	calendar   *handler.CalendarHandler
	attendance *handler.AttendanceHandler
	social     *handler.SocialHandler
	funds      *handler.FundHandler
	assistant  *handler.AssistantHandler
	metrics    *handler.MetricsHandler
	ws         *handler.WSHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, auth *service.AuthService, audit middleware.AuditRecorder, metrics *service.MetricsService, h routeHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	authGroup := api.Group("/auth")
	authGroup.POST("/login", h.auth.Login)
	authGroup.POST("/refresh", h.auth.Refresh)
	api.GET("/exports/download", h.attendance.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(auth))
	secured.GET("/ws", h.ws.Serve)
	secured.POST("/auth/logout", h.auth.Logout)
	secured.POST("/auth/change-password", h.auth.ChangePassword)

	admin := middleware.RequireRoles(models.RoleAdmin)
	marker := middleware.RequireRoles(models.RoleAdmin, models.RoleMonitor)

	audited := func(action models.AuditAction, resource string) gin.HandlerFunc {
		return middleware.Audit(audit, action, resource)
	}

	secured.GET("/audit-logs", admin, h.audit.List)
	secured.POST("/users", admin, audited(models.AuditUserCreate, models.AuditResourceUser), h.users.Create)
	secured.GET("/users/:id", middleware.RBAC(string(models.RoleAdmin), middleware.RoleSelf), h.users.Get)

	secured.GET("/me", h.profiles.Me)
	secured.PUT("/me", h.profiles.UpdateMe)
	secured.GET("/profiles", h.profiles.List)

	secured.GET("/calendar", h.calendar.Month)
	secured.POST("/events", h.calendar.Create)
	secured.POST("/events/official", admin, audited(models.AuditEventBroadcast, models.AuditResourceEvent), h.calendar.Broadcast)
	secured.GET("/events/:id", h.calendar.Get)
	secured.DELETE("/events/:id", audited(models.AuditEventDelete, models.AuditResourceEvent), h.calendar.Delete)
	secured.PATCH("/events/:id/date", h.calendar.Move)

	attendance := secured.Group("/attendance", marker)
	attendance.GET("", h.attendance.Board)
	attendance.POST("/bulk", audited(models.AuditAttendanceBulk, models.AuditResourceAttendance), h.attendance.Bulk)
	attendance.POST("/custom", audited(models.AuditAttendanceCustom, models.AuditResourceAttendance), h.attendance.Custom)
	attendance.POST("/exports", audited(models.AuditExportCreate, models.AuditResourceExport), h.attendance.CreateExport)
	attendance.GET("/exports/:id", h.attendance.ExportStatus)
	attendance.PUT("/:studentId", audited(models.AuditAttendanceUpdate, models.AuditResourceAttendance), h.attendance.Update)

	secured.GET("/friends", h.social.ListFriends)
	secured.POST("/friends", h.social.RequestFriend)
	secured.POST("/friends/:userId/accept", h.social.AcceptFriend)
	secured.DELETE("/friends/:userId", h.social.RemoveFriend)

	secured.GET("/notifications", h.social.ListNotifications)
	secured.POST("/notifications/read-all", h.social.ReadAllNotifications)
	secured.POST("/notifications/:id/read", h.social.ReadNotification)
	secured.DELETE("/notifications/:id", h.social.DeleteNotification)

	secured.GET("/conversations/:userId/messages", h.social.Conversation)
	secured.POST("/conversations/:userId/messages", h.social.SendMessage)
	secured.POST("/conversations/:userId/read", h.social.ReadConversation)

	secured.GET("/posts", h.social.ListPosts)
	secured.POST("/posts", h.social.CreatePost)
	secured.PUT("/posts/:id/like", h.social.LikePost)
	secured.DELETE("/posts/:id/like", h.social.UnlikePost)
	secured.DELETE("/posts/:id", audited(models.AuditPostDelete, models.AuditResourcePost), h.social.DeletePost)

	secured.GET("/funds", h.funds.List)
	secured.POST("/funds", audited(models.AuditFundCreate, models.AuditResourceFund), h.funds.Create)
	secured.GET("/funds/:id", h.funds.Get)
	secured.GET("/funds/:id/contributions", h.funds.Contributions)
	secured.POST("/funds/:id/contributions", h.funds.Contribute)

	secured.POST("/assistant/chat", h.assistant.Chat)
	secured.POST("/assistant/generate", h.assistant.Generate)

	return r
}
