package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"internship-chat/internal/chat"
	"internship-chat/internal/handlers"
	"internship-chat/internal/logging"
	"internship-chat/internal/middleware"
	"internship-chat/internal/observability"
	"internship-chat/internal/ws"
)

type routerDeps struct {
	serviceName   string
	chat          *handlers.ChatHandler
	assignments   *handlers.AssignmentHandler
	gateway       *ws.Gateway
	auth          middleware.TokenValidator
	db            handlers.Pinger
	auditor       chat.Auditor
	internalToken string
	debugRoutes   bool
}

func newRouter(d routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(d.serviceName),
		observability.RequestIDMiddleware(),
		observability.HTTPMetricsMiddleware(),
		logging.Middleware(),
	)

	router.GET("/healthz", handlers.Health(d.db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", d.gateway.Handle)

	authMiddleware := middleware.AuthMiddleware(d.auth)

	router.POST("/messages", authMiddleware, d.chat.SendMessage)
	router.GET("/messages/unread", authMiddleware, d.chat.UnreadCounts)
	router.PATCH("/messages/:message_id", authMiddleware, d.chat.EditMessage)
	router.PUT("/messages/:message_id", authMiddleware, d.chat.EditMessage)
	router.DELETE("/messages/:message_id", authMiddleware, d.chat.DeleteMessage)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, d.chat.GetHistory)
	router.DELETE("/conversations/:conversation_id", authMiddleware, d.chat.ClearConversation)
	router.POST("/conversations/:conversation_id/read", authMiddleware, d.chat.MarkRead)

	internal := router.Group("/internal", middleware.ServiceTokenMiddleware(d.internalToken))
	internal.POST("/conversations/:conversation_id/counterpart", d.assignments.BindCounterpart)

	handlers.RegisterDebugRoutes(router, d.auditor, d.debugRoutes)
	return router
}
