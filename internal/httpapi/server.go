// Package httpapi maps the JSON API onto the domain services.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/analytics"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/session"
	"rollcall/internal/user"
)

const currentUserKey = "currentUser"

// Server wires handlers to services.
type Server struct {
	cfg        config.App
	users      user.Store
	sessions   *session.Service
	attendance *attendance.Service
	analytics  *analytics.Service
}

// NewServer creates a server.
func NewServer(cfg config.App, users user.Store, sessions *session.Service, att *attendance.Service, an *analytics.Service) *Server {
	return &Server{
		cfg:        cfg,
		users:      users,
		sessions:   sessions,
		attendance: att,
		analytics:  an,
	}
}

// Register mounts the API routes on the engine.
func (s *Server) Register(r *gin.Engine) {
	identity := auth.Identity(s.cfg.JWTSigningKey, s.cfg.JWTIssuer)

	// Code validation is reachable before sign-in: students scan or type
	// the code first and authenticate afterwards.
	r.POST("/api/code/verify", s.verifyCode)
	r.POST("/api/attendance/validate", s.validateCode)

	api := r.Group("/api", identity)
	api.POST("/attendance", s.recordAttendance)

	admin := api.Group("", s.requireAdmin())
	{
		admin.GET("/code", s.issueCode)
		admin.GET("/code/qr", s.codeQR)

		admin.GET("/attendance", s.listAttendees)
		admin.PUT("/attendance", s.manualMark)
		admin.PUT("/attendance/:sessionId/excuse", s.excuseAbsence)

		admin.GET("/sessions", s.listSessions)
		admin.POST("/sessions", s.createSession)
		admin.GET("/sessions/:id", s.getSession)
		admin.PUT("/sessions/:id", s.endSession)
		admin.DELETE("/sessions/:id", s.deleteSession)

		admin.GET("/recurring-sessions", s.listRecurring)
		admin.POST("/recurring-sessions", s.createRecurring)
		admin.GET("/recurring-sessions/:id", s.getRecurring)
		admin.DELETE("/recurring-sessions/:id", s.deleteRecurring)
		admin.GET("/recurring-sessions/:id/roster", s.getRoster)
		admin.PUT("/recurring-sessions/:id/roster", s.rewriteRoster)
		admin.POST("/recurring-sessions/:id/roster", s.addToRoster)
		admin.POST("/recurring-sessions/:id/start", s.startFromRecurring)

		admin.GET("/admins", s.listAdmins)
		admin.POST("/admins", s.addAdmin)
		admin.DELETE("/admins", s.removeAdmin)

		admin.GET("/students/:email", s.getStudent)
		admin.GET("/students/:email/attendance", s.studentAttendance)

		admin.GET("/analytics", s.getAnalytics)
	}
}

// requireAdmin resolves the caller's user row per request and rejects
// anyone without the admin flag.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.From(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		u, err := s.users.FindByEmail(c.Request.Context(), claims.Email)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			return
		}
		if u == nil || !u.IsAdmin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(currentUserKey, *u)
		c.Next()
	}
}

func currentUser(c *gin.Context) user.User {
	v, _ := c.Get(currentUserKey)
	u, _ := v.(user.User)
	return u
}

// CORS middleware for browser requests.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SecurityHeaders sets conservative browser headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
