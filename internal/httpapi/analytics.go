package httpapi

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) getAnalytics(c *gin.Context) {
	summary, err := s.analytics.Summary(c.Request.Context())
	if err != nil {
		log.Printf("analytics failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch analytics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
