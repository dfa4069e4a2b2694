package httpapi

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) getStudent(c *gin.Context) {
	email := c.Param("email")

	student, err := s.users.FindByEmail(c.Request.Context(), email)
	if err != nil {
		log.Printf("get student failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get student"})
		return
	}
	if student == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": student.Name, "email": student.Email})
}

// studentAttendance returns a student's full history plus aggregates.
func (s *Server) studentAttendance(c *gin.Context) {
	email := c.Param("email")
	ctx := c.Request.Context()

	history, err := s.attendance.StudentHistory(ctx, email)
	if err != nil {
		log.Printf("student history failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get attendance"})
		return
	}
	stats, err := s.attendance.StudentStats(ctx, email)
	if err != nil {
		log.Printf("student stats failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get attendance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history, "stats": stats})
}
