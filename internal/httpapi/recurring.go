package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/session"
)

func (s *Server) listRecurring(c *gin.Context) {
	sessions, err := s.sessions.ListRecurring(c.Request.Context())
	if err != nil {
		log.Printf("list recurring failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list recurring sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) createRecurring(c *gin.Context) {
	var req struct {
		Name         string   `json:"name"`
		StudentNames []string `json:"studentNames"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name is required"})
		return
	}

	rec, err := s.sessions.CreateRecurring(c.Request.Context(), req.Name, req.StudentNames, currentUser(c).ID)
	if err != nil {
		log.Printf("create recurring failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create recurring session"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) getRecurring(c *gin.Context) {
	rec, err := s.sessions.GetRecurring(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		log.Printf("get recurring failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get recurring session"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteRecurring(c *gin.Context) {
	if err := s.sessions.DeleteRecurring(c.Request.Context(), c.Param("id")); err != nil {
		log.Printf("delete recurring failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete recurring session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) getRoster(c *gin.Context) {
	students, err := s.sessions.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Printf("get roster failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get roster"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

// rewriteRoster replaces the full roster from pasted student lines.
func (s *Server) rewriteRoster(c *gin.Context) {
	var req struct {
		StudentNames []string `json:"studentNames"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.StudentNames == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Student names are required"})
		return
	}

	students, err := s.sessions.RewriteRoster(c.Request.Context(), c.Param("id"), req.StudentNames)
	if err != nil {
		log.Printf("rewrite roster failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update roster"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (s *Server) addToRoster(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID is required"})
		return
	}

	students, err := s.sessions.AddToRoster(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		if errors.Is(err, session.ErrDuplicateRosterStudent) {
			c.JSON(http.StatusConflict, gin.H{"error": "Student is already in the roster"})
			return
		}
		log.Printf("add to roster failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add to roster"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

// startFromRecurring spawns a numbered session from a template.
func (s *Server) startFromRecurring(c *gin.Context) {
	var req struct {
		Name              string `json:"name"`
		ExpirationSeconds int    `json:"expirationSeconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" || req.ExpirationSeconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name and expiration seconds are required"})
		return
	}

	sess, err := s.sessions.StartFromRecurring(c.Request.Context(), c.Param("id"), req.Name, req.ExpirationSeconds, currentUser(c).ID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		log.Printf("start session failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
		return
	}
	c.JSON(http.StatusOK, sess)
}
