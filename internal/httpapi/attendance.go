package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/user"
)

// validationCookie carries the one-time validation token between the
// validate and record calls.
const validationCookie = "validation_token"

// validateCode checks a submitted code (full or 6-char form) and hands
// back a one-time validation token as an httpOnly cookie.
func (s *Server) validateCode(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Code is required"})
		return
	}

	v, err := s.attendance.Validate(c.Request.Context(), req.Code)
	if err != nil {
		if errors.Is(err, attendance.ErrCodeInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired code"})
			return
		}
		log.Printf("validate code failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate code"})
		return
	}

	secure := s.cfg.Env == "production" || s.cfg.Env == "prod"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(validationCookie, v.ID, int(s.cfg.ValidationTTL.Seconds()), "/", "", secure, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// recordAttendance consumes the validation cookie and marks the signed-in
// caller present.
func (s *Server) recordAttendance(c *gin.Context) {
	claims, _ := auth.From(c)

	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Code is required"})
		return
	}

	token, err := c.Cookie(validationCookie)
	if err != nil || token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid validation"})
		return
	}

	_, err = s.attendance.RecordWithToken(c.Request.Context(), token, req.Code, claims.Email)
	if err != nil {
		switch {
		case errors.Is(err, attendance.ErrValidationInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired validation"})
		case errors.Is(err, attendance.ErrSessionEnded):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Session ended"})
		case errors.Is(err, user.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		case errors.Is(err, attendance.ErrAlreadyMarked):
			c.JSON(http.StatusConflict, gin.H{"error": "Attendance already marked"})
		default:
			log.Printf("record attendance failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark attendance"})
		}
		return
	}

	c.SetCookie(validationCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// listAttendees returns a session's attendance, newest first.
func (s *Server) listAttendees(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Session ID required"})
		return
	}

	attendees, err := s.attendance.Attendees(c.Request.Context(), sessionID)
	if err != nil {
		log.Printf("list attendees failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list attendees"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendees": attendees})
}

// manualMark records attendance by student name, creating the user when
// absent. Bypasses code validation.
func (s *Server) manualMark(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
		Name      string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	_, err := s.attendance.ManualMark(c.Request.Context(), req.SessionID, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, attendance.ErrSessionClosed):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or ended session"})
		case errors.Is(err, attendance.ErrAlreadyMarked):
			c.JSON(http.StatusConflict, gin.H{"error": "Attendance already marked"})
		default:
			log.Printf("manual mark failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark attendance"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// excuseAbsence records an excused absence for an absent roster student.
func (s *Server) excuseAbsence(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID is required"})
		return
	}

	if _, err := s.attendance.Excuse(c.Request.Context(), sessionID, req.UserID); err != nil {
		if errors.Is(err, attendance.ErrAlreadyPresent) {
			c.JSON(http.StatusConflict, gin.H{"error": "Student is already marked as present"})
			return
		}
		log.Printf("excuse absence failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to excuse absence"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
