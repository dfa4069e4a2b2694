package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"rollcall/internal/attendance"
	"rollcall/internal/session"
)

// issueCode mints a fresh code for a session. Clients poll this once per
// expiration window to rotate the displayed code.
func (s *Server) issueCode(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Session ID required"})
		return
	}

	code, err := s.attendance.IssueCode(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		log.Printf("issue code failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue code"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":      code.Code,
		"suffix":    attendance.DisplaySuffix(code.Code),
		"expiresAt": code.ExpiresAt,
	})
}

// codeQR renders the mark URL for a code as a PNG QR image.
func (s *Server) codeQR(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Code is required"})
		return
	}

	png, err := qrcode.Encode(s.cfg.PublicBaseURL+"/mark/"+code, qrcode.Medium, 256)
	if err != nil {
		log.Printf("qr encode failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render QR"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// verifyCode is a pure validity probe with no side effects.
func (s *Server) verifyCode(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Code is required"})
		return
	}

	if err := s.attendance.VerifyCode(c.Request.Context(), req.Code); err != nil {
		if errors.Is(err, attendance.ErrCodeInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired code"})
			return
		}
		log.Printf("verify code failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
