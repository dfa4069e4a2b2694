package httpapi

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/user"
)

func (s *Server) listAdmins(c *gin.Context) {
	admins, err := s.users.ListAdmins(c.Request.Context())
	if err != nil {
		log.Printf("list admins failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list admins"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"admins": admins})
}

// addAdmin promotes an existing user or creates a fresh admin account.
func (s *Server) addAdmin(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email required"})
		return
	}

	ctx := c.Request.Context()
	existing, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		log.Printf("add admin failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add admin"})
		return
	}
	if existing != nil {
		err = s.users.Promote(ctx, req.Email, req.Name)
	} else {
		_, err = s.users.Create(ctx, user.User{Email: req.Email, Name: req.Name, IsAdmin: true})
	}
	if err != nil {
		log.Printf("add admin failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add admin"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// removeAdmin demotes an admin. Self-demotion is rejected so the last
// admin cannot lock everyone out by accident.
func (s *Server) removeAdmin(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email required"})
		return
	}

	if req.Email == currentUser(c).Email {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot remove yourself as admin"})
		return
	}

	if err := s.users.Demote(c.Request.Context(), req.Email); err != nil {
		log.Printf("remove admin failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove admin"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
