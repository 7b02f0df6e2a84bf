package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pesio-ai/be-plt-access/internal/service"
)

// AuthHandler serves the /auth endpoints
type AuthHandler struct {
	auth         *service.AuthService
	cookieSecure bool
}

func NewAuthHandler(auth *service.AuthService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{auth: auth, cookieSecure: cookieSecure}
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string                `json:"message"`
	Token   string                `json:"token"`
	User    *service.UserSnapshot `json:"user"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var body loginBody
	if !bindJSON(c, &body) {
		return
	}

	res, err := h.auth.Login(c.Request.Context(), &service.LoginRequest{
		Username:  body.Username,
		Password:  body.Password,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(tokenCookie, res.Token, int(h.auth.TokenTTL().Seconds()), "/", "", h.cookieSecure, true)
	c.JSON(http.StatusOK, loginResponse{Message: "Login successful", Token: res.Token, User: res.User})
}

// Logout clears the token cookie. Tokens are stateless and stay valid until
// they expire.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(tokenCookie, "", -1, "/", "", h.cookieSecure, true)
	message(c, "Logged out successfully")
}

func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var body struct {
		Email string `json:"email"`
	}
	if !bindJSON(c, &body) {
		return
	}
	if err := h.auth.ForgotPassword(c.Request.Context(), body.Email); err != nil {
		fail(c, err)
		return
	}
	message(c, "If the email exists, a password reset link has been sent")
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !bindJSON(c, &body) {
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), body.Token, body.NewPassword); err != nil {
		fail(c, err)
		return
	}
	message(c, "Password has been reset successfully")
}

func (h *AuthHandler) VerifyToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"valid": true, "user_id": currentUser(c).ID})
}

func (h *AuthHandler) ChangePasswordAfterLogin(c *gin.Context) {
	var body struct {
		NewPassword string `json:"new_password"`
		ForceChange bool   `json:"force_change"`
	}
	if !bindJSON(c, &body) {
		return
	}
	err := h.auth.ChangePasswordAfterLogin(c.Request.Context(), currentUser(c).ID, body.NewPassword, body.ForceChange)
	if err != nil {
		fail(c, err)
		return
	}
	message(c, "Password changed successfully")
}
