package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/storefront-auth/internal/middleware"
	"github.com/noah-isme/storefront-auth/internal/models"
	appErrors "github.com/noah-isme/storefront-auth/pkg/errors"
	"github.com/noah-isme/storefront-auth/pkg/response"
)

type authService interface {
	Login(ctx context.Context, kind models.PrincipalKind, req models.LoginRequest) (*models.TokenPair, error)
	Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutEverywhere(ctx context.Context, principal models.PrincipalRef) (int64, error)
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service authService
	cookies CookieSettings
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authService, cookies CookieSettings) *AuthHandler {
	return &AuthHandler{service: svc, cookies: cookies}
}

type refreshPayload struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	models.PrincipalInfo
	ExpiresAt time.Time `json:"expires_at"`
}

// Login godoc
// @Summary Authenticate customer
// @Description Authenticate a storefront user by email and password and start a session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	h.login(c, models.PrincipalUser)
}

// AdminLogin godoc
// @Summary Authenticate administrator
// @Description Authenticate a back-office admin by username and password and start a session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /admin/auth/login [post]
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	h.login(c, models.PrincipalAdmin)
}

func (h *AuthHandler) login(c *gin.Context, kind models.PrincipalKind) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	pair, err := h.service.Login(c.Request.Context(), kind, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.cookies.setSession(c, pair.AccessToken, pair.RefreshToken)
	response.JSON(c, http.StatusOK, pair)
}

// Refresh godoc
// @Summary Rotate session
// @Description Exchange the refresh token (cookie or body) for a new access and refresh token pair. The presented token is consumed.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body refreshPayload false "Refresh token when no cookie is sent"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	token := h.presentedRefreshToken(c)

	pair, err := h.service.Refresh(c.Request.Context(), models.RefreshTokenRequest{
		RefreshToken: token,
		IP:           c.ClientIP(),
		UserAgent:    c.GetHeader("User-Agent"),
	})
	if err != nil {
		if errors.Is(err, appErrors.ErrSessionRejected) {
			h.cookies.clearSession(c)
		}
		response.Error(c, err)
		return
	}

	h.cookies.setSession(c, pair.AccessToken, pair.RefreshToken)
	response.JSON(c, http.StatusOK, pair)
}

// Logout godoc
// @Summary Logout current session
// @Description Revoke the presented refresh token and clear both cookies
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body refreshPayload false "Refresh token when no cookie is sent"
// @Success 204
// @Failure 500 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	token := h.presentedRefreshToken(c)
	h.cookies.clearSession(c)

	if err := h.service.Logout(c.Request.Context(), token); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// LogoutAll godoc
// @Summary Logout everywhere
// @Description Revoke every refresh token of the authenticated principal
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	claim, ok := middleware.ClaimFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrTokenInvalid)
		return
	}

	revoked, err := h.service.LogoutEverywhere(c.Request.Context(), claim.Principal)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.cookies.clearSession(c)
	response.JSON(c, http.StatusOK, gin.H{"revoked": revoked})
}

// Me godoc
// @Summary Current principal
// @Description Returns the principal carried by the access token
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claim, ok := middleware.ClaimFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrTokenInvalid)
		return
	}

	response.JSON(c, http.StatusOK, meResponse{PrincipalInfo: claim.Info(), ExpiresAt: claim.ExpiresAt})
}

func (h *AuthHandler) presentedRefreshToken(c *gin.Context) string {
	if token := h.cookies.refreshToken(c); token != "" {
		return token
	}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return ""
	}
	var payload refreshPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		return ""
	}
	return payload.RefreshToken
}
