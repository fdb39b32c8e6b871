package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MrEthical07/tenantauth"
	"github.com/MrEthical07/tenantauth/middleware"
)

// Handler binds engine operations to routes.
type Handler struct {
	engine *tenantauth.Engine
	logger *zap.Logger
}

func NewHandler(engine *tenantauth.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TenantID string `json:"tenantId"`
	OTP      string `json:"otp"`
}

type tempTokenRequest struct {
	TempToken string `json:"tempToken"`
	OTP       string `json:"otp"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type forgotRequest struct {
	Email    string `json:"email"`
	TenantID string `json:"tenantId"`
}

type resetRequest struct {
	Email       string `json:"email"`
	TenantID    string `json:"tenantId"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

type setupRequest struct {
	SetupToken      string `json:"setupToken"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type changeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type codeRequest struct {
	OTP string `json:"otp"`
}

type tokensResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type userResponse struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	TwoFactorOn bool   `json:"twoFactorEnabled"`
}

type loginResponse struct {
	*tokensResponse
	User *userResponse `json:"user,omitempty"`

	RequiresTwoFactor bool   `json:"requires2fa,omitempty"`
	TempToken         string `json:"tempToken,omitempty"`
	UserID            string `json:"userId,omitempty"`
	Step              string `json:"step,omitempty"`
	CodeSent          bool   `json:"codeSent,omitempty"`
	DevCode           string `json:"devCode,omitempty"`
}

func toTokens(t *tenantauth.Tokens) *tokensResponse {
	if t == nil {
		return nil
	}
	return &tokensResponse{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
	}
}

func toUser(u tenantauth.User) *userResponse {
	return &userResponse{
		ID:          u.PublicID,
		TenantID:    u.TenantID,
		Email:       u.Email,
		Role:        u.Role,
		TwoFactorOn: u.TOTPEnabled,
	}
}

func toLogin(res *tenantauth.LoginResult) loginResponse {
	if res.RequiresTwoFactor {
		return loginResponse{
			RequiresTwoFactor: true,
			TempToken:         res.TempToken,
			UserID:            res.User.PublicID,
			Step:              res.Step.String(),
			CodeSent:          res.CodeSent,
			DevCode:           res.DevCode,
		}
	}
	return loginResponse{tokensResponse: toTokens(res.Tokens), User: toUser(res.User)}
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.engine.Login(c.Request.Context(), tenantauth.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		TenantID: req.TenantID,
		OTP:      req.OTP,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toLogin(res))
}

func (h *Handler) VerifyOTP(c *gin.Context) {
	var req tempTokenRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.engine.VerifyLoginOTP(c.Request.Context(), req.TempToken, req.OTP)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toLogin(res))
}

func (h *Handler) ResendOTP(c *gin.Context) {
	var req tempTokenRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.engine.ResendOTP(c.Request.Context(), req.TempToken)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	body := gin.H{"sent": res.Sent, "expiresIn": int(res.ExpiresIn.Seconds())}
	if res.Code != "" {
		body["devCode"] = res.Code
	}
	c.JSON(http.StatusOK, body)
}

// Refresh takes the token from the body, falling back to the bearer header.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	token := req.RefreshToken
	if token == "" {
		token, _ = middleware.BearerToken(c.GetHeader("Authorization"))
	}
	tokens, err := h.engine.Refresh(c.Request.Context(), token)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toTokens(tokens))
}

// ForgotPassword answers the same way whether or not the account exists.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotRequest
	if !bind(c, &req) {
		return
	}
	if err := h.engine.ForgotPassword(c.Request.Context(), req.Email, req.TenantID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "if the account exists a code has been sent"})
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetRequest
	if !bind(c, &req) {
		return
	}
	if err := h.engine.ResetPassword(c.Request.Context(), req.Email, req.TenantID, req.Code, req.NewPassword); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CompleteSetup(c *gin.Context) {
	var req setupRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.engine.CompleteSetup(c.Request.Context(), req.SetupToken, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toLogin(res))
}

func (h *Handler) Me(c *gin.Context) {
	u, _ := currentUser(c)
	c.JSON(http.StatusOK, toUser(u))
}

func (h *Handler) ChangePassword(c *gin.Context) {
	u, _ := currentUser(c)
	var req changeRequest
	if !bind(c, &req) {
		return
	}
	if err := h.engine.ChangePassword(c.Request.Context(), u.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) EnableTOTP(c *gin.Context) {
	u, _ := currentUser(c)
	setup, err := h.engine.EnableTOTP(c.Request.Context(), u.ID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if setup.AlreadyEnabled {
		c.JSON(http.StatusOK, gin.H{"alreadyEnabled": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"secret": setup.Secret,
		"uri":    setup.URI,
		"qrCode": setup.QRCode,
	})
}

func (h *Handler) VerifyTOTP(c *gin.Context) {
	u, _ := currentUser(c)
	var req codeRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.engine.VerifyTOTP(c.Request.Context(), u.ID, req.OTP)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toLogin(res))
}

func (h *Handler) DisableTOTP(c *gin.Context) {
	u, _ := currentUser(c)
	if err := h.engine.DisableTOTP(c.Request.Context(), u.ID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}

func (h *Handler) TOTPStatus(c *gin.Context) {
	u, _ := currentUser(c)
	enabled, err := h.engine.TOTPStatus(c.Request.Context(), u.ID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}
