package handlers

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/insightconsole/backend/internal/auth"
	"github.com/insightconsole/backend/internal/middleware"
	"github.com/insightconsole/backend/internal/models"
	"github.com/insightconsole/backend/internal/ratelimit"
	"github.com/insightconsole/backend/internal/services"
	"github.com/insightconsole/backend/pkg/errors"
	"github.com/insightconsole/backend/pkg/logger"
	"github.com/insightconsole/backend/pkg/response"
)

const linkRequestedMessage = "If that address can sign in, a sign-in link is on its way."

// AuthHandler serves the passwordless sign-in flow.
type AuthHandler struct {
	signIn     *services.SignInService
	identities *services.IdentityService
	limiter    *ratelimit.Limiter
}

// NewAuthHandler constructs an AuthHandler. limiter may be nil to disable link-request
// throttling.
func NewAuthHandler(signIn *services.SignInService, identities *services.IdentityService, limiter *ratelimit.Limiter) *AuthHandler {
	return &AuthHandler{signIn: signIn, identities: identities, limiter: limiter}
}

type requestLinkRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (r *requestLinkRequest) normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userPayload struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type verifyResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         userPayload `json:"user"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type requestLinkResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// POST /api/auth/request-link
func (h *AuthHandler) RequestLink(c *gin.Context) {
	var req requestLinkRequest
	if !bindAndValidate(c, &req) {
		return
	}
	email, err := iauth.NormalizeEmail(req.Email)
	if err != nil {
		response.Error(c, errors.NewBadRequest("email must be a valid email address"))
		return
	}

	if !h.allowLinkRequest(c, email) {
		return
	}

	if err := h.signIn.RequestLink(requestContext(c), email); err != nil {
		if stderrors.Is(err, iauth.ErrInvalidInput) {
			response.Error(c, errors.NewBadRequest("email must be a valid email address"))
			return
		}
		// The response must not reveal whether delivery worked.
		logger.WithModule("auth").Error("sign-in link request failed", zap.Error(err))
	}

	response.JSON(c, http.StatusOK, requestLinkResponse{Success: true, Message: linkRequestedMessage})
}

// allowLinkRequest spends the magic-link budget of both the client address and the
// target email. Either bucket can reject.
func (h *AuthHandler) allowLinkRequest(c *gin.Context, email string) bool {
	if h.limiter == nil {
		return true
	}

	for _, scope := range []string{
		ratelimit.ScopeKey("", c.ClientIP()),
		ratelimit.EmailScope(email),
	} {
		decision, err := h.limiter.Consume(requestContext(c), ratelimit.ClassMagicLink, scope)
		if err != nil {
			logger.WithModule("ratelimit").Error("rate limit misconfigured", zap.Error(err))
			return true
		}
		if !middleware.ApplyRateLimit(c, decision) {
			return false
		}
	}
	return true
}

// GET /api/auth/verify?token=&email=
func (h *AuthHandler) VerifyLink(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	email := strings.TrimSpace(c.Query("email"))
	if token == "" || email == "" {
		response.Error(c, errors.NewBadRequest("token and email are required"))
		return
	}

	result, err := h.signIn.VerifyLink(requestContext(c), email, token)
	if err != nil {
		if iauth.IsLinkFailure(err) || stderrors.Is(err, services.ErrIdentityInactive) {
			response.Error(c, errors.ErrInvalidLink)
			return
		}
		logger.WithModule("auth").Error("sign-in link verification failed", zap.Error(err))
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.JSON(c, http.StatusOK, verifyResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		User:         toUserPayload(result.User),
	})
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest("invalid JSON payload"))
		return
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	access, _, err := h.signIn.Refresh(requestContext(c), token)
	if err != nil {
		if iauth.IsTokenFailure(err) ||
			stderrors.Is(err, services.ErrIdentityNotFound) ||
			stderrors.Is(err, services.ErrIdentityInactive) {
			response.Error(c, errors.ErrUnauthorized)
			return
		}
		logger.WithModule("auth").Error("session refresh failed", zap.Error(err))
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.JSON(c, http.StatusOK, refreshResponse{AccessToken: access})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.identities.Get(requestContext(c), c.GetString(middleware.CtxUserIDKey))
	if err != nil {
		if stderrors.Is(err, services.ErrIdentityNotFound) {
			response.Error(c, errors.ErrUnauthorized)
			return
		}
		response.Error(c, errors.ErrInternalServer)
		return
	}
	if !user.IsActive {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user":   toUserPayload(user),
		"firmId": user.FirmID,
	})
}

func toUserPayload(user *models.User) userPayload {
	return userPayload{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
	}
}
