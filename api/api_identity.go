package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/emberwallet/go-vault-server/services"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type IdentityApi struct {
	identityService *services.IdentityService
	unlockService   *services.UnlockService
	validator       *validator.Validate
}

func NewIdentityApi(identityService *services.IdentityService, unlockService *services.UnlockService) *IdentityApi {
	return &IdentityApi{
		identityService: identityService,
		unlockService:   unlockService,
		validator:       validator.New(),
	}
}

// ListIdentities godoc
// @Summary List known wallet identities
// @Description List known wallet identities
// @Tags Identity
// @Produce json
// @Success 200 {array} types.WalletIdentity
// @Failure 401 {object} api.ApiError "not authorized"
// @Router /api/v1/identities [get]
func (a *IdentityApi) ListIdentities(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	identities, err := a.identityService.ListIdentities(ctx, 100)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to list identities")
		return
	}
	c.JSON(http.StatusOK, identities)
}

// ActiveIdentity godoc
// @Summary Resolve the active identity for a client installation
// @Description Resolve the active identity for a client installation
// @Tags Identity
// @Produce json
// @Param installId query string true "client installation id"
// @Success 200 {object} types.WalletIdentity
// @Failure 404 {object} api.ApiError "no active identity"
// @Router /api/v1/identity/active [get]
func (a *IdentityApi) ActiveIdentity(c *gin.Context) {
	installID := c.Query("installId")
	if installID == "" {
		ApiErrorf(c, http.StatusBadRequest, "installId query parameter is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	identity, err := a.identityService.ResolveActive(ctx, installID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			ApiErrorf(c, http.StatusNotFound, "no active identity for this installation")
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "failed to resolve active identity")
		return
	}
	c.JSON(http.StatusOK, identity)
}

// SwitchIdentity godoc
// @Summary Activate another wallet identity for this installation
// @Description Activate another wallet identity for this installation
// @Tags Identity
// @Accept json
// @Produce json
// @Param body body types.InputSwitchIdentity true "installation and target identity"
// @Success 200 {object} types.OK
// @Failure 400 {object} api.ApiError "invalid input parameters"
// @Failure 404 {object} api.ApiError "identity not found"
// @Router /api/v1/identity/switch [post]
func (a *IdentityApi) SwitchIdentity(c *gin.Context) {
	var input types.InputSwitchIdentity
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request: %s", err)
		return
	}
	if vErr := a.validator.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.unlockService.SwitchIdentity(ctx, input.InstallID, input.IdentityID, input.Kind); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			ApiErrorf(c, http.StatusNotFound, "identity not found")
			return
		}
		if errors.Is(err, types.ErrBadRequest) {
			ApiErrorf(c, http.StatusBadRequest, "invalid identity kind")
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "failed to switch identity")
		return
	}
	c.JSON(http.StatusOK, types.OK{IsOK: true})
}
