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

type TwoFactorApi struct {
	twoFactorService *services.TwoFactorService
	validator        *validator.Validate
}

func NewTwoFactorApi(twoFactorService *services.TwoFactorService) *TwoFactorApi {
	return &TwoFactorApi{
		twoFactorService: twoFactorService,
		validator:        validator.New(),
	}
}

// Enroll godoc
// @Summary Start 2FA enrollment
// @Description Generates a TOTP secret and backup codes. 2FA stays off until confirmed.
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param body body types.InputTwoFactorEnroll true "account email"
// @Success 200 {object} map[string]interface{} "otpauth url and backup codes, shown exactly once"
// @Failure 401 {object} api.ApiError "not authorized"
// @Router /api/v1/2fa/enroll [post]
func (a *TwoFactorApi) Enroll(c *gin.Context) {
	accountID := c.GetString("subjectAccount")
	if accountID == "" {
		ApiErrorf(c, http.StatusUnauthorized, "not authorized")
		return
	}
	var input types.InputTwoFactorEnroll
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

	_, backupCodes, otpURL, err := a.twoFactorService.Enroll(ctx, accountID, input.Email)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to start enrollment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"otpUrl": otpURL, "backupCodes": backupCodes})
}

// Confirm godoc
// @Summary Confirm 2FA enrollment with one valid code
// @Description Confirm 2FA enrollment with one valid code
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param body body types.InputTwoFactorConfirm true "6 digit TOTP code"
// @Success 200 {object} types.OK
// @Failure 403 {object} api.ApiError "invalid code"
// @Router /api/v1/2fa/confirm [post]
func (a *TwoFactorApi) Confirm(c *gin.Context) {
	accountID := c.GetString("subjectAccount")
	if accountID == "" {
		ApiErrorf(c, http.StatusUnauthorized, "not authorized")
		return
	}
	var input types.InputTwoFactorConfirm
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

	if err := a.twoFactorService.ConfirmEnrollment(ctx, accountID, input.Code); err != nil {
		if errors.Is(err, types.ErrSecondFactorInvalid) {
			ApiErrorf(c, http.StatusForbidden, "invalid code")
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "failed to confirm enrollment")
		return
	}
	c.JSON(http.StatusOK, types.OK{IsOK: true})
}

// Disable godoc
// @Summary Turn 2FA off for the authenticated account
// @Description Turn 2FA off for the authenticated account
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} types.OK
// @Failure 401 {object} api.ApiError "not authorized"
// @Router /api/v1/2fa [delete]
func (a *TwoFactorApi) Disable(c *gin.Context) {
	accountID := c.GetString("subjectAccount")
	if accountID == "" {
		ApiErrorf(c, http.StatusUnauthorized, "not authorized")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.twoFactorService.Disable(ctx, accountID); err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to disable 2fa")
		return
	}
	c.JSON(http.StatusOK, types.OK{IsOK: true})
}

// Status godoc
// @Summary Report whether a second factor is required right now
// @Description Reports lease expiry so clients can warn the user before it lapses
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} types.TwoFactorStatus
// @Failure 401 {object} api.ApiError "not authorized"
// @Router /api/v1/2fa/status [get]
func (a *TwoFactorApi) Status(c *gin.Context) {
	accountID := c.GetString("subjectAccount")
	if accountID == "" {
		ApiErrorf(c, http.StatusUnauthorized, "not authorized")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := a.twoFactorService.Status(ctx, accountID)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to get 2fa status")
		return
	}
	c.JSON(http.StatusOK, status)
}

// Extend godoc
// @Summary Extend the active second factor lease
// @Description Extend the active second factor lease without re-prompting for a code
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} types.TwoFactorSession
// @Failure 403 {object} api.ApiError "no active lease"
// @Router /api/v1/2fa/extend [post]
func (a *TwoFactorApi) Extend(c *gin.Context) {
	accountID := c.GetString("subjectAccount")
	if accountID == "" {
		ApiErrorf(c, http.StatusUnauthorized, "not authorized")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := a.twoFactorService.ExtendLease(ctx, accountID)
	if err != nil {
		if errors.Is(err, types.ErrSecondFactorExpiredSession) || errors.Is(err, types.ErrNotFound) {
			ApiErrorf(c, http.StatusForbidden, "no active lease to extend")
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "failed to extend lease")
		return
	}
	c.JSON(http.StatusOK, session)
}

// Revoke godoc
// @Summary Drop the active second factor lease
// @Description Drop the active second factor lease. The next unlock prompts for a code again.
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} types.OK
// @Failure 401 {object} api.ApiError "not authorized"
// @Router /api/v1/2fa/revoke [post]
func (a *TwoFactorApi) Revoke(c *gin.Context) {
	accountID := c.GetString("subjectAccount")
	if accountID == "" {
		ApiErrorf(c, http.StatusUnauthorized, "not authorized")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.twoFactorService.RevokeLease(ctx, accountID); err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to revoke lease")
		return
	}
	c.JSON(http.StatusOK, types.OK{IsOK: true})
}
