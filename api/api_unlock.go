package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/emberwallet/go-vault-server/api/interceptors"
	apiutil "github.com/emberwallet/go-vault-server/api/util"
	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/metrics"
	"github.com/emberwallet/go-vault-server/services"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/emberwallet/go-vault-server/util"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type UnlockApi struct {
	unlockService *services.UnlockService
	validator     *validator.Validate
	env           *types.Environment
}

func NewUnlockApi(unlockService *services.UnlockService, env *types.Environment) *UnlockApi {
	return &UnlockApi{
		unlockService: unlockService,
		validator:     validator.New(),
		env:           env,
	}
}

// Unlock godoc
// @Summary Unlock the vault of the active identity with a password
// @Description Unlock the vault of the active identity with a password
// @Tags Unlock
// @Accept json
// @Produce json
// @Param body body types.InputUnlock true "identity, password and device fingerprint"
// @Success 200 {object} types.UnlockResult
// @Failure 400 {object} api.ApiError "invalid input parameters"
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Router /api/v1/unlock [post]
func (a *UnlockApi) Unlock(c *gin.Context) {
	var input types.InputUnlock
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request: %s", err)
		return
	}
	if vErr := a.validator.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}
	fillFingerprintFromRequest(c, input.Fingerprint)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := a.unlockService.Unlock(ctx, &input)
	if err != nil {
		a.unlockError(c, err)
		return
	}
	metrics.UnlockProcessingLatency.Observe(float64(time.Since(start).Milliseconds()))

	a.finishResult(c, result, input.IdentityID, string(input.Kind))
}

// DeviceCode godoc
// @Summary Submit the emailed device verification code
// @Description Submit the emailed device verification code
// @Tags Unlock
// @Accept json
// @Produce json
// @Param body body types.InputDeviceCode true "challenge token and 6 digit code"
// @Success 200 {object} types.UnlockResult
// @Failure 400 {object} api.ApiError "invalid input parameters"
// @Router /api/v1/unlock/device-code [post]
func (a *UnlockApi) DeviceCode(c *gin.Context) {
	var input types.InputDeviceCode
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

	result, err := a.unlockService.CompleteDeviceChallenge(ctx, &input)
	if err != nil {
		a.unlockError(c, err)
		return
	}
	a.finishResult(c, result, "", "")
}

// SecondFactor godoc
// @Summary Submit a TOTP or backup code for the pending unlock
// @Description Submit a TOTP or backup code for the pending unlock
// @Tags Unlock
// @Accept json
// @Produce json
// @Param body body types.InputSecondFactor true "pending attempt token and code"
// @Success 200 {object} types.UnlockResult
// @Failure 400 {object} api.ApiError "invalid input parameters"
// @Router /api/v1/unlock/second-factor [post]
func (a *UnlockApi) SecondFactor(c *gin.Context) {
	var input types.InputSecondFactor
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

	userAgent := c.GetHeader("User-Agent")
	fingerprintHash := a.requestFingerprintHash(c, userAgent)
	result, attempt, err := a.unlockService.CompleteSecondFactor(ctx, &input, fingerprintHash, userAgent)
	if err != nil {
		a.unlockError(c, err)
		return
	}
	identityID, kind := "", ""
	if attempt != nil {
		identityID, kind = attempt.AccountID, string(attempt.Kind)
	}
	a.finishResult(c, result, identityID, kind)
}

// SignOut godoc
// @Summary Discard the unlocked session and the second factor lease
// @Description Discard the unlocked session and the second factor lease
// @Tags Unlock
// @Accept json
// @Produce json
// @Param body body types.InputSignOut true "identity and installation"
// @Success 200 {object} types.OK
// @Failure 400 {object} api.ApiError "invalid input parameters"
// @Router /api/v1/signout [post]
func (a *UnlockApi) SignOut(c *gin.Context) {
	var input types.InputSignOut
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

	if err := a.unlockService.SignOut(ctx, input.IdentityID, input.InstallID); err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to sign out")
		return
	}
	c.JSON(http.StatusOK, types.OK{IsOK: true})
}

// finishResult records metrics and, on success, issues the session token the
// protected endpoints authenticate with. identityID may be empty when the
// operation cannot know yet which unlock it completes (device code path);
// the client re-submits the password afterwards and gets its token there.
func (a *UnlockApi) finishResult(c *gin.Context, result *types.UnlockResult, identityID string, kind string) {
	metrics.UnlockAttemptsMetricsTotal.WithLabelValues(string(result.Status)).Inc()
	switch result.Status {
	case types.UnlockStatusFailed:
		metrics.UnlockFailuresMetricsTotal.WithLabelValues(string(result.Reason)).Inc()
	case types.UnlockStatusDeviceVerification:
		metrics.DeviceChallengesIssuedMetricsCount.Inc()
	case types.UnlockStatusUnlocked:
		if identityID != "" {
			challenge, cErr := util.GenerateToken()
			if cErr != nil {
				ApiErrorf(c, http.StatusInternalServerError, "failed to issue session token")
				return
			}
			token, tErr := interceptors.GenerateJWSToken(global.ServerPrivateKey, identityID, kind, challenge)
			if tErr != nil {
				ApiErrorf(c, http.StatusInternalServerError, "failed to issue session token")
				return
			}
			result.SessionToken = token
		}
	}
	c.JSON(http.StatusOK, result)
}

func (a *UnlockApi) unlockError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrUnlockInProgress):
		ApiErrorf(c, http.StatusConflict, "an unlock attempt is already in progress")
	case errors.Is(err, types.ErrNotFound):
		ApiErrorf(c, http.StatusNotFound, "not found")
	case errors.Is(err, types.ErrBadRequest):
		ApiErrorf(c, http.StatusBadRequest, "invalid request")
	default:
		ApiErrorf(c, http.StatusInternalServerError, "unlock failed")
	}
}

// fillFingerprintFromRequest backfills the request-derived signals the client
// cannot be trusted to report.
func fillFingerprintFromRequest(c *gin.Context, fp *types.DeviceFingerprint) {
	if fp == nil {
		return
	}
	if fp.IPAddress == "" {
		if ip, err := apiutil.GetIPFromContext(c); err == nil && ip != nil {
			fp.IPAddress = *ip
		}
	}
	if fp.UserAgent == "" {
		fp.UserAgent = c.GetHeader("User-Agent")
	}
	if fp.FingerprintHash == "" {
		fp.FingerprintHash = util.Sha256Hex([]byte(fp.IPAddress + fp.UserAgent + fp.ScreenResolution + fp.Timezone))
	}
}

func (a *UnlockApi) requestFingerprintHash(c *gin.Context, userAgent string) string {
	ipStr := ""
	if ip, err := apiutil.GetIPFromContext(c); err == nil && ip != nil {
		ipStr = *ip
	}
	return util.Sha256Hex([]byte(ipStr + userAgent))
}
