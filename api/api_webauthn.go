package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/emberwallet/go-vault-server/api/interceptors"
	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/metrics"
	"github.com/emberwallet/go-vault-server/services"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/emberwallet/go-vault-server/util"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

const (
	registrationSessionPrefix = "webauthn_reg_sess_"
	assertionSessionPrefix    = "webauthn_login_sess_"
	ceremonySessionTTL        = time.Minute * 5
)

type WebAuthnApi struct {
	biometricService *services.BiometricService
	vaultService     *services.VaultService
	unlockService    *services.UnlockService
	validator        *validator.Validate
	env              *types.Environment
}

func NewWebAuthnApi(biometricService *services.BiometricService, vaultService *services.VaultService, unlockService *services.UnlockService, env *types.Environment) *WebAuthnApi {
	return &WebAuthnApi{
		biometricService: biometricService,
		vaultService:     vaultService,
		unlockService:    unlockService,
		validator:        validator.New(),
		env:              env,
	}
}

// RegistrationOptions godoc
// @Summary Registration options for a new biometric credential
// @Description Registration options for a new biometric credential
// @Tags Biometric
// @Accept json
// @Produce json
// @Param walletId query string true "wallet identity to bind the credential to"
// @Success 200 {object} protocol.PublicKeyCredentialCreationOptions
// @Failure 400 {object} api.ApiError "missing wallet id"
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Router /api/v1/webauthn/registration_options [get]
func (a *WebAuthnApi) RegistrationOptions(c *gin.Context) {
	walletID := c.Query("walletId")
	if walletID == "" {
		ApiErrorf(c, http.StatusBadRequest, "walletId query parameter is required")
		return
	}

	// a vault has to exist before a credential can shortcut into it
	if _, vErr := a.vaultService.GetVault(walletID); vErr != nil {
		if errors.Is(vErr, types.ErrNoVaultPresent) {
			ApiErrorf(c, http.StatusNotFound, "no vault for this wallet")
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "failed to load vault")
		return
	}

	user := &types.BiometricUser{
		ID:          []byte(walletID),
		Name:        walletID,
		DisplayName: walletID,
	}
	// re-enrollment keeps the already registered credentials excluded
	if binding, bErr := a.biometricService.GetBinding(walletID); bErr == nil {
		user = types.MapBindingToUser(binding)
	}

	options, session, err := a.env.WebAuthN.BeginRegistration(user)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to begin registration: %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessionBytes, sErr := json.Marshal(session)
	if sErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to marshal session: %s", sErr)
		return
	}
	redStatus := a.env.RedisClient.Set(ctx, registrationSessionPrefix+walletID, sessionBytes, ceremonySessionTTL)
	if redStatus.Err() != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to save session: %s", redStatus.Err()))
		ApiErrorf(c, http.StatusInternalServerError, "failed to store session")
		return
	}

	c.JSON(http.StatusOK, options.Response)
}

// VerifyRegistration godoc
// @Summary Finish the biometric registration ceremony
// @Description Verifies the attestation and stores the wrapped vault password surrogate
// @Tags Biometric
// @Accept json
// @Produce json
// @Param body body types.InputBiometricRegisterVerify true "attestation response + vault password"
// @Success 200 {object} types.OK
// @Failure 400 {object} api.ApiError "invalid input parameters"
// @Failure 403 {object} api.ApiError "ceremony failed"
// @Router /api/v1/webauthn/registration_verify [post]
func (a *WebAuthnApi) VerifyRegistration(c *gin.Context) {
	var req types.InputBiometricRegisterVerify
	if err := c.ShouldBindJSON(&req); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request: %s", err)
		return
	}
	if vErr := a.validator.Struct(req); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, sErr := a.takeSession(ctx, registrationSessionPrefix+req.WalletID)
	if sErr != nil {
		ApiErrorf(c, http.StatusForbidden, "session not found")
		return
	}

	// the surrogate wraps the real vault password, so prove it first
	valid, pErr := a.vaultService.VerifyPassword(req.WalletID, req.Password)
	if pErr != nil || !valid {
		ApiErrorf(c, http.StatusForbidden, "invalid vault password")
		return
	}

	user := &types.BiometricUser{
		ID:          []byte(req.WalletID),
		Name:        req.WalletID,
		DisplayName: req.DisplayName,
	}
	existing, bErr := a.biometricService.GetBinding(req.WalletID)
	if bErr == nil {
		user = types.MapBindingToUser(existing)
	}

	// due to the design of the webauthn library, we need to parse the response
	// basically implement our own FinishRegistration method here
	attRespMrsh, mrshErr := json.Marshal(req.AttestationResponse)
	if mrshErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to marshal attestation response: %s", mrshErr)
		return
	}
	reader := io.NopCloser(bytes.NewReader(attRespMrsh))
	pcc, pccErr := protocol.ParseCredentialCreationResponseBody(reader)
	if pccErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to parse credential creation response: %s", pccErr))
		ApiErrorf(c, http.StatusForbidden, "failed to finish registration")
		return
	}
	credential, cErr := a.env.WebAuthN.CreateCredential(user, *session, pcc)
	if cErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to create credential: %s", cErr))
		ApiErrorf(c, http.StatusInternalServerError, "Failed to finish registration. Please contact support.")
		return
	}

	if existing != nil {
		if acErr := a.biometricService.AddCredential(req.WalletID, credential); acErr != nil {
			global.Logger.Log("error", fmt.Sprintf("failed to add credential: %s", acErr))
			ApiErrorf(c, http.StatusInternalServerError, "failed to save credential")
			return
		}
	} else {
		_, sbErr := a.biometricService.SaveBinding(req.WalletID, req.IdentityKind, req.WalletID, req.DisplayName, credential, req.Password)
		if sbErr != nil {
			global.Logger.Log("error", fmt.Sprintf("failed to save binding: %s", sbErr))
			ApiErrorf(c, http.StatusInternalServerError, "failed to save credential")
			return
		}
	}

	c.JSON(http.StatusOK, types.OK{IsOK: true})
}

// UnlockOptions godoc
// @Summary Assertion options for a biometric unlock
// @Description Assertion options for a biometric unlock
// @Tags Biometric
// @Accept json
// @Produce json
// @Param walletId query string true "wallet identity to unlock"
// @Success 200 {object} protocol.PublicKeyCredentialRequestOptions
// @Failure 404 {object} api.ApiError "no biometric credential for this wallet"
// @Router /api/v1/unlock/biometric/options [get]
func (a *WebAuthnApi) UnlockOptions(c *gin.Context) {
	walletID := c.Query("walletId")
	if walletID == "" {
		ApiErrorf(c, http.StatusBadRequest, "walletId query parameter is required")
		return
	}

	binding, bErr := a.biometricService.GetBinding(walletID)
	if bErr != nil {
		ApiErrorf(c, http.StatusNotFound, "no biometric credential for this wallet")
		return
	}
	user := types.MapBindingToUser(binding)

	options, session, err := a.env.WebAuthN.BeginLogin(user)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to begin login: %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessionBytes, sErr := json.Marshal(session)
	if sErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to marshal session: %s", sErr)
		return
	}
	redStatus := a.env.RedisClient.Set(ctx, assertionSessionPrefix+walletID, sessionBytes, ceremonySessionTTL)
	if redStatus.Err() != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to save session: %s", redStatus.Err()))
		ApiErrorf(c, http.StatusInternalServerError, "failed to store session")
		return
	}

	c.JSON(http.StatusOK, options.Response)
}

// VerifyUnlock godoc
// @Summary Finish the biometric unlock ceremony
// @Description Validates the assertion, releases the wrapped password and runs the unlock
// @Tags Biometric
// @Accept json
// @Produce json
// @Param body body types.InputBiometricUnlock true "assertion response + device fingerprint"
// @Success 200 {object} types.UnlockResult
// @Failure 400 {object} api.ApiError "invalid input parameters"
// @Router /api/v1/unlock/biometric [post]
func (a *WebAuthnApi) VerifyUnlock(c *gin.Context) {
	var req types.InputBiometricUnlock
	if err := c.ShouldBindJSON(&req); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request: %s", err)
		return
	}
	if vErr := a.validator.Struct(req); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	binding, bErr := a.biometricService.GetBinding(req.WalletID)
	if bErr != nil {
		c.JSON(http.StatusOK, types.UnlockFailed(types.FailureBiometricUnavailable))
		return
	}

	session, sErr := a.takeSession(ctx, assertionSessionPrefix+req.WalletID)
	if sErr != nil {
		ApiErrorf(c, http.StatusForbidden, "session not found")
		return
	}

	assertionMrsh, mrshErr := json.Marshal(req.AssertionResponse)
	if mrshErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to marshal assertion response: %s", mrshErr)
		return
	}
	reader := io.NopCloser(bytes.NewReader(assertionMrsh))
	pca, pcaErr := protocol.ParseCredentialRequestResponseBody(reader)
	if pcaErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to parse credential request response: %s", pcaErr))
		c.JSON(http.StatusOK, types.UnlockFailed(types.FailureBiometricCeremonyFailed))
		return
	}

	user := types.MapBindingToUser(binding)
	if _, clErr := a.env.WebAuthN.ValidateLogin(user, *session, pca); clErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to validate login: %s", clErr))
		c.JSON(http.StatusOK, types.UnlockFailed(types.FailureBiometricCeremonyFailed))
		return
	}

	password, rErr := a.biometricService.ReleasePassword(binding)
	if rErr != nil {
		c.JSON(http.StatusOK, types.UnlockFailed(types.FailureBiometricCeremonyFailed))
		return
	}

	fillFingerprintFromRequest(c, req.Fingerprint)
	result, uErr := a.unlockService.BiometricUnlock(ctx, req.WalletID, binding.IdentityKind, password, req.DeviceID, req.Fingerprint)
	if uErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "unlock failed")
		return
	}

	if result.Status == types.UnlockStatusUnlocked {
		metrics.BiometricUnlocksMetricsCount.Inc()
		challenge, cErr := util.GenerateToken()
		if cErr != nil {
			ApiErrorf(c, http.StatusInternalServerError, "failed to issue session token")
			return
		}
		token, tErr := interceptors.GenerateJWSToken(global.ServerPrivateKey, req.WalletID, string(binding.IdentityKind), challenge)
		if tErr != nil {
			ApiErrorf(c, http.StatusInternalServerError, "failed to issue session token")
			return
		}
		result.SessionToken = token
	}
	metrics.UnlockAttemptsMetricsTotal.WithLabelValues(string(result.Status)).Inc()
	c.JSON(http.StatusOK, result)
}

// RemoveBinding godoc
// @Summary Remove the biometric credential and its password surrogate
// @Description Remove the biometric credential and its password surrogate
// @Tags Biometric
// @Produce json
// @Success 200 {object} types.OK
// @Failure 404 {object} api.ApiError "no biometric credential for this wallet"
// @Router /api/v1/webauthn [delete]
func (a *WebAuthnApi) RemoveBinding(c *gin.Context) {
	walletID := c.GetString("subjectAccount")
	if walletID == "" {
		ApiErrorf(c, http.StatusUnauthorized, "not authorized")
		return
	}
	if err := a.biometricService.RemoveBinding(walletID); err != nil {
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrBiometricUnavailable) {
			ApiErrorf(c, http.StatusNotFound, "no biometric credential for this wallet")
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "failed to remove credential")
		return
	}
	c.JSON(http.StatusOK, types.OK{IsOK: true})
}

// takeSession loads a ceremony session from redis and burns it, so a stolen
// response cannot be replayed.
func (a *WebAuthnApi) takeSession(ctx context.Context, key string) (*webauthn.SessionData, error) {
	sessBytes, err := a.env.RedisClient.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var session webauthn.SessionData
	if uErr := json.Unmarshal([]byte(sessBytes), &session); uErr != nil {
		return nil, uErr
	}
	if _, delErr := a.env.RedisClient.Del(ctx, key).Result(); delErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to delete session: %s", delErr))
	}
	return &session, nil
}
