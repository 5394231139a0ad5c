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

type WalletApi struct {
	walletService *services.WalletService
	validator     *validator.Validate
}

func NewWalletApi(walletService *services.WalletService) *WalletApi {
	return &WalletApi{
		walletService: walletService,
		validator:     validator.New(),
	}
}

// CreateWallet godoc
// @Summary Create a new wallet with a freshly generated recovery phrase
// @Description The mnemonic is returned exactly once and never stored in plain form
// @Tags Wallet
// @Accept json
// @Produce json
// @Param body body types.InputCreateWallet true "identity and vault password"
// @Success 200 {object} map[string]interface{} "mnemonic and post-creation action"
// @Failure 400 {object} api.ApiError "invalid input parameters"
// @Failure 409 {object} api.ApiError "wallet already exists"
// @Router /api/v1/wallet [post]
func (a *WalletApi) CreateWallet(c *gin.Context) {
	var input types.InputCreateWallet
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request: %s", err)
		return
	}
	if vErr := a.validator.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}
	if !input.Kind.Valid() {
		ApiErrorf(c, http.StatusBadRequest, "invalid identity kind")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mnemonic, action, err := a.walletService.CreateWallet(ctx, input.IdentityID, input.Kind, input.DisplayLabel, input.Password)
	if err != nil {
		if errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrIdentityExists) {
			ApiErrorf(c, http.StatusConflict, "wallet already exists")
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "failed to create wallet")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mnemonic":             mnemonic,
		"requirePasswordSetup": action == types.PostCreationRequirePasswordSetup,
	})
}

// ImportWallet godoc
// @Summary Import a wallet from an existing recovery phrase
// @Description Import a wallet from an existing recovery phrase
// @Tags Wallet
// @Accept json
// @Produce json
// @Param body body types.InputImportWallet true "mnemonic, identity and vault password"
// @Success 200 {object} map[string]interface{} "post-creation action"
// @Failure 400 {object} api.ApiError "invalid mnemonic"
// @Failure 409 {object} api.ApiError "wallet already exists"
// @Router /api/v1/wallet/import [post]
func (a *WalletApi) ImportWallet(c *gin.Context) {
	var input types.InputImportWallet
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request: %s", err)
		return
	}
	if vErr := a.validator.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}
	if !input.Kind.Valid() {
		ApiErrorf(c, http.StatusBadRequest, "invalid identity kind")
		return
	}

	// recovery-phrase identities derive their id from the phrase itself
	identityID := input.IdentityID
	if input.Kind == types.IdentityKindRecoveryPhrase {
		identityID = services.RecoveryPhraseIdentityID(input.Mnemonic)
	}
	if identityID == "" {
		ApiErrorf(c, http.StatusBadRequest, "identityId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	action, err := a.walletService.ImportWallet(ctx, identityID, input.Kind, input.DisplayLabel, input.Mnemonic, input.Password)
	if err != nil {
		if errors.Is(err, types.ErrInvalidMnemonic) {
			ApiErrorf(c, http.StatusBadRequest, "invalid recovery phrase")
			return
		}
		if errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrIdentityExists) {
			ApiErrorf(c, http.StatusConflict, "wallet already exists")
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "failed to import wallet")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identityId":           identityID,
		"requirePasswordSetup": action == types.PostCreationRequirePasswordSetup,
	})
}

// RecoverVault godoc
// @Summary Rebuild the vault from the recovery phrase after a forgotten password
// @Description Rebuild the vault from the recovery phrase after a forgotten password
// @Tags Wallet
// @Accept json
// @Produce json
// @Param body body types.InputRecoverVault true "mnemonic and new vault password"
// @Success 200 {object} types.OK
// @Failure 400 {object} api.ApiError "invalid mnemonic"
// @Router /api/v1/wallet/recover [post]
func (a *WalletApi) RecoverVault(c *gin.Context) {
	var input types.InputRecoverVault
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

	if err := a.walletService.RecoverVault(ctx, input.IdentityID, input.Mnemonic, input.NewPassword); err != nil {
		if errors.Is(err, types.ErrInvalidMnemonic) {
			ApiErrorf(c, http.StatusBadRequest, "invalid recovery phrase")
			return
		}
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrNoVaultPresent) {
			ApiErrorf(c, http.StatusNotFound, "no vault for this identity")
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "failed to recover vault")
		return
	}
	c.JSON(http.StatusOK, types.OK{IsOK: true})
}
