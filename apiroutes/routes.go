package apiroutes

import (
	"github.com/emberwallet/go-vault-server/api"
	restinterceptors "github.com/emberwallet/go-vault-server/api/interceptors"
	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/metrics"
	"github.com/emberwallet/go-vault-server/repository"
	"github.com/emberwallet/go-vault-server/services"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// REST API routes
func ConfigRoutes(router *gin.Engine, dbSelector *repository.CouchDBSelector, env *types.Environment) *gin.Engine {
	// init metrics
	if global.Conf.Prometheus.Enabled {

		metrics.InitMetrics()

		authorized := router.Group("/metrics", gin.BasicAuth(gin.Accounts{
			global.Conf.Prometheus.Username: global.Conf.Prometheus.Password,
		}))

		authorized.GET("", gin.WrapH(promhttp.Handler()))
	}

	// SERVICE definitions
	vaultService := services.NewVaultService(dbSelector)
	deviceService := services.NewDeviceService(dbSelector, env)
	twoFactorService := services.NewTwoFactorService(dbSelector, env)
	biometricService := services.NewBiometricService(dbSelector, env)
	identityService := services.NewIdentityService(dbSelector, env)
	rateLimitService := services.NewRateLimitService(env)
	walletService := services.NewWalletService(vaultService, identityService)
	unlockService := services.NewUnlockService(vaultService, deviceService, twoFactorService, identityService, rateLimitService, env)

	// API definitions
	healthApi := api.NewHealthCheckAPI()
	unlockApi := api.NewUnlockApi(unlockService, env)
	webauthnApi := api.NewWebAuthnApi(biometricService, vaultService, unlockService, env)
	walletApi := api.NewWalletApi(walletService)
	deviceApi := api.NewDeviceApi(deviceService)
	twoFactorApi := api.NewTwoFactorApi(twoFactorService)
	identityApi := api.NewIdentityApi(identityService, unlockService)

	// PUBLIC API
	publicApi := router.Group("/api", metrics.MetricsMiddleware(), restinterceptors.RateLimitMiddleware())
	{
		publicApi.GET("/v1/healthcheck", healthApi.HealthCheck)

		publicApi.POST("/v1/wallet", walletApi.CreateWallet)
		publicApi.POST("/v1/wallet/import", walletApi.ImportWallet)
		publicApi.POST("/v1/wallet/recover", walletApi.RecoverVault)

		publicApi.POST("/v1/unlock", unlockApi.Unlock)
		publicApi.POST("/v1/unlock/device-code", unlockApi.DeviceCode)
		publicApi.POST("/v1/unlock/second-factor", unlockApi.SecondFactor)
		publicApi.POST("/v1/signout", unlockApi.SignOut)

		publicApi.GET("/v1/webauthn/registration_options", webauthnApi.RegistrationOptions)
		publicApi.POST("/v1/webauthn/registration_verify", webauthnApi.VerifyRegistration)
		publicApi.GET("/v1/unlock/biometric/options", webauthnApi.UnlockOptions)
		publicApi.POST("/v1/unlock/biometric", webauthnApi.VerifyUnlock)

		publicApi.GET("/v1/identity/active", identityApi.ActiveIdentity)
		publicApi.POST("/v1/identity/switch", identityApi.SwitchIdentity)
	}

	// PROTECTED API (requires a session token from a completed unlock)
	rootApi := router.Group("/api", metrics.MetricsMiddleware(), restinterceptors.RateLimitMiddleware(), restinterceptors.JWSMiddleware())
	{
		rootApi.GET("/v1/devices", deviceApi.ListDevices)
		rootApi.DELETE("/v1/devices/:deviceId", deviceApi.RevokeDevice)

		rootApi.POST("/v1/2fa/enroll", twoFactorApi.Enroll)
		rootApi.POST("/v1/2fa/confirm", twoFactorApi.Confirm)
		rootApi.DELETE("/v1/2fa", twoFactorApi.Disable)
		rootApi.GET("/v1/2fa/status", twoFactorApi.Status)
		rootApi.POST("/v1/2fa/extend", twoFactorApi.Extend)
		rootApi.POST("/v1/2fa/revoke", twoFactorApi.Revoke)

		rootApi.GET("/v1/identities", identityApi.ListIdentities)

		rootApi.DELETE("/v1/webauthn", webauthnApi.RemoveBinding)
	}

	return router
}
