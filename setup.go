package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/emberwallet/go-vault-server/email"
	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/repository"
	"github.com/emberwallet/go-vault-server/services"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Register outbound email webhooks from config
func RegisterEmailSenders(conf *global.Config) {
	for _, hook := range conf.EmailHooks {
		sender := email.NewWebhookSender(hook.Webhookurl, hook.Webhookkey, hook.Sender)
		email.RegisterSender(hook.Provider, sender)
	}
}

// Configure DB Repositories and create DB Selector
func ConfigDBSelector() repository.DBSelector {
	// configure Repository (couchDB)
	repoUrl := global.Conf.CouchDB.Scheme + "://" + global.Conf.CouchDB.Host + ":" + strconv.Itoa(global.Conf.CouchDB.Port)
	vaultRepo, vaultRepoErr := repository.NewCouchDBRepository(repoUrl, repository.Vault, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	deviceRepo, deviceRepoErr := repository.NewCouchDBRepository(repoUrl, repository.TrustedDevice, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	challengeRepo, challengeRepoErr := repository.NewCouchDBRepository(repoUrl, repository.DeviceChallenge, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	biometricRepo, biometricRepoErr := repository.NewCouchDBRepository(repoUrl, repository.BiometricBinding, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	identityRepo, identityRepoErr := repository.NewCouchDBRepository(repoUrl, repository.Identity, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	identityLegacyRepo, identityLegacyRepoErr := repository.NewCouchDBRepository(repoUrl, repository.IdentityLegacy, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	activeIdentityRepo, activeIdentityRepoErr := repository.NewCouchDBRepository(repoUrl, repository.ActiveIdentity, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	securityProfileRepo, securityProfileRepoErr := repository.NewCouchDBRepository(repoUrl, repository.SecurityProfile, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)

	repoErr := errors.Join(vaultRepoErr, deviceRepoErr, challengeRepoErr, biometricRepoErr, identityRepoErr, identityLegacyRepoErr, activeIdentityRepoErr, securityProfileRepoErr)
	if repoErr != nil {
		global.Logger.Log("error", "Failed to create repositories", "error", repoErr.Error())
		panic(repoErr)
	}

	// REPOSITORY definitions
	dbSelector := repository.NewCouchDBSelector()
	dbSelector.AddDB(vaultRepo)
	dbSelector.AddDB(deviceRepo)
	dbSelector.AddDB(challengeRepo)
	dbSelector.AddDB(biometricRepo)
	dbSelector.AddDB(identityRepo)
	dbSelector.AddDB(identityLegacyRepo)
	dbSelector.AddDB(activeIdentityRepo)
	dbSelector.AddDB(securityProfileRepo)

	return dbSelector
}

func ConfigDBIndexing(dbSelector *repository.CouchDBSelector, environment *types.Environment) {
	// CREATE REQUIRED SERVICES
	deviceService := services.NewDeviceService(dbSelector, environment)

	// Create INDEXES
	deviceRepo, devErr := dbSelector.ChooseDB(repository.TrustedDevice)
	if devErr != nil {
		panic(devErr)
	}
	if idxErr := repository.CreateTrustedDeviceAccountIndex(deviceRepo); idxErr != nil {
		panic(idxErr)
	}

	biometricRepo, bioErr := dbSelector.ChooseDB(repository.BiometricBinding)
	if bioErr != nil {
		panic(bioErr)
	}
	if idxErr := repository.CreateBiometricWalletIndex(biometricRepo); idxErr != nil {
		panic(idxErr)
	}

	identityRepo, idErr := dbSelector.ChooseDB(repository.Identity)
	if idErr != nil {
		panic(idErr)
	}
	if idxErr := repository.CreateIdentityKindIndex(identityRepo); idxErr != nil {
		panic(idxErr)
	}

	// Create DESIGN DOCUMENTS
	// a view returning device verification challenges past their expiry
	repository.CreateDesign_DeleteExpiredRecordsByExpiry(repository.DeviceChallenge, "challenge", "expired")

	// cron jobs
	environment.Cron.AddFunc("@every 5m", deviceService.RemoveExpiredChallenges) // remove expired challenges every 5 minutes
	environment.Cron.Start()
	go deviceService.RemoveExpiredChallenges() // run once on startup

	// periodic vault snapshots to S3
	if global.Conf.Backup.Enabled && global.Conf.Backup.IntervalHours > 0 {
		backupService := services.NewBackupService(dbSelector, environment)
		environment.Cron.AddFunc(fmt.Sprintf("@every %dh", global.Conf.Backup.IntervalHours), backupService.SnapshotVaults)
		environment.Cron.Start()
	}
}

func ConfigS3Storage(conf *global.Config, env *types.Environment) {
	// configure S3 storage
	credentials := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(conf.Backup.Key, conf.Backup.Secret, ""))
	awsConf, err := config.LoadDefaultConfig(context.TODO(), config.WithCredentialsProvider(credentials), config.WithRegion(conf.Backup.Region))
	if err != nil {
		panic(err)
	}
	s3Client := s3.NewFromConfig(awsConf)
	uploader := manager.NewUploader(s3Client)
	env.AddS3Uploader(uploader)

	env.S3Client = s3Client
}

func ConfigWebAuthN(conf *global.Config, env *types.Environment) {
	// configure WebAuthN
	host, _, err := net.SplitHostPort(conf.Wallet.ServerDomain)
	if err != nil {
		if strings.Contains(err.Error(), "missing port in address") {
			host = conf.Wallet.ServerDomain
		} else {
			fmt.Printf("failed to parse server domain: %v", err)
			panic(err)
		}
	}
	rpID := conf.WebAuthn.RPID
	if rpID == "" {
		rpID = host
	}
	rpDisplayName := conf.WebAuthn.RPDisplayName
	if rpDisplayName == "" {
		rpDisplayName = conf.Wallet.ServerDomain
	}
	rpOrigins := conf.WebAuthn.RPOrigins
	if len(rpOrigins) == 0 {
		rpOrigins = []string{"https://" + conf.Wallet.ServerDomain}
	}
	requireResidentKey := true
	wconfig := &webauthn.Config{
		RPDisplayName: rpDisplayName,
		RPID:          rpID,
		RPOrigins:     rpOrigins,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			UserVerification:        protocol.VerificationRequired,
			RequireResidentKey:      &requireResidentKey,
			AuthenticatorAttachment: protocol.Platform,
		},
	}
	webAuthn, err := webauthn.New(wconfig)
	if err != nil {
		fmt.Printf("failed to create webauthn: %v", err)
		panic(err)
	}

	env.WebAuthN = webAuthn
}
