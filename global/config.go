package global

import (
	"crypto/ed25519"
	"os"

	"github.com/go-redis/redis_rate/v10"
	"gopkg.in/yaml.v3"
)

// Conf global config
var Conf Config

// Server signing key pair (loaded from serverKeysPath in conf.yaml),
// used for issuing and verifying unlock session tokens.
var ServerPublicKey ed25519.PublicKey
var ServerPrivateKey ed25519.PrivateKey
var ServerKeysCreated int64

// Global rate limiter
var RateLimiter *redis_rate.Limiter

type Config struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	Scheme     string           `yaml:"scheme"`
	Mode       string           `yaml:"mode"` // debug or release
	Version    string           `yaml:"version"`
	Title      string           `yaml:"title"`
	CouchDB    CouchDBConfig    `yaml:"couchdb"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Wallet     WalletConfig     `yaml:"wallet"`
	Unlock     UnlockConfig     `yaml:"unlock"`
	WebAuthn   WebAuthnConfig   `yaml:"webauthn"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	EmailHooks []*EmailHook     `yaml:"emailhooks"`
	Backup     BackupConfig     `yaml:"backup"`
}

type CouchDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Scheme   string `yaml:"scheme"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
}

type QueueConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type WalletConfig struct {
	ServerDomain   string `yaml:"serverDomain"`
	ServerKeysPath string `yaml:"serverKeysPath"`
}

// UnlockConfig is the unlock policy for the whole server.
type UnlockConfig struct {
	// AutoLockMinutes of inactivity before an unlocked session is discarded. 0 = never.
	AutoLockMinutes int `yaml:"autoLockMinutes"`
	// ReverifyDevice forces device verification on every unlock, not only on sign-in.
	ReverifyDevice bool `yaml:"reverifyDevice"`
	// RiskScoreThreshold above which an unseen device is rejected outright.
	RiskScoreThreshold int `yaml:"riskScoreThreshold"`
}

const defaultRiskScoreThreshold = 70

type WebAuthnConfig struct {
	RPDisplayName string   `yaml:"rpDisplayName"`
	RPID          string   `yaml:"rpId"`
	RPOrigins     []string `yaml:"rpOrigins"`
}

type PrometheusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// EmailHook is an outbound webhook used for delivering verification codes and
// security alerts.
type EmailHook struct {
	Provider   string `yaml:"provider"`
	Webhookurl string `yaml:"webhookurl"`
	Webhookkey string `yaml:"webhookkey"`
	Sender     string `yaml:"sender"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Key           string `yaml:"key"`
	Secret        string `yaml:"secret"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	IntervalHours int    `yaml:"intervalHours"`
}

// LoadConfig reads the yaml configuration file into conf.
func LoadConfig(path string, conf *Config) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if uErr := yaml.Unmarshal(contents, conf); uErr != nil {
		return uErr
	}
	// a zero threshold would flag every device as high risk
	if conf.Unlock.RiskScoreThreshold == 0 {
		conf.Unlock.RiskScoreThreshold = defaultRiskScoreThreshold
	}
	return nil
}
