package services

import (
	"testing"

	"github.com/emberwallet/go-vault-server/types"
	"github.com/tj/assert"
)

func TestScoreDeviceExactFingerprint(t *testing.T) {
	device := &types.TrustedDevice{
		FingerprintHash: "abc123",
		IPAddress:       "10.0.0.1",
		Browser:         "Chrome",
		BrowserVersion:  "120",
		OS:              "macOS",
		OSVersion:       "14.2",
	}
	fp := &types.DeviceFingerprint{
		FingerprintHash: "abc123",
		IPAddress:       "10.0.0.1",
		Browser:         "Chrome",
		BrowserVersion:  "120",
		OS:              "macOS",
		OSVersion:       "14.2",
	}
	score, details := scoreDevice(device, fp)
	// fingerprint 100 + ip 20 + browser 15 + os 15
	assert.Equal(t, 150, score)
	assert.Equal(t, 1.0, details.FingerprintSimilarity)
	assert.True(t, details.IPMatch)
	assert.True(t, details.BrowserMatch)
	assert.True(t, details.OSMatch)
	assert.True(t, score >= scoreAutoTrust)
}

func TestScoreDeviceBrowserUpdateDrift(t *testing.T) {
	device := &types.TrustedDevice{
		FingerprintHash: "abc123",
		Browser:         "Chrome",
		BrowserVersion:  "120",
	}
	fp := &types.DeviceFingerprint{
		FingerprintHash: "abc123",
		Browser:         "Chrome",
		BrowserVersion:  "121",
	}
	score, details := scoreDevice(device, fp)
	// same browser with a different version scores lower than an exact match
	assert.Equal(t, 108, score)
	assert.True(t, details.BrowserMatch)
}

func TestScoreDeviceCountryFallback(t *testing.T) {
	device := &types.TrustedDevice{
		IPAddress: "10.0.0.1",
		Country:   "DE",
	}
	fp := &types.DeviceFingerprint{
		IPAddress: "192.168.1.5",
		Country:   "DE",
	}
	score, details := scoreDevice(device, fp)
	// no ip match, country still counts for something
	assert.Equal(t, 10, score)
	assert.False(t, details.IPMatch)
	assert.True(t, details.LocationMatch)
}

func TestScoreDeviceUnrelated(t *testing.T) {
	device := &types.TrustedDevice{
		FingerprintHash: "aaaaaaaaaaaaaaaa",
		Browser:         "Firefox",
		OS:              "Linux",
	}
	fp := &types.DeviceFingerprint{
		FingerprintHash: "zzzzzzzzzzzzzzzz",
		Browser:         "Safari",
		OS:              "iOS",
	}
	score, _ := scoreDevice(device, fp)
	assert.True(t, score < scoreChallenge)
}

func TestDeviceDocIDStable(t *testing.T) {
	a := deviceDocID("account-1", "device-1")
	b := deviceDocID("account-1", "device-1")
	c := deviceDocID("account-1", "device-2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, 64, len(a))
}
