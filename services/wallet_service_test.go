package services

import (
	"strings"
	"testing"

	"github.com/tj/assert"
	"github.com/tyler-smith/go-bip39"
)

func TestNormalizeMnemonic(t *testing.T) {
	normalized := normalizeMnemonic("  Legal   Winner THANK year\twave sausage worth useful legal winner thank yellow ")
	assert.Equal(t, "legal winner thank year wave sausage worth useful legal winner thank yellow", normalized)
	assert.True(t, bip39.IsMnemonicValid(normalized))
}

func TestRecoveryPhraseIdentityIDStable(t *testing.T) {
	mnemonic := "legal winner thank year wave sausage worth useful legal winner thank yellow"
	a := RecoveryPhraseIdentityID(mnemonic)
	// whitespace and case variations resolve to the same identity
	b := RecoveryPhraseIdentityID("  LEGAL winner  thank year wave sausage worth useful legal winner thank yellow")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "rp-"))
	assert.Equal(t, 43, len(a))

	other := RecoveryPhraseIdentityID("zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong")
	assert.NotEqual(t, a, other)
}
