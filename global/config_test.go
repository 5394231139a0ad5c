package global

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tj/assert"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conf.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaultRiskScoreThreshold(t *testing.T) {
	path := writeConfig(t, "port: 8080\nmode: debug\n")
	var conf Config
	assert.NoError(t, LoadConfig(path, &conf))
	assert.Equal(t, defaultRiskScoreThreshold, conf.Unlock.RiskScoreThreshold)
}

func TestLoadConfigExplicitRiskScoreThreshold(t *testing.T) {
	path := writeConfig(t, "unlock:\n  riskScoreThreshold: 85\n")
	var conf Config
	assert.NoError(t, LoadConfig(path, &conf))
	assert.Equal(t, 85, conf.Unlock.RiskScoreThreshold)
}
