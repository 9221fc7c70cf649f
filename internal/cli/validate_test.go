package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/shiftload/internal/loadgen/config"
)

const validConfig = `
name: nightly update
pool:
  file: shift-ids.json
scenarios:
  updates:
    operation: update
    executor: ramping-vus
    stages:
      - {duration: 30s, target: 5}
      - {duration: 30s, target: 0}
    batchSize: 100
    batchesPerWorker: 3
  browse:
    operation: list
    executor: constant-vus
    vus: 2
    duration: 1m
thresholds:
  http_req_duration: ["p(95)<3000", "avg<2000"]
`

func TestValidate_PrintsScenarios(t *testing.T) {
	path := writeFile(t, "test.yaml", validConfig)

	stdout, _, code := execute(t, "validate", "-c", path, "--no-color")
	require.Equal(t, ExitPassed, code)

	assert.Contains(t, stdout, "is valid")
	assert.Contains(t, stdout, "nightly update")
	assert.Contains(t, stdout, "updates")
	assert.Contains(t, stdout, "browse")
	assert.Contains(t, stdout, "Ramping VUs")
	assert.Contains(t, stdout, "file shift-ids.json")
	assert.Contains(t, stdout, "http_req_duration: p(95)<3000, avg<2000")
}

func TestValidate_InvalidConfig(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
scenarios:
  updates:
    operation: update
    executor: constant-vus
`)

	_, _, code := execute(t, "validate", "-c", path)
	assert.Equal(t, ExitConfigError, code)
}

func TestValidate_CheckTarget(t *testing.T) {
	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvAPIKey, "")
	path := writeFile(t, "test.yaml", validConfig)

	_, _, code := execute(t, "validate", "-c", path, "--check-target")
	assert.Equal(t, ExitConfigError, code)

	_, _, code = execute(t, "validate", "-c", path, "--check-target",
		"--url", "https://api.example.com/api/v1", "--api-key", "k")
	assert.Equal(t, ExitPassed, code)
}
