package script

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/pump"
)

const nightlyYAML = `
name: nightly
every: 1 days
target: warehouse
jobs:
  - load sys_user into users truncate
  - refresh incident where {active=true}
`

func TestParseYAML(t *testing.T) {
	suite, err := ParseYAML([]byte(nightlyYAML), now)
	require.NoError(t, err)

	assert.Equal(t, "nightly", suite.Name)
	assert.Equal(t, "warehouse", suite.Target)
	assert.Equal(t, 24*time.Hour, suite.Frequency)
	assert.Equal(t, pump.StatusQueued, suite.Status())
	require.Len(t, suite.Jobs, 2)
	assert.Equal(t, "users", suite.Jobs[0].TargetTable())
	assert.Equal(t, pump.OpRefresh, suite.Jobs[1].Operation)
}

func TestParseYAMLErrors(t *testing.T) {
	_, err := ParseYAML([]byte("name: empty\njobs: []\n"), now)
	assert.True(t, errors.IsInit(err))

	_, err = ParseYAML([]byte("name: [unclosed\n"), now)
	assert.True(t, errors.IsInit(err))

	_, err = ParseYAML([]byte("name: broken\njobs:\n  - load\n"), now)
	require.Error(t, err)
	assert.True(t, errors.IsInit(err))
	assert.Contains(t, err.Error(), `suite "broken"`)
}

func TestDefinitionRoundTrip(t *testing.T) {
	suite, err := ParseYAML([]byte(nightlyYAML), now)
	require.NoError(t, err)

	def := DefinitionOf(suite)
	assert.Equal(t, "1 days", def.Every)
	assert.Equal(t, []string{
		"load sys_user into users truncate insert-only",
		"refresh incident since 2024-03-01 12:34:56 where {active=true}",
	}, def.Jobs)

	out, err := def.Marshal()
	require.NoError(t, err)
	again, err := ParseYAML(out, now)
	require.NoError(t, err)
	assert.Equal(t, suite.Description(), again.Description())
}

func TestFormatFrequency(t *testing.T) {
	assert.Equal(t, "90 seconds", formatFrequency(90*time.Second))
	assert.Equal(t, "15 minutes", formatFrequency(15*time.Minute))
	assert.Equal(t, "2 hours", formatFrequency(2*time.Hour))
	assert.Equal(t, "7 days", formatFrequency(7*24*time.Hour))
}
