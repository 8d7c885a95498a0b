package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	config := &Config{DSN: "postgres://enricher:pw@localhost:5432/enrichment"}

	require.NoError(t, config.Validate())
	assert.Equal(t, 10, config.MaxOpenConns)
	assert.Equal(t, 5, config.MaxIdleConns)
}

func TestConfigValidate_MissingDSN(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
}

func TestConfigValidate_KeepsExplicitPool(t *testing.T) {
	config := &Config{DSN: "postgres://localhost/enrichment", MaxOpenConns: 40, MaxIdleConns: 20}

	require.NoError(t, config.Validate())
	assert.Equal(t, 40, config.MaxOpenConns)
	assert.Equal(t, 20, config.MaxIdleConns)
}
