package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	up, err := Load("up")
	require.NoError(t, err)
	require.NotEmpty(t, up)
	assert.Equal(t, "001_create_schema.up", up[0].Name)
	assert.Contains(t, up[0].SQL, "CREATE TABLE IF NOT EXISTS flow_transitions")

	down, err := Load("down")
	require.NoError(t, err)
	require.Len(t, down, len(up))
	assert.Contains(t, down[len(down)-1].SQL, "DROP TABLE IF EXISTS flow_transitions")

	_, err = Load("sideways")
	assert.Error(t, err)
}
