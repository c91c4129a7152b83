package loyalty

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/valuecard/internal/common"
)

const tiersYAML = `
- name: Member
  minSpend: 0
  multiplier: 1
  color: "#999999"
- name: Platinum
  minSpend: 10000
  multiplier: 2.5
  color: "#e5e4e2"
`

func TestParseTiers(t *testing.T) {
	tiers, err := ParseTiers([]byte(tiersYAML))
	require.NoError(t, err)
	require.Len(t, tiers, 2)

	assert.Equal(t, "Platinum", tiers[1].Name)
	assert.True(t, tiers[1].Multiplier.Equal(d("2.5")))
	assert.True(t, tiers[1].MinSpend.Equal(d("10000")))
}

func TestParseTiers_Invalid(t *testing.T) {
	_, err := ParseTiers([]byte("- name: Gold\n  minSpend: 3000\n  multiplier: 1.5\n"))
	assert.ErrorIs(t, err, common.ErrInvalidTiers)

	_, err = ParseTiers([]byte("not: [valid"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	tiers, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTiers(), tiers)

	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tiersYAML), 0o600))

	tiers, err = LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, tiers, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
