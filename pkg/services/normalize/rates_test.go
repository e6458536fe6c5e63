package normalize

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRates_USDRate(t *testing.T) {
	rates, err := NewStaticRates(map[string]string{"eur": "1.08"})
	require.NoError(t, err)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	r, err := rates.USDRate("USD", day)
	require.NoError(t, err)
	assert.Equal(t, "1", r.String())

	r, err = rates.USDRate(" Eur ", day)
	require.NoError(t, err)
	assert.Equal(t, "1.08", r.String())

	_, err = rates.USDRate("XYZ", day)
	assert.Equal(t, errkind.InvalidInput, errkind.KindOf(err))
}

func TestNewStaticRates_RejectsBadRates(t *testing.T) {
	for _, v := range []string{"abc", "0", "-1.2"} {
		_, err := NewStaticRates(map[string]string{"EUR": v})
		assert.Error(t, err, v)
	}
}

func TestLoadRatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.ini")
	content := `
[usd]
EUR = 1.05
SEK = 0.095

[usd.2024-03]
EUR = 1.09

[notes]
source = manual
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rates, err := LoadRatesFile(path)
	require.NoError(t, err)

	feb, err := rates.USDRate("EUR", time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "1.05", feb.String())

	mar, err := rates.USDRate("EUR", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "1.09", mar.String())

	sek, err := rates.USDRate("SEK", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "0.095", sek.String())

	// defaults remain available
	_, err = rates.USDRate("GBP", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
}

func TestLoadRatesFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRatesFile(filepath.Join(t.TempDir(), "missing.ini"))
		assert.Error(t, err)
	})

	t.Run("bad month", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rates.ini")
		require.NoError(t, os.WriteFile(path, []byte("[usd.march]\nEUR = 1.1\n"), 0o600))
		_, err := LoadRatesFile(path)
		assert.ErrorContains(t, err, "YYYY-MM")
	})

	t.Run("bad value", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rates.ini")
		require.NoError(t, os.WriteFile(path, []byte("[usd]\nEUR = one\n"), 0o600))
		_, err := LoadRatesFile(path)
		assert.Error(t, err)
	})
}
