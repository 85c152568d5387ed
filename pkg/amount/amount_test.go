package amount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	t.Run("should parse a valid amount", func(t *testing.T) {
		d, err := Parse("100.50")
		assert.NoError(t, err)
		assert.Equal(t, "100.5", d.String())
	})

	t.Run("should reject non-numeric input", func(t *testing.T) {
		_, err := Parse("not-a-number")
		assert.Error(t, err)
	})

	t.Run("should reject zero", func(t *testing.T) {
		_, err := Parse("0")
		assert.Error(t, err)
	})

	t.Run("should reject negative amounts", func(t *testing.T) {
		_, err := Parse("-5")
		assert.Error(t, err)
	})

	t.Run("should reject amounts beyond token precision", func(t *testing.T) {
		_, err := Parse("1.0000001")
		assert.Error(t, err)
	})

	t.Run("should accept amounts at exactly token precision", func(t *testing.T) {
		d, err := Parse("1.000001")
		assert.NoError(t, err)
		assert.Equal(t, "1.000001", d.String())
	})
}

func TestParseCapped(t *testing.T) {
	max := decimal.NewFromInt(10000000)

	t.Run("should accept amounts at the cap", func(t *testing.T) {
		_, err := ParseCapped("10000000", max)
		assert.NoError(t, err)
	})

	t.Run("should reject amounts above the cap", func(t *testing.T) {
		_, err := ParseCapped("10000000.000001", max)
		assert.Error(t, err)
	})
}

func TestWithinTolerance(t *testing.T) {
	t.Run("should accept exact match", func(t *testing.T) {
		a := decimal.RequireFromString("100.5")
		assert.True(t, WithinTolerance(a, a))
	})

	t.Run("should accept sub-tolerance rounding difference", func(t *testing.T) {
		a := decimal.RequireFromString("100.500001")
		b := decimal.RequireFromString("100.5")
		assert.True(t, WithinTolerance(a, b))
	})

	t.Run("should reject differences above tolerance", func(t *testing.T) {
		a := decimal.RequireFromString("100.51")
		b := decimal.RequireFromString("100.5")
		assert.False(t, WithinTolerance(a, b))
	})
}
