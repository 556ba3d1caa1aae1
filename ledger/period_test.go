package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crechebooks/ledger-engine/ledger"
)

func TestNewPeriod_NormalizesToUTCMidnight(t *testing.T) {
	// GIVEN bounds carrying time-of-day and a zone offset
	zone := time.FixedZone("AEST", 10*3600)
	start := time.Date(2026, 1, 1, 14, 30, 0, 0, zone)
	end := time.Date(2026, 1, 31, 9, 15, 0, 0, zone)

	// WHEN constructing the period
	p, err := ledger.NewPeriod(start, end)
	require.NoError(t, err)

	// THEN both bounds are UTC midnight of the UTC calendar day
	assert.Equal(t, ledger.Date(2026, 1, 1), p.Start)
	assert.Equal(t, ledger.Date(2026, 1, 30), p.End) // 09:15 AEST is still Jan 30 in UTC
}

func TestNewPeriod_RejectsReversedBounds(t *testing.T) {
	_, err := ledger.NewPeriod(ledger.Date(2026, 2, 1), ledger.Date(2026, 1, 1))

	require.Error(t, err)
	assert.True(t, ledger.IsInvalidInput(err))
}

func TestNewPeriod_RejectsZeroBounds(t *testing.T) {
	_, err := ledger.NewPeriod(time.Time{}, ledger.Date(2026, 1, 31))
	assert.True(t, ledger.IsInvalidInput(err))
}

func TestNewPeriod_SingleDayIsValid(t *testing.T) {
	p, err := ledger.NewPeriod(ledger.Date(2026, 1, 15), ledger.Date(2026, 1, 15))

	require.NoError(t, err)
	assert.True(t, p.Contains(ledger.Date(2026, 1, 15)))
}

func TestPeriod_ContainsIsInclusiveBothEnds(t *testing.T) {
	p, err := ledger.NewPeriod(ledger.Date(2026, 1, 1), ledger.Date(2026, 1, 31))
	require.NoError(t, err)

	assert.True(t, p.Contains(ledger.Date(2026, 1, 1)))
	assert.True(t, p.Contains(ledger.Date(2026, 1, 15)))
	assert.True(t, p.Contains(ledger.Date(2026, 1, 31)))
	assert.False(t, p.Contains(ledger.Date(2025, 12, 31)))
	assert.False(t, p.Contains(ledger.Date(2026, 2, 1)))
}

func TestPeriod_String(t *testing.T) {
	p, err := ledger.NewPeriod(ledger.Date(2026, 1, 1), ledger.Date(2026, 1, 31))
	require.NoError(t, err)

	assert.Equal(t, "2026-01-01..2026-01-31", p.String())
}

func TestDay(t *testing.T) {
	zone := time.FixedZone("CET", 3600)

	// 00:30 CET on Jan 16 is 23:30 UTC on Jan 15
	got := ledger.Day(time.Date(2026, 1, 16, 0, 30, 0, 0, zone))
	assert.Equal(t, ledger.Date(2026, 1, 15), got)

	// already-midnight UTC values pass through unchanged
	assert.Equal(t, ledger.Date(2026, 1, 15), ledger.Day(ledger.Date(2026, 1, 15)))
}
