package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func newTestBalance(t *testing.T, points int64) *Balance {
	t.Helper()
	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)
	return NewBalance(node.Generate(), "user-1", points, false, time.Now().UTC())
}

func TestCredit(t *testing.T) {
	b := newTestBalance(t, 0)

	assert.NoError(t, b.Credit(1000))
	assert.Equal(t, int64(1000), b.Points)

	assert.NoError(t, b.Credit(250))
	assert.Equal(t, int64(1250), b.Points)
}

func TestCredit_RejectsNonPositiveAmount(t *testing.T) {
	b := newTestBalance(t, 100)

	assert.ErrorIs(t, b.Credit(0), ErrInvalidAmount)
	assert.ErrorIs(t, b.Credit(-5), ErrInvalidAmount)
	assert.Equal(t, int64(100), b.Points)
}

func TestDebit(t *testing.T) {
	b := newTestBalance(t, 1000)

	result, err := b.Debit(300)
	assert.NoError(t, err)
	assert.False(t, result.Insufficient)
	assert.Equal(t, int64(700), result.NewBalance)
	assert.Equal(t, int64(300), result.Attempted)
	assert.Equal(t, int64(700), b.Points)
}

func TestDebit_InsufficientLeavesBalanceUnchanged(t *testing.T) {
	b := newTestBalance(t, 200)

	result, err := b.Debit(300)
	assert.NoError(t, err)
	assert.True(t, result.Insufficient)
	assert.Equal(t, int64(300), result.Attempted)
	assert.Equal(t, int64(200), result.Current)
	assert.Equal(t, int64(200), b.Points)
}

func TestDebit_ExactBalance(t *testing.T) {
	b := newTestBalance(t, 300)

	result, err := b.Debit(300)
	assert.NoError(t, err)
	assert.False(t, result.Insufficient)
	assert.Equal(t, int64(0), b.Points)
}

func TestDebit_RejectsNonPositiveCost(t *testing.T) {
	b := newTestBalance(t, 100)

	_, err := b.Debit(0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = b.Debit(-10)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, int64(100), b.Points)
}

func TestBalanceNeverNegative(t *testing.T) {
	b := newTestBalance(t, 0)

	credits := []int64{100, 50, 300}
	debits := []int64{120, 500, 200, 90}

	var expected int64
	for _, amount := range credits {
		assert.NoError(t, b.Credit(amount))
		expected += amount
	}
	for _, cost := range debits {
		result, err := b.Debit(cost)
		assert.NoError(t, err)
		if !result.Insufficient {
			expected -= cost
		}
		assert.GreaterOrEqual(t, b.Points, int64(0))
	}

	assert.Equal(t, expected, b.Points)
}
