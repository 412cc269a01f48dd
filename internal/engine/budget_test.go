package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickBudget(t *testing.T) {
	b := NewTickBudget(3)
	assert.False(t, b.Spend())
	assert.False(t, b.Spend())
	assert.True(t, b.Spend())
	assert.True(t, b.Exhausted())
	assert.Equal(t, 3, b.Used())
	assert.Equal(t, 3, b.Limit())
}

func TestTickBudget_Unlimited(t *testing.T) {
	b := NewTickBudget(0)
	for range 1000 {
		assert.False(t, b.Spend())
	}
	assert.Equal(t, 1000, b.Used())
}
