package lesson

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChargeStartsAtInitial(t *testing.T) {
	assert.Equal(t, InitialCharge, NewCharge().Int())
}

func TestChargeAddClamps(t *testing.T) {
	cases := []struct {
		name  string
		start Charge
		delta int
		want  int
	}{
		{"regular", 10, 14, 24},
		{"cap", 95, 14, 100},
		{"already full", 100, 20, 100},
		{"negative delta floors at zero", 3, -10, 0},
		{"oversized delta", 10, 250, 100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.start.Add(tc.delta).Int())
		})
	}
}

func TestChargeStaysInRangeForAnySequence(t *testing.T) {
	c := NewCharge()
	for i := 0; i < 500; i++ {
		c = c.Add((i * 7 % 41) - 10)
		assert.GreaterOrEqual(t, c.Int(), 0)
		assert.LessOrEqual(t, c.Int(), MaxCharge)
	}
}

func TestLastAssistant(t *testing.T) {
	_, ok := LastAssistant(nil)
	assert.False(t, ok)

	messages := []Message{
		NewMessage(RoleAssistant, "first question?"),
		NewMessage(RoleUser, "answer"),
		NewMessage(RoleAssistant, "second question?"),
		NewMessage(RoleUser, "another answer"),
	}
	got, ok := LastAssistant(messages)
	assert.True(t, ok)
	assert.Equal(t, "second question?", got)
}
