package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldConsolidate(t *testing.T) {
	tests := []struct {
		count int
		want  bool
	}{
		{0, false},
		{1, false},
		{9, false},
		{10, true},
		{20, true},
		{15, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldConsolidate(tt.count), "count=%d", tt.count)
	}
}

func TestDailyKey_FormatsCalendarDay(t *testing.T) {
	d := time.Date(2026, 7, 31, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "DAILY#2026-07-31", dailyKey(d))
}
