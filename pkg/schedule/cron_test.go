package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMatches_EveryDayAtTime(t *testing.T) {
	d := DailyTime{Hour: 2, Minute: 30}

	assert.True(t, matches(d, time.Date(2026, 7, 31, 2, 30, 0, 0, time.UTC)))
	assert.False(t, matches(d, time.Date(2026, 7, 31, 2, 31, 0, 0, time.UTC)))
	assert.False(t, matches(d, time.Date(2026, 7, 31, 3, 30, 0, 0, time.UTC)))
}

func TestMatches_SpecificWeekday(t *testing.T) {
	sunday := time.Sunday
	d := DailyTime{Hour: 1, Minute: 0, Weekday: &sunday}

	onSunday := time.Date(2026, 8, 2, 1, 0, 0, 0, time.UTC)
	onMonday := time.Date(2026, 8, 3, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Sunday, onSunday.Weekday())
	assert.True(t, matches(d, onSunday))
	assert.False(t, matches(d, onMonday))
}
