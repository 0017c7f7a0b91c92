package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerbase/posloader/pkg/positionstore"
)

func TestCalendar_IsBusinessDay_Weekend(t *testing.T) {
	store := positionstore.NewMemStore()
	cal, err := NewCalendar(context.Background(), store)
	require.NoError(t, err)

	saturday := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, cal.IsBusinessDay(saturday))
}

func TestCalendar_IsBusinessDay_Holiday(t *testing.T) {
	store := positionstore.NewMemStore()
	holiday := time.Date(2026, time.December, 25, 0, 0, 0, 0, time.UTC)
	store.AddHoliday(holiday)

	cal, err := NewCalendar(context.Background(), store)
	require.NoError(t, err)

	assert.False(t, cal.IsBusinessDay(holiday))
}

func TestCalendar_IsBusinessDay_OrdinaryWeekday(t *testing.T) {
	store := positionstore.NewMemStore()
	cal, err := NewCalendar(context.Background(), store)
	require.NoError(t, err)

	tuesday := time.Date(2026, time.August, 4, 0, 0, 0, 0, time.UTC)
	assert.True(t, cal.IsBusinessDay(tuesday))
}
