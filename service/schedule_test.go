package service

import (
	"testing"
	"time"

	"campaign-tracker/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)
	want := time.Date(2024, 1, 2, 10, 0, 0, 0, kolkata)

	for _, raw := range []string{"02/01/2024 10:00:00", " 02-01-2024 10:00:00 "} {
		got, err := ParseSchedule(raw, kolkata)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(got), "%s parsed as %s", raw, got)
	}

	// day first, never month first
	got, err := ParseSchedule("13/01/2024 09:30:00", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.January, got.Month())
	assert.Equal(t, 13, got.Day())
}

func TestParseScheduleExtraLayouts(t *testing.T) {
	_, err := ParseSchedule("02/01/2024 10:00", time.UTC)
	assert.ErrorIs(t, err, models.ErrInvalidSchedule)

	got, err := ParseSchedule("02/01/2024 10:00", time.UTC, "02/01/2006 15:04")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), got)
}

func TestParseScheduleInvalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "2024-01-02T10:00:00Z", "31/02/2024 10:00:00", "02/01/2024 25:00:00"} {
		_, err := ParseSchedule(raw, nil)
		assert.ErrorIs(t, err, models.ErrInvalidSchedule, raw)
	}
}

func TestRenderBody(t *testing.T) {
	row := &models.CampaignRow{Name: "Asha <Rao>", Message: "<p>Hi there</p>"}
	assert.Equal(t, "Hi <b>Asha</b>,<br><br><p>Hi there</p>", RenderBody(row))

	row.Name = "<script>"
	assert.Equal(t, "Hi <b>&lt;script&gt;</b>,<br><br><p>Hi there</p>", RenderBody(row))
}
