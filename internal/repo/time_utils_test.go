package repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	ent "CivicAlertManager/internal/entity"
)

func TestValidateDutyHours(t *testing.T) {
	assert.NoError(t, ValidateDutyHours(nil))
	assert.NoError(t, ValidateDutyHours([]ent.DutyWindow{{Start: "09:00", End: "18:00"}}))
	assert.Error(t, ValidateDutyHours([]ent.DutyWindow{{Start: "9", End: "18:00"}}))
	assert.Error(t, ValidateDutyHours([]ent.DutyWindow{{Start: "09:00", End: "25:00"}}))
}

func TestOnDuty(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 1, 5, h, m, 0, 0, time.UTC) }
	day := []ent.DutyWindow{{Start: "09:00", End: "18:00"}}
	night := []ent.DutyWindow{{Start: "22:00", End: "06:00"}}

	tests := []struct {
		name    string
		windows []ent.DutyWindow
		now     time.Time
		want    bool
	}{
		{"no roster", nil, at(3, 0), true},
		{"inside day", day, at(9, 0), true},
		{"end is exclusive", day, at(18, 0), false},
		{"before day", day, at(8, 59), false},
		{"overnight late", night, at(23, 15), true},
		{"overnight early", night, at(5, 59), true},
		{"overnight gap", night, at(12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, onDuty(tt.windows, tt.now))
		})
	}
}
