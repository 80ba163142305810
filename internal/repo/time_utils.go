package repo

import (
	"errors"
	"fmt"
	"time"

	ent "CivicAlertManager/internal/entity"
)

const clockLayout = "15:04"

// validateTimeFormat checks that timeStr is an HH:MM clock time.
func validateTimeFormat(timeStr string) error {
	_, err := time.Parse(clockLayout, timeStr)
	if err != nil {
		return errors.New("invalid time format, use HH:MM")
	}
	return nil
}

// ValidateDutyHours checks every window of an authority's duty roster.
func ValidateDutyHours(windows []ent.DutyWindow) error {
	for i, w := range windows {
		if err := validateTimeFormat(w.Start); err != nil {
			return fmt.Errorf("duty window %d start: %w", i, err)
		}
		if err := validateTimeFormat(w.End); err != nil {
			return fmt.Errorf("duty window %d end: %w", i, err)
		}
	}
	return nil
}

// onDuty reports whether now falls inside any window. An empty roster means
// the authority is always on duty.
func onDuty(windows []ent.DutyWindow, now time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	current, _ := time.Parse(clockLayout, now.Format(clockLayout))

	for _, w := range windows {
		start, err := time.Parse(clockLayout, w.Start)
		if err != nil {
			continue
		}
		end, err := time.Parse(clockLayout, w.End)
		if err != nil {
			continue
		}

		if start.Before(end) {
			if !current.Before(start) && current.Before(end) {
				return true
			}
			continue
		}
		// overnight window, e.g. 22:00-06:00
		if !current.Before(start) || current.Before(end) {
			return true
		}
	}
	return false
}
