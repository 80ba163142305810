package repo

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"CivicAlertManager/internal/clock"
	ent "CivicAlertManager/internal/entity"
)

// Directory is the in-memory authority directory. Records are loaded from
// configuration; workload and availability are mutated at runtime.
type Directory struct {
	mu          sync.RWMutex
	authorities map[string]*ent.Authority
	clock       clock.Clock
	location    *time.Location
}

// NewDirectory builds a directory. Duty hours are evaluated in loc.
func NewDirectory(authorities []ent.Authority, c clock.Clock, loc *time.Location) (*Directory, error) {
	if c == nil {
		c = clock.Real()
	}
	if loc == nil {
		loc = time.UTC
	}
	d := &Directory{
		authorities: make(map[string]*ent.Authority),
		clock:       c,
		location:    loc,
	}
	if err := d.Replace(authorities); err != nil {
		return nil, err
	}
	return d, nil
}

// Replace swaps the directory contents. Workload counters of authorities that
// survive the reload are kept.
func (d *Directory) Replace(authorities []ent.Authority) error {
	next := make(map[string]*ent.Authority, len(authorities))
	for _, a := range authorities {
		if a.ID == "" {
			return fmt.Errorf("%w: authority without id", ent.ErrInvalidConfig)
		}
		if _, dup := next[a.ID]; dup {
			return fmt.Errorf("%w: duplicate authority %q", ent.ErrInvalidConfig, a.ID)
		}
		if a.Availability == "" {
			a.Availability = ent.Available
		}
		if _, err := ent.ParseAvailability(string(a.Availability)); err != nil {
			return fmt.Errorf("authority %q: %w", a.ID, err)
		}
		if err := ValidateDutyHours(a.DutyHours); err != nil {
			return fmt.Errorf("%w: authority %q: %v", ent.ErrInvalidConfig, a.ID, err)
		}
		rec := cloneAuthority(a)
		next[a.ID] = &rec
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, rec := range next {
		if old, ok := d.authorities[id]; ok {
			rec.Workload = old.Workload
		}
	}
	d.authorities = next
	return nil
}

// Find returns every eligible authority for the location and issue type,
// ordered by escalation tier. Unavailable and off-duty authorities are skipped.
func (d *Directory) Find(jurisdiction, issueType string) ([]ent.Authority, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := d.clock.Now().In(d.location)
	var out []ent.Authority
	for _, a := range d.authorities {
		if !a.Covers(jurisdiction) || !a.Handles(issueType) {
			continue
		}
		if d.effective(a, now) == ent.Unavailable {
			continue
		}
		out = append(out, cloneAuthority(*a))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %w for %s in %s", ent.ErrNotFound, ent.ErrNoMatchingAuthority, issueType, jurisdiction)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *Directory) Get(id string) (ent.Authority, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.authorities[id]
	if !ok {
		return ent.Authority{}, fmt.Errorf("authority %q: %w", id, ent.ErrNotFound)
	}
	return cloneAuthority(*a), nil
}

// Effective returns the availability of a after duty hours are applied.
func (d *Directory) Effective(a ent.Authority) ent.Availability {
	return d.effective(&a, d.clock.Now().In(d.location))
}

func (d *Directory) effective(a *ent.Authority, now time.Time) ent.Availability {
	if a.Availability == ent.Unavailable || !onDuty(a.DutyHours, now) {
		return ent.Unavailable
	}
	return a.Availability
}

// AdjustWorkload atomically adds delta to the authority's open item count and
// returns the new value. The counter never goes below zero.
func (d *Directory) AdjustWorkload(id string, delta int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.authorities[id]
	if !ok {
		return 0, fmt.Errorf("authority %q: %w", id, ent.ErrNotFound)
	}
	a.Workload += delta
	if a.Workload < 0 {
		a.Workload = 0
	}
	return a.Workload, nil
}

func (d *Directory) SetAvailability(id string, state ent.Availability) error {
	state, err := ent.ParseAvailability(string(state))
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.authorities[id]
	if !ok {
		return fmt.Errorf("authority %q: %w", id, ent.ErrNotFound)
	}
	a.Availability = state
	return nil
}

// List returns all authorities ordered by id.
func (d *Directory) List() []ent.Authority {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ent.Authority, 0, len(d.authorities))
	for _, a := range d.authorities {
		out = append(out, cloneAuthority(*a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneAuthority(a ent.Authority) ent.Authority {
	c := a
	c.Responsibilities = append([]string(nil), a.Responsibilities...)
	c.DutyHours = append([]ent.DutyWindow(nil), a.DutyHours...)
	c.Contacts = make(map[ent.Channel]string, len(a.Contacts))
	for k, v := range a.Contacts {
		c.Contacts[k] = v
	}
	return c
}
