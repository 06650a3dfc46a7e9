// Package validate holds the form checks run before any I/O. Every failure is
// a failure.KindValidation error whose message can be shown as-is.
package validate

import (
	"net/mail"
	"strings"
	"time"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/model"
)

const (
	MinPasswordLength = 8
	MaxJerseyNumber   = 99
)

func Email(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return failure.Validation("Email is required.")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return failure.Validation("Email address is not valid.")
	}
	return nil
}

func Password(password string) error {
	if strings.TrimSpace(password) == "" {
		return failure.Validation("Password is required.")
	}
	if len(password) < MinPasswordLength {
		return failure.Validation("Password must be at least 8 characters.")
	}
	return nil
}

func Login(email, password string) error {
	if err := Email(email); err != nil {
		return err
	}
	if strings.TrimSpace(password) == "" {
		return failure.Validation("Password is required.")
	}
	return nil
}

func SignUp(email, password, displayName string) error {
	if err := Email(email); err != nil {
		return err
	}
	if err := Password(password); err != nil {
		return err
	}
	if strings.TrimSpace(displayName) == "" {
		return failure.Validation("Name is required.")
	}
	return nil
}

func Event(e model.Event) error {
	if strings.TrimSpace(e.Title) == "" {
		return failure.Validation("Title is required.")
	}
	if e.StartsAt.IsZero() {
		return failure.Validation("Start time is required.")
	}
	if !e.EndsAt.IsZero() && !e.EndsAt.After(e.StartsAt) {
		return failure.Validation("End time must be after start time.")
	}
	if e.Capacity < 0 {
		return failure.Validation("Capacity cannot be negative.")
	}
	return nil
}

// EventFields validates a partial update of an event.
func EventFields(fields map[string]any) error {
	if len(fields) == 0 {
		return failure.Validation("Nothing to update.")
	}
	if v, ok := fields["title"]; ok {
		if s, _ := v.(string); strings.TrimSpace(s) == "" {
			return failure.Validation("Title is required.")
		}
	}
	switch n := fields["capacity"].(type) {
	case int:
		if n < 0 {
			return failure.Validation("Capacity cannot be negative.")
		}
	case float64:
		if n < 0 {
			return failure.Validation("Capacity cannot be negative.")
		}
	}
	starts, hasStart := timeField(fields, "starts_at")
	ends, hasEnd := timeField(fields, "ends_at")
	if hasStart && hasEnd && !ends.After(starts) {
		return failure.Validation("End time must be after start time.")
	}
	return nil
}

func News(n model.News) error {
	if strings.TrimSpace(n.Title) == "" {
		return failure.Validation("Title is required.")
	}
	if strings.TrimSpace(n.Body) == "" {
		return failure.Validation("Body is required.")
	}
	return nil
}

func Team(t model.Team) error {
	if strings.TrimSpace(t.Name) == "" {
		return failure.Validation("Team name is required.")
	}
	return nil
}

func Player(p model.Player) error {
	if strings.TrimSpace(p.TeamID) == "" {
		return failure.Validation("Team is required.")
	}
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return failure.Validation("First and last name are required.")
	}
	if p.Number < 0 || p.Number > MaxJerseyNumber {
		return failure.Validation("Jersey number must be between 0 and 99.")
	}
	return nil
}

func Registration(r model.Registration) error {
	if strings.TrimSpace(r.EventID) == "" {
		return failure.Validation("Event is required.")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return failure.Validation("You must be signed in to register.")
	}
	switch r.Status {
	case "", model.RegistrationPending, model.RegistrationConfirmed, model.RegistrationCancelled:
		return nil
	default:
		return failure.Validation("Unknown registration status.")
	}
}

func Match(m model.Match) error {
	if strings.TrimSpace(m.HomeTeamID) == "" || strings.TrimSpace(m.AwayTeamID) == "" {
		return failure.Validation("Both teams are required.")
	}
	if m.HomeTeamID == m.AwayTeamID {
		return failure.Validation("A team cannot play itself.")
	}
	if m.HomeScore < 0 || m.AwayScore < 0 {
		return failure.Validation("Scores cannot be negative.")
	}
	return nil
}

func ID(id string) error {
	if strings.TrimSpace(id) == "" {
		return failure.Validation("An id is required.")
	}
	return nil
}

func timeField(fields map[string]any, key string) (time.Time, bool) {
	switch v := fields[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}
