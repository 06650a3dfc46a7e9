package repository

import (
	"context"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/docstore"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/model"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/validate"
)

type Users struct{ *Repo[model.User] }

type Teams struct{ *Repo[model.Team] }

type Players struct{ *Repo[model.Player] }

func (r Players) ByTeam(ctx context.Context, teamID string) ([]model.Player, error) {
	return r.Query(ctx, docstore.Filter{
		Where:   []docstore.Cond{{Field: "team_id", Value: teamID}},
		OrderBy: "number",
	})
}

type Events struct{ *Repo[model.Event] }

// Upcoming lists events ordered by start time.
func (r Events) Upcoming(ctx context.Context, limit int) ([]model.Event, error) {
	return r.Query(ctx, docstore.Filter{OrderBy: "starts_at", Limit: limit})
}

type Registrations struct{ *Repo[model.Registration] }

func (r Registrations) ByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	return r.Query(ctx, docstore.Filter{Where: []docstore.Cond{{Field: "event_id", Value: eventID}}})
}

func (r Registrations) ByUser(ctx context.Context, userID string) ([]model.Registration, error) {
	return r.Query(ctx, docstore.Filter{Where: []docstore.Cond{{Field: "user_id", Value: userID}}})
}

// Register signs a user up for an event.
func (r Registrations) Register(ctx context.Context, eventID, userID string) (WriteResult, error) {
	return r.Create(ctx, model.Registration{EventID: eventID, UserID: userID, Status: model.RegistrationPending})
}

func (r Registrations) Cancel(ctx context.Context, id string) (WriteResult, error) {
	return r.Update(ctx, id, map[string]any{"status": model.RegistrationCancelled})
}

type Matches struct{ *Repo[model.Match] }

func (r Matches) ByEvent(ctx context.Context, eventID string) ([]model.Match, error) {
	return r.Query(ctx, docstore.Filter{
		Where:   []docstore.Cond{{Field: "event_id", Value: eventID}},
		OrderBy: "kickoff_at",
	})
}

type News struct{ *Repo[model.News] }

func (r News) Latest(ctx context.Context, n int) ([]model.News, error) {
	return r.Query(ctx, docstore.Filter{OrderBy: "created_at", Desc: true, Limit: n})
}

// Set bundles one repository per collection.
type Set struct {
	Users         Users
	Teams         Teams
	Players       Players
	Events        Events
	Registrations Registrations
	Matches       Matches
	News          News
}

func NewSet(d Deps) *Set {
	return &Set{
		Users:         Users{newRepo[model.User](d, model.CollectionUsers, "user", nil, nil)},
		Teams:         Teams{newRepo(d, model.CollectionTeams, "team", validate.Team, nil)},
		Players:       Players{newRepo(d, model.CollectionPlayers, "player", validate.Player, nil)},
		Events:        Events{newRepo(d, model.CollectionEvents, "event", validate.Event, validate.EventFields)},
		Registrations: Registrations{newRepo(d, model.CollectionRegistrations, "registration", validate.Registration, nil)},
		Matches:       Matches{newRepo(d, model.CollectionMatches, "match", validate.Match, nil)},
		News:          News{newRepo(d, model.CollectionNews, "news", validate.News, nil)},
	}
}
