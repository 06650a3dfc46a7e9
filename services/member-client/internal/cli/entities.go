package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/model"
)

func teamsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "teams", Short: "Browse teams"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List teams",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				teams, err := e.app.Repos.Teams.List(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(teams))
				for _, t := range teams {
					rows = append(rows, []string{t.ID, t.Name, t.City, t.Division})
				}
				return e.printTable(teams, []string{"ID", "NAME", "CITY", "DIVISION"}, rows)
			},
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show one team",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				t, err := e.app.Repos.Teams.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return e.printJSON(t)
			},
		},
	)
	return cmd
}

func playersCmd(e *env) *cobra.Command {
	var teamID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List players, optionally for one team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				players []model.Player
				err     error
			)
			if teamID != "" {
				players, err = e.app.Repos.Players.ByTeam(cmd.Context(), teamID)
			} else {
				players, err = e.app.Repos.Players.List(cmd.Context())
			}
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(players))
			for _, p := range players {
				rows = append(rows, []string{p.ID, strconv.Itoa(p.Number), p.FirstName + " " + p.LastName, p.Position, p.TeamID})
			}
			return e.printTable(players, []string{"ID", "NO", "NAME", "POSITION", "TEAM"}, rows)
		},
	}
	list.Flags().StringVar(&teamID, "team", "", "team id")

	cmd := &cobra.Command{Use: "players", Short: "Browse players"}
	cmd.AddCommand(list)
	return cmd
}

func eventsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "events", Short: "Browse and manage events"}
	cmd.AddCommand(eventsListCmd(e), eventsCreateCmd(e), eventsUpdateCmd(e), deleteCmd("event", e.deleteEvent), eventsWatchCmd(e))
	return cmd
}

func eventsListCmd(e *env) *cobra.Command {
	var upcoming int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				events []model.Event
				err    error
			)
			if upcoming > 0 {
				events, err = e.app.Repos.Events.Upcoming(cmd.Context(), upcoming)
			} else {
				events, err = e.app.Repos.Events.List(cmd.Context())
			}
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(events))
			for _, ev := range events {
				rows = append(rows, []string{ev.ID, ev.Title, ev.Location, formatTime(ev.StartsAt), strconv.Itoa(ev.Capacity)})
			}
			return e.printTable(events, []string{"ID", "TITLE", "LOCATION", "STARTS", "CAPACITY"}, rows)
		},
	}
	cmd.Flags().IntVar(&upcoming, "upcoming", 0, "show the next N events by start time")
	return cmd
}

type eventFlags struct {
	title, description, location string
	starts, ends                 string
	capacity                     int
}

func (f *eventFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "event title")
	cmd.Flags().StringVar(&f.description, "description", "", "event description")
	cmd.Flags().StringVar(&f.location, "location", "", "venue")
	cmd.Flags().StringVar(&f.starts, "starts", "", "start time, RFC 3339")
	cmd.Flags().StringVar(&f.ends, "ends", "", "end time, RFC 3339")
	cmd.Flags().IntVar(&f.capacity, "capacity", 0, "maximum registrations, 0 for unlimited")
}

func eventsCreateCmd(e *env) *cobra.Command {
	var f eventFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := model.Event{Title: f.title, Description: f.description, Location: f.location, Capacity: f.capacity}
			var err error
			if ev.StartsAt, err = parseTime("starts", f.starts); err != nil {
				return err
			}
			if ev.EndsAt, err = parseTime("ends", f.ends); err != nil {
				return err
			}
			res, err := e.app.Repos.Events.Create(cmd.Context(), ev)
			if err != nil {
				return err
			}
			return e.printWrite("created event", res)
		},
	}
	f.bind(cmd)
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("starts")
	_ = cmd.MarkFlagRequired("ends")
	return cmd
}

func eventsUpdateCmd(e *env) *cobra.Command {
	var f eventFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]any{}
			changed := cmd.Flags().Changed
			if changed("title") {
				fields["title"] = f.title
			}
			if changed("description") {
				fields["description"] = f.description
			}
			if changed("location") {
				fields["location"] = f.location
			}
			if changed("capacity") {
				fields["capacity"] = f.capacity
			}
			if changed("starts") {
				t, err := parseTime("starts", f.starts)
				if err != nil {
					return err
				}
				fields["starts_at"] = t
			}
			if changed("ends") {
				t, err := parseTime("ends", f.ends)
				if err != nil {
					return err
				}
				fields["ends_at"] = t
			}
			res, err := e.app.Repos.Events.Update(cmd.Context(), args[0], fields)
			if err != nil {
				return err
			}
			return e.printWrite("updated event", res)
		},
	}
	f.bind(cmd)
	return cmd
}

func (e *env) deleteEvent(cmd *cobra.Command, id string) error {
	res, err := e.app.Repos.Events.Delete(cmd.Context(), id)
	if err != nil {
		return err
	}
	return e.printWrite("deleted event", res)
}

func eventsWatchCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: "Print the event every time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := e.app.Repos.Events.Watch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for ev := range updates {
				if err := e.printJSON(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func deleteCmd(what string, run func(cmd *cobra.Command, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a " + what,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0])
		},
	}
}

func newsCmd(e *env) *cobra.Command {
	var latest int
	list := &cobra.Command{
		Use:   "list",
		Short: "List news, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := e.app.Repos.News.Latest(cmd.Context(), latest)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(items))
			for _, n := range items {
				rows = append(rows, []string{n.ID, n.Title, n.Author, formatTime(n.CreatedAt)})
			}
			return e.printTable(items, []string{"ID", "TITLE", "AUTHOR", "POSTED"}, rows)
		},
	}
	list.Flags().IntVar(&latest, "latest", 20, "number of items")

	var title, body string
	create := &cobra.Command{
		Use:   "create",
		Short: "Post a news item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			author := e.app.Prefs.DisplayName()
			res, err := e.app.Repos.News.Create(cmd.Context(), model.News{Title: title, Body: body, Author: author})
			if err != nil {
				return err
			}
			return e.printWrite("posted news", res)
		},
	}
	create.Flags().StringVar(&title, "title", "", "headline")
	create.Flags().StringVar(&body, "body", "", "text")

	cmd := &cobra.Command{Use: "news", Short: "Read and post federation news"}
	cmd.AddCommand(list, create, deleteCmd("news item", func(cmd *cobra.Command, id string) error {
		res, err := e.app.Repos.News.Delete(cmd.Context(), id)
		if err != nil {
			return err
		}
		return e.printWrite("deleted news", res)
	}))
	return cmd
}

func registrationsCmd(e *env) *cobra.Command {
	create := &cobra.Command{
		Use:   "create <event-id>",
		Short: "Register the signed-in member for an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.app.Session.Current(cmd.Context())
			if err != nil {
				return err
			}
			res, err := e.app.Repos.Registrations.Register(cmd.Context(), args[0], s.UserID)
			if err != nil {
				return err
			}
			return e.printWrite("registered", res)
		},
	}
	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := e.app.Repos.Registrations.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return e.printWrite("cancelled registration", res)
		},
	}

	var eventID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registrations for an event, or the signed-in member's",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				regs []model.Registration
				err  error
			)
			if eventID != "" {
				regs, err = e.app.Repos.Registrations.ByEvent(cmd.Context(), eventID)
			} else {
				s, serr := e.app.Session.Current(cmd.Context())
				if serr != nil {
					return serr
				}
				regs, err = e.app.Repos.Registrations.ByUser(cmd.Context(), s.UserID)
			}
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(regs))
			for _, r := range regs {
				rows = append(rows, []string{r.ID, r.EventID, r.UserID, r.Status})
			}
			return e.printTable(regs, []string{"ID", "EVENT", "MEMBER", "STATUS"}, rows)
		},
	}
	list.Flags().StringVar(&eventID, "event", "", "event id")

	cmd := &cobra.Command{Use: "registrations", Short: "Manage event registrations"}
	cmd.AddCommand(create, cancel, list)
	return cmd
}

func matchesCmd(e *env) *cobra.Command {
	var eventID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List matches, optionally for one event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				matches []model.Match
				err     error
			)
			if eventID != "" {
				matches, err = e.app.Repos.Matches.ByEvent(cmd.Context(), eventID)
			} else {
				matches, err = e.app.Repos.Matches.List(cmd.Context())
			}
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(matches))
			for _, m := range matches {
				score := strconv.Itoa(m.HomeScore) + ":" + strconv.Itoa(m.AwayScore)
				rows = append(rows, []string{m.ID, m.HomeTeamID, m.AwayTeamID, formatTime(m.KickoffAt), score, m.Status})
			}
			return e.printTable(matches, []string{"ID", "HOME", "AWAY", "KICKOFF", "SCORE", "STATUS"}, rows)
		},
	}
	list.Flags().StringVar(&eventID, "event", "", "event id")

	cmd := &cobra.Command{Use: "matches", Short: "Browse fixtures and results"}
	cmd.AddCommand(list)
	return cmd
}
