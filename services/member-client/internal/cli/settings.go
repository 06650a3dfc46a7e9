package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/prefs"
)

func settingsCmd(e *env) *cobra.Command {
	get := &cobra.Command{
		Use:   "get [name]",
		Short: "Show one setting, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := prefs.Settings
			if len(args) == 1 {
				s, ok := prefs.LookupSetting(args[0])
				if !ok {
					return unknownSetting(args[0])
				}
				settings = []prefs.Setting{s}
			}
			values := make(map[string]bool, len(settings))
			rows := make([][]string, 0, len(settings))
			for _, s := range settings {
				v := e.app.Prefs.Bool(s.Key, s.Default)
				values[s.Name] = v
				rows = append(rows, []string{s.Name, strconv.FormatBool(v)})
			}
			return e.printTable(values, []string{"SETTING", "VALUE"}, rows)
		},
	}
	set := &cobra.Command{
		Use:   "set <name> <true|false>",
		Short: "Change a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ok := prefs.LookupSetting(args[0])
			if !ok {
				return unknownSetting(args[0])
			}
			v, err := strconv.ParseBool(args[1])
			if err != nil {
				return failure.Validation("Setting values are true or false.")
			}
			if err := e.app.Prefs.SetBool(s.Key, v); err != nil {
				return err
			}
			e.printf("%s = %t\n", s.Name, v)
			return nil
		},
	}
	cmd := &cobra.Command{Use: "settings", Short: "Device preferences"}
	cmd.AddCommand(get, set)
	return cmd
}

func unknownSetting(name string) error {
	return failure.Validation("Unknown setting " + strconv.Quote(name) + ".")
}
