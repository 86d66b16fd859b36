package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workplan/internal/domain"
	"workplan/internal/engine"
	"workplan/internal/engine/auth"
)

func campusCmd() *cobra.Command {
	c := &cobra.Command{Use: "campus", Short: "Manage campuses"}
	var id, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create campus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				campus, err := e.CreateCampus(ctx, actor, id, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(campus)
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "campus id")
	create.Flags().StringVar(&name, "name", "", "campus name")
	_ = create.MarkFlagRequired("id")
	c.AddCommand(create)
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List campuses in scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				items, err := e.ListCampuses(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Created"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return c
}

func programCmd() *cobra.Command {
	p := &cobra.Command{Use: "program", Short: "Manage academic programs"}
	var id, campusID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create program",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				prog, err := e.CreateProgram(ctx, actor, id, campusID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(prog)
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "program id")
	create.Flags().StringVar(&campusID, "campus", "", "campus id")
	create.Flags().StringVar(&name, "name", "", "program name")
	_ = create.MarkFlagRequired("id")
	_ = create.MarkFlagRequired("campus")
	p.AddCommand(create)

	var listCampus string
	list := &cobra.Command{
		Use:   "list",
		Short: "List programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				items, err := e.ListPrograms(ctx, actor, listCampus)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Campus", "Name"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.CampusID, it.Name})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listCampus, "campus", "", "campus filter")
	p.AddCommand(list)
	return p
}

func actorCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "actor",
		Short: "Manage actors",
		Long:  "Actors are administrators, coordinators and managers. What an actor sees follows from its role and campus bindings.",
	}
	a.AddCommand(actorRegisterCmd())
	a.AddCommand(actorListCmd())
	a.AddCommand(actorShowCmd())
	a.AddCommand(actorUpdateCmd())
	a.AddCommand(actorRoleCmd())
	a.AddCommand(actorKeyCmd())
	a.AddCommand(actorWhoamiCmd())
	return a
}

func actorRegisterCmd() *cobra.Command {
	var in engine.ActorInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				created, err := e.RegisterActor(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "actor id")
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email for notifications")
	cmd.Flags().StringVar(&in.Role, "role", "manager", "administrator, coordinator or manager")
	cmd.Flags().StringVar(&in.CampusID, "campus", "", "campus id")
	cmd.Flags().StringVar(&in.ProgramID, "program", "", "program id")
	cmd.Flags().StringSliceVar(&in.ManagedCampusIDs, "manages", nil, "campuses a scoped administrator manages")
	cmd.Flags().Float64Var(&in.WeeklyHours, "weekly-hours", 0, "weekly hours available (managers)")
	cmd.Flags().IntVar(&in.NumberOfWeeks, "weeks", 0, "number of weeks in the plan period (managers)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func actorListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors in scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				items, err := e.ListActors(ctx, actor, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Role", "Campus", "Program", "Hours"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.Role, it.CampusID, it.ProgramID, actorHours(it)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func actorHours(a domain.Actor) string {
	if a.Role != string(auth.RoleManager) {
		return ""
	}
	return fmt.Sprintf("%.1f x %d = %.1f", a.WeeklyHours, a.NumberOfWeeks, a.AvailableHours())
}

func actorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <actor-id>",
		Short: "Show an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				a, err := e.GetActor(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func actorUpdateCmd() *cobra.Command {
	var name, email, campusID, programID string
	var weekly float64
	var weeks int
	cmd := &cobra.Command{
		Use:   "update <actor-id>",
		Short: "Update profile fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.ProfileUpdate{
				Name:      optionalString(cmd, "name", name),
				Email:     optionalString(cmd, "email", email),
				CampusID:  optionalString(cmd, "campus", campusID),
				ProgramID: optionalString(cmd, "program", programID),
			}
			if cmd.Flags().Changed("weekly-hours") {
				upd.WeeklyHours = &weekly
			}
			if cmd.Flags().Changed("weeks") {
				upd.NumberOfWeeks = &weeks
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				a, err := e.UpdateActorProfile(ctx, actor, args[0], upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&campusID, "campus", "", "campus id")
	cmd.Flags().StringVar(&programID, "program", "", "program id")
	cmd.Flags().Float64Var(&weekly, "weekly-hours", 0, "weekly hours")
	cmd.Flags().IntVar(&weeks, "weeks", 0, "number of weeks")
	return cmd
}

func actorRoleCmd() *cobra.Command {
	var role string
	var manages []string
	cmd := &cobra.Command{
		Use:   "role <actor-id>",
		Short: "Change role and managed campuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				a, err := e.ChangeRole(ctx, actor, args[0], role, manages)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "new role")
	cmd.Flags().StringSliceVar(&manages, "manages", nil, "managed campuses")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "key [actor-id]",
		Short: "Issue an API key (defaults to the calling actor)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				secret, key, err := e.CreateAPIKey(ctx, actor, target, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": secret})
				}
				fmt.Printf("API key %s for %s (shown once):\n%s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func actorWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the calling actor's scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				scope, err := e.ResolveScope(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"actor_id": actor.ID, "role": actor.Role, "scope": scope})
				}
				fmt.Printf("Actor: %s (%s)\n", actor.ID, actor.Role)
				switch {
				case scope.ManagerIDs != nil:
					fmt.Printf("Managers: %s\n", strings.Join(scope.ManagerIDs, ", "))
				case scope.AllCampuses:
					fmt.Println("Campuses: all")
				default:
					fmt.Printf("Campuses: %s\n", strings.Join(scope.CampusIDs, ", "))
					if len(scope.ProgramIDs) > 0 {
						fmt.Printf("Programs: %s\n", strings.Join(scope.ProgramIDs, ", "))
					}
				}
				return nil
			})
		},
	}
}

func periodCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "period",
		Short: "Manage report periods",
		Long:  "Submissions are accepted only while a period is active and the current time is within its dates.",
	}
	var in engine.PeriodInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create report period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				period, err := e.CreatePeriod(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(period)
			})
		},
	}
	create.Flags().StringVar(&in.ID, "id", "", "period id")
	create.Flags().StringVar(&in.Name, "name", "", "period name")
	create.Flags().StringVar(&in.Start, "start", "", "start date (YYYY-MM-DD or RFC3339)")
	create.Flags().StringVar(&in.End, "end", "", "end date; a plain date covers the whole day")
	create.Flags().BoolVar(&in.Active, "active", true, "open the period on creation")
	_ = create.MarkFlagRequired("start")
	_ = create.MarkFlagRequired("end")
	p.AddCommand(create)

	var activeOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List report periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				items, err := e.ListPeriods(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Start", "End", "Active"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.StartDate, it.EndDate, it.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&activeOnly, "active", false, "only active periods")
	p.AddCommand(list)
	p.AddCommand(periodToggleCmd("open", true), periodToggleCmd("close", false))
	return p
}

func periodToggleCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <period-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a report period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				period, err := e.SetPeriodActive(ctx, actor, args[0], active)
				if err != nil {
					return err
				}
				return printJSONOrTable(period)
			})
		},
	}
}
