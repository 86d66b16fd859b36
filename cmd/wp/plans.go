package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workplan/internal/engine"
	"workplan/internal/engine/auth"
	"workplan/internal/fieldtype"
)

// parseFieldValue turns a command-line answer into a value of the declared
// field type.
func parseFieldValue(declared, raw string) (fieldtype.Value, error) {
	t, err := fieldtype.Parse(declared)
	if err != nil {
		return fieldtype.Value{}, err
	}
	if t == fieldtype.Numeric {
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fieldtype.Value{}, fmt.Errorf("invalid number %q", raw)
		}
		return fieldtype.NumberValue(n), nil
	}
	return fieldtype.TextValue(t, raw), nil
}

func splitAssignment(s string) (string, string, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return "", "", fmt.Errorf("invalid --set %q, expected field=value", s)
	}
	return strings.TrimSpace(k), v, nil
}

func planCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "plan",
		Short: "Work plans",
		Long:  "A work plan moves draft -> submitted -> approved|rejected. Rejected plans may be reopened as drafts.",
	}
	p.AddCommand(planCreateCmd())
	p.AddCommand(planListCmd())
	p.AddCommand(planShowCmd())
	p.AddCommand(planAnswerCmd())
	p.AddCommand(planUploadCmd())
	p.AddCommand(planAssignCmd())
	p.AddCommand(planUnassignCmd())
	p.AddCommand(planSubmitCmd())
	p.AddCommand(planReviewCmd())
	p.AddCommand(planReopenCmd())
	p.AddCommand(planDeleteCmd())
	p.AddCommand(planReviewsCmd())
	return p
}

func planCreateCmd() *cobra.Command {
	var opts engine.PlanCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				plan, err := e.CreatePlan(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(plan)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "plan id (generated when empty)")
	cmd.Flags().StringVar(&opts.PlanType, "type", "", "plan type from workplan.yml")
	cmd.Flags().StringVar(&opts.PeriodID, "period", "", "report period id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "plan title")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func planListCmd() *cobra.Command {
	var opts engine.PlanListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans in scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				items, err := e.ListPlans(ctx, actor, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Manager", "Type", "Period", "Status", "Title"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.ManagerID, it.PlanType, it.PeriodID, it.Status, it.Title})
				}
				tw.Render()
				if opts.Limit > 0 && len(items) == opts.Limit {
					fmt.Printf("next cursor: %s\n", engine.PlanCursor(items[len(items)-1]))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ManagerID, "manager", "", "manager filter")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&opts.PeriodID, "period", "", "period filter")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "page size")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "cursor from a previous page")
	return cmd
}

func planShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a plan with responses and hours",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				d, err := e.GetPlan(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Plan %s (%s) %s\n", d.Plan.ID, d.Plan.PlanType, d.Plan.Status)
				fmt.Printf("Manager: %s  Period: %s\n", d.Plan.ManagerID, d.Plan.PeriodID)
				if d.Plan.ApprovedBy != nil {
					fmt.Printf("Reviewed by %s: %s\n", *d.Plan.ApprovedBy, deref(d.Plan.ApprovalComments))
				}
				fmt.Printf("Hours: %.1f / %.1f\n", d.AssignedHours, d.AvailableHours)
				if len(d.Responses) > 0 {
					tw := newTable(table.Row{"Field", "Type", "Value"})
					for _, r := range d.Responses {
						tw.AppendRow(table.Row{r.FieldID, r.Value.Type, r.Value.String()})
					}
					tw.Render()
				}
				if len(d.Assignments) > 0 {
					tw := newTable(table.Row{"ID", "Axis", "Action", "Product", "Hours"})
					for _, a := range d.Assignments {
						tw.AppendRow(table.Row{a.ID, a.AxisID, a.ActionID, a.ProductID, a.Hours})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
}

func planAnswerCmd() *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "answer <plan-id>",
		Short: "Set field responses on a draft plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(sets) == 0 {
				return fmt.Errorf("at least one --set field=value is required")
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				d, err := e.GetPlan(ctx, actor, args[0])
				if err != nil {
					return err
				}
				pt, ok := e.Config.PlanTypes[d.Plan.PlanType]
				if !ok {
					return fmt.Errorf("plan type %q is not configured", d.Plan.PlanType)
				}
				for _, s := range sets {
					fieldID, raw, err := splitAssignment(s)
					if err != nil {
						return err
					}
					field, ok := pt.Field(fieldID)
					if !ok {
						return fmt.Errorf("plan type %s has no field %q", d.Plan.PlanType, fieldID)
					}
					v, err := parseFieldValue(field.Type, raw)
					if err != nil {
						return fmt.Errorf("%s: %w", fieldID, err)
					}
					if _, err := e.SetFieldResponse(ctx, actor, d.Plan.ID, fieldID, v); err != nil {
						return err
					}
				}
				fmt.Printf("Saved %d response(s) on %s\n", len(sets), d.Plan.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value (repeatable)")
	return cmd
}

func planUploadCmd() *cobra.Command {
	var fieldID, contentType string
	cmd := &cobra.Command{
		Use:   "upload <plan-id> <path>",
		Short: "Attach a file to a file field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			name := filepath.Base(args[1])
			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(name))
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				resp, err := e.UploadFieldFile(ctx, actor, args[0], fieldID, name, contentType, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(resp)
			})
		},
	}
	cmd.Flags().StringVar(&fieldID, "field", "", "file field id")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (guessed from the extension)")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func planAssignCmd() *cobra.Command {
	var in engine.AssignmentInput
	cmd := &cobra.Command{
		Use:   "assign <plan-id>",
		Short: "Assign hours to a strategic product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				a, err := e.SetAssignment(ctx, actor, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&in.AxisID, "axis", "", "strategic axis id")
	cmd.Flags().StringVar(&in.ActionID, "action", "", "action id")
	cmd.Flags().StringVar(&in.ProductID, "product", "", "product id")
	cmd.Flags().Float64Var(&in.Hours, "hours", 0, "hours")
	_ = cmd.MarkFlagRequired("axis")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func planUnassignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unassign <plan-id> <assignment-id>",
		Short: "Remove an hour assignment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				return e.RemoveAssignment(ctx, actor, args[0], args[1])
			})
		},
	}
}

func printPlanResult(res engine.PlanResult) error {
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return printJSONOrTable(res.Plan)
}

func planSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <plan-id>",
		Short: "Submit a draft plan for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				res, err := e.SubmitPlan(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printPlanResult(res)
			})
		},
	}
}

func planReviewCmd() *cobra.Command {
	var decision, comments string
	cmd := &cobra.Command{
		Use:   "review <plan-id>",
		Short: "Approve or reject a submitted plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				res, err := e.ReviewPlan(ctx, actor, args[0], decision, comments)
				if err != nil {
					return err
				}
				return printPlanResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approved or rejected")
	cmd.Flags().StringVar(&comments, "comments", "", "review comments")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func planReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <plan-id>",
		Short: "Return a rejected plan to draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				plan, err := e.ReopenPlan(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(plan)
			})
		},
	}
}

func planDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <plan-id>",
		Short: "Delete a draft plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				return e.DeletePlan(ctx, actor, args[0])
			})
		},
	}
}

func planReviewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reviews <plan-id>",
		Short: "Review history of a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				items, err := e.ListPlanReviews(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"When", "Reviewer", "Decision", "Comments"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ReviewedAt, it.ReviewerID, it.Decision, it.Comments})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func reportCmd() *cobra.Command {
	r := &cobra.Command{Use: "report", Short: "Plan reports, indicator reports and the unified listing"}
	r.AddCommand(reportListCmd())
	r.AddCommand(planReportCmd())
	r.AddCommand(indicatorReportCmd())
	return r
}

func reportListCmd() *cobra.Command {
	var managerID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every report family in scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				res, err := e.ListUnifiedReports(ctx, actor, managerID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable(table.Row{"ID", "Type", "Manager", "Status", "Submitted", "Title"})
				for _, it := range res.Reports {
					tw.AppendRow(table.Row{it.ID, it.ReportType, it.ManagerID, it.Status, deref(it.SubmittedDate), it.Title})
				}
				tw.Render()
				for _, f := range res.FailedFamilies {
					fmt.Fprintf(os.Stderr, "warning: %s reports unavailable: %s\n", f.Family, f.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&managerID, "manager", "", "only this manager's reports")
	return cmd
}

func planReportCmd() *cobra.Command {
	pr := &cobra.Command{Use: "plan", Short: "Reports against an approved work plan"}
	var title string
	create := &cobra.Command{
		Use:   "create <plan-id>",
		Short: "Create a plan report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				rep, err := e.CreatePlanReport(ctx, actor, args[0], title)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	create.Flags().StringVar(&title, "title", "", "report title")
	pr.AddCommand(create)
	pr.AddCommand(&cobra.Command{
		Use:   "submit <report-id>",
		Short: "Submit a plan report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				rep, err := e.SubmitPlanReport(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	})
	var decision string
	review := &cobra.Command{
		Use:   "review <report-id>",
		Short: "Approve or reject a plan report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				rep, err := e.ReviewPlanReport(ctx, actor, args[0], decision)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	review.Flags().StringVar(&decision, "decision", "", "approved or rejected")
	_ = review.MarkFlagRequired("decision")
	pr.AddCommand(review)
	return pr
}

func indicatorReportCmd() *cobra.Command {
	ir := &cobra.Command{Use: "indicator", Short: "Indicator reports"}
	var periodID, title string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an indicator report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				rep, err := e.CreateIndicatorReport(ctx, actor, periodID, title)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	create.Flags().StringVar(&periodID, "period", "", "report period id")
	create.Flags().StringVar(&title, "title", "", "report title")
	_ = create.MarkFlagRequired("period")
	ir.AddCommand(create)

	var to string
	advance := &cobra.Command{
		Use:   "advance <report-id>",
		Short: "Move an indicator report to its next status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				rep, err := e.AdvanceIndicatorReport(ctx, actor, args[0], to)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	advance.Flags().StringVar(&to, "to", "", "in_progress, completed or evaluated")
	_ = advance.MarkFlagRequired("to")
	ir.AddCommand(advance)
	return ir
}
