package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workplan/internal/domain"
	"workplan/internal/engine"
	"workplan/internal/engine/auth"
	"workplan/internal/fieldtype"
)

func templateCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "template",
		Short: "Report templates and versioned manager reports",
		Long:  "Each manager report against a template keeps numbered versions, capped by the template's max_versions.",
	}
	t.AddCommand(templateCreateCmd())
	t.AddCommand(templateListCmd())
	t.AddCommand(templateShowCmd())
	t.AddCommand(templateReportCmd())
	t.AddCommand(templateVersionCmd())
	return t
}

func templateCreateCmd() *cobra.Command {
	var in engine.TemplateInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a report template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				tpl, err := e.CreateTemplate(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(tpl)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "template id")
	cmd.Flags().StringVar(&in.Name, "name", "", "template name")
	cmd.Flags().StringSliceVar(&in.AxisIDs, "axes", nil, "strategic axes covered")
	cmd.Flags().StringSliceVar(&in.ActionIDs, "actions", nil, "actions covered")
	cmd.Flags().StringSliceVar(&in.ProductIDs, "products", nil, "products covered")
	cmd.Flags().IntVar(&in.MaxVersions, "max-versions", 0, "version cap (institution default when 0)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func templateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List report templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				items, err := e.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Max versions", "Axes"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.MaxVersions, strings.Join(it.AxisIDs, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show a report template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				tpl, err := e.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(tpl)
			})
		},
	}
}

func printTemplateReports(items []domain.TemplateReport) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Template", "Manager", "Period", "Status", "Title"})
	for _, it := range items {
		tw.AppendRow(table.Row{it.ID, it.TemplateID, it.ManagerID, it.PeriodID, it.Status, it.Title})
	}
	tw.Render()
	return nil
}

func templateReportCmd() *cobra.Command {
	r := &cobra.Command{Use: "report", Short: "Manager reports against a template"}

	var in engine.TemplateReportInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Open a template report for the calling manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				tr, err := e.CreateTemplateReport(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(tr)
			})
		},
	}
	create.Flags().StringVar(&in.ID, "id", "", "report id (generated when empty)")
	create.Flags().StringVar(&in.TemplateID, "template", "", "template id")
	create.Flags().StringVar(&in.PeriodID, "period", "", "report period id")
	create.Flags().StringVar(&in.Title, "title", "", "report title")
	_ = create.MarkFlagRequired("template")
	_ = create.MarkFlagRequired("period")
	r.AddCommand(create)

	var managerID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List template reports in scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				items, err := e.ListTemplateReports(ctx, actor, managerID)
				if err != nil {
					return err
				}
				return printTemplateReports(items)
			})
		},
	}
	list.Flags().StringVar(&managerID, "manager", "", "manager filter")
	r.AddCommand(list)

	r.AddCommand(&cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a template report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				tr, err := e.GetTemplateReport(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(tr)
			})
		},
	})
	r.AddCommand(&cobra.Command{
		Use:   "review <report-id>",
		Short: "Mark a submitted template report reviewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				tr, err := e.ReviewTemplateReport(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(tr)
			})
		},
	})
	return r
}

// readContent loads version content from --content or --content-file.
func readContent(inline, path string) (map[string]any, error) {
	raw := []byte(inline)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("invalid content JSON: %w", err)
	}
	return content, nil
}

func templateVersionCmd() *cobra.Command {
	v := &cobra.Command{Use: "version", Short: "Versions of a template report"}

	var content, contentFile string
	add := &cobra.Command{
		Use:   "add <report-id>",
		Short: "Create the next version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readContent(content, contentFile)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				ver, err := e.CreateVersionWithRetry(ctx, actor, args[0], c)
				if err != nil {
					return err
				}
				return printJSONOrTable(ver)
			})
		},
	}
	add.Flags().StringVar(&content, "content", "", "version content as a JSON object")
	add.Flags().StringVar(&contentFile, "content-file", "", "read content from a JSON file")
	v.AddCommand(add)

	var updContent, updFile string
	update := &cobra.Command{
		Use:   "update <version-id>",
		Short: "Replace the content of an unsubmitted version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readContent(updContent, updFile)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				ver, err := e.UpdateVersion(ctx, actor, args[0], c)
				if err != nil {
					return err
				}
				return printJSONOrTable(ver)
			})
		},
	}
	update.Flags().StringVar(&updContent, "content", "", "version content as a JSON object")
	update.Flags().StringVar(&updFile, "content-file", "", "read content from a JSON file")
	v.AddCommand(update)

	v.AddCommand(&cobra.Command{
		Use:   "submit <version-id>",
		Short: "Submit a version; its report becomes submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				ver, err := e.SubmitVersion(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ver)
			})
		},
	})
	v.AddCommand(&cobra.Command{
		Use:   "list <report-id>",
		Short: "List versions of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				items, err := e.ListVersions(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Version", "Submitted", "Created by", "Updated"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.VersionNumber, deref(it.SubmittedAt), it.CreatedBy, it.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return v
}

func sniesCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "snies",
		Short: "SNIES templates, submissions and consolidated reports",
	}
	s.AddCommand(sniesTemplateCmd())
	s.AddCommand(sniesSubmitCmd())
	s.AddCommand(sniesConsolidateCmd())
	s.AddCommand(sniesReportCmd())
	return s
}

// parseSniesField reads "id:name:type:order[:required][:opt1|opt2]".
func parseSniesField(spec string) (engine.SniesFieldInput, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 4 {
		return engine.SniesFieldInput{}, fmt.Errorf("invalid field %q, expected id:name:type:order[:required][:options]", spec)
	}
	order, err := strconv.Atoi(parts[3])
	if err != nil {
		return engine.SniesFieldInput{}, fmt.Errorf("invalid field order %q", parts[3])
	}
	in := engine.SniesFieldInput{ID: parts[0], Name: parts[1], DataType: parts[2], FieldOrder: order}
	for _, extra := range parts[4:] {
		switch {
		case extra == "required":
			in.Required = true
		case extra != "":
			in.Options = strings.Split(extra, "|")
		}
	}
	return in, nil
}

func sniesTemplateCmd() *cobra.Command {
	t := &cobra.Command{Use: "template", Short: "SNIES templates"}

	var id, name string
	var fields []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Define a SNIES template",
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := make([]engine.SniesFieldInput, 0, len(fields))
			for _, f := range fields {
				in, err := parseSniesField(f)
				if err != nil {
					return err
				}
				inputs = append(inputs, in)
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				tpl, err := e.CreateSniesTemplate(ctx, actor, id, name, inputs)
				if err != nil {
					return err
				}
				return printSniesTemplate(tpl)
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "template id")
	create.Flags().StringVar(&name, "name", "", "template name")
	create.Flags().StringArrayVar(&fields, "field", nil, "id:name:type:order[:required][:opt1|opt2] (repeatable)")
	_ = create.MarkFlagRequired("name")
	t.AddCommand(create)

	t.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List SNIES templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				items, err := e.ListSniesTemplates(ctx)
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
	t.AddCommand(&cobra.Command{
		Use:   "show <template-id>",
		Short: "Show a SNIES template and its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				tpl, err := e.GetSniesTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				return printSniesTemplate(tpl)
			})
		},
	})

	var field string
	addField := &cobra.Command{
		Use:   "add-field <template-id>",
		Short: "Add a field to a SNIES template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseSniesField(field)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				f, err := e.AddSniesField(ctx, actor, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	addField.Flags().StringVar(&field, "field", "", "id:name:type:order[:required][:opt1|opt2]")
	_ = addField.MarkFlagRequired("field")
	t.AddCommand(addField)
	return t
}

func printSniesTemplate(tpl domain.SniesTemplate) error {
	if viper.GetBool("json") {
		return printJSON(tpl)
	}
	fmt.Printf("SNIES template %s: %s\n", tpl.ID, tpl.Name)
	tw := newTable(table.Row{"#", "Field", "Name", "Type", "Required", "Options"})
	for _, f := range tpl.Fields {
		tw.AppendRow(table.Row{f.FieldOrder, f.ID, f.Name, f.DataType, f.Required, strings.Join(f.Options, "|")})
	}
	tw.Render()
	return nil
}

func sniesSubmitCmd() *cobra.Command {
	var periodID string
	var sets []string
	cmd := &cobra.Command{
		Use:   "submit <template-id>",
		Short: "Submit or correct the calling manager's values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				tpl, err := e.GetSniesTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				types := make(map[string]fieldtype.Type, len(tpl.Fields))
				for _, f := range tpl.Fields {
					types[f.ID] = f.DataType
				}
				values := make(map[string]fieldtype.Value, len(sets))
				for _, s := range sets {
					fieldID, raw, err := splitAssignment(s)
					if err != nil {
						return err
					}
					t, ok := types[fieldID]
					if !ok {
						return fmt.Errorf("template %s has no field %q", tpl.ID, fieldID)
					}
					v, err := parseFieldValue(string(t), raw)
					if err != nil {
						return fmt.Errorf("%s: %w", fieldID, err)
					}
					values[fieldID] = v
				}
				sub, err := e.SubmitSniesValues(ctx, actor, tpl.ID, periodID, values)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sub)
				}
				fmt.Printf("Submission %s: %d value(s) for period %s\n", sub.ID, len(sub.Values), sub.PeriodID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&periodID, "period", "", "report period id")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value (repeatable)")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func printDataset(ds engine.ConsolidatedDataset) error {
	if viper.GetBool("json") {
		return printJSON(ds)
	}
	fmt.Printf("SNIES report %s (%s, period %s): %d row(s)\n", ds.Report.ID, ds.Report.TemplateID, ds.Report.PeriodID, len(ds.Rows))
	header := table.Row{"Manager"}
	for _, c := range ds.Columns {
		header = append(header, c.Name)
	}
	tw := newTable(header)
	for _, row := range ds.Rows {
		r := table.Row{row.ManagerID}
		for _, c := range ds.Columns {
			r = append(r, row.Values[c.ID].String())
		}
		tw.AppendRow(r)
	}
	tw.Render()
	for _, is := range ds.Issues {
		fmt.Fprintf(os.Stderr, "issue: %s %s %s: %s\n", is.Row, is.Field, is.Kind, is.Message)
	}
	return nil
}

func sniesConsolidateCmd() *cobra.Command {
	var periodID string
	var strict bool
	cmd := &cobra.Command{
		Use:   "consolidate <template-id>",
		Short: "Consolidate submissions in scope into a SNIES report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				ds, err := e.Consolidate(ctx, actor, args[0], periodID, engine.ConsolidateOptions{Strict: strict})
				if err != nil {
					return err
				}
				return printDataset(ds)
			})
		},
	}
	cmd.Flags().StringVar(&periodID, "period", "", "report period id")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on any issue instead of reporting it")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func sniesReportCmd() *cobra.Command {
	r := &cobra.Command{Use: "report", Short: "Stored SNIES reports"}
	var templateID, periodID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored SNIES reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				items, err := e.ListSniesReports(ctx, actor, templateID, periodID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Template", "Period", "Status", "Rows", "Issues", "By", "Created"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.TemplateID, it.PeriodID, it.Status, it.RowCount, it.IssueCount, it.CreatedBy, it.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&templateID, "template", "", "template filter")
	list.Flags().StringVar(&periodID, "period", "", "period filter")
	r.AddCommand(list)
	r.AddCommand(&cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a stored SNIES report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				ds, err := e.GetSniesReport(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printDataset(ds)
			})
		},
	})
	return r
}
