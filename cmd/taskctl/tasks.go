package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"tasksync/domain"
)

func filterFlags(cmd *cobra.Command, f *domain.Filter) {
	cmd.Flags().StringVar(&f.Search, "search", "", "substring of title or description")
	cmd.Flags().StringVar((*string)(&f.Status), "status", "", "TODO, IN_PROGRESS or DONE")
	cmd.Flags().StringVar((*string)(&f.Priority), "priority", "", "LOW, MEDIUM or HIGH")
}

func listCmd(opts *options) *cobra.Command {
	var f domain.Filter
	var asJSON bool
	var preset string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if preset != "" {
				loaded, err := loadPreset(cmd.Context(), opts, preset)
				if err != nil {
					return err
				}
				f = loaded
			}
			tasks, err := opts.client().ListTasks(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), tasks)
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	filterFlags(cmd, &f)
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().StringVar(&preset, "preset", "", "use a saved preset instead of the filter flags")
	return cmd
}

func getCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task with its assignments and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := opts.client().GetTask(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get task: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), task)
		},
	}
}

func createCmd(opts *options) *cobra.Command {
	var in domain.TaskInput
	var description string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Title = strings.Join(args, " ")
			if cmd.Flags().Changed("description") {
				in.Description = &description
			}
			task, err := opts.client().CreateTask(cmd.Context(), in)
			if err != nil {
				return mutationFailed(cmd, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), task.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVar((*string)(&in.Status), "status", "", "initial status (default TODO)")
	cmd.Flags().StringVar((*string)(&in.Priority), "priority", "", "priority (default MEDIUM)")
	return cmd
}

func updateCmd(opts *options) *cobra.Command {
	var title, description, status, priority string
	var assignees []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a task; unset flags are left untouched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.TaskPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("status") {
				s := domain.Status(status)
				patch.Status = &s
			}
			if flags.Changed("priority") {
				p := domain.Priority(priority)
				patch.Priority = &p
			}
			if flags.Changed("assign") {
				patch.Assignees = &assignees
			}
			if _, err := opts.client().UpdateTask(cmd.Context(), args[0], patch); err != nil {
				return mutationFailed(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringSliceVar(&assignees, "assign", nil, "replace assignees with these user ids")
	return cmd
}

func deleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().DeleteTask(cmd.Context(), args[0]); err != nil {
				return mutationFailed(cmd, err)
			}
			return nil
		},
	}
}

func commentCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <id> <text>",
		Short: "Add a comment to a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.client().AddComment(cmd.Context(), args[0], strings.Join(args[1:], " ")); err != nil {
				return mutationFailed(cmd, err)
			}
			return nil
		},
	}
}

func printTasks(w io.Writer, tasks []domain.Task) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, t.Title)
	}
	_ = tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
