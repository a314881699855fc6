package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sessiond/internal/taskdoc"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List all session records of this task",
	RunE:  runSessions,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the task status and the latest session",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(statusCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	doc, err := openDoc(cfg)
	if err != nil {
		return err
	}
	defer doc.Close()

	recs, err := doc.Sessions()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}
	for _, rec := range recs {
		model := rec.Model
		if model == "" {
			model = "-"
		}
		line := fmt.Sprintf("%s  status=%s  model=%s  created=%s", rec.SessionID, rec.Status, model, rec.CreatedAt)
		if rec.Error != "" {
			line += "  error=" + rec.Error
		}
		fmt.Println(line)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	doc, err := openDoc(cfg)
	if err != nil {
		return err
	}
	defer doc.Close()

	task, err := doc.Task()
	if err != nil {
		return err
	}
	fmt.Printf("task status: %s (updated %s)\n", task.Status, task.UpdatedAt)

	recs, err := doc.Sessions()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no session attempts yet")
		return nil
	}
	last := recs[len(recs)-1]
	fmt.Printf("latest session: %s (%s)\n", last.SessionID, last.Status)
	if last.AgentSessionID != "" {
		fmt.Printf("agent session:  %s\n", last.AgentSessionID)
	}
	if last.Status == taskdoc.SessionCompleted {
		fmt.Printf("cost: $%.4f  duration: %dms\n", last.TotalCostUSD, last.DurationMS)
	}
	if last.Error != "" {
		fmt.Printf("error: %s\n", last.Error)
	}
	return nil
}

var todosCmd = &cobra.Command{
	Use:   "todos",
	Short: "Show the current todo list",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		doc, err := openDoc(cfg)
		if err != nil {
			return err
		}
		defer doc.Close()

		items, err := doc.Todos()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No todos.")
			return nil
		}
		for _, item := range items {
			marker := " "
			switch item.Status {
			case "in_progress":
				marker = ">"
			case "completed":
				marker = "x"
			}
			fmt.Printf("[%s] %s\n", marker, item.Content)
		}
		return nil
	},
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Show captured plans and their review state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		doc, err := openDoc(cfg)
		if err != nil {
			return err
		}
		defer doc.Close()

		plans, err := doc.Plans()
		if err != nil {
			return err
		}
		if len(plans) == 0 {
			fmt.Println("No plans captured.")
			return nil
		}
		for i, plan := range plans {
			if i > 0 {
				fmt.Println(strings.Repeat("-", 40))
			}
			fmt.Printf("plan %s (%s)\n\n%s\n", plan.PlanID, plan.ReviewStatus, plan.Markdown)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(todosCmd)
	rootCmd.AddCommand(plansCmd)
}
