package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-virtual-company/internal/agent"
	"go-virtual-company/internal/ceo"
	"go-virtual-company/internal/core"
	"go-virtual-company/internal/eventbus"
	"go-virtual-company/internal/extraction"
	"go-virtual-company/internal/llm"
	"go-virtual-company/internal/orchestrator"
	"go-virtual-company/internal/persona"
	"go-virtual-company/internal/statestore"
)

var rootCmd = &cobra.Command{
	Use:   "vcomp",
	Short: "Virtual company simulation",
	Long: `vcomp runs multi-agent virtual-company simulations: a project file
declares agents, tasks and meetings; the orchestrator schedules them over
a shared event bus while a CEO console can pause, steer or end the run.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VCOMP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("llm-base-url", "", "LLM endpoint base URL")
	rootCmd.PersistentFlags().String("llm-api-key", "", "LLM API key")
	rootCmd.PersistentFlags().String("llm-model", "gpt-4o-mini", "LLM model name")
	rootCmd.PersistentFlags().String("cache-dir", "", "LLM response cache directory")
	rootCmd.PersistentFlags().String("redis", "", "redis address for run-state persistence")
	rootCmd.PersistentFlags().Int("pool-size", agent.DefaultPoolSize, "max concurrent agent turns")
	for _, name := range []string{"llm-base-url", "llm-api-key", "llm-model", "cache-dir", "redis", "pool-size"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <project.yaml>",
		Short: "Run a project simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			interactive, _ := cmd.Flags().GetBool("interactive")
			autoApprove, _ := cmd.Flags().GetBool("auto-approve")
			return runProject(cmd.Context(), args[0], mode, interactive, autoApprove)
		},
	}
	cmd.Flags().String("mode", "", "override execution mode (fully_automated|incremental|simulation)")
	cmd.Flags().Bool("interactive", false, "accept CEO directives on stdin")
	cmd.Flags().Bool("auto-approve", false, "continue through incremental checkpoints without approval")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <project.yaml>",
		Short: "Validate a project file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := orchestrator.LoadProject(args[0])
			if err != nil {
				return err
			}
			meetings := 0
			for _, t := range p.Tasks {
				if t.MeetingRequired {
					meetings++
				}
			}
			fmt.Printf("project %s is valid: %d agents, %d tasks (%d meetings), mode %s/%s\n",
				p.ProjectID, len(p.Agents), len(p.Tasks), meetings, p.ExecutionMode, p.Scheduling.Mode)
			return nil
		},
	}
}

func runProject(ctx context.Context, path, modeOverride string, interactive, autoApprove bool) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	project, err := orchestrator.LoadProject(path)
	if err != nil {
		return err
	}
	if modeOverride != "" {
		project.ExecutionMode = orchestrator.ExecutionMode(modeOverride)
		if err := project.Validate(); err != nil {
			return err
		}
	}

	bus := eventbus.NewMemoryBus(0, logger)
	bus.Start()
	defer bus.Stop()

	completer := llm.NewClient(llm.Config{
		BaseURL:  viper.GetString("llm-base-url"),
		APIKey:   viper.GetString("llm-api-key"),
		Model:    viper.GetString("llm-model"),
		CacheDir: viper.GetString("cache-dir"),
	}, logger)

	var store statestore.Store
	if addr := viper.GetString("redis"); addr != "" {
		rs := statestore.NewRedisStore(&redis.Options{Addr: addr}, logger)
		defer rs.Close()
		store = rs
	}

	orch := orchestrator.New(orchestrator.Options{
		Bus:       bus,
		Extractor: extraction.NewLLMExtractor(completer, logger),
		Factory: persona.FactoryFunc(func(rec persona.EmployeeRecord) (core.Respondent, error) {
			return persona.NewEmployee(rec, completer, logger), nil
		}),
		Store:       store,
		Pool:        agent.NewPool(viper.GetInt("pool-size")),
		Logger:      logger,
		AutoApprove: autoApprove,
	})
	defer orch.Shutdown()

	if err := orch.UseProject(project); err != nil {
		return err
	}

	if interactive {
		console := ceo.NewConsole(bus, os.Stdin, logger)
		console.Start()
		defer console.Stop()
	}

	report, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

func printReport(report *orchestrator.Report) {
	fmt.Printf("\nProject: %s (%s, %s/%s)\n", report.Title, report.ProjectID,
		report.ExecutionMode, report.SchedulingMode)
	if report.Duration != "" {
		fmt.Printf("Duration: %s\n", report.Duration)
	}

	summary := table.NewWriter()
	summary.SetOutputMirror(os.Stdout)
	summary.AppendHeader(table.Row{"Total", "Completed", "Failed", "Spawned", "Meetings"})
	summary.AppendRow(table.Row{
		report.Tasks.Total, report.Tasks.Completed, report.Tasks.Failed,
		report.Tasks.Spawned, report.Statistics.MeetingsHeld,
	})
	summary.Render()

	if len(report.AgentDevelopment) == 0 {
		return
	}
	agents := table.NewWriter()
	agents.SetOutputMirror(os.Stdout)
	agents.AppendHeader(table.Row{"Agent", "Tasks", "Meetings", "Top skills"})
	names := make([]string, 0, len(report.AgentDevelopment))
	for name := range report.AgentDevelopment {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dev := report.AgentDevelopment[name]
		agents.AppendRow(table.Row{name, dev.TasksCompleted, dev.MeetingsAttended, topSkills(dev.FinalSkills, 3)})
	}
	agents.Render()
}

func topSkills(skills map[string]float64, n int) string {
	type entry struct {
		name  string
		level float64
	}
	all := make([]entry, 0, len(skills))
	for name, level := range skills {
		all = append(all, entry{name, level})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].level != all[j].level {
			return all[i].level > all[j].level
		}
		return all[i].name < all[j].name
	})
	if len(all) > n {
		all = all[:n]
	}
	parts := make([]string, len(all))
	for i, e := range all {
		parts[i] = fmt.Sprintf("%s %.1f", e.name, e.level)
	}
	return strings.Join(parts, ", ")
}
