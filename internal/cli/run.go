package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/duetlab/duetlab/internal/citizen"
	"github.com/duetlab/duetlab/internal/cloud/gcp"
	"github.com/duetlab/duetlab/internal/config"
	"github.com/duetlab/duetlab/internal/events"
	"github.com/duetlab/duetlab/internal/gemini"
	"github.com/duetlab/duetlab/internal/github"
	"github.com/duetlab/duetlab/internal/scientist"
	"github.com/duetlab/duetlab/internal/sim"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a research simulation",
	Long: `Run the full two-scientist research simulation.

Both scientists derive a theme from the research topic, the citizen crowd
evaluates the themes, and the scientists then work through the six-stage
pipeline gated by each other's pull request reviews.

Example:
  duetlab run --topic "機械学習の解釈可能性" --max-steps 50 --repo ai-research`,
	RunE: runSimulation,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("topic", "", "General research topic")
	runCmd.Flags().Int("max-steps", 0, "Maximum number of simulation steps")
	runCmd.Flags().String("owner", "", "GitHub repository owner")
	runCmd.Flags().String("repo", "", "GitHub repository name")
	runCmd.Flags().String("model", "", "Gemini model name")
	runCmd.Flags().String("log-dir", "", "Directory for the simulation log and snapshot")

	_ = viper.BindPFlag("research.topic", runCmd.Flags().Lookup("topic"))
	_ = viper.BindPFlag("research.max_steps", runCmd.Flags().Lookup("max-steps"))
	_ = viper.BindPFlag("github.owner", runCmd.Flags().Lookup("owner"))
	_ = viper.BindPFlag("github.repo_name", runCmd.Flags().Lookup("repo"))
	_ = viper.BindPFlag("gemini.model", runCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("logging.dir", runCmd.Flags().Lookup("log-dir"))
}

func runSimulation(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt signal, finishing up...")
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyEnvCredentials(cfg)
	if err := cfg.ValidateForRun(); err != nil {
		return err
	}

	if err := resolveSecrets(ctx, cfg); err != nil {
		return err
	}

	generator := gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.Model,
		gemini.WithMaxAttempts(cfg.Gemini.MaxAttempts),
	)

	hostA, hostB, err := buildHosts(ctx, cfg)
	if err != nil {
		return err
	}

	crowd, err := citizen.NewEvaluator(generator)
	if err != nil {
		return fmt.Errorf("failed to build citizen crowd: %w", err)
	}

	log, err := events.NewLog(cfg.Logging.Dir)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}

	runID := uuid.NewString()
	logger, err := gcp.NewRunLogger(ctx, cfg.Logging.CloudLog, cfg.Cloud.Project, cfg.Logging.CloudLogID, runID)
	if err != nil {
		return fmt.Errorf("failed to create run logger: %w", err)
	}

	simulation, err := sim.New(sim.Params{
		Topic:      cfg.Research.Topic,
		MaxSteps:   cfg.Research.MaxSteps,
		BaseBranch: cfg.GitHub.BaseBranch,
		RunID:      runID,
		ScientistA: scientist.New("A", generator),
		ScientistB: scientist.New("B", generator),
		HostA:      hostA,
		HostB:      hostB,
		Crowd:      crowd,
		Log:        log,
		Logger:     logger,
		Usage:      generator.Usage(),
	})
	if err != nil {
		_ = logger.Close()
		return err
	}

	fmt.Printf("Research Topic: %s\n", cfg.Research.Topic)
	fmt.Printf("Max Steps: %d\n", cfg.Research.MaxSteps)
	fmt.Printf("Repository: %s/%s\n", cfg.GitHub.Owner, cfg.GitHub.RepoName)
	fmt.Printf("Run ID: %s\n\n", simulation.RunID())

	runErr := simulation.Run(ctx)

	printSummary(cmd, log, simulation)

	if runErr != nil {
		return fmt.Errorf("simulation failed: %w", runErr)
	}
	return nil
}

// applyEnvCredentials fills credentials from the conventional
// environment variables when the config file leaves them empty.
func applyEnvCredentials(cfg *config.Config) {
	if cfg.GitHub.TokenA == "" {
		cfg.GitHub.TokenA = os.Getenv("GITHUB_TOKEN_A")
	}
	if cfg.GitHub.TokenB == "" {
		cfg.GitHub.TokenB = os.Getenv("GITHUB_TOKEN_B")
	}
	if cfg.GitHub.Owner == "" {
		cfg.GitHub.Owner = os.Getenv("GITHUB_OWNER")
	}
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// resolveSecrets replaces Secret Manager references with their values.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	if cfg.Gemini.APIKey != "" && cfg.GitHub.AppID == "" {
		return nil
	}

	secrets, err := gcp.NewSecretManagerClient(ctx, cfg.Cloud.Project)
	if err != nil {
		return fmt.Errorf("failed to create secret manager client: %w", err)
	}
	defer secrets.Close()

	if cfg.Gemini.APIKey == "" && cfg.Gemini.APIKeySecret != "" {
		key, err := secrets.FetchSecret(ctx, cfg.Gemini.APIKeySecret)
		if err != nil {
			return fmt.Errorf("failed to fetch Gemini API key: %w", err)
		}
		cfg.Gemini.APIKey = key
	}
	return nil
}

// buildHosts constructs one hosting client per scientist identity.
func buildHosts(ctx context.Context, cfg *config.Config) (sim.Host, sim.Host, error) {
	var sourceA, sourceB github.TokenSource

	if cfg.GitHub.AppID != "" {
		secrets, err := gcp.NewSecretManagerClient(ctx, cfg.Cloud.Project)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create secret manager client: %w", err)
		}
		defer secrets.Close()

		keyPEM, err := secrets.FetchSecret(ctx, cfg.GitHub.PrivateKeySecret)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch App private key: %w", err)
		}
		app, err := github.NewAppTokenSource(cfg.GitHub.AppID, cfg.GitHub.InstallationID, []byte(keyPEM))
		if err != nil {
			return nil, nil, err
		}
		// Both identities share the App installation.
		sourceA, sourceB = app, app
	} else {
		sourceA = github.StaticTokenSource(cfg.GitHub.TokenA)
		sourceB = github.StaticTokenSource(cfg.GitHub.TokenB)
	}

	hostA, err := github.NewClient(cfg.GitHub.Owner, cfg.GitHub.RepoName, sourceA)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GitHub client for Scientist A: %w", err)
	}
	hostB, err := github.NewClient(cfg.GitHub.Owner, cfg.GitHub.RepoName, sourceB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GitHub client for Scientist B: %w", err)
	}
	return hostA, hostB, nil
}

func printSummary(cmd *cobra.Command, log *events.Log, simulation *sim.Simulation) {
	stats := log.Stats()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "\nSIMULATION SUMMARY")
	fmt.Fprintf(out, "  Steps:       %d\n", simulation.Step())
	fmt.Fprintf(out, "  Completed:   %v\n", simulation.Completed())
	fmt.Fprintf(out, "  PRs created: %d\n", stats.TotalSubmissions)
	fmt.Fprintf(out, "  Approved:    %d\n", stats.ApprovedSubmissions)
	fmt.Fprintf(out, "  Rejected:    %d\n", stats.RejectedSubmissions)
	for id, agent := range stats.Scientists {
		fmt.Fprintf(out, "  Scientist %s: stage=%s retries=%d\n", id, agent.CurrentStage, agent.Retries)
	}
	fmt.Fprintf(out, "  Citizen rewards: %d円 total\n", stats.CrowdRewards.Total)
	fmt.Fprintf(out, "  Log: %s\n", log.Dir())
}
