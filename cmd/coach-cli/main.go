package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/lexlapax/coachmem/pkg/coach"
	"github.com/lexlapax/coachmem/pkg/config"
	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/memory"
	"github.com/lexlapax/coachmem/pkg/profile"
)

// Constants for the command-line interface
const (
	cmdHelp        = "!help"
	cmdQuit        = "!quit"
	cmdUser        = "!user"
	cmdAsk         = "!ask"
	cmdRemember    = "!remember"
	cmdGoals       = "!goals"
	cmdStyle       = "!style"
	cmdProfile     = "!profile"
	cmdSeed        = "!seed"
	cmdIndex       = "!index"
	cmdIndexGlobal = "!index-global"
	cmdStats       = "!stats"
	cmdCleanup     = "!cleanup"
	cmdConfig      = "!config"
)

// Command-line help text
const helpText = `
CoachMem - Command Reference:
-----------------------------------------
!help                       - Show this help message
!user <id>                  - Set the current user ID
!ask <question>             - Ask the coach a question
!remember <text>            - Record a learning event for the current user
!goals <goal; goal; ...>    - Set the current user's learning goals
!style <style>              - Set the current user's learning style
!profile                    - Show the current user's profile
!seed                       - Install starter memories for the current user
!index <source-id> <text>   - Index text into the user's private collection
!index-global <source-id> <text> - Index text into the shared collection
!stats                      - Show memory store and query statistics
!cleanup                    - Run the retention sweep
!config                     - Show current configuration
!quit                       - Exit the application

Notes:
- Regular text input is treated as a question
- Tab completion is available for commands
- Use up/down arrows for command history`

// historyFile is the file where command history is stored
const historyFile = ".coachmem_history"

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	stdinMode := flag.Bool("s", false, "Read from stdin and exit when complete")
	flag.Parse()

	// Load .env before anything reads the environment
	if err := godotenv.Load(); err == nil {
		fmt.Println("Loaded environment from .env")
	}

	// Empty -config means built-in defaults
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.LoadFromBytes(nil)
	}
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log.Setup(log.Config{
		Level:  log.Level(cfg.Logging.Level),
		Format: log.Format(cfg.Logging.Format),
	})

	log.Info("Starting CoachMem client")

	coachInstance, err := coach.NewCoachFromParsedConfig(cfg)
	if err != nil {
		log.Error("Failed to initialize coach", "error", err)
		os.Exit(1)
	}

	runCLI(coachInstance, cfg, *stdinMode)
}

// runCLI starts the command-line interface for user interaction
func runCLI(coachInstance *coach.Coach, cfg *config.Config, stdinMode bool) {
	currentUser := "default-user"

	if stdinMode {
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("\n=== CoachMem (stdin mode) ===")
		fmt.Println("Memory Store:", cfg.Memory.Type)
		fmt.Println("Vector Index:", cfg.Search.Type)
		fmt.Printf("Current User: %s\n", currentUser)

		for scanner.Scan() {
			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			// Skip comments for stdin-based testing
			if strings.HasPrefix(input, "#") || strings.HasPrefix(input, "//") {
				continue
			}

			if input == cmdQuit {
				fmt.Println("Goodbye!")
				return
			}

			prompt := fmt.Sprintf("coachmem::%s> ", currentUser)
			fmt.Print(prompt, input, "\n")

			processCommand(input, coachInstance, cfg, &currentUser, nil)
		}

		if err := scanner.Err(); err != nil {
			fmt.Printf("Error reading stdin: %v\n", err)
		}
		fmt.Println("Goodbye!")
		return
	}

	// Interactive mode
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(false)

	// Set tab completion
	line.SetCompleter(func(line string) (c []string) {
		commands := []string{
			cmdHelp, cmdQuit, cmdUser, cmdAsk, cmdRemember, cmdGoals, cmdStyle,
			cmdProfile, cmdSeed, cmdIndex, cmdIndexGlobal, cmdStats, cmdCleanup, cmdConfig,
		}
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, line) {
				c = append(c, cmd)
			}
		}
		return
	})

	// Load history from file if it exists
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	// Save history when exiting
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("\n=== CoachMem ===")
	fmt.Println("Memory Store:", cfg.Memory.Type)
	fmt.Println("Vector Index:", cfg.Search.Type)
	fmt.Printf("Current User: %s\n", currentUser)
	fmt.Println("Type !help for available commands.")

	for {
		prompt := fmt.Sprintf("coachmem::%s> ", currentUser)
		input, err := line.Prompt(prompt)

		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nGoodbye!")
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if input == cmdQuit {
			fmt.Println("Goodbye!")
			break
		}

		if !processCommand(input, coachInstance, cfg, &currentUser, line) {
			break
		}
	}
}

// processCommand handles a single command and returns false if the CLI should exit
func processCommand(input string,
	coachInstance *coach.Coach,
	cfg *config.Config,
	currentUser *string,
	line *liner.State) bool {

	ctx := context.Background()

	if !strings.HasPrefix(input, "!") {
		// Treat as a question by default
		ask(ctx, coachInstance, *currentUser, input)
		return true
	}

	parts := strings.SplitN(input, " ", 2)
	cmd := parts[0]
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case cmdHelp:
		fmt.Println(helpText)

	case cmdQuit:
		// Already handled in main loop
		return false

	case cmdUser:
		if arg == "" {
			fmt.Printf("Current user: %s\n", *currentUser)
			if line != nil {
				userIDInput, err := line.Prompt("Enter new user ID (or press Enter to keep current): ")
				if err == nil && strings.TrimSpace(userIDInput) != "" {
					*currentUser = strings.TrimSpace(userIDInput)
					fmt.Printf("User set to: %s\n", *currentUser)
				}
			}
		} else {
			*currentUser = arg
			fmt.Printf("User set to: %s\n", *currentUser)
		}

	case cmdAsk:
		if arg == "" {
			fmt.Println("Question required")
			return true
		}
		ask(ctx, coachInstance, *currentUser, arg)

	case cmdRemember:
		if arg == "" {
			fmt.Println("Text required")
			return true
		}
		id, err := coachInstance.Memories().StoreEpisodic(ctx, memory.EpisodicMemory{
			UserID:    *currentUser,
			EventType: memory.EventLearning,
			Content:   arg,
		})
		if err != nil {
			fmt.Printf("Error storing memory: %v\n", err)
		} else {
			fmt.Printf("Learning event recorded with ID: %s\n", id)
		}

	case cmdGoals:
		if arg == "" {
			fmt.Println("At least one goal required (separate multiple goals with ';')")
			return true
		}
		updateProfile(ctx, coachInstance, *currentUser, func(p *profile.UserProfile) {
			p.LearningGoals = nil
			for _, goal := range strings.Split(arg, ";") {
				if goal = strings.TrimSpace(goal); goal != "" {
					p.LearningGoals = append(p.LearningGoals, goal)
				}
			}
		})

	case cmdStyle:
		if arg == "" {
			fmt.Println("Learning style required (e.g. visual, hands-on)")
			return true
		}
		updateProfile(ctx, coachInstance, *currentUser, func(p *profile.UserProfile) {
			p.LearningStyle = arg
		})

	case cmdProfile:
		p, err := coachInstance.Profiles().Get(ctx, *currentUser)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				fmt.Printf("No profile stored for %s yet.\n", *currentUser)
			} else {
				fmt.Printf("Error loading profile: %v\n", err)
			}
			return true
		}
		fmt.Printf("\nProfile for %s:\n", p.UserID)
		fmt.Printf("  Learning style: %s\n", valueOr(p.LearningStyle, "(not set)"))
		fmt.Printf("  Learning goals: %s\n", valueOr(strings.Join(p.LearningGoals, ", "), "(none)"))
		fmt.Printf("  Total sessions: %d\n", p.TotalSessions)
		if !p.LastActive.IsZero() {
			fmt.Printf("  Last active:    %s\n", p.LastActive.Format(time.RFC3339))
		}

	case cmdSeed:
		if err := coachInstance.SeedUserMemories(ctx, *currentUser); err != nil {
			fmt.Printf("Error seeding memories: %v\n", err)
		} else {
			fmt.Println("Starter memories installed.")
		}

	case cmdIndex, cmdIndexGlobal:
		indexParts := strings.SplitN(arg, " ", 2)
		if len(indexParts) < 2 {
			fmt.Println("Usage: " + cmd + " <source-id> <text>")
			return true
		}
		indexer := coachInstance.NewIndexer()
		var (
			count int
			err   error
		)
		if cmd == cmdIndexGlobal {
			count, err = indexer.IndexGlobal(ctx, indexParts[0], []string{indexParts[1]})
		} else {
			count, err = indexer.IndexForUser(ctx, *currentUser, indexParts[0], []string{indexParts[1]})
		}
		if err != nil {
			fmt.Printf("Error indexing: %v\n", err)
		} else {
			fmt.Printf("Indexed %d chunk(s) from %s\n", count, indexParts[0])
		}

	case cmdStats:
		stats, err := coachInstance.Stats(ctx)
		if err != nil {
			fmt.Printf("Error loading stats: %v\n", err)
			return true
		}
		fmt.Println("\nMemory Store:")
		fmt.Printf("  Episodic:   %d memories across %d users\n", stats.Episodic.TotalMemories, stats.Episodic.TotalUsers)
		fmt.Printf("  Semantic:   %d concepts\n", stats.Semantic.TotalConcepts)
		fmt.Printf("  Procedural: %d skills\n", stats.Procedural.TotalSkills)

		summary, supported, err := coachInstance.MetricsSummary(ctx, 7*24*time.Hour)
		if err != nil {
			fmt.Printf("Error loading metrics: %v\n", err)
			return true
		}
		if supported {
			fmt.Println("\nLast 7 days:")
			fmt.Printf("  Queries:         %d\n", summary.TotalQueries)
			fmt.Printf("  Avg confidence:  %.2f\n", summary.AvgConfidence)
			fmt.Printf("  Avg response:    %.2fs\n", summary.AvgResponseTime)
			fmt.Printf("  Success rate:    %.0f%%\n", summary.SuccessRate*100)
			fmt.Printf("  Personalized:    %.0f%%\n", summary.PersonalizationRate*100)
		}

	case cmdCleanup:
		result, err := coachInstance.RunRetention(ctx, cfg.Retention.EpisodicDays, cfg.Retention.MetricsDays)
		if err != nil {
			fmt.Printf("Error running retention sweep: %v\n", err)
		} else {
			fmt.Printf("Removed %d episodic memories and %d metric rows\n",
				result.EpisodicRemoved, result.MetricsRemoved)
		}

	case cmdConfig:
		fmt.Println("\nCurrent Configuration:")
		fmt.Println("======================")
		fmt.Printf("Memory Store Type: %s\n", cfg.Memory.Type)
		if cfg.Memory.Type == "sqlite" {
			fmt.Printf("SQLite Path: %s\n", cfg.Memory.SQLite.Path)
		}
		fmt.Printf("Profile Store Type: %s\n", cfg.Profiles.Type)
		fmt.Printf("Vector Index Type: %s\n", cfg.Search.Type)
		fmt.Printf("Global Collection: %s\n", cfg.Search.GlobalCollection)
		fmt.Printf("User Weight: %.2f\n", cfg.Search.UserWeight)
		fmt.Printf("Top K: %d\n", cfg.Search.TopK)
		fmt.Printf("\nReasoning Provider: %s\n", cfg.Reasoning.Provider)
		if cfg.Reasoning.Provider == "openai" {
			fmt.Printf("OpenAI Model: %s\n", cfg.Reasoning.OpenAI.Model)
			fmt.Printf("OpenAI Embedding Model: %s\n", cfg.Reasoning.OpenAI.EmbeddingModel)
		}
		fmt.Printf("\nEpisodic Retention: %d days\n", cfg.Retention.EpisodicDays)
		fmt.Printf("Metrics Retention: %d days\n", cfg.Retention.MetricsDays)
		fmt.Printf("\nLog Level: %s\n", cfg.Logging.Level)
		fmt.Printf("User: %s\n", *currentUser)

	default:
		fmt.Printf("Unknown command: %s\nType !help for available commands.\n", cmd)
	}

	return true
}

func ask(ctx context.Context, coachInstance *coach.Coach, userID, question string) {
	response, err := coachInstance.ProcessQuery(ctx, userID, question)
	if err != nil {
		fmt.Printf("Error processing question: %v\n", err)
		return
	}

	fmt.Println("\n" + response.Answer)
	fmt.Printf("\n[confidence %.2f", response.Confidence)
	if response.Personalized {
		fmt.Printf(", personalized via %s", strings.Join(response.MemoryTypesUsed, "/"))
	}
	fmt.Println("]")

	for i, src := range response.Sources {
		fmt.Printf("  [%d] %s (%s, score %.2f)\n", i+1, src.SourceID, src.SourceType, src.Score)
	}
}

func updateProfile(ctx context.Context, coachInstance *coach.Coach, userID string, apply func(*profile.UserProfile)) {
	p, err := coachInstance.Profiles().Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			fmt.Printf("Error loading profile: %v\n", err)
			return
		}
		p = profile.New(userID, time.Now().UTC())
	}

	apply(&p)
	p.LastActive = time.Now().UTC()

	if err := coachInstance.Profiles().Put(ctx, p); err != nil {
		fmt.Printf("Error saving profile: %v\n", err)
		return
	}
	fmt.Println("Profile updated.")
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
