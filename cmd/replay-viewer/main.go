package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"WebdevReplay/internal/config"
	"WebdevReplay/internal/database"
	"WebdevReplay/internal/exercise"
	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/logstore"
	"WebdevReplay/internal/protocol"
	"WebdevReplay/internal/session"
)

type options struct {
	configPath   string
	logsDir      string
	pkg          string
	problem      string
	sessionID    string
	dsn          string
	exerciseFile string
	at           time.Duration
	play         bool
	quantum      time.Duration
	progress     bool
	jsonOutput   bool
}

var opts options

var rootCmd = &cobra.Command{
	Use:   "replay-viewer --session <id> [--package <pkg> --problem <name>]",
	Short: "Replay a recorded webdev exercise session in the terminal",
	Long: `replay-viewer loads the last log event of a session, either from the log
files written by log-server or from its PostgreSQL mirror, and scrubs to a
point in time or autoplays it.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Init("warn", "console"); err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cmd.OutOrStdout(), opts)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "config file (default: search for webdev.yaml)")
	f.StringVar(&opts.logsDir, "logs", "./logs", "log directory used by log-server")
	f.StringVar(&opts.pkg, "package", "", "content package")
	f.StringVar(&opts.problem, "problem", "", "exercise problem name")
	f.StringVar(&opts.sessionID, "session", "", "session id")
	f.StringVar(&opts.dsn, "dsn", "", "read the session from PostgreSQL instead of log files")
	f.StringVar(&opts.exerciseFile, "exercise", "", "exercise definition (YAML) for max points and markup")
	f.DurationVar(&opts.at, "at", -1, "scrub to this offset from the first event")
	f.BoolVar(&opts.play, "play", false, "autoplay from the current position to the end")
	f.DurationVar(&opts.quantum, "quantum", 0, "virtual time advanced per autoplay step (default: replay.quantum)")
	f.BoolVar(&opts.progress, "progress", false, "print every progress update")
	f.BoolVar(&opts.jsonOutput, "json", false, "print the summary and timeline as JSON")
	rootCmd.MarkFlagRequired("session")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, o options) error {
	appCfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	msg, err := loadSession(ctx, o)
	if err != nil {
		return err
	}
	entries, err := session.ParseLog(msg.Log)
	if err != nil {
		return fmt.Errorf("parse session log: %w", err)
	}

	o.quantum = resolveQuantum(o.quantum, appCfg)
	display := newTerminalDisplay(out, o.progress)
	cfg := session.WidgetConfig{
		MaxPoints:      recordedMaxPoints(entries),
		Display:        display,
		FlushThreshold: appCfg.Recorder.FlushThreshold,
	}
	if o.exerciseFile != "" {
		def, err := exercise.Load(o.exerciseFile)
		if err != nil {
			return err
		}
		cfg, err = def.WidgetConfig(msg.User, display, appCfg.Recorder.FlushThreshold)
		if err != nil {
			return err
		}
		if !o.jsonOutput {
			printExercise(out, def)
		}
	}
	// 回放以记录时的身份为准
	cfg.ProblemName = msg.ProblemName
	cfg.User = msg.User
	cfg.AB = msg.AB

	w := session.NewReplayWidget(cfg, entries, session.WithQuantum(o.quantum))
	defer w.Close()
	engine, err := w.Replay()
	if err != nil {
		return err
	}

	summary := session.Summarize(entries)
	if err := printSummary(out, msg, summary, engine.Timeline(), o.jsonOutput); err != nil {
		return err
	}
	if !engine.Playable() {
		fmt.Fprintln(out, "nothing to replay")
		return nil
	}

	if o.at >= 0 {
		start, _ := engine.Range()
		if err := engine.ScrubTo(start + o.at.Milliseconds()); err != nil {
			return err
		}
	}
	if !o.play {
		elapsed, fraction := display.position()
		fmt.Fprintf(out, "position %s %s\n", formatElapsed(elapsed), bar(fraction, 30))
		return nil
	}

	if err := engine.Play(); err != nil {
		return err
	}
	ticker := time.NewTicker(o.quantum)
	defer ticker.Stop()
	for engine.State() == session.StateAutoplaying {
		select {
		case <-ctx.Done():
			engine.Pause()
			return nil
		case <-ticker.C:
		}
	}
	elapsed, _ := display.position()
	fmt.Fprintf(out, "finished at %s\n", formatElapsed(elapsed))
	return nil
}

func loadSession(ctx context.Context, o options) (*protocol.LogMessage, error) {
	if o.dsn != "" {
		pool, err := database.Connect(ctx, database.DefaultConfig(o.dsn))
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		stored, err := database.NewLogRepository(pool).LatestLog(ctx, o.sessionID)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", o.sessionID, err)
		}
		return &stored.Message, nil
	}

	if o.pkg == "" || o.problem == "" {
		return nil, errors.New("--package and --problem are required without --dsn")
	}
	store, err := logstore.New(o.logsDir)
	if err != nil {
		return nil, err
	}
	msg, _, err := store.FindSession(o.pkg, o.problem, o.sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", o.sessionID, err)
	}
	return msg, nil
}

// resolveQuantum 命令行未指定时使用配置的replay.quantum
func resolveQuantum(flag time.Duration, cfg *config.Config) time.Duration {
	if flag > 0 {
		return flag
	}
	if cfg != nil && cfg.Replay.Quantum > 0 {
		return cfg.Replay.Quantum
	}
	return session.DefaultQuantum
}

func printExercise(out io.Writer, def *exercise.Definition) {
	title := def.Title
	if title == "" {
		title = def.Name
	}
	fmt.Fprintf(out, "exercise %s\n", title)
	if def.Instructions != "" {
		fmt.Fprintf(out, "         %s\n", strings.TrimSpace(def.Instructions))
	}
}

// recordedMaxPoints 从grade条目恢复满分，没有评分时为1
func recordedMaxPoints(entries []session.LogEntry) int {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Type != session.EntryGrade {
			continue
		}
		if maxPoints, ok := entries[i].Number("maxPoints"); ok && maxPoints > 0 {
			return int(maxPoints)
		}
	}
	return 1
}

func printSummary(out io.Writer, msg *protocol.LogMessage, summary *session.TimelineSummary, timeline []session.Marker, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"session":  msg.Session,
			"status":   msg.Status,
			"summary":  summary,
			"timeline": timeline,
		})
	}

	fmt.Fprintf(out, "session  %s (%s)\n", msg.Session, msg.Status)
	fmt.Fprintf(out, "user     %s ab=%t\n", msg.User, msg.AB)
	fmt.Fprintf(out, "events   %d over %s\n", summary.TotalEvents, formatElapsed(summary.DurationMs))
	fmt.Fprintf(out, "grades   %d best=%v final=%v solved=%t\n", summary.Grades, summary.BestPoints, summary.FinalPoints, summary.Solved)

	line := make([]byte, 0, 50)
	for i := 0; i < cap(line); i++ {
		line = append(line, '-')
	}
	for _, m := range timeline {
		i := int(m.Position * float64(len(line)-1))
		switch m.Class {
		case session.MarkerGradeSuccess:
			line[i] = 'S'
		case session.MarkerGradePartial:
			line[i] = 'P'
		case session.MarkerGradeFail:
			line[i] = 'F'
		default:
			if line[i] == '-' {
				line[i] = '|'
			}
		}
	}
	fmt.Fprintf(out, "timeline %s\n", line)
	return nil
}
