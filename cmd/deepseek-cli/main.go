// Command deepseek-cli is an interactive terminal client that drives a
// tool-calling conversation with an LLM completion endpoint. DeepSeek is the
// default backend; OpenAI-compatible, Anthropic, Gemini, and Bedrock entries
// are configured the same way.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/leeoohoo/deepseek-cli/agent"
	"github.com/leeoohoo/deepseek-cli/agent/terminal"
	"github.com/leeoohoo/deepseek-cli/config"
	"github.com/leeoohoo/deepseek-cli/llm"
	"github.com/leeoohoo/deepseek-cli/session"
	"github.com/leeoohoo/deepseek-cli/tools"
	"github.com/leeoohoo/deepseek-cli/tools/mcp"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:      "deepseek-cli",
		Usage:     "chat with an LLM that can call tools on your machine",
		ArgsUsage: "[initial prompt]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"M"},
				Usage:   "model entry from configuration (empty selects the default)",
			},
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "session name to create or use",
			},
			&cli.StringFlag{
				Name:    "resume",
				Aliases: []string{"r"},
				Usage:   "resume a session by name",
			},
			&cli.StringFlag{
				Name:    "toolset",
				Aliases: []string{"t"},
				Usage:   "toolset to use (defaults to 'default')",
			},
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "execution mode: 'auto' or 'prompt'",
			},
			&cli.StringFlag{
				Name:  "tool-verbosity",
				Usage: "tool verbosity level: 'none', 'info', or 'all'",
			},
			&cli.BoolFlag{
				Name:  "no-stream",
				Usage: "wait for complete responses instead of streaming tokens",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	level := slog.LevelWarn
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	modelName := cmd.String("model")
	settings, err := cfg.GetModel(modelName)
	if err != nil {
		return err
	}

	sess, err := openSession(cmd, settings.SystemPrompt)
	if err != nil {
		return err
	}

	modeFlag := cmd.String("mode")
	if modeFlag == "" {
		modeFlag = sess.Mode
	}
	opMode, err := agent.ParseMode(modeFlag)
	if err != nil {
		return err
	}

	verbosityFlag := cmd.String("tool-verbosity")
	if verbosityFlag == "" && sess.ToolVerbosity != "" {
		verbosityFlag = sess.ToolVerbosity
	}
	verbosity, err := agent.ParseToolVerbosity(verbosityFlag)
	if err != nil {
		return err
	}

	toolset := cmd.String("toolset")
	if toolset == "" {
		toolset = sess.Toolset
	}

	// Persist the effective settings so --resume picks them back up.
	sess.Mode = string(opMode)
	sess.Toolset = toolset
	sess.ToolVerbosity = string(verbosity)
	if err := sess.Save(); err != nil {
		return err
	}

	client, err := llm.New(ctx, *settings)
	if err != nil {
		return err
	}

	registry := tools.NewToolRegistry(cfg)
	mcpClients := mcp.RegisterAll(ctx, registry, serverConfigs(cfg.MCPServers))
	defer func() {
		for _, c := range mcpClients {
			if err := c.Stop(); err != nil {
				slog.Warn("failed to stop MCP server", "server", c.Name, "error", err)
			}
		}
	}()

	a, err := agent.New(cfg, sess, client, registry, modelName, toolset, opMode, verbosity)
	if err != nil {
		return err
	}
	a.Stream = !cmd.Bool("no-stream")

	initialPrompt := strings.Join(cmd.Args().Slice(), " ")

	fmt.Println("deepseek-cli is ready. Type your prompt.")
	return terminal.New(a).Run(ctx, initialPrompt)
}

// openSession resumes or creates the session named by the flags. A new
// session without an explicit name gets one derived from the working
// directory and the current time.
func openSession(cmd *cli.Command, systemPrompt string) (*session.Session, error) {
	if name := cmd.String("resume"); name != "" {
		sess, err := session.Load(name)
		if err != nil {
			return nil, err
		}
		fmt.Printf("Resuming session: %s\n", name)
		return sess, nil
	}

	name := cmd.String("session")
	if name == "" {
		name = defaultSessionName()
	}
	sess, err := session.New(name, systemPrompt)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Starting new session: %s\n", name)
	return sess, nil
}

func serverConfigs(servers []config.MCPServer) []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, len(servers))
	for i, s := range servers {
		out[i] = mcp.ServerConfig{Name: s.Name, Command: s.Command, Args: s.Args}
	}
	return out
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "deepseek-cli"
	}
	dirName := filepath.Base(wd)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s_%s", dirName, timestamp)
}
