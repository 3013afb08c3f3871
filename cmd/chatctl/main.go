package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"aichat/internal/app"
	"aichat/internal/config"
	"aichat/internal/gateway"
	"aichat/internal/storage"
)

type env struct {
	app    *app.App
	stdout io.Writer
	raw    bool
}

type sendCmd struct {
	Prompt     []string `arg:"" help:"Prompt to send."`
	Tool       string   `short:"t" default:"Auto" help:"Tool to answer with (Auto, FreeTool or a registered tool)."`
	User       string   `short:"u" required:"" env:"AICHAT_USER" help:"User id the turn belongs to."`
	APIKey     string   `name:"api-key" env:"AICHAT_API_KEY" help:"Provider credential."`
	OllamaHost string   `name:"ollama-host" help:"Base URL of a local Ollama server."`
}

func (c *sendCmd) Run(e *env) error {
	out := e.app.Gateway.SendMessage(context.Background(), gateway.Input{
		Prompt:     strings.Join(c.Prompt, " "),
		Tool:       c.Tool,
		UserID:     c.User,
		APIKey:     c.APIKey,
		OllamaHost: c.OllamaHost,
	})
	return printOutput(e, out)
}

type historyCmd struct {
	User string `short:"u" required:"" env:"AICHAT_USER" help:"User id."`
	JSON bool   `help:"Print turns as JSON."`
}

func (c *historyCmd) Run(e *env) error {
	if e.app.Store == nil {
		return fmt.Errorf("DB_DSN is not set")
	}
	turns, err := e.app.Store.History(context.Background(), c.User)
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(e.stdout, turns)
	}
	for _, t := range turns {
		fmt.Fprintf(e.stdout, "[%s] you (%s): %s\n", t.CreatedAt.Format(time.RFC3339), t.Tool, t.Prompt)
		fmt.Fprintf(e.stdout, "[%s] %s: %s\n", t.CreatedAt.Format(time.RFC3339), t.AnsweredBy, t.Response)
	}
	return nil
}

type clearCmd struct {
	User string `short:"u" required:"" env:"AICHAT_USER" help:"User id."`
}

func (c *clearCmd) Run(e *env) error {
	if e.app.Store == nil {
		return fmt.Errorf("DB_DSN is not set")
	}
	n, err := e.app.Store.ClearHistory(context.Background(), c.User)
	if err != nil {
		return err
	}
	meta := fmt.Sprintf(`{"deleted":%d,"via":"chatctl"}`, n)
	if err := e.app.Store.LogAction(context.Background(), storage.AuditEntry{UserID: c.User, Action: "history_cleared", MetaJSON: meta}); err != nil {
		return fmt.Errorf("log clear: %w", err)
	}
	fmt.Fprintf(e.stdout, "deleted %d records\n", n)
	return nil
}

type summaryCmd struct {
	User   string `short:"u" required:"" env:"AICHAT_USER" help:"User id."`
	Tool   string `short:"t" default:"Auto" help:"Tool that writes the summary."`
	APIKey string `name:"api-key" env:"AICHAT_API_KEY" help:"Provider credential."`
}

func (c *summaryCmd) Run(e *env) error {
	out := e.app.Gateway.SummarizeHistory(context.Background(), gateway.SummaryInput{
		UserID: c.User,
		Tool:   c.Tool,
		APIKey: c.APIKey,
	})
	return printOutput(e, out)
}

type toolsCmd struct{}

func (c *toolsCmd) Run(e *env) error {
	fmt.Fprintln(e.stdout, "Auto")
	fmt.Fprintln(e.stdout, e.app.Registry.Mock())
	for _, t := range e.app.Registry.Tools() {
		fmt.Fprintln(e.stdout, t)
	}
	return nil
}

type cli struct {
	Send    sendCmd    `cmd:"" help:"Send one prompt and print the answer."`
	History historyCmd `cmd:"" help:"Print a user's stored turns."`
	Clear   clearCmd   `cmd:"" help:"Delete a user's stored turns."`
	Summary summaryCmd `cmd:"" help:"Summarize a user's stored turns."`
	Tools   toolsCmd   `cmd:"" help:"List tool ids."`
	Raw     bool       `help:"Print the full JSON result instead of the answer text." name:"raw"`
	Verbose bool       `short:"v" help:"Log debug output to stderr."`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var c cli
	parser, err := kong.New(&c,
		kong.Name("chatctl"),
		kong.Description("Talk to the configured chat providers from the command line."),
		kong.Writers(stdout, stderr),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	level := zerolog.WarnLevel
	if c.Verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr}).Level(level).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	a, err := app.Build(context.Background(), cfg, logger, app.Options{SkipRedis: true})
	if err != nil {
		fmt.Fprintf(stderr, "init: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := ctx.Run(&env{app: a, stdout: stdout, raw: c.Raw}); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func printOutput(e *env, out gateway.Output) error {
	if e.raw {
		return writeJSON(e.stdout, out)
	}
	if !out.Success {
		return fmt.Errorf("%s: %s", out.Kind, out.Error)
	}
	fmt.Fprintf(e.stdout, "%s: %s\n", out.AIResponse.Tool, out.AIResponse.Response)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
