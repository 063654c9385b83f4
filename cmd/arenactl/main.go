package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/debatearena/arena-gateway/internal/bootstrap"
	"github.com/debatearena/arena-gateway/internal/client"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			if err := runInit(os.Args[2:]); err != nil {
				log.Fatalf("arenactl init failed: %v", err)
			}
			fmt.Println("arena config initialised")
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	fs := flag.NewFlagSet("arenactl", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8090", "arena gateway base URL")
	model := fs.String("model", "loopback-1", "model identifier")
	modelKey := fs.String("key", "pro", "debater key within the conversation")
	topic := fs.String("topic", "", "debate topic (required)")
	position := fs.String("position", "pro", "side to argue")
	intensity := fs.Float64("intensity", 0.5, "argument intensity 0..1")
	turnNumber := fs.Int("turn", 1, "turn number")
	taskID := fs.String("task", "", "conversation task id (new one when empty)")
	quiet := fs.Bool("quiet", false, "print only the final content")
	fs.Usage = printUsage
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if strings.TrimSpace(*topic) == "" {
		printUsage()
		os.Exit(2)
	}

	c := client.New(*baseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		c.Cancel()
	}()

	handle, err := c.Init(ctx, client.InitRequest{
		TaskID:     *taskID,
		Model:      *model,
		ModelKey:   *modelKey,
		Topic:      *topic,
		Position:   *position,
		Intensity:  *intensity,
		TurnNumber: *turnNumber,
	})
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	if !*quiet {
		fmt.Printf("session %s task %s (expires %s)\n", handle.SessionID, handle.TaskID, handle.ExpiresAt)
	}

	var printed int
	err = c.Stream(ctx, handle, func(snap client.Snapshot) {
		if *quiet {
			return
		}
		// print only the newly committed tail so the transcript reads as
		// one continuous generation
		if len(snap.Content) > printed {
			fmt.Print(snap.Content[printed:])
			printed = len(snap.Content)
		}
	})
	if err != nil {
		log.Fatalf("stream failed: %v", err)
	}

	final := c.State()
	if *quiet {
		fmt.Println(final.Content)
		if final.Err != "" {
			log.Fatalf("stream error: %s", final.Err)
		}
		return
	}
	fmt.Println()
	if final.Err != "" {
		log.Fatalf("stream error: %s", final.Err)
	}
	fmt.Printf("response %s tokens=%d cost=%.6f\n", final.ResponseID, final.Usage.TotalTokens, final.Cost)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	root := fs.String("root", ".", "output directory")
	env := fs.String("env", "dev", "environment name")
	port := fs.Int("port", 8090, "daemon listen port")
	providerKind := fs.String("provider", "loopback", "provider kind (loopback|openai)")
	sqlitePath := fs.String("sqlite-path", "", "turn store sqlite path")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return bootstrap.Init(bootstrap.InitOptions{
		Root:        *root,
		Environment: *env,
		Port:        *port,
		Provider:    *providerKind,
		SQLitePath:  *sqlitePath,
		Force:       *force,
	})
}

func printUsage() {
	fmt.Print(`Arena Gateway CLI

Usage:
  arenactl init [flags]            Generate config/setting.ini and overlays
  arenactl --topic "..." [flags]   Stream one debate turn and print it

Flags for init:
  --root string          output directory (default '.')
  --env string           environment name (default 'dev')
  --port int             daemon listen port (default 8090)
  --provider string      provider kind (default 'loopback')
  --sqlite-path string   turn store sqlite path (default ~/.arena/arena.db)
  --force                overwrite existing files

Flags:
  --url string        gateway base URL (default 'http://localhost:8090')
  --model string      model identifier (default 'loopback-1')
  --key string        debater key, e.g. pro or con (default 'pro')
  --topic string      debate topic (required)
  --position string   side to argue (default 'pro')
  --intensity float   argument intensity 0..1 (default 0.5)
  --turn int          turn number (default 1)
  --task string       existing conversation task id (optional)
  --quiet             print only the final content
`)
}
