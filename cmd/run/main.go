package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/script-host/service"
)

func main() {
	var (
		scriptFile  = flag.String("script", "", "Path to guest wasm file")
		memLimit    = flag.Uint64("mem-limit", 0, "Memory limit in bytes (0 = unbounded)")
		memReport   = flag.Uint64("mem-report", 0, "Memory report threshold in bytes (0 = 8 MiB default)")
		sender      = flag.Int64("sender", 1, "Sender id for the dispatched message")
		session     = flag.Int64("session", 0, "Correlation id (0 = none)")
		kind        = flag.Uint("kind", 0, "Message kind")
		payload     = flag.String("payload", "", "Message payload")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *scriptFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -script <file.wasm> [-mem-limit n] [-payload data]")
		fmt.Fprintln(os.Stderr, "       run -script <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if *interactive {
		if err := runInteractive(*scriptFile, *memLimit, *memReport); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	msg := service.Message{
		Sender:  *sender,
		Session: *session,
		Kind:    uint32(*kind),
		Payload: []byte(*payload),
	}
	if err := run(*scriptFile, *memLimit, *memReport, msg, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(scriptFile string, memLimit, memReport uint64, msg service.Message, verbose bool) error {
	ctx := context.Background()

	code, err := os.ReadFile(scriptFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	logger := zap.NewNop()
	if verbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		defer logger.Sync()
	}

	svc, err := service.New(service.Config{
		Script:            code,
		MemoryLimitBytes:  memLimit,
		MemoryReportBytes: memReport,
		Logger:            logger,
		OnMemoryThreshold: func(current uint64, above bool) {
			if above {
				fmt.Printf("memory threshold crossed: %d bytes live\n", current)
			}
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("Script: %s (%d bytes)\n", scriptFile, len(code))
	if err := svc.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close(ctx)

	fmt.Printf("Actor ready, %d bytes live\n", svc.MemoryUsed())
	fmt.Printf("Dispatching sender=%d session=%d kind=%d payload=%q\n",
		msg.Sender, msg.Session, msg.Kind, msg.Payload)

	outcome, err := svc.Dispatch(ctx, msg)
	fmt.Printf("Outcome: %s\n", outcome)
	if err != nil {
		fmt.Printf("Detail: %v\n", err)
	}
	fmt.Printf("Memory: %d bytes live\n", svc.MemoryUsed())

	return nil
}
