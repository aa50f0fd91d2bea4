package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nano-chat-go/engine"
	"nano-chat-go/model"
)

// ask runs a single prompt against one catalog model and streams the
// answer to stdout. Useful for trying a model without the server.
func main() {
	modelsPath := flag.String("models", "models.json", "model catalog file")
	modelID := flag.String("model", "", "model id from the catalog")
	temperature := flag.Float64("temperature", 0.7, "sampling temperature (0 = greedy)")
	topK := flag.Int("top-k", 0, "top-k sampling cutoff (0 = disabled)")
	topP := flag.Float64("top-p", 0.9, "nucleus sampling cutoff")
	maxTokens := flag.Int("max-tokens", 256, "max tokens to generate")
	maxModelLen := flag.Int("max-model-len", 4096, "context window in tokens")
	stats := flag.Bool("stats", false, "print timing stats after the answer")
	flag.Parse()

	prompt := strings.Join(flag.Args(), " ")
	if prompt == "" || *modelID == "" {
		fmt.Fprintln(os.Stderr, "usage: ask -model <id> [flags] <prompt...>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := run(*modelsPath, *modelID, prompt, *temperature, *topK, *topP, *maxTokens, *maxModelLen, *stats, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(modelsPath, modelID, prompt string, temperature float64, topK int, topP float64, maxTokens, maxModelLen int, stats bool, logger *slog.Logger) error {
	registry, err := model.LoadRegistryFile(modelsPath, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	mdl, err := registry.Get(modelID)
	if err != nil {
		return err
	}

	cfg := engine.NewConfig(engine.WithMaxModelLen(maxModelLen))
	session := engine.NewSession(cfg, mdl.Runner, mdl.Tokenizer)

	promptTokens, err := session.EncodeHistory([]engine.ChatMessage{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return err
	}

	params := engine.ClampSamplingParams(temperature, topP, topK, maxTokens)

	// Ctrl-C stops generation but still prints what arrived.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := session.Run(ctx, promptTokens, params, func(tok engine.Token) error {
		fmt.Print(tok.Text)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Println()

	if stats {
		evalSecs := result.EvalDuration.Seconds()
		rate := 0.0
		if evalSecs > 0 {
			rate = float64(result.EvalCount) / evalSecs
		}
		fmt.Fprintf(os.Stderr, "\nfinish: %s | prompt: %d tokens in %s | eval: %d tokens in %s (%.1f tok/s)\n",
			result.FinishReason, result.PromptTokens, result.PromptDuration.Round(time.Millisecond),
			result.EvalCount, result.EvalDuration.Round(time.Millisecond), rate)
	}
	return nil
}
