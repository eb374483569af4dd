// mockagent simulates a coding-agent CLI for testing the supervisor. It
// speaks the same stream-json stdout shape the claude adapter parses and can
// be scripted via flags to emit limit lines, auth failures, hangs and
// arbitrary exit codes.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"
)

func main() {
	lines := flag.Int("lines", 2, "Number of assistant output lines to emit")
	delay := flag.Duration("delay", 10*time.Millisecond, "Delay between output lines")
	result := flag.String("result", "done", "Final result text (empty to skip)")
	stderrLine := flag.String("stderr-line", "", "Raw line to emit on stderr")
	rateLimit := flag.Bool("rate-limit", false, "Emit a rate-limit line on stderr")
	usageLimit := flag.Int64("usage-limit", 0, "Emit a usage-limit line on stderr with this reset epoch")
	authError := flag.Bool("auth-error", false, "Emit an authentication failure line on stderr")
	hang := flag.Bool("hang", false, "Sleep forever after emitting output (for timeout tests)")
	exitCode := flag.Int("exit", 0, "Exit code")
	flag.String("session-id", "", "Session id (accepted for claude CLI compatibility, unused)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	emit := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			logger.Error("failed to marshal line", "error", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
	}

	for i := 0; i < *lines; i++ {
		emit(map[string]any{
			"type": "assistant",
			"message": map[string]any{
				"content": []map[string]any{
					{"type": "text", "text": fmt.Sprintf("working on step %d", i+1)},
				},
			},
		})
		time.Sleep(*delay)
	}

	if *stderrLine != "" {
		fmt.Fprintln(os.Stderr, *stderrLine)
	}
	if *rateLimit {
		fmt.Fprintln(os.Stderr, "Error: 429 Too Many Requests")
	}
	if *usageLimit > 0 {
		fmt.Fprintf(os.Stderr, "Claude AI usage limit reached|%d\n", *usageLimit)
	}
	if *authError {
		fmt.Fprintln(os.Stderr, "Error: Invalid API key. Please run /login")
	}

	if *result != "" {
		emit(map[string]any{
			"type":     "result",
			"subtype":  "success",
			"is_error": *exitCode != 0,
			"result":   *result,
		})
	}

	if *hang {
		for {
			time.Sleep(time.Hour)
		}
	}

	os.Exit(*exitCode)
}
