// navibench replays synthetic task commands against a running navi server and
// reports time-to-completion per task. It exercises the same websocket surface
// real clients use.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/navi/internal/protocol"
	"github.com/ent0n29/navi/internal/tasks"
)

type options struct {
	baseURL     string
	userID      string
	count       int
	taskTimeout time.Duration
	interDelay  time.Duration
	commands    []string
	verbose     bool
}

var defaultCommands = []string{
	"open the store page then click the login button",
	"search for wireless headphones then open the first result",
	"go to the cart then click checkout",
	"find the contact page then type a short message",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "navibench: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "navibench: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var commandsRaw string
	var taskTimeoutMS int
	var interDelayMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "navi base URL")
	flag.StringVar(&cfg.userID, "user-id", "bench-replay", "user_id used for the synthetic session")
	flag.IntVar(&cfg.count, "tasks", 10, "number of tasks to replay")
	flag.IntVar(&taskTimeoutMS, "task-timeout-ms", 30000, "timeout waiting for each task to settle in milliseconds")
	flag.IntVar(&interDelayMS, "inter-task-ms", 100, "delay between tasks in milliseconds")
	flag.StringVar(&commandsRaw, "commands", "", "commands separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.count <= 0 {
		return options{}, fmt.Errorf("tasks must be > 0")
	}
	if taskTimeoutMS < 1000 {
		taskTimeoutMS = 1000
	}
	if interDelayMS < 0 {
		interDelayMS = 0
	}
	cfg.taskTimeout = time.Duration(taskTimeoutMS) * time.Millisecond
	cfg.interDelay = time.Duration(interDelayMS) * time.Millisecond

	if strings.TrimSpace(commandsRaw) == "" {
		cfg.commands = append([]string(nil), defaultCommands...)
	} else {
		for _, part := range strings.Split(commandsRaw, "|") {
			c := strings.TrimSpace(part)
			if c != "" {
				cfg.commands = append(cfg.commands, c)
			}
		}
		if len(cfg.commands) == 0 {
			return options{}, fmt.Errorf("commands produced no non-empty entries")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("navibench: session=%s tasks=%d\n", sessionID, cfg.count)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	settled := make(chan settledTask, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, settled, readErrCh, cfg.verbose)

	var durations []time.Duration
	failures := 0
	for i := 0; i < cfg.count; i++ {
		select {
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		default:
		}

		command := cfg.commands[i%len(cfg.commands)]
		if cfg.verbose {
			fmt.Printf("navibench: task %d/%d command=%q\n", i+1, cfg.count, command)
		}

		start := time.Now()
		if err := sendStartTask(conn, sessionID, cfg.userID, command); err != nil {
			return fmt.Errorf("task %d send: %w", i+1, err)
		}
		outcome, err := awaitSettled(settled, readErrCh, cfg.taskTimeout)
		if err != nil {
			return fmt.Errorf("task %d await: %w", i+1, err)
		}
		durations = append(durations, time.Since(start))
		if !outcome.completed {
			failures++
		}
		if cfg.interDelay > 0 && i < cfg.count-1 {
			time.Sleep(cfg.interDelay)
		}
	}

	printSummary(durations, failures)
	return nil
}

type settledTask struct {
	taskID    string
	completed bool
}

func readLoop(conn *websocket.Conn, settled chan<- settledTask, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env struct {
			Type  string      `json:"type"`
			Event tasks.Event `json:"event"`
			Code  string      `json:"code"`
			OK    *bool       `json:"ok"`
			Op    string      `json:"op"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeTaskEvent):
			switch env.Event.Type {
			case tasks.EventTaskCompleted:
				select {
				case settled <- settledTask{taskID: env.Event.TaskID, completed: true}:
				default:
				}
			case tasks.EventTaskFailed:
				select {
				case settled <- settledTask{taskID: env.Event.TaskID, completed: false}:
				default:
				}
			}
		case string(protocol.TypeAck):
			if env.OK != nil && !*env.OK && verbose {
				fmt.Fprintf(os.Stderr, "navibench: nack op=%s\n", env.Op)
			}
		case string(protocol.TypeErrorEvent):
			if verbose {
				fmt.Fprintf(os.Stderr, "navibench: error_event code=%s\n", env.Code)
			}
		}
	}
}

func sendStartTask(conn *websocket.Conn, sessionID, userID, command string) error {
	msg := protocol.StartTask{
		Type:      protocol.TypeStartTask,
		SessionID: sessionID,
		UserID:    userID,
		Command:   command,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func awaitSettled(settled <-chan settledTask, readErrCh <-chan error, timeout time.Duration) (settledTask, error) {
	select {
	case outcome := <-settled:
		return outcome, nil
	case err := <-readErrCh:
		return settledTask{}, fmt.Errorf("ws read: %w", err)
	case <-time.After(timeout):
		return settledTask{}, fmt.Errorf("timed out after %s", timeout)
	}
}

func printSummary(durations []time.Duration, failures int) {
	if len(durations) == 0 {
		fmt.Println("navibench: no tasks settled")
		return
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	fmt.Printf("navibench: settled=%d failed=%d avg=%s p50=%s p95=%s max=%s\n",
		len(sorted), failures,
		(total / time.Duration(len(sorted))).Round(time.Millisecond),
		durationQuantile(sorted, 0.50).Round(time.Millisecond),
		durationQuantile(sorted, 0.95).Round(time.Millisecond),
		sorted[len(sorted)-1].Round(time.Millisecond),
	)
}

// durationQuantile expects sorted input.
func durationQuantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"user_id": cfg.userID,
		"label":   "navibench replay",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
