package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/taskibot/internal/protocol"
)

type options struct {
	baseURL      string
	rounds       int
	startDelay   time.Duration
	interMessage time.Duration
	replyTimeout time.Duration
	script       []string
	verbose      bool
}

type wsEnvelope struct {
	Type        string `json:"type"`
	ChatID      string `json:"chat_id,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	Code        string `json:"code,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Text        string `json:"text,omitempty"`
	State       string `json:"state,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
}

type sample struct {
	text    string
	outcome string
	latency time.Duration
}

// The default script signs in to the mock backend's demo account and runs
// each task command once. The link step binds the demo account to a
// username, after which the websocket channel refuses it; restart the mock
// backend between runs.
var defaultScript = []string{
	"/start",
	"/auth",
	"demo@example.com",
	"demo",
	"chatprobe",
	"/notes",
	"task:Groceries",
	"#home",
	"Probe note | created by chatprobe",
	"/status",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "chatprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var scriptRaw string
	var startDelayMS, interMessageMS, replyTimeoutMS int

	fs := flag.NewFlagSet("chatprobe", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "taskibot base URL")
	fs.IntVar(&cfg.rounds, "rounds", 1, "number of times to replay the script")
	fs.IntVar(&startDelayMS, "start-delay-ms", 0, "delay before the first message in milliseconds")
	fs.IntVar(&interMessageMS, "inter-message-ms", 50, "delay between messages in milliseconds")
	fs.IntVar(&replyTimeoutMS, "reply-timeout-ms", 15000, "timeout waiting for each bot_reply in milliseconds")
	fs.StringVar(&scriptRaw, "script", "", "messages separated by '||' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print each exchange")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.rounds <= 0 {
		return options{}, fmt.Errorf("rounds must be > 0")
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interMessageMS < 0 {
		interMessageMS = 0
	}
	if replyTimeoutMS < 100 {
		replyTimeoutMS = 100
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interMessage = time.Duration(interMessageMS) * time.Millisecond
	cfg.replyTimeout = time.Duration(replyTimeoutMS) * time.Millisecond

	if strings.TrimSpace(scriptRaw) == "" {
		cfg.script = append([]string(nil), defaultScript...)
	} else {
		for _, part := range strings.Split(scriptRaw, "||") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.script = append(cfg.script, t)
			}
		}
		if len(cfg.script) == 0 {
			return options{}, fmt.Errorf("script produced no non-empty messages")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	wsURL, err := wsURLForChat(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	replies := make(chan wsEnvelope, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, replies, readErrCh)

	ready, err := awaitMessage(replies, readErrCh, cfg.replyTimeout, func(m wsEnvelope) bool {
		return m.Type == string(protocol.TypeSystemEvent) && m.Code == "session_ready"
	})
	if err != nil {
		return fmt.Errorf("await session_ready: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("chatprobe: chat=%s rounds=%d messages=%d\n", ready.ChatID, cfg.rounds, len(cfg.script))
	}
	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	var samples []sample
	for round := 0; round < cfg.rounds; round++ {
		for _, text := range cfg.script {
			msgID := uuid.NewString()
			started := time.Now()
			err := conn.WriteJSON(protocol.ClientText{
				Type:        protocol.TypeClientText,
				ClientMsgID: msgID,
				Text:        text,
				TSMs:        started.UnixMilli(),
			})
			if err != nil {
				return fmt.Errorf("send %q: %w", text, err)
			}
			rep, err := awaitMessage(replies, readErrCh, cfg.replyTimeout, func(m wsEnvelope) bool {
				return m.ClientMsgID == msgID && (m.Type == string(protocol.TypeBotReply) || m.Type == string(protocol.TypeErrorEvent))
			})
			if err != nil {
				return fmt.Errorf("await reply to %q: %w", text, err)
			}
			if rep.Type == string(protocol.TypeErrorEvent) {
				return fmt.Errorf("server error for %q: %s %s", text, rep.Code, rep.Detail)
			}
			s := sample{text: text, outcome: rep.Outcome, latency: time.Since(started)}
			samples = append(samples, s)
			if cfg.verbose {
				fmt.Printf("  %-40q -> %-18s %-24s %6.1fms\n", text, rep.Outcome, rep.State, float64(s.latency.Microseconds())/1000)
			}
			if cfg.interMessage > 0 {
				time.Sleep(cfg.interMessage)
			}
		}
	}

	fmt.Print(formatSummary(summarize(samples)))
	return nil
}

func wsURLForChat(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, out chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErrCh <- err
			return
		}
		var msg wsEnvelope
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		out <- msg
	}
}

func awaitMessage(in <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration, match func(wsEnvelope) bool) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case msg := <-in:
			if match(msg) {
				return msg, nil
			}
		case err := <-readErrCh:
			return wsEnvelope{}, err
		case <-timer.C:
			return wsEnvelope{}, fmt.Errorf("timed out after %s", timeout)
		}
	}
}

type summary struct {
	Count    int
	P50      time.Duration
	P95      time.Duration
	Max      time.Duration
	Outcomes map[string]int
}

func summarize(samples []sample) summary {
	s := summary{Count: len(samples), Outcomes: make(map[string]int)}
	if len(samples) == 0 {
		return s
	}
	latencies := make([]time.Duration, 0, len(samples))
	for _, smp := range samples {
		latencies = append(latencies, smp.latency)
		s.Outcomes[smp.outcome]++
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	s.P50 = percentile(latencies, 0.50)
	s.P95 = percentile(latencies, 0.95)
	s.Max = latencies[len(latencies)-1]
	return s
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.999999) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func formatSummary(s summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "chatprobe: messages=%d p50=%s p95=%s max=%s\n", s.Count, s.P50, s.P95, s.Max)
	keys := make([]string, 0, len(s.Outcomes))
	for k := range s.Outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  outcome %-20s %d\n", k, s.Outcomes[k])
	}
	return b.String()
}
