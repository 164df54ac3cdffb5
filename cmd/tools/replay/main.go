// replay feeds a JSON-lines transcript of realtime events through a session coordinator and
// prints the emitted intents, the UI notifications and the final view. Every intent is acked
// successfully; pending timers fire once the transcript is exhausted.
//
// Besides inbound event names, a line may carry one of the local actions:
//
//	{"type":"open_session","data":{...session...}}
//	{"type":"load_history","sessionId":"s1","data":[...raw messages...]}
//	{"type":"send","data":{"text":"hello"}}
//	{"type":"select_option","data":{"messageKey":"m1","optionId":"a"}}
//	{"type":"resolve_reconnect","data":{"choice":"continue"}}
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/model/event"
	"github.com/zhouzirui/consult-chat/backend/internal/model/kv"
	"github.com/zhouzirui/consult-chat/backend/internal/service/coordinator"
	"github.com/zhouzirui/consult-chat/backend/internal/service/reconnect"
)

const (
	actionOpen      = "open_session"
	actionHistory   = "load_history"
	actionSend      = "send"
	actionSelect    = "select_option"
	actionReconnect = "resolve_reconnect"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var (
		inputPath string
		viewer    string
		storeDir  string
		verbose   bool
		quiet     bool
	)

	flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	flagSet.SetOutput(stdout)
	flagSet.StringVarP(&inputPath, "file", "f", "-", "JSON-lines transcript to replay (- for stdin)")
	flagSet.StringVar(&viewer, "viewer", string(chat.RoleUser), "role of the local client: user or provider")
	flagSet.StringVar(&storeDir, "store", "", "directory for the persisted reconnection record (default: in memory)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log coordinator activity to stderr")
	flagSet.BoolVarP(&quiet, "quiet", "q", false, "only print the final view")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	role := chat.Role(viewer)
	if !role.Valid() {
		return fmt.Errorf("invalid --viewer %q", viewer)
	}

	input := stdin
	if inputPath != "-" {
		f, err := os.Open(inputPath)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		defer f.Close()
		input = f
	}

	var store kv.Store = kv.NewMemoryStore()
	if storeDir != "" {
		fs, err := kv.NewFileStore(storeDir)
		if err != nil {
			return err
		}
		store = fs
	}

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	out := &printer{w: stdout, quiet: quiet}
	sched := &manualScheduler{}
	coord := coordinator.New(&recordingTransport{out: out}, coordinator.Options{
		Viewer:    role,
		Store:     store,
		Notifier:  coordinator.NotifierFunc(out.notification),
		Scheduler: sched,
		Logger:    logger,
	})

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev event.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		if err := apply(coord, ev); err != nil {
			out.printf("line %d: %s failed: %v\n", line, ev.Name, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	sched.flush()

	view, err := json.MarshalIndent(coord.View(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\n", view)
	return nil
}

func apply(coord *coordinator.Coordinator, ev event.Event) error {
	switch ev.Name {
	case actionOpen:
		var s chat.Session
		if err := ev.Decode(&s); err != nil {
			return err
		}
		_, err := coord.OpenSession(s)
		return err
	case actionHistory:
		var history []chat.RawMessage
		if err := ev.Decode(&history); err != nil {
			return err
		}
		return coord.LoadHistory(ev.SessionID, history)
	case actionSend:
		var data struct {
			Text string `json:"text"`
		}
		if err := ev.Decode(&data); err != nil {
			return err
		}
		_, err := coord.SendLocal(data.Text)
		return err
	case actionSelect:
		var data struct {
			MessageKey string `json:"messageKey"`
			OptionID   string `json:"optionId"`
		}
		if err := ev.Decode(&data); err != nil {
			return err
		}
		_, err := coord.SelectOption(data.MessageKey, data.OptionID)
		return err
	case actionReconnect:
		var data struct {
			Choice reconnect.Choice `json:"choice"`
		}
		if err := ev.Decode(&data); err != nil {
			return err
		}
		_, err := coord.ResolveReconnect(data.Choice)
		return err
	}
	coord.HandleEvent(ev)
	return nil
}

type printer struct {
	mu    sync.Mutex
	w     io.Writer
	quiet bool
}

func (p *printer) printf(format string, args ...any) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) notification(n coordinator.Notification) {
	data, _ := json.Marshal(n)
	p.printf("notify  %s %s\n", n.Kind, data)
}

// recordingTransport prints every intent and acks it.
type recordingTransport struct {
	out *printer
	seq int
	mu  sync.Mutex
}

func (t *recordingTransport) Emit(name string, payload any, ack event.AckFunc) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.seq++
	id := fmt.Sprintf("replay-%d", t.seq)
	t.mu.Unlock()

	t.out.printf("emit    %s %s\n", name, data)
	if ack != nil {
		ack(event.Ack{OK: true, MessageID: id})
	}
	return nil
}

// manualScheduler holds timers until flush.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (s *manualScheduler) AfterFunc(_ time.Duration, f func()) coordinator.Timer {
	t := &manualTimer{f: f}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return t
}

// flush fires pending timers until none are left. Timers scheduled while flushing fire too.
func (s *manualScheduler) flush() {
	for {
		s.mu.Lock()
		pending := s.timers
		s.timers = nil
		s.mu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, t := range pending {
			if t.Stop() {
				t.f()
			}
		}
	}
}
