package main

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/inconshreveable/log15"
	"github.com/ngrok/singleton"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// maxInputLine bounds a single line read from stdin.
const maxInputLine = 16 << 20

var joinCmd = &cobra.Command{
	Use:   "join <name>",
	Short: "Join a name as its master or as a client",
	Long: `Join a name as its master if none is running, or as a client of the running
master otherwise. Events are written to stdout as JSON lines. Every line read
from stdin is parsed as JSON and sent: a client sends it to the master, the
master broadcasts it to every client. The process exits on SIGINT or SIGTERM,
or once a client loses its master.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags,
	RunE:    runJoin,
}

func init() {
	key := "detection"
	joinCmd.Flags().String(key, string(singleton.DetectPIDFile), "how a running master is detected (pid, socket)")
	key = "startup-lock"
	joinCmd.Flags().Bool(key, false, "hold a file lock while deciding the role")
	key = "resolve-retries"
	joinCmd.Flags().Int(key, 3, "times to retry when another process bound the socket first")
	key = "resolve-backoff"
	joinCmd.Flags().Duration(key, 50*time.Millisecond, "delay between resolve retries")
	key = "max-frame-size"
	joinCmd.Flags().Uint32(key, 0, "largest serialized message in bytes (0 for no limit)")
	key = "metrics-addr"
	joinCmd.Flags().String(key, "", "address to serve prometheus metrics on, e.g. localhost:9090 (disabled if empty)")
}

// jsonEvent is how events are written to stdout.
type jsonEvent struct {
	Type    singleton.EventType `json:"type"`
	ConnID  string              `json:"conn,omitempty"`
	Message interface{}         `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// eventPrinter writes events as JSON lines. Events arrive from several
// goroutines.
type eventPrinter struct {
	mu    sync.Mutex
	enc   *json.Encoder
	l     log15.Logger
	lostC chan struct{}
}

func newEventPrinter(w io.Writer, l log15.Logger) *eventPrinter {
	return &eventPrinter{
		enc:   json.NewEncoder(w),
		l:     l,
		lostC: make(chan struct{}),
	}
}

func (p *eventPrinter) handle(e singleton.Event) {
	out := jsonEvent{Type: e.Type, ConnID: e.ConnID, Message: e.Message}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	p.mu.Lock()
	if err := p.enc.Encode(out); err != nil {
		p.l.Error("could not write event", "err", err)
	}
	p.mu.Unlock()

	if e.Type == singleton.EventDisconnected {
		close(p.lostC)
	}
}

func detectionFromString(s string) (singleton.Detection, error) {
	switch d := singleton.Detection(s); d {
	case singleton.DetectPIDFile, singleton.DetectSocketFile:
		return d, nil
	default:
		return "", errors.Errorf("invalid detection %q (expected pid or socket)", s)
	}
}

func serveMetrics(addr string, l log15.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	go func() {
		l.Info("serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			l.Error("metrics server stopped", "err", err)
		}
	}()
}

// sendLines sends every JSON line read from r until r is exhausted or the
// instance is closed.
func sendLines(inst *singleton.Instance, r io.Reader, l log15.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxInputLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg interface{}
		if err := json.Unmarshal(line, &msg); err != nil {
			l.Warn("skipping input line that isn't JSON", "err", err)
			continue
		}
		if err := inst.Send(msg); err != nil {
			l.Error("could not send message", "err", err)
		}
	}
	if err := scanner.Err(); err != nil {
		l.Error("error reading input", "err", err)
	}
}

func runJoin(cmd *cobra.Command, args []string) error {
	l, err := newLogger()
	if err != nil {
		return err
	}
	detection, err := detectionFromString(viper.GetString("detection"))
	if err != nil {
		return err
	}
	if addr := viper.GetString("metrics-addr"); addr != "" {
		serveMetrics(addr, l)
	}

	printer := newEventPrinter(cmd.OutOrStdout(), l)
	opts := []singleton.Option{
		singleton.WithLogger(l),
		singleton.WithDir(viper.GetString("dir")),
		singleton.WithDetection(detection),
		singleton.WithEventHandler(printer.handle),
		singleton.WithMaxFrameSize(viper.GetUint32("max-frame-size")),
		singleton.WithResolveRetries(viper.GetInt("resolve-retries"), viper.GetDuration("resolve-backoff")),
	}
	if viper.GetBool("startup-lock") {
		opts = append(opts, singleton.WithStartupLock())
	}

	ctx := cmd.Context()
	inst, err := singleton.New(ctx, args[0], opts...)
	if err != nil {
		return err
	}
	inst.CloseOnSignal(ctx)
	go sendLines(inst, cmd.InOrStdin(), l)

	select {
	case <-inst.Done():
	case <-printer.lostC:
		if err := inst.Close(); err != nil {
			l.Warn("error closing after losing master", "err", err)
		}
	}
	return nil
}
