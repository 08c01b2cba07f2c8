// Command acpmux is acpmux's entry point: it loads configuration, wires the
// session manager and event dispatcher described in SPEC_FULL.md, and runs
// the dispatcher's select loop until the process is asked to quit.
//
// Grounded on the teacher's cmd/kandev/main.go numbered bootstrap style (load
// config -> init logger -> build context -> wire components -> run ->
// graceful shutdown), trimmed of the web-server/event-bus/Docker wiring that
// file also does: acpmux has no HTTP surface, no database, no container
// runtime. Terminal rendering and keyboard/mouse input decoding are out of
// scope per spec.md §1; this binary drives the dispatcher with a minimal
// line-oriented stdin command surface standing in for a real renderer/input
// front end, wired only through the external.InputSource/Renderer contracts.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/raphi011/acpmux/internal/acpconn"
	"github.com/raphi011/acpmux/internal/agentkind"
	"github.com/raphi011/acpmux/internal/config"
	"github.com/raphi011/acpmux/internal/dispatcher"
	"github.com/raphi011/acpmux/internal/external"
	"github.com/raphi011/acpmux/internal/logging"
	"github.com/raphi011/acpmux/internal/manager"
)

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Load configuration (absent file = defaults, per spec.md §6).
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "acpmux: failed to load configuration: %v\n", err)
		return 1
	}

	// 2. Initialize logger.
	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "acpmux: failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Sync()
	logging.SetDefault(log)

	log.Info("starting acpmux",
		zap.String("default_agent", cfg.DefaultAgent),
		zap.Int("mcp_servers", len(cfg.McpServers)))

	// 3. Context cancelled on SIGINT/SIGTERM, mirroring the teacher's
	// graceful-shutdown signal handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Wire the session manager with the configured MCP servers, forwarded
	// verbatim into every session's session/new handshake (spec.md §6).
	mgr := manager.New(log, toConnMcpServers(cfg.McpServers))

	// 5. Wire the dispatcher. Rendering and input decoding are external
	// collaborators (spec.md §1); here they are a no-op renderer and a
	// minimal stdin line reader, the thinnest front end that can still drive
	// the core end to end.
	input := newStdinSource(log)
	go input.run(ctx)

	d := dispatcher.New(log, mgr, input, external.NoopRenderer{}, external.NoopNotifier{}, cfg.Notifications)

	if spec, ok := agentkind.Lookup(cfg.DefaultAgent); ok {
		cwd, err := os.Getwd()
		if err != nil {
			log.Warn("failed to resolve working directory for default agent", zap.Error(err))
		} else {
			mgr.Spawn(spec.Kind, cwd)
		}
	}

	log.Info("acpmux ready, reading commands from stdin")

	if err := d.Run(ctx); err != nil {
		log.Error("dispatcher exited with error", zap.Error(err))
		return 1
	}

	log.Info("acpmux stopped")
	return 0
}

func toConnMcpServers(cfgServers []config.McpServerConfig) []acpconn.McpServer {
	out := make([]acpconn.McpServer, 0, len(cfgServers))
	for _, s := range cfgServers {
		out = append(out, acpconn.McpServer{
			Name:    s.Name,
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
		})
	}
	return out
}

// stdinSource reads newline-delimited commands from stdin and translates
// them into external.Intent values. It is deliberately minimal: the real
// keyboard/mouse-decoding front end named in spec.md §1's out-of-scope list
// is a separate collaborator entirely; this is only enough of a driver for
// acpmux to be runnable without one.
//
// Recognized commands, one per line:
//
//	spawn <kind> <cwd>        spawn a new session
//	send <id> <text...>       send a prompt to session id
//	allow <id> <optionId>     resolve a pending permission
//	deny <id>                 resolve a pending permission as cancelled
//	focus <n>                 focus the nth session (1-indexed, registration order)
//	next / prev               cycle focus
//	mode <id>                 cycle permission mode
//	kill <id>                 kill session id
//	clear <id>                remove crashed/killed session id (no respawn)
//	dup <id>                  duplicate session id
//	quit                      quit acpmux
type stdinSource struct {
	log *logging.Logger
	ch  chan external.Intent
}

func newStdinSource(log *logging.Logger) *stdinSource {
	return &stdinSource{log: log, ch: make(chan external.Intent, 64)}
}

func (s *stdinSource) Intents() <-chan external.Intent { return s.ch }

func (s *stdinSource) run(ctx context.Context) {
	defer close(s.ch)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		intent, ok := parseCommand(line)
		if !ok {
			s.log.Warn("unrecognized command", zap.String("line", line))
			continue
		}
		select {
		case s.ch <- intent:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		s.log.Warn("stdin read error", zap.Error(err))
	}
}

func parseCommand(line string) (external.Intent, bool) {
	fields := strings.SplitN(line, " ", 3)
	switch fields[0] {
	case "quit", "q":
		return external.Intent{Kind: external.IntentQuit}, true
	case "next":
		return external.Intent{Kind: external.IntentFocusNext}, true
	case "prev":
		return external.Intent{Kind: external.IntentFocusPrev}, true
	case "spawn":
		if len(fields) < 3 {
			return external.Intent{}, false
		}
		return external.Intent{Kind: external.IntentSpawn, AgentKind: fields[1], Cwd: fields[2]}, true
	case "send":
		if len(fields) < 3 {
			return external.Intent{}, false
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return external.Intent{}, false
		}
		return external.Intent{Kind: external.IntentSendPrompt, LocalID: id, Text: fields[2]}, true
	case "allow":
		if len(fields) < 3 {
			return external.Intent{}, false
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return external.Intent{}, false
		}
		return external.Intent{Kind: external.IntentResolvePermission, LocalID: id, Decision: fields[2]}, true
	case "deny":
		if len(fields) < 2 {
			return external.Intent{}, false
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return external.Intent{}, false
		}
		return external.Intent{Kind: external.IntentResolvePermission, LocalID: id, Decision: "cancelled"}, true
	case "focus":
		if len(fields) < 2 {
			return external.Intent{}, false
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return external.Intent{}, false
		}
		return external.Intent{Kind: external.IntentFocusNumber, N: n}, true
	case "mode":
		if len(fields) < 2 {
			return external.Intent{}, false
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return external.Intent{}, false
		}
		return external.Intent{Kind: external.IntentCyclePermissionMode, LocalID: id}, true
	case "kill":
		if len(fields) < 2 {
			return external.Intent{}, false
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return external.Intent{}, false
		}
		return external.Intent{Kind: external.IntentKill, LocalID: id}, true
	case "clear":
		if len(fields) < 2 {
			return external.Intent{}, false
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return external.Intent{}, false
		}
		return external.Intent{Kind: external.IntentClear, LocalID: id}, true
	case "dup":
		if len(fields) < 2 {
			return external.Intent{}, false
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return external.Intent{}, false
		}
		return external.Intent{Kind: external.IntentDuplicate, LocalID: id}, true
	default:
		return external.Intent{}, false
	}
}
