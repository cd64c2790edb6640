// Command conciergeserver wires the config loader, session store, tool
// registry, transition engine, goal agent, orchestrator, voice pipeline,
// event sinks, and semantic evaluator into one running process. It
// assembles the components, runs a stdin/stdout REPL for manual
// exercising of a turn, and serves the operator surface on /metrics;
// transport glue (HTTP/WebSocket turn APIs) is a separate concern layered
// on top of the orchestrator by its callers.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"goa.design/clue/log"

	"github.com/fieldservice/concierge/internal/agent"
	"github.com/fieldservice/concierge/internal/config"
	"github.com/fieldservice/concierge/internal/events"
	"github.com/fieldservice/concierge/internal/model"
	"github.com/fieldservice/concierge/internal/orchestrator"
	"github.com/fieldservice/concierge/internal/semantic"
	"github.com/fieldservice/concierge/internal/session"
	"github.com/fieldservice/concierge/internal/telemetry"
	"github.com/fieldservice/concierge/internal/tools"
	"github.com/fieldservice/concierge/internal/transition"
	"github.com/fieldservice/concierge/internal/voice"
)

func main() {
	var (
		configPathF   = flag.String("config", "testdata/config_6goal.yaml", "path to the goal graph YAML")
		sessionDirF   = flag.String("session-dir", "", "directory for the file-backed session store (empty uses an in-memory store)")
		metricsAddrF  = flag.String("metrics-addr", ":9090", "address the /metrics operator surface listens on")
		anthropicKeyF = flag.String("anthropic-api-key", os.Getenv("ANTHROPIC_API_KEY"), "Anthropic API key")
		modelIDF      = flag.String("model", "claude-3-5-sonnet-latest", "default Anthropic model identifier")
		llmRPSF       = flag.Float64("llm-rps", 0, "cap on LLM requests per second (0 disables the limiter)")
		dbgF          = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clueLog := telemetry.NewClueLogger()
	clueMetrics := telemetry.NewClueMetrics()
	clueTracer := telemetry.NewClueTracer()

	graph, err := loadGraph(*configPathF)
	if err != nil {
		log.Fatalf(ctx, err, "load config")
	}

	store := newSessionStore(*sessionDirF, clueLog, clueMetrics)

	registry := tools.NewRegistry(store, clueLog)
	if err := registerDemoTools(registry); err != nil {
		log.Fatalf(ctx, err, "register tools")
	}
	if err := graph.ValidateToolNames(registry.Known); err != nil {
		log.Fatalf(ctx, err, "validate tool references")
	}

	if *anthropicKeyF == "" {
		log.Fatal(ctx, fmt.Errorf("anthropic-api-key (or ANTHROPIC_API_KEY) is required"))
	}
	var client model.Client
	client, err = model.NewAnthropicClientFromAPIKey(*anthropicKeyF, *modelIDF)
	if err != nil {
		log.Fatalf(ctx, err, "build anthropic client")
	}
	if *llmRPSF > 0 {
		client, err = model.NewRateLimitedClient(client, *llmRPSF, 2)
		if err != nil {
			log.Fatalf(ctx, err, "build rate limiter")
		}
	}

	bus := events.NewBus(256, clueLog, clueMetrics)
	defer bus.Close()
	bus.Register(events.NewLogSink(clueLog))
	promSink := events.NewPrometheusSink()
	promSink.TrackSessions(func() float64 { return float64(store.ActiveSessions()) })
	bus.Register(promSink)

	recorder := events.NewRecorder(bus)
	evaluator := semantic.NewEvaluator(client, clueLog).WithThreshold(graph.Limits.SemanticConfidence)
	engine := transition.NewEngine(store, evaluator, recorder, clueLog)
	goalAgent := agent.NewAgent(client, registry, recorder, clueLog)
	orch := orchestrator.New(store, graph, goalAgent, engine, registry, bus, clueLog, clueMetrics,
		orchestrator.WithTracer(clueTracer),
		orchestrator.WithHistoryWindow(graph.Limits.HistoryWindow),
	)

	pipeline := voice.New(orchTurnRunner{orch}, noopSTT{}, noopTTS{}, voice.Config{
		SentenceMaxChars: graph.Limits.SentenceMaxChars,
		VoiceID:          graph.Limits.VoiceID,
	}, clueLog)
	_ = pipeline // wired for completeness; exercised by callers with a real STT/TTS provider.

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	httpSrv := &http.Server{Addr: *metricsAddrF, Handler: promSink.Handler()}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf(ctx, "metrics listening on %s", *metricsAddrF)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runREPL(ctx, orch)
		errc <- fmt.Errorf("repl closed")
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	wg.Wait()
	log.Printf(ctx, "exited")
}

func loadGraph(path string) (*config.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return config.Load(data)
}

func newSessionStore(dir string, logger telemetry.Logger, metrics telemetry.Metrics) session.Store {
	if dir == "" {
		return session.NewStore(session.NewMemoryBackend(), logger, session.WithMetrics(metrics))
	}
	backend, err := session.NewFileBackend(dir)
	if err != nil {
		panic(err) // flag value is operator-controlled, fail fast at startup
	}
	return session.NewStore(backend, logger, session.WithMetrics(metrics))
}

// runREPL reads one line of customer input at a time from stdin, runs a
// turn for a fixed demo session, and prints the streamed assistant text.
// It is a manual-testing affordance standing in for a real transport.
func runREPL(ctx context.Context, orch *orchestrator.Orchestrator) {
	const sid = "repl-session"
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("concierge> (type a message, Ctrl-D to quit)")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		chunks, reportCh := orch.Turn(ctx, sid, text)
		for c := range chunks {
			if c.Text != "" {
				fmt.Print(c.Text)
			}
		}
		fmt.Println()
		report := <-reportCh
		if report.Aborted {
			fmt.Printf("[turn aborted: %s]\n", report.AbortReason)
		}
		if report.SessionTerminal {
			fmt.Println("[session closed]")
			return
		}
	}
}

// orchTurnRunner adapts *orchestrator.Orchestrator to voice.TurnRunner.
type orchTurnRunner struct{ o *orchestrator.Orchestrator }

func (r orchTurnRunner) Turn(ctx context.Context, sid, userText string) (<-chan orchestrator.Chunk, <-chan orchestrator.Report) {
	return r.o.Turn(ctx, sid, userText)
}

// noopSTT and noopTTS are the demo-process stand-ins for real speech
// providers; a deployment wires voice.New with a provider speaking to an
// actual STT/TTS vendor instead.
type noopSTT struct{}

func (noopSTT) Transcribe(context.Context, []byte, string) (string, error) {
	return "", fmt.Errorf("conciergeserver: no STT provider configured")
}

type noopTTS struct{}

func (noopTTS) Synthesize(context.Context, string, string) ([]byte, error) {
	return nil, fmt.Errorf("conciergeserver: no TTS provider configured")
}
