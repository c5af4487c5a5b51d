package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"dogechat/server/internal/agent"
	"dogechat/server/internal/config"
	"dogechat/server/internal/core"
	"dogechat/server/internal/httpapi"
	"dogechat/server/internal/store"
	"dogechat/server/internal/wt"

	"github.com/spf13/pflag"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

const metricsInterval = 30 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cfg := config.Load()

	flagSet := pflag.NewFlagSet("dogechat", pflag.ContinueOnError)
	addr := flagSet.String("addr", cfg.Addr(), "HTTP listen address")
	wtAddr := flagSet.String("wt-addr", cfg.WTAddr, "WebTransport listen address (UDP); empty disables it")
	auditDB := flagSet.String("audit-db", cfg.AuditDB, "SQLite path for the moderation audit log; empty disables it")
	debug := flagSet.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	// Flags after a subcommand belong to it.
	flagSet.SetInterspersed(false)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// Auto-enable debug logging for dev builds; override with --debug.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if handled, err := RunCLI(flagSet.Args(), *auditDB, out); handled {
		return err
	}

	slog.Info("starting server",
		"version", Version,
		"addr", *addr,
		"agent", cfg.AgentEnabled(),
		"speech", cfg.SpeechEnabled(),
		"admin", cfg.AdminCode != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		auditor  core.Auditor
		recorder *store.Recorder
	)
	if *auditDB != "" {
		st, err := store.Open(*auditDB)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("close audit log", "err", closeErr)
			}
		}()
		recorder = store.NewRecorder(st, 0)
		auditor = recorder
		slog.Info("audit log enabled", "db", *auditDB)
	}

	dir := core.NewDirectory(core.Options{
		AdminCode:       cfg.AdminCode,
		HistoryCapacity: cfg.HistoryCapacity,
		RoomIdleTTL:     cfg.RoomIdleTTL,
		AgentName:       cfg.AgentName,
		Auditor:         auditor,
	})
	hub := core.NewHub(dir, core.HubOptions{
		Agent:        newAgent(cfg),
		AgentTimeout: cfg.AgentTimeout,
	})

	var wg sync.WaitGroup
	hubDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(hubDone)
		hub.Run(ctx)
	}()

	if recorder != nil {
		// The recorder outlives the hub so records from its final events
		// are still written.
		recCtx, recCancel := context.WithCancel(context.Background())
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(recCtx)
		}()
		go func() {
			<-hubDone
			recCancel()
		}()
	}

	go core.RunMetrics(ctx, hub, metricsInterval)

	if *wtAddr != "" {
		tlsConfig, fingerprint, err := wt.GenerateTLSConfig(wt.DefaultCertValidity, "")
		if err != nil {
			return fmt.Errorf("generate tls config: %w", err)
		}
		slog.Info("webtransport certificate", "sha256", fingerprint)
		wtServer := wt.NewServer(*wtAddr, tlsConfig, hub)
		go func() {
			if err := wtServer.Run(ctx); err != nil {
				slog.Error("webtransport server error", "err", err)
			}
		}()
	}

	err := httpapi.New(hub).Run(ctx, *addr)
	stop()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// newAgent returns nil when no reply generator is configured so the hub
// answers agent requests with the offline notice.
func newAgent(cfg *config.Config) core.Agent {
	if !cfg.AgentEnabled() {
		return nil
	}
	var synth agent.Synthesizer
	if cfg.SpeechEnabled() {
		synth = agent.NewElevenLabs(nil, agent.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabsKey,
			VoiceID: cfg.VoiceID,
			ModelID: cfg.VoiceModelID,
			BaseURL: cfg.ElevenLabsBaseURL,
			Settings: agent.VoiceSettings{
				Stability:       cfg.VoiceStability,
				SimilarityBoost: cfg.VoiceSimilarity,
				Style:           cfg.VoiceStyle,
				SpeakerBoost:    cfg.VoiceSpeakerBoost,
			},
		})
	}
	generator := agent.NewOpenAI(agent.OpenAIConfig{
		APIKey:  cfg.OpenAIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	return agent.NewBridge(generator, synth, cfg.TTSTimeout)
}
