package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/alxayo/rp-session/internal/config"
	"github.com/alxayo/rp-session/internal/logger"
	"github.com/alxayo/rp-session/internal/metrics"
	"github.com/alxayo/rp-session/internal/rp/connectinfo"
	"github.com/alxayo/rp-session/internal/rp/quitreason"
	"github.com/alxayo/rp-session/internal/rp/session"
	"github.com/alxayo/rp-session/internal/rp/videoprofile"
)

var (
	enableKeyboardFlag bool
	metricsAddrFlag    string
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Negotiate and run one Remote Play session against a console",
	RunE:  runConnect,
}

func init() {
	connectCmd.Flags().BoolVar(&enableKeyboardFlag, "enable-keyboard", false, "allow on-screen-keyboard text entry")
	connectCmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9400 (disabled if empty)")
	_ = v.BindPFlag("enable_keyboard", connectCmd.Flags().Lookup("enable-keyboard"))
	_ = v.BindPFlag("metrics_addr", connectCmd.Flags().Lookup("metrics-addr"))
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Host == "" {
		return fmt.Errorf("a console --host is required")
	}
	if cfg.LogLevel != "" {
		if err := logger.SetLevel(cfg.LogLevel); err != nil {
			return fmt.Errorf("log level: %w", err)
		}
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		startMetricsServer(cfg.MetricsAddr, reg)
	}

	registKey, err := cfg.RegistKeyBytes()
	if err != nil {
		return err
	}
	morning, err := cfg.MorningBytes()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	ci, err := connectinfo.New(ctx, connectinfo.Params{
		PS5:                       cfg.PS5,
		Host:                      cfg.Host,
		RegistKey:                 registKey,
		Morning:                   morning,
		VideoProfile:              videoprofile.Build(parseResolution(cfg.Resolution), parseFPS(cfg.FPS)),
		VideoProfileAutoDowngrade: cfg.VideoAutoDowngrade,
		EnableKeyboard:            cfg.EnableKeyboard,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("resolve console: %w", err)
	}

	h := newCLIHandler()
	s := session.New(ci, h, m)
	h.session = s

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nstopping session...")
		s.Stop()
	}()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	s.Start(runCtx)

	reason := h.awaitQuit()
	s.Join()
	s.Fini()

	fmt.Printf("session ended: %s\n", reason)
	if reason == quitreason.None {
		return fmt.Errorf("session ended without a terminal reason")
	}
	return nil
}

func parseResolution(s string) videoprofile.Resolution {
	switch s {
	case "360p":
		return videoprofile.Res360p
	case "540p":
		return videoprofile.Res540p
	case "1080p":
		return videoprofile.Res1080p
	default:
		return videoprofile.Res720p
	}
}

func parseFPS(n int) videoprofile.FPS {
	if n == 60 {
		return videoprofile.FPS60
	}
	return videoprofile.FPS30
}

// cliHandler drives the interactive pieces of a session from a terminal: a
// PIN prompt read from stdin, and the final quit reason delivered on quitCh.
type cliHandler struct {
	session *session.Session
	quitCh  chan quitreason.Reason
}

func newCLIHandler() *cliHandler {
	return &cliHandler{quitCh: make(chan quitreason.Reason, 1)}
}

func (h *cliHandler) OnLoginPINRequest(incorrect bool) {
	if incorrect {
		fmt.Println("PIN rejected, try again.")
	}
	fmt.Print("Enter the Remote Play PIN shown on the console: ")
	reader := bufio.NewReader(os.Stdin)
	pin, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read PIN: %v\n", err)
		return
	}
	h.session.SetLoginPin(trimNewline(pin))
}

func (h *cliHandler) OnQuit(reason quitreason.Reason) {
	h.quitCh <- reason
}

func (h *cliHandler) awaitQuit() quitreason.Reason {
	return <-h.quitCh
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func startMetricsServer(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
}
