// Command sessionctld wires the session control plane components
// together and runs a demonstration session lifecycle end to end. It
// is not an HTTP service; the dashboard/API envelope lives outside
// this module, and this binary exists to prove the wiring the way a
// minimal main would before an HTTP layer is bolted on.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/codeready-toolchain/sessionctl/pkg/bible"
	"github.com/codeready-toolchain/sessionctl/pkg/budget"
	"github.com/codeready-toolchain/sessionctl/pkg/config"
	"github.com/codeready-toolchain/sessionctl/pkg/coordinator"
	"github.com/codeready-toolchain/sessionctl/pkg/handoff"
	"github.com/codeready-toolchain/sessionctl/pkg/metrics"
	"github.com/codeready-toolchain/sessionctl/pkg/opslog"
	"github.com/codeready-toolchain/sessionctl/pkg/retry"
	"github.com/codeready-toolchain/sessionctl/pkg/store/memory"
	"github.com/codeready-toolchain/sessionctl/pkg/tier"
	"github.com/codeready-toolchain/sessionctl/pkg/tokenmeter"
	"github.com/codeready-toolchain/sessionctl/pkg/workerpool"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	bibleRoot := flag.String("bible-root", getEnv("BIBLE_ROOT", "./testdata/bible"), "filesystem root for bible sections")
	flag.Parse()

	slog.Info("starting sessionctld")

	cfg := config.Defaults()
	cfg.BibleRoot = *bibleRoot
	cfg.SigningKey = []byte(getEnv("SESSIONCTL_SIGNING_KEY", "dev-only-signing-key-do-not-use-in-prod"))
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	reg := metrics.New()

	var tok tokenmeter.Tokenizer
	if t := tokenmeter.NewTiktokenTokenizer("cl100k_base"); t != nil {
		tok = t
	}
	meter := tokenmeter.NewMeter(tok)
	tiers := tier.New(cfg, reg)
	budgets := budget.New(cfg, reg)

	packets := memory.NewPacketStore()
	opsBacking := memory.NewOpsLogStore()
	tiers.AttachPersistence(memory.NewTierStore())

	handoffs := handoff.New(cfg.SigningKey, cfg.HandoffRetention, packets, reg)
	ops := opslog.New(opsBacking, 30*time.Minute, reg)
	bibleLoader := bible.New(cfg.BibleRoot, meter, tiers, cfg.BibleSummaryTokens)

	bg := workerpool.New(64, retry.DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bg.Start(ctx, 4)
	defer bg.Stop()

	coord := coordinator.New(cfg, meter, tiers, budgets, bibleLoader, handoffs, ops, bg)

	if n, err := handoffs.Sweep(ctx); err != nil {
		slog.Warn("startup handoff sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("expired handoff packets swept at startup", "count", n)
	}

	runDemoSession(ctx, coord, ops)

	slog.Info("sessionctld demo run complete")
}

// runDemoSession exercises begin → ingest → end against an in-memory
// backing store, logging each transition the way an integration smoke
// test would. It intentionally swallows recoverable errors to keep the
// example linear; a real caller should handle handoff_required and
// denied.
func runDemoSession(ctx context.Context, coord *coordinator.Coordinator, ops *opslog.Log) {
	ticket := coordinator.Ticket{
		ID:   "TICKET-1001",
		Tags: []string{"investigation"},
	}

	handle, err := coord.Begin(ctx, "agent-alpha", ticket)
	if err != nil {
		slog.Error("begin failed", "error", err)
		return
	}

	result, err := coord.Ingest(ctx, handle, "alert-payload", map[string]string{
		"summary": "pod crashlooping in namespace demo",
	}, tier.OriginTicket)
	if err != nil {
		slog.Error("ingest failed", "error", err)
	} else {
		slog.Info("ingest result", "result", result)
	}

	agents, err := ops.CheckActiveAgents(ctx)
	if err != nil {
		slog.Warn("check active agents failed", "error", err)
	} else {
		slog.Info("active agents", "count", len(agents))
	}

	if err := coord.End(ctx, handle, "investigation complete"); err != nil {
		slog.Error("end failed", "error", err)
	}
}
