// cmd/reconcile compares a candidate trade ledger against a reference ledger
// and prints the match report.
//
// Usage:
//
//	go run ./cmd/reconcile --reference=reference.json --candidate=ledger.json --tolerance=2h
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/config"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/logger"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/portfolio"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/reconcile"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file (defaults when empty)")
	refPath := flag.String("reference", "", "Reference ledger JSON (required)")
	candPath := flag.String("candidate", "", "Candidate ledger JSON (required)")
	tolStr := flag.String("tolerance", "", "Entry time window, e.g. 2h (default from config)")
	outPath := flag.String("out", "", "Write the full report JSON here")
	verbose := flag.Bool("v", false, "List missed and extra trades")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[reconcile] config: %v\n", err)
		os.Exit(2)
	}
	logger.New(os.Stderr, "reconcile", cfg.LogLevel)

	if *refPath == "" || *candPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	tol, err := cfg.Tolerance()
	if err != nil {
		log.Fatal().Err(err).Msg("[reconcile] invalid tolerance")
	}
	if *tolStr != "" {
		if tol, err = time.ParseDuration(*tolStr); err != nil {
			log.Fatal().Err(err).Msg("[reconcile] invalid --tolerance")
		}
	}

	ref, err := portfolio.LoadTrades(*refPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *refPath).Msg("[reconcile] load reference failed")
	}
	cand, err := portfolio.LoadTrades(*candPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *candPath).Msg("[reconcile] load candidate failed")
	}

	rep, err := reconcile.Compare(ref, cand, tol)
	if err != nil {
		log.Fatal().Err(err).Msg("[reconcile] compare failed")
	}

	if *outPath != "" {
		data, _ := json.MarshalIndent(rep, "", "  ")
		if err := os.WriteFile(*outPath, data, 0o644); err != nil {
			log.Fatal().Err(err).Msg("[reconcile] write report failed")
		}
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║             RECONCILIATION REPORT            ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	fmt.Printf("║  Tolerance:  %-31s ║\n", tol)
	fmt.Printf("║  Reference:  %-31s ║\n", fmt.Sprintf("%d trades, %.3f%%", len(ref), rep.ReferencePnL))
	fmt.Printf("║  Candidate:  %-31s ║\n", fmt.Sprintf("%d trades, %.3f%%", len(cand), rep.CandidatePnL))
	fmt.Printf("║  Matched:    %-31s ║\n", fmt.Sprintf("%d (%.2f%%)", rep.MatchedCount, rep.MatchRate))
	fmt.Printf("║  Missed:     %-31s ║\n", fmt.Sprintf("%d (%.2f%%)", rep.MissedCount, rep.MissedRate))
	fmt.Printf("║  Extra:      %-31s ║\n", fmt.Sprintf("%d (win %.2f%%)", rep.ExtraCount, rep.ExtraWinRate))
	fmt.Printf("║  P&L m/x/m:  %-31s ║\n", fmt.Sprintf("%.3f / %.3f / %.3f", rep.MatchedPnL, rep.ExtraPnL, rep.MissedPnL))
	fmt.Println("╚══════════════════════════════════════════════╝")

	if *verbose {
		for _, t := range rep.Missed {
			fmt.Printf("  missed  %s %-5s %8.3f%%\n", t.EntryTime.Format(time.RFC3339), t.Direction, t.ProfitPct)
		}
		for _, t := range rep.Extra {
			fmt.Printf("  extra   %s %-5s %8.3f%%\n", t.EntryTime.Format(time.RFC3339), t.Direction, t.ProfitPct)
		}
	}
}
