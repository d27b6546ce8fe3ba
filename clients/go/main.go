// indexerctl - command line client for the Medisphere indexer API
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Mcnoble1/Medisphere-sub001/clients/go/indexer"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := indexer.NewClient(os.Getenv("INDEXER_URL"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "status":
		resp, err := client.Status(ctx)
		exitOnError(err)
		for _, t := range resp.Topics {
			fmt.Printf("  %-14s %-8s seq=%d processed=%d %s\n", t.TopicID, t.Status, t.LastProcessedSequence, t.TotalProcessed, t.LastError)
		}
		fmt.Printf("records: %d  subscriptions: %d\n", resp.TotalRecords, resp.ActiveSubscriptions)

	case "stats":
		resp, err := client.Stats(ctx)
		exitOnError(err)
		printJSON(resp)

	case "history":
		days := 30
		if len(os.Args) > 2 {
			n, err := strconv.Atoi(os.Args[2])
			exitOnError(err)
			days = n
		}
		resp, err := client.History(ctx, days)
		exitOnError(err)
		for _, s := range resp.Snapshots {
			fmt.Printf("  %s  total=%d new=%d verified=%.2f%%\n", s.Date.Format("2006-01-02"), s.TotalRecords, s.NewRecords, s.VerificationRate)
		}

	case "record":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: indexerctl record <message_id>")
			os.Exit(1)
		}
		resp, err := client.Record(ctx, os.Args[2])
		exitOnError(err)
		printJSON(resp)

	case "sync":
		exitOnError(client.TriggerSync(ctx))
		fmt.Println("sync started")

	case "recalculate":
		resp, err := client.RecalculateStats(ctx)
		exitOnError(err)
		printJSON(resp)

	case "backfill":
		days := 30
		if len(os.Args) > 2 {
			n, err := strconv.Atoi(os.Args[2])
			exitOnError(err)
			days = n
		}
		n, err := client.BackfillStats(ctx, days)
		exitOnError(err)
		fmt.Printf("inserted %d snapshots\n", n)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`indexerctl - Medisphere indexer client

Usage: indexerctl <command> [options]

Commands:
  health                  Check server health
  status                  Show per-topic cursors
  stats                   Show today's snapshot
  history [days]          List recent snapshots
  record <message_id>     Look up an indexed record
  sync                    Trigger a backfill (operator)
  recalculate             Recompute today's snapshot (operator)
  backfill [days]         Fill in past snapshots (operator)

Environment:
  INDEXER_URL           Server URL (default: http://localhost:8080)
  INDEXER_OPERATOR      Operator name for admin commands
  INDEXER_PRIVATE_KEY   Base64 Ed25519 private key for admin commands`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
