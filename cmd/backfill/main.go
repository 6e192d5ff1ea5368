/*
main.go - Offline bulk backfill driver

PURPOSE:
  Loads historical receipts from a JSON file and replays them into the
  ledger and rollup tables, one transaction per (committee, day) batch.
  Intended to run out-of-band with the HTTP server: batches within a
  committee share monthly rollup rows.

INPUT FORMAT (JSON):
  {
    "committee-1": [
      {
        "date": "2024-01-15",
        "receipts": [
          {
            "trader_name": "...",
            "commodity_name": "...",
            "value": "1250.00",
            "fees_paid": "25.00",
            "weight_kg": "500",
            "nature_of_receipt": "market_fee",
            "collection_location": "office"
          }
        ]
      }
    ]
  }

IDEMPOTENCY:
  Ledger inserts are duplicate-safe on (committee, book number, receipt
  number), but rollup increments are not deduplicated. Re-running a file
  that was already applied double-increments rollups; follow up with a
  recompute if unsure.

USAGE:
  ./backfill -db="./data/receipts.db" -input=history.json -workers=4

SEE ALSO:
  - rollup/backfill.go: The batch pipeline this drives
  - api/handlers.go: The online equivalent (POST /api/admin/backfill)
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/agrimark/receipt-engine/rollup"
	"github.com/agrimark/receipt-engine/store/sqlite"
)

const dayFormat = "2006-01-02"

// receiptRow mirrors the API receipt request, minus committee and date,
// which come from the enclosing batch.
type receiptRow struct {
	CheckpostID   string          `json:"checkpost_id,omitempty"`
	TraderName    string          `json:"trader_name"`
	CommodityName string          `json:"commodity_name"`
	BookNumber    string          `json:"book_number,omitempty"`
	ReceiptNumber string          `json:"receipt_number,omitempty"`
	Value         decimal.Decimal `json:"value"`
	FeesPaid      decimal.Decimal `json:"fees_paid"`
	WeightKg      decimal.Decimal `json:"weight_kg"`
	Nature        string          `json:"nature_of_receipt"`
	Location      string          `json:"collection_location"`
}

type dayBatch struct {
	Date     string       `json:"date"`
	Receipts []receiptRow `json:"receipts"`
}

func main() {
	_ = godotenv.Load()

	dbPath := flag.String("db", envStr("DATABASE_PATH", "receipts.db"), "SQLite database path")
	input := flag.String("input", "", "JSON file of day batches keyed by committee")
	workers := flag.Int("workers", rollup.DefaultBackfillWorkers, "committee fan-out limit")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *input == "" {
		log.Fatal().Msg("-input is required")
	}

	data, err := os.ReadFile(*input)
	if err != nil {
		log.Fatal().Err(err).Str("input", *input).Msg("failed to read input file")
	}
	var file map[string][]dayBatch
	if err := json.Unmarshal(data, &file); err != nil {
		log.Fatal().Err(err).Msg("failed to parse input file")
	}

	batches, err := toBatches(file)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid input file")
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	backfiller := rollup.NewBackfiller(store, *workers, log)

	start := time.Now()
	if err := backfiller.RunAll(context.Background(), batches); err != nil {
		log.Fatal().Err(err).Msg("backfill failed")
	}
	log.Info().
		Int("committees", len(batches)).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
}

func toBatches(file map[string][]dayBatch) (map[rollup.CommitteeID][]rollup.DayBatch, error) {
	out := make(map[rollup.CommitteeID][]rollup.DayBatch, len(file))
	for committee, dayBatches := range file {
		converted := make([]rollup.DayBatch, 0, len(dayBatches))
		for _, db := range dayBatches {
			date, err := time.ParseInLocation(dayFormat, db.Date, time.UTC)
			if err != nil {
				return nil, &rollup.ValidationError{Field: "date", Reason: "use YYYY-MM-DD"}
			}
			drafts := make([]rollup.ReceiptDraft, 0, len(db.Receipts))
			for _, row := range db.Receipts {
				drafts = append(drafts, rollup.ReceiptDraft{
					CommitteeID:   rollup.CommitteeID(committee),
					CheckpostID:   rollup.CheckpostID(row.CheckpostID),
					TraderName:    row.TraderName,
					CommodityName: row.CommodityName,
					BookNumber:    row.BookNumber,
					ReceiptNumber: row.ReceiptNumber,
					Date:          date,
					Value:         row.Value,
					FeesPaid:      row.FeesPaid,
					WeightKg:      row.WeightKg,
					Nature:        rollup.NatureOfReceipt(row.Nature),
					Location:      rollup.CollectionLocation(row.Location),
				})
			}
			converted = append(converted, rollup.DayBatch{Date: date, Receipts: drafts})
		}
		out[rollup.CommitteeID(committee)] = converted
	}
	return out, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
