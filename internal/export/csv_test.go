package export

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

func exportFixture() domain.DisplaySet {
	ts := time.Date(2021, 2, 11, 12, 0, 0, 0, time.UTC)
	return domain.NewDisplaySet([]domain.ClassifiedRecord{
		{
			Signature:   "sig-1",
			Timestamp:   ts,
			Description: "Received SOL",
			Success:     true,
			Amount:      0.5,
			TokenName:   "SOL",
			UsdAmount:   decimal.NewNullDecimal(decimal.NewFromFloat(20.635)),
		},
		{
			Signature:   "sig-2",
			Timestamp:   ts.Add(-time.Hour),
			Description: "Failed transaction",
			TokenName:   "SOL",
		},
	}, 1, 1)
}

func TestFilename(t *testing.T) {
	rng, _ := domain.NewDateRange(
		time.Date(2021, 2, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 2, 12, 0, 0, 0, 0, time.UTC))
	got := Filename("Addr123", rng)
	if got != "debooks_Addr123_2021-02-10_2021-02-12.csv" {
		t.Errorf("Filename = %q", got)
	}
}

func TestWriteCSVWithUSD(t *testing.T) {
	var sb strings.Builder
	if err := WriteCSV(&sb, "Addr123", exportFixture(), true); err != nil {
		t.Fatal(err)
	}

	rows, err := csv.NewReader(strings.NewReader(sb.String())).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	// Header plus every record, page size notwithstanding.
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	wantHeader := []string{"success", "key", "signature", "timestamp", "description", "token_name", "amount", "usd_amount"}
	for i, col := range wantHeader {
		if rows[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], col)
		}
	}

	first := rows[1]
	if first[0] != "true" || first[1] != "Addr123" || first[2] != "sig-1" || first[6] != "0.5" {
		t.Errorf("first row = %v", first)
	}
	if first[7] != "20.64" {
		t.Errorf("usd_amount = %q, want 20.64", first[7])
	}

	// An unpriced record leaves the column blank.
	if rows[2][7] != "" {
		t.Errorf("unpriced usd_amount = %q, want empty", rows[2][7])
	}
}

func TestWriteCSVWithoutUSD(t *testing.T) {
	var sb strings.Builder
	if err := WriteCSV(&sb, "Addr123", exportFixture(), false); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(strings.NewReader(sb.String())).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows[0]) != 7 {
		t.Errorf("header has %d columns, want 7 without conversion", len(rows[0]))
	}
}
