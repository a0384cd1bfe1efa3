// Package export renders a display set into downloadable forms.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

// Filename builds the canonical export name for an account statement.
func Filename(account string, rng domain.DateRange) string {
	return fmt.Sprintf("debooks_%s_%s_%s.csv",
		account,
		rng.Start.UTC().Format("2006-01-02"),
		rng.End.UTC().Format("2006-01-02"))
}

// WriteCSV writes every record of the display set (not just the current page)
// as CSV rows. The usd_amount column is included only when conversion is on;
// records whose price was never resolved leave it blank.
func WriteCSV(w io.Writer, account string, set domain.DisplaySet, withUSD bool) error {
	cw := csv.NewWriter(w)

	header := []string{"success", "key", "signature", "timestamp", "description", "token_name", "amount"}
	if withUSD {
		header = append(header, "usd_amount")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, r := range set.Records {
		row := []string{
			strconv.FormatBool(r.Success),
			account,
			r.Signature,
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Description,
			r.TokenName,
			strconv.FormatFloat(r.Amount, 'f', -1, 64),
		}
		if withUSD {
			usd := ""
			if r.UsdAmount.Valid {
				usd = r.UsdAmount.Decimal.StringFixed(2)
			}
			row = append(row, usd)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
