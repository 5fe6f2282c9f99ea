package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/maltedev/threads-scraper/internal/models"
)

// WriteCSV writes a header and one row per record. The header comes from the
// first record, so an empty input yields an empty header line and no rows.
func WriteCSV(w io.Writer, records []*models.PostRecord) error {
	cw := csv.NewWriter(w)

	header := []string{}
	if len(records) > 0 {
		header = models.Columns
	}

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for i, rec := range records {
		if err := cw.Write(rec.Row()); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
