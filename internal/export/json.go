package export

import (
	"encoding/json"
	"io"

	"github.com/maltedev/threads-scraper/internal/models"
)

func WriteJSON(w io.Writer, records []*models.PostRecord) error {
	if records == nil {
		records = []*models.PostRecord{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
