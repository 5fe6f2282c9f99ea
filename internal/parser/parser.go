package parser

import (
	"errors"

	"github.com/maltedev/threads-scraper/internal/models"
)

var (
	ErrNoDatasetFound   = errors.New("could not find thread data in page")
	ErrMalformedPayload = errors.New("malformed post payload")
)

// RawPostPayload is one post object as embedded in the page: a tree of
// map[string]interface{}, []interface{} and scalars (json.Number, string,
// bool, nil).
type RawPostPayload = interface{}

type Parser interface {
	ExtractScriptBlobs(html string) ([]string, error)
	FindDataset(blobs []string) ([]RawPostPayload, error)
	ParsePost(payload RawPostPayload) (*models.PostRecord, error)
}
