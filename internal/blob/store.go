package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"time"

	"chippo_portfolio/internal/model"
)

// ErrNotFound is returned by Get for an unknown reference.
var ErrNotFound = errors.New("blob not found")

// Store saves image bytes and resolves them to public URLs.
type Store interface {
	// Put stores data under key and returns its reference and URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (model.Image, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	// Delete removes ref. Deleting a missing blob is not an error.
	Delete(ctx context.Context, ref string) error
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PortfolioKey builds the storage key for an uploaded image:
// portfolios/{author}/{unix millis}_{file name}.
func PortfolioKey(authorID, fileName string, now time.Time) string {
	name := unsafeName.ReplaceAllString(path.Base(fileName), "_")
	if name == "" || name == "." || name == "_" {
		name = "image"
	}
	return fmt.Sprintf("%s/%s/%d_%s", model.PortfolioFolder, authorID, now.UnixMilli(), name)
}

// ThumbnailKey builds the storage key for a portfolio's rendered thumbnail.
func ThumbnailKey(portfolioID string) string {
	return fmt.Sprintf("%s/%s%s", model.ThumbnailFolder, portfolioID, model.ThumbnailExt)
}
