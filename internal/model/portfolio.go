package model

import (
	"errors"
	"time"
)

// Image is one stored portfolio image: the blob reference it was saved under
// and the URL it resolves to.
type Image struct {
	Ref string `db:"ref" json:"ref" firestore:"ref"`
	URL string `db:"url" json:"url" firestore:"url"`
}

// Portfolio is a user-submitted project with images and engagement counters.
type Portfolio struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Category      Category  `json:"category"`
	Tags          []string  `json:"tags"`
	Images        []Image   `json:"images"`
	ThumbnailURL  string    `json:"thumbnail_url,omitempty"`
	AuthorID      string    `json:"author_id"`
	AuthorName    string    `json:"author_name"`
	AuthorAvatar  string    `json:"author_avatar,omitempty"`
	Views         int       `json:"views"`
	Likes         int       `json:"likes"`
	CommentsCount int       `json:"comments_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FirstImageURL returns the URL of the cover image, or "" when there is none.
func (p Portfolio) FirstImageURL() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0].URL
}

// PreloadURLs returns the images a feed card shows: the cover and, when
// rendered, the thumbnail.
func (p Portfolio) PreloadURLs() []string {
	var urls []string
	if u := p.FirstImageURL(); u != "" {
		urls = append(urls, u)
	}
	if p.ThumbnailURL != "" {
		urls = append(urls, p.ThumbnailURL)
	}
	return urls
}

// Edited reports whether the portfolio was modified after creation.
func (p Portfolio) Edited() bool {
	return !p.UpdatedAt.IsZero() && p.UpdatedAt.After(p.CreatedAt)
}

// ImageRefs returns the blob references of all images.
func (p Portfolio) ImageRefs() []string {
	refs := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		refs = append(refs, img.Ref)
	}
	return refs
}

// PortfolioUpdate carries a partial update. Nil fields are left unchanged.
type PortfolioUpdate struct {
	Title        *string
	Description  *string
	Category     *Category
	Tags         []string
	Images       []Image
	ThumbnailURL *string
}

// Edits reports whether the update touches author-editable content, which
// refreshes the last-modified timestamp. A thumbnail alone does not.
func (u PortfolioUpdate) Edits() bool {
	return u.Title != nil || u.Description != nil || u.Category != nil || u.Tags != nil || u.Images != nil
}

// ImageUpload is a file received from the upload or edit form.
type ImageUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// CreatePortfolioRequest is the upload form.
type CreatePortfolioRequest struct {
	Title       string        `json:"title" validate:"required,max=100"`
	Description string        `json:"description" validate:"required,max=5000"`
	Category    string        `json:"category" validate:"required"`
	Tags        []string      `json:"tags" validate:"max=20,dive,max=30"`
	Images      []ImageUpload `json:"-"`
}

// UpdatePortfolioRequest is the edit form. KeepImages lists the refs of
// existing images that survive the edit, in order; NewImages are appended.
type UpdatePortfolioRequest struct {
	Title       string        `json:"title" validate:"required,max=100"`
	Description string        `json:"description" validate:"required,max=5000"`
	Category    string        `json:"category" validate:"required"`
	Tags        []string      `json:"tags" validate:"max=20,dive,max=30"`
	KeepImages  []string      `json:"keep_images"`
	NewImages   []ImageUpload `json:"-"`
}

// ProfileStats sums engagement over an author's portfolios.
type ProfileStats struct {
	TotalViews    int `json:"total_views"`
	TotalLikes    int `json:"total_likes"`
	TotalComments int `json:"total_comments"`
}

// ProfileResponse is the signed-in user's own portfolio page.
type ProfileResponse struct {
	Portfolios []Portfolio  `json:"portfolios"`
	Stats      ProfileStats `json:"stats"`
}

// Portfolio constraints
const (
	MaxPortfolioImages = 10
	MaxTagLength       = 30
	FeaturedCount      = 9
	PortfolioFolder    = "portfolios"
	ThumbnailFolder    = "thumbnails"
)

// Portfolio errors
var (
	ErrPortfolioNotFound = errors.New("portfolio not found")
	ErrNotPortfolioOwner = errors.New("not the owner of this portfolio")
	ErrNoImages          = errors.New("at least one image is required")
	ErrTooManyImages     = errors.New("too many images")
	ErrInvalidCategory   = errors.New("invalid category")
	ErrTitleRequired     = errors.New("title is required")
)
