package firestoredb

import (
	"time"

	"chippo_portfolio/internal/model"
)

// Collection and field names as the web client writes them.
const (
	colPortfolios = "portfolios"
	colComments   = "comments"
	colLikes      = "likes"

	fieldCategory      = "category"
	fieldCreatedAt     = "createdAt"
	fieldUpdatedAt     = "updatedAt"
	fieldAuthorID      = "authorId"
	fieldViews         = "views"
	fieldLikes         = "likes"
	fieldCommentsCount = "commentsCount"
)

type portfolioDoc struct {
	Title         string    `firestore:"title"`
	Description   string    `firestore:"description"`
	Category      string    `firestore:"category"`
	Tags          []string  `firestore:"tags"`
	Images        []string  `firestore:"images"`
	ImageRefs     []string  `firestore:"imageRefs,omitempty"`
	ThumbnailURL  string    `firestore:"thumbnailUrl,omitempty"`
	AuthorID      string    `firestore:"authorId"`
	AuthorName    string    `firestore:"authorName"`
	AuthorImage   string    `firestore:"authorImage"`
	Views         int64     `firestore:"views"`
	Likes         int64     `firestore:"likes"`
	CommentsCount int64     `firestore:"commentsCount"`
	CreatedAt     time.Time `firestore:"createdAt,serverTimestamp"`
	UpdatedAt     time.Time `firestore:"updatedAt,serverTimestamp"`
}

func newPortfolioDoc(p *model.Portfolio) portfolioDoc {
	d := portfolioDoc{
		Title:        p.Title,
		Description:  p.Description,
		Category:     string(p.Category),
		Tags:         p.Tags,
		ThumbnailURL: p.ThumbnailURL,
		AuthorID:     p.AuthorID,
		AuthorName:   p.AuthorName,
		AuthorImage:  p.AuthorAvatar,
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	d.Images, d.ImageRefs = splitImages(p.Images)
	return d
}

func (d portfolioDoc) toModel(id string) model.Portfolio {
	p := model.Portfolio{
		ID:            id,
		Title:         d.Title,
		Description:   d.Description,
		Category:      model.Category(d.Category),
		Tags:          d.Tags,
		ThumbnailURL:  d.ThumbnailURL,
		AuthorID:      d.AuthorID,
		AuthorName:    d.AuthorName,
		AuthorAvatar:  d.AuthorImage,
		Views:         int(d.Views),
		Likes:         int(d.Likes),
		CommentsCount: int(d.CommentsCount),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	p.Images = make([]model.Image, len(d.Images))
	for i, url := range d.Images {
		p.Images[i].URL = url
		// Documents written by the web client carry URLs only; the URL then
		// doubles as the reference.
		if i < len(d.ImageRefs) {
			p.Images[i].Ref = d.ImageRefs[i]
		} else {
			p.Images[i].Ref = url
		}
	}
	return p
}

func splitImages(images []model.Image) (urls, refs []string) {
	urls = make([]string, len(images))
	refs = make([]string, len(images))
	for i, img := range images {
		urls[i] = img.URL
		refs[i] = img.Ref
	}
	return urls, refs
}

type commentDoc struct {
	Content     string     `firestore:"content"`
	AuthorID    string     `firestore:"authorId"`
	AuthorName  string     `firestore:"authorName"`
	AuthorImage string     `firestore:"authorImage"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   *time.Time `firestore:"updatedAt,omitempty"`
}

func (d commentDoc) toModel(id, portfolioID string) model.Comment {
	return model.Comment{
		ID:           id,
		PortfolioID:  portfolioID,
		Content:      d.Content,
		AuthorID:     d.AuthorID,
		AuthorName:   d.AuthorName,
		AuthorAvatar: d.AuthorImage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type likeDoc struct {
	UserID    string    `firestore:"userId"`
	CreatedAt time.Time `firestore:"createdAt"`
}
