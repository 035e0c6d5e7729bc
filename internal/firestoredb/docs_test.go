package firestoredb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chippo_portfolio/internal/model"
)

func TestPortfolioDoc_ClientWrittenImagesUseURLAsRef(t *testing.T) {
	d := portfolioDoc{
		Title:    "Demo",
		Category: "design",
		Images:   []string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png"},
		Views:    3,
	}

	p := d.toModel("p1")

	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, model.CategoryDesign, p.Category)
	assert.Equal(t, 3, p.Views)
	assert.Equal(t, []model.Image{
		{Ref: "https://cdn.example.com/a.png", URL: "https://cdn.example.com/a.png"},
		{Ref: "https://cdn.example.com/b.png", URL: "https://cdn.example.com/b.png"},
	}, p.Images)
}

func TestPortfolioDoc_KeepsStoredRefsInOrder(t *testing.T) {
	images := []model.Image{
		{Ref: "portfolios/u1/1_a.png", URL: "https://cdn.example.com/portfolios/u1/1_a.png"},
		{Ref: "portfolios/u1/2_b.png", URL: "https://cdn.example.com/portfolios/u1/2_b.png"},
	}
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	d := newPortfolioDoc(&model.Portfolio{
		Title:        "Demo",
		Category:     model.CategoryArt,
		Images:       images,
		AuthorID:     "u1",
		AuthorAvatar: "https://cdn.example.com/avatar.png",
	})
	d.CreatedAt = created

	assert.Equal(t, []string{images[0].URL, images[1].URL}, d.Images)
	assert.Equal(t, []string{images[0].Ref, images[1].Ref}, d.ImageRefs)
	assert.Equal(t, []string{}, d.Tags, "tags are written as an empty array, never null")
	assert.Equal(t, "https://cdn.example.com/avatar.png", d.AuthorImage)

	p := d.toModel("p1")
	assert.Equal(t, images, p.Images)
	assert.Equal(t, "https://cdn.example.com/avatar.png", p.AuthorAvatar)
	assert.Equal(t, created, p.CreatedAt)
}

func TestPortfolioDoc_PartialRefsFallBackToURL(t *testing.T) {
	d := portfolioDoc{
		Images:    []string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png"},
		ImageRefs: []string{"portfolios/u1/a.png"},
	}

	p := d.toModel("p1")

	assert.Equal(t, "portfolios/u1/a.png", p.Images[0].Ref)
	assert.Equal(t, "https://cdn.example.com/b.png", p.Images[1].Ref)
}

func TestPortfolioDoc_WithoutImages(t *testing.T) {
	p := portfolioDoc{Title: "Broken"}.toModel("p1")

	assert.Empty(t, p.Images)
	assert.Empty(t, p.FirstImageURL())
}

func TestSplitImages(t *testing.T) {
	urls, refs := splitImages(nil)
	assert.Empty(t, urls)
	assert.Empty(t, refs)

	urls, refs = splitImages([]model.Image{{Ref: "r1", URL: "u1"}, {Ref: "r2", URL: "u2"}})
	assert.Equal(t, []string{"u1", "u2"}, urls)
	assert.Equal(t, []string{"r1", "r2"}, refs)
}

func TestCommentDoc_ToModel(t *testing.T) {
	edited := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	d := commentDoc{Content: "Nice work", AuthorID: "u2", AuthorName: "A", AuthorImage: "https://cdn.example.com/a.png", UpdatedAt: &edited}

	c := d.toModel("c1", "p1")

	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, "p1", c.PortfolioID)
	assert.Equal(t, "https://cdn.example.com/a.png", c.AuthorAvatar)
	assert.True(t, c.Edited())
}
