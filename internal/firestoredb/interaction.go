package firestoredb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"chippo_portfolio/internal/model"
)

// LikeStore keeps one document per liker, keyed by user ID, under
// portfolios/{id}/likes.
type LikeStore struct {
	client *firestore.Client
}

func NewLikeStore(client *firestore.Client) *LikeStore {
	return &LikeStore{client: client}
}

func (s *LikeStore) Exists(ctx context.Context, portfolioID, userID string) (bool, error) {
	_, err := s.client.Collection(colPortfolios).Doc(portfolioID).Collection(colLikes).Doc(userID).Get(ctx)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check like: %w", err)
	}
	return true, nil
}

// Set runs in a transaction, so the like document and the counter cannot
// drift apart even under concurrent toggles.
func (s *LikeStore) Set(ctx context.Context, portfolioID, userID string, liked bool) (model.LikeResult, error) {
	pRef := s.client.Collection(colPortfolios).Doc(portfolioID)
	lRef := pRef.Collection(colLikes).Doc(userID)

	var res model.LikeResult
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		res = model.LikeResult{Liked: liked}

		pSnap, err := tx.Get(pRef)
		if isNotFound(err) {
			return model.ErrPortfolioNotFound
		}
		if err != nil {
			return err
		}
		var d portfolioDoc
		if err := pSnap.DataTo(&d); err != nil {
			return err
		}

		_, err = tx.Get(lRef)
		exists := err == nil
		if err != nil && !isNotFound(err) {
			return err
		}

		res.Likes = int(d.Likes)
		if exists == liked {
			return nil
		}

		delta := 1
		if liked {
			err = tx.Set(lRef, likeDoc{UserID: userID, CreatedAt: time.Now().UTC()})
		} else {
			delta = -1
			err = tx.Delete(lRef)
		}
		if err != nil {
			return err
		}
		if err := tx.Update(pRef, []firestore.Update{{Path: fieldLikes, Value: firestore.Increment(delta)}}); err != nil {
			return err
		}
		res.Likes += delta
		res.Changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrPortfolioNotFound) {
			return model.LikeResult{}, err
		}
		return model.LikeResult{}, fmt.Errorf("set like: %w", err)
	}
	return res, nil
}

// CommentStore keeps comments under portfolios/{id}/comments.
type CommentStore struct {
	client *firestore.Client
}

func NewCommentStore(client *firestore.Client) *CommentStore {
	return &CommentStore{client: client}
}

func (s *CommentStore) col(portfolioID string) *firestore.CollectionRef {
	return s.client.Collection(colPortfolios).Doc(portfolioID).Collection(colComments)
}

func (s *CommentStore) ListByPortfolio(ctx context.Context, portfolioID string) ([]model.Comment, error) {
	docs, err := s.col(portfolioID).OrderBy(fieldCreatedAt, firestore.Desc).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("get comments: %w", err)
	}
	comments := make([]model.Comment, 0, len(docs))
	for _, doc := range docs {
		var d commentDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("decode comment %s: %w", doc.Ref.ID, err)
		}
		comments = append(comments, d.toModel(doc.Ref.ID, portfolioID))
	}
	return comments, nil
}

func (s *CommentStore) Create(ctx context.Context, c *model.Comment) (*model.Comment, error) {
	pRef := s.client.Collection(colPortfolios).Doc(c.PortfolioID)
	ref := s.col(c.PortfolioID).NewDoc()
	d := commentDoc{
		Content:     c.Content,
		AuthorID:    c.AuthorID,
		AuthorName:  c.AuthorName,
		AuthorImage: c.AuthorAvatar,
		CreatedAt:   time.Now().UTC(),
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(pRef); err != nil {
			if isNotFound(err) {
				return model.ErrPortfolioNotFound
			}
			return err
		}
		if err := tx.Create(ref, d); err != nil {
			return err
		}
		return tx.Update(pRef, []firestore.Update{{Path: fieldCommentsCount, Value: firestore.Increment(1)}})
	})
	if err != nil {
		if errors.Is(err, model.ErrPortfolioNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("create comment: %w", err)
	}

	created := d.toModel(ref.ID, c.PortfolioID)
	return &created, nil
}

func (s *CommentStore) Update(ctx context.Context, portfolioID, commentID, authorID, content string) (*model.Comment, error) {
	ref := s.col(portfolioID).Doc(commentID)
	var updated model.Comment

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		d, err := s.owned(tx, ref, authorID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "content", Value: content},
			{Path: fieldUpdatedAt, Value: now},
		}); err != nil {
			return err
		}
		d.Content = content
		d.UpdatedAt = &now
		updated = d.toModel(commentID, portfolioID)
		return nil
	})
	if err != nil {
		return nil, wrapCommentErr("update comment", err)
	}
	return &updated, nil
}

func (s *CommentStore) Delete(ctx context.Context, portfolioID, commentID, authorID string) error {
	pRef := s.client.Collection(colPortfolios).Doc(portfolioID)
	ref := s.col(portfolioID).Doc(commentID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := s.owned(tx, ref, authorID); err != nil {
			return err
		}
		if err := tx.Delete(ref); err != nil {
			return err
		}
		return tx.Update(pRef, []firestore.Update{{Path: fieldCommentsCount, Value: firestore.Increment(-1)}})
	})
	if err != nil {
		return wrapCommentErr("delete comment", err)
	}
	return nil
}

// owned reads the comment inside tx and checks its author.
func (s *CommentStore) owned(tx *firestore.Transaction, ref *firestore.DocumentRef, authorID string) (commentDoc, error) {
	var d commentDoc
	snap, err := tx.Get(ref)
	if isNotFound(err) {
		return d, model.ErrCommentNotFound
	}
	if err != nil {
		return d, err
	}
	if err := snap.DataTo(&d); err != nil {
		return d, err
	}
	if d.AuthorID != authorID {
		return d, model.ErrNotCommentOwner
	}
	return d, nil
}

func wrapCommentErr(op string, err error) error {
	if errors.Is(err, model.ErrCommentNotFound) ||
		errors.Is(err, model.ErrNotCommentOwner) ||
		errors.Is(err, model.ErrPortfolioNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
