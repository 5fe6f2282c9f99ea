package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/threads-scraper/internal/models"
)

// PostRepository stores scrape sessions and the posts they produced.
type PostRepository struct {
	db *DB
}

func NewPostRepository(db *DB) *PostRepository {
	return &PostRepository{db: db}
}

const insertSessionSQL = `
	INSERT INTO scrape_sessions (
		id, url, cutoff_days, rounds, stop_reason,
		record_count, oldest_published_on, started_at, finished_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9
	)`

const upsertPostSQL = `
	INSERT INTO thread_posts (
		post_key, id, pk, code, text, published_on,
		username, user_pic, user_verified, user_pk, user_id,
		has_audio, reply_count, like_count, images, image_count,
		videos, url, last_session_id
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, $17, $18, $19
	)
	ON CONFLICT (post_key) DO UPDATE SET
		text = EXCLUDED.text,
		published_on = EXCLUDED.published_on,
		user_pic = EXCLUDED.user_pic,
		user_verified = EXCLUDED.user_verified,
		has_audio = EXCLUDED.has_audio,
		reply_count = EXCLUDED.reply_count,
		like_count = EXCLUDED.like_count,
		images = EXCLUDED.images,
		image_count = EXCLUDED.image_count,
		videos = EXCLUDED.videos,
		url = EXCLUDED.url,
		last_session_id = EXCLUDED.last_session_id,
		updated_at = NOW()`

// SaveScrapeWithTx writes the session row and upserts every keyed post. Posts
// without pk, id or code cannot be keyed and are left out. A key seen more
// than once is written once, from its last record; the count of distinct
// stored posts is returned.
func (r *PostRepository) SaveScrapeWithTx(ctx context.Context, tx pgx.Tx, result *models.ScrapeResult) (int, error) {
	_, err := tx.Exec(ctx, insertSessionSQL,
		result.SessionID, result.URL, result.CutoffDays, result.Rounds, string(result.StopReason),
		len(result.Records), result.OldestPublishedOn, result.StartedAt, result.FinishedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert scrape session: %w", err)
	}

	batch := &pgx.Batch{}
	for _, rec := range latestByKey(result.Records) {
		args, ok, err := postArgs(rec, result)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		batch.Queue(upsertPostSQL, args...)
	}

	if batch.Len() == 0 {
		return 0, nil
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("failed to upsert post %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("failed to close batch: %w", err)
	}

	return batch.Len(), nil
}

// CountPosts returns the number of distinct posts stored.
func (r *PostRepository) CountPosts(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM thread_posts").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}

// latestByKey keeps the last record of every key, in first-seen key order.
// Unkeyed records are dropped.
func latestByKey(records []*models.PostRecord) []*models.PostRecord {
	index := make(map[string]int, len(records))
	out := make([]*models.PostRecord, 0, len(records))
	for _, rec := range records {
		key := rec.Key()
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			out[i] = rec
			continue
		}
		index[key] = len(out)
		out = append(out, rec)
	}
	return out
}

func postArgs(rec *models.PostRecord, result *models.ScrapeResult) ([]interface{}, bool, error) {
	key := rec.Key()
	if key == "" {
		return nil, false, nil
	}

	images, err := jsonArray(rec.Images)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode images of %s: %w", key, err)
	}
	videos, err := jsonArray(rec.Videos)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode videos of %s: %w", key, err)
	}

	return []interface{}{
		key, nullable(rec.ID), nullable(rec.PK), nullable(rec.Code), rec.Text, rec.PublishedOn,
		nullable(rec.Username), nullable(rec.UserPic), rec.UserVerified, nullable(rec.UserPK), nullable(rec.UserID),
		rec.HasAudio, rec.ReplyCount, rec.LikeCount, images, rec.ImageCount,
		videos, nullable(rec.URL), result.SessionID,
	}, true, nil
}

func jsonArray[T any](items []T) ([]byte, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
