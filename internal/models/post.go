package models

import (
	"encoding/json"
	"strconv"
)

// Columns is the fixed export column order of a PostRecord.
var Columns = []string{
	"text",
	"published_on",
	"id",
	"pk",
	"code",
	"username",
	"user_pic",
	"user_verified",
	"user_pk",
	"user_id",
	"has_audio",
	"reply_count",
	"like_count",
	"images",
	"image_count",
	"videos",
	"url",
}

// PostRecord is the flat form of one embedded post payload. Pointer fields
// are nil when the payload did not carry a value.
type PostRecord struct {
	Text         *string   `json:"text"`
	PublishedOn  *int64    `json:"published_on"`
	ID           string    `json:"id"`
	PK           string    `json:"pk"`
	Code         string    `json:"code"`
	Username     string    `json:"username"`
	UserPic      string    `json:"user_pic"`
	UserVerified *bool     `json:"user_verified"`
	UserPK       string    `json:"user_pk"`
	UserID       string    `json:"user_id"`
	HasAudio     *bool     `json:"has_audio"`
	ReplyCount   *int64    `json:"reply_count"`
	LikeCount    *int64    `json:"like_count"`
	Images       []*string `json:"images"`
	ImageCount   *int64    `json:"image_count"`
	Videos       []string  `json:"videos"`
	URL          string    `json:"url"`
}

// Key identifies the post across rounds: pk, then id, then code.
func (p *PostRecord) Key() string {
	switch {
	case p.PK != "":
		return p.PK
	case p.ID != "":
		return p.ID
	default:
		return p.Code
	}
}

// Row renders the record in Columns order. Absent values become empty
// cells; images and videos are JSON arrays.
func (p *PostRecord) Row() []string {
	return []string{
		stringOrEmpty(p.Text),
		intOrEmpty(p.PublishedOn),
		p.ID,
		p.PK,
		p.Code,
		p.Username,
		p.UserPic,
		boolOrEmpty(p.UserVerified),
		p.UserPK,
		p.UserID,
		boolOrEmpty(p.HasAudio),
		intOrEmpty(p.ReplyCount),
		intOrEmpty(p.LikeCount),
		jsonOrEmpty(p.Images),
		intOrEmpty(p.ImageCount),
		jsonOrEmpty(p.Videos),
		p.URL,
	}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrEmpty(i *int64) string {
	if i == nil {
		return ""
	}
	return strconv.FormatInt(*i, 10)
}

func boolOrEmpty(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func jsonOrEmpty[T any](items []T) string {
	if items == nil {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(data)
}
