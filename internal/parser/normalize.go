package parser

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
	"github.com/maltedev/threads-scraper/internal/models"
)

type fieldMapping struct {
	Field string
	// Path is evaluated against the whole payload.
	Path string
	// Each, when set, is evaluated against every element of the list Path
	// yields, keeping one slot per element.
	Each string
	Set  func(r *models.PostRecord, v interface{})
}

type compiledField struct {
	fieldMapping
	path *jmespath.JMESPath
	each *jmespath.JMESPath
}

// postFields maps a thread item onto a PostRecord. Schema changes belong here.
var postFields = []fieldMapping{
	{Field: "text", Path: "post.caption.text", Set: func(r *models.PostRecord, v interface{}) { r.Text = optString(v) }},
	{Field: "published_on", Path: "post.taken_at", Set: func(r *models.PostRecord, v interface{}) { r.PublishedOn = optInt(v) }},
	{Field: "id", Path: "post.id", Set: func(r *models.PostRecord, v interface{}) { r.ID = asString(v) }},
	{Field: "pk", Path: "post.pk", Set: func(r *models.PostRecord, v interface{}) { r.PK = asString(v) }},
	{Field: "code", Path: "post.code", Set: func(r *models.PostRecord, v interface{}) { r.Code = asString(v) }},
	{Field: "username", Path: "post.user.username", Set: func(r *models.PostRecord, v interface{}) { r.Username = asString(v) }},
	{Field: "user_pic", Path: "post.user.profile_pic_url", Set: func(r *models.PostRecord, v interface{}) { r.UserPic = asString(v) }},
	{Field: "user_verified", Path: "post.user.is_verified", Set: func(r *models.PostRecord, v interface{}) { r.UserVerified = optBool(v) }},
	{Field: "user_pk", Path: "post.user.pk", Set: func(r *models.PostRecord, v interface{}) { r.UserPK = asString(v) }},
	{Field: "user_id", Path: "post.user.id", Set: func(r *models.PostRecord, v interface{}) { r.UserID = asString(v) }},
	{Field: "has_audio", Path: "post.has_audio", Set: func(r *models.PostRecord, v interface{}) { r.HasAudio = optBool(v) }},
	{Field: "reply_count", Path: "view_replies_cta_string", Set: func(r *models.PostRecord, v interface{}) { r.ReplyCount = replyCount(v) }},
	{Field: "like_count", Path: "post.like_count", Set: func(r *models.PostRecord, v interface{}) { r.LikeCount = optInt(v) }},
	{Field: "images", Path: "post.carousel_media", Each: "image_versions2.candidates[1].url", Set: func(r *models.PostRecord, v interface{}) { r.Images = imageSlots(v) }},
	{Field: "image_count", Path: "post.carousel_media_count", Set: func(r *models.PostRecord, v interface{}) { r.ImageCount = optInt(v) }},
	{Field: "videos", Path: "post.video_versions[].url", Set: func(r *models.PostRecord, v interface{}) { r.Videos = uniqueStrings(v) }},
}

func mustCompileFields(fields []fieldMapping) []compiledField {
	out := make([]compiledField, 0, len(fields))
	for _, f := range fields {
		cf := compiledField{fieldMapping: f, path: jmespath.MustCompile(f.Path)}
		if f.Each != "" {
			cf.each = jmespath.MustCompile(f.Each)
		}
		out = append(out, cf)
	}
	return out
}

// ParsePost normalizes one thread item. An item without "post" yields a
// partial record; it fails only when the payload is not an object or "post"
// is present but not an object.
func (p *ThreadsParser) ParsePost(payload RawPostPayload) (*models.PostRecord, error) {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %T", ErrMalformedPayload, payload)
	}
	if post, present := obj["post"]; present && post != nil {
		if _, ok := post.(map[string]interface{}); !ok {
			return nil, fmt.Errorf("%w: post is %T, not an object", ErrMalformedPayload, post)
		}
	}

	record := &models.PostRecord{}
	for _, f := range p.fields {
		v, err := f.path.Search(obj)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, f.Field, err)
		}
		if f.each != nil {
			v = searchEach(f.each, v)
		}
		f.Set(record, v)
	}

	record.URL = PostURL(record.Username, record.Code)
	return record, nil
}

// PostURL builds the public post link. Missing parts render as empty.
func PostURL(username, code string) string {
	return fmt.Sprintf("%s/@%s/post/%s", BaseURL, username, code)
}

// searchEach keeps one result per element, nil where the expression misses.
func searchEach(expr *jmespath.JMESPath, v interface{}) interface{} {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]interface{}, len(items))
	for i, item := range items {
		r, err := expr.Search(item)
		if err == nil {
			out[i] = r
		}
	}
	return out
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func optString(v interface{}) *string {
	if v == nil {
		return nil
	}
	s := asString(v)
	return &s
}

// optInt truncates fractional numbers toward zero. Values outside the int64
// range, NaN and non-numbers yield nil.
func optInt(v interface{}) *int64 {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return &i
		}
		if f, err := t.Float64(); err == nil {
			return floatToInt(f)
		}
	case float64:
		return floatToInt(t)
	case int64:
		return &t
	case int:
		i := int64(t)
		return &i
	}
	return nil
}

func floatToInt(f float64) *int64 {
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil
	}
	i := int64(f)
	return &i
}

func optBool(v interface{}) *bool {
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}

// replyCount keeps numbers and reads strings like "12 replies" or
// "1,204 replies" from their leading token.
func replyCount(v interface{}) *int64 {
	s, ok := v.(string)
	if !ok {
		return optInt(v)
	}

	token, _, _ := strings.Cut(strings.TrimSpace(s), " ")
	token = strings.ReplaceAll(token, ",", "")
	if token == "" {
		return nil
	}

	i, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return nil
	}
	return &i
}

func imageSlots(v interface{}) []*string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]*string, len(items))
	for i, item := range items {
		if s, ok := item.(string); ok {
			out[i] = &s
		}
	}
	return out
}

// uniqueStrings drops duplicates keeping first-seen order; absent input
// yields an empty set.
func uniqueStrings(v interface{}) []string {
	out := []string{}
	items, ok := v.([]interface{})
	if !ok {
		return out
	}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
