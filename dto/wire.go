package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quilt/shared"
)

// Canonical wire representations exchanged between instances.
//
// Decoding tolerates the field-name variants of older protocol revisions.
// Each field that has historical aliases declares them in an ordered list;
// the first key present wins. Decoding fails only when a required field is
// missing under every accepted name.

var (
	aliasDisplayName  = []string{"displayName", "display_name"}
	aliasContentType  = []string{"contentType", "content_type"}
	aliasProfileImage = []string{"profileImage", "profile_image"}
	aliasCommentsSrc  = []string{"commentsSrc", "comment_src"}
	aliasCommentBody  = []string{"comment", "content"}
)

type rawObject map[string]json.RawMessage

func pickRaw(raw rawObject, keys ...string) (json.RawMessage, bool) {
	for _, key := range keys {
		if v, ok := raw[key]; ok && !bytes.Equal(v, []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

func pickString(raw rawObject, keys ...string) (string, bool) {
	v, ok := pickRaw(raw, keys...)
	if !ok {
		return "", false
	}
	var res string
	if err := json.Unmarshal(v, &res); err != nil {
		return "", false
	}
	return res, true
}

func pickBool(raw rawObject, keys ...string) (bool, bool) {
	v, ok := pickRaw(raw, keys...)
	if !ok {
		return false, false
	}
	var res bool
	if err := json.Unmarshal(v, &res); err != nil {
		return false, false
	}
	return res, true
}

func pickInt(raw rawObject, keys ...string) (int, bool) {
	v, ok := pickRaw(raw, keys...)
	if !ok {
		return 0, false
	}
	var res int
	if err := json.Unmarshal(v, &res); err != nil {
		return 0, false
	}
	return res, true
}

type Author struct {
	Type         string `json:"type"`
	Id           string `json:"id"`
	Url          string `json:"url"`
	Host         string `json:"host"`
	DisplayName  string `json:"displayName"`
	Github       string `json:"github"`
	ProfileImage string `json:"profileImage"`
}

func (a *Author) UnmarshalJSON(data []byte) error {
	var raw rawObject
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var ok bool
	if a.Id, ok = pickString(raw, "id"); !ok {
		return errors.New("author representation is missing 'id'")
	}
	a.Type, _ = pickString(raw, "type")
	if a.Url, ok = pickString(raw, "url"); !ok {
		// id is an opaque, dereferenceable identifier; fall back on it
		a.Url = a.Id
	}
	a.Host, _ = pickString(raw, "host")
	a.DisplayName, _ = pickString(raw, aliasDisplayName...)
	a.Github, _ = pickString(raw, "github")
	a.ProfileImage, _ = pickString(raw, aliasProfileImage...)
	return nil
}

type Post struct {
	Type        string    `json:"type"`
	Id          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ContentType string    `json:"contentType"`
	Content     string    `json:"content"`
	Author      Author    `json:"author"`
	Categories  []string  `json:"categories"`
	Published   string    `json:"published"`
	Visibility  string    `json:"visibility"`
	Unlisted    bool      `json:"unlisted"`
	Origin      string    `json:"origin"`
	Count       int       `json:"count"`
	CommentsSrc *Comments `json:"commentsSrc,omitempty"`
	// Parsed at the codec boundary; never compare raw published strings.
	PublishedAt time.Time `json:"-"`
}

func (p *Post) UnmarshalJSON(data []byte) error {
	var raw rawObject
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var ok bool
	if p.Id, ok = pickString(raw, "id"); !ok {
		return errors.New("post representation is missing 'id'")
	}
	p.Type, _ = pickString(raw, "type")
	p.Title, _ = pickString(raw, "title")
	p.Description, _ = pickString(raw, "description")
	p.ContentType, _ = pickString(raw, aliasContentType...)
	p.Content, _ = pickString(raw, "content")
	p.Visibility, _ = pickString(raw, "visibility")
	p.Unlisted, _ = pickBool(raw, "unlisted")
	p.Origin, _ = pickString(raw, "origin")
	p.Count, _ = pickInt(raw, "count")
	if v, ok := pickRaw(raw, "author"); ok {
		if err := json.Unmarshal(v, &p.Author); err != nil {
			return fmt.Errorf("invalid 'author' in post: %w", err)
		}
	}
	if v, ok := pickRaw(raw, "categories"); ok {
		if err := json.Unmarshal(v, &p.Categories); err != nil {
			return errors.New("invalid 'categories' in post; array of strings expected")
		}
	}
	if v, ok := pickRaw(raw, aliasCommentsSrc...); ok {
		var cs Comments
		if err := json.Unmarshal(v, &cs); err == nil {
			p.CommentsSrc = &cs
		}
	}
	p.Published, _ = pickString(raw, "published")
	if p.Published != "" {
		// A peer with a broken clock format loses ordering, not the post.
		if t, err := shared.ParseTimestamp(p.Published); err == nil {
			p.PublishedAt = t
		}
	}
	return nil
}

type Comment struct {
	Type        string    `json:"type"`
	Id          string    `json:"id"`
	Author      Author    `json:"author"`
	Comment     string    `json:"comment"`
	ContentType string    `json:"contentType"`
	Published   string    `json:"published"`
	PublishedAt time.Time `json:"-"`
}

func (c *Comment) UnmarshalJSON(data []byte) error {
	var raw rawObject
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var ok bool
	if c.Id, ok = pickString(raw, "id"); !ok {
		return errors.New("comment representation is missing 'id'")
	}
	c.Type, _ = pickString(raw, "type")
	c.Comment, _ = pickString(raw, aliasCommentBody...)
	c.ContentType, _ = pickString(raw, aliasContentType...)
	if v, ok := pickRaw(raw, "author"); ok {
		if err := json.Unmarshal(v, &c.Author); err != nil {
			return fmt.Errorf("invalid 'author' in comment: %w", err)
		}
	}
	c.Published, _ = pickString(raw, "published")
	if c.Published != "" {
		if t, err := shared.ParseTimestamp(c.Published); err == nil {
			c.PublishedAt = t
		}
	}
	return nil
}

type Comments struct {
	Type     string    `json:"type"`
	Page     int       `json:"page"`
	Post     string    `json:"post"`
	Id       string    `json:"id"`
	Comments []Comment `json:"comments"`
}

type Like struct {
	Type    string `json:"type"`
	Summary string `json:"summary"`
	Author  Author `json:"author"`
	Object  string `json:"object"`
}

// DecodeItems reads a collection payload. Current peers send
// {"items":[...]}; older revisions send a bare array, and comment
// collections nest under "comments". All three shapes decode.
func DecodeItems(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty collection payload")
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var raw rawObject
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, err
	}
	v, ok := pickRaw(raw, "items", "comments")
	if !ok {
		return nil, errors.New("collection payload has neither 'items' nor 'comments'")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func DecodeAuthors(data []byte) ([]Author, error) {
	items, err := DecodeItems(data)
	if err != nil {
		return nil, err
	}
	res := make([]Author, 0, len(items))
	for _, item := range items {
		var a Author
		if err := json.Unmarshal(item, &a); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

func DecodePosts(data []byte) ([]Post, error) {
	items, err := DecodeItems(data)
	if err != nil {
		return nil, err
	}
	res := make([]Post, 0, len(items))
	for _, item := range items {
		var p Post
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}
