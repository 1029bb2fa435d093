package dto

import (
	"encoding/json"
)

// ActivityIn is the inbound activity envelope posted to an author's inbox.
// The acting author arrives as "author" (Like) or "actor" (Follow); the
// object is either a URL string or an embedded author representation.
type ActivityIn struct {
	Type         string
	Author       *Author
	ObjectUrl    string
	ObjectAuthor *Author
	ObjectRaw    json.RawMessage
}

func (a *ActivityIn) UnmarshalJSON(data []byte) error {
	var raw rawObject
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Type, _ = pickString(raw, "type")
	if v, ok := pickRaw(raw, "author", "actor"); ok {
		var author Author
		if err := json.Unmarshal(v, &author); err == nil {
			a.Author = &author
		}
	}
	if v, ok := pickRaw(raw, "object"); ok {
		a.ObjectRaw = v
		var asString string
		if err := json.Unmarshal(v, &asString); err == nil {
			a.ObjectUrl = asString
			return nil
		}
		var asAuthor Author
		if err := json.Unmarshal(v, &asAuthor); err == nil {
			a.ObjectAuthor = &asAuthor
		}
	}
	return nil
}

// FollowActivityOut is the outbound follow request sent to the owning
// peer's inbox. Object carries the remote author JSON exactly as received.
type FollowActivityOut struct {
	Type    string          `json:"type"`
	Summary string          `json:"summary"`
	Actor   *Author         `json:"actor"`
	Object  json.RawMessage `json:"object"`
}
