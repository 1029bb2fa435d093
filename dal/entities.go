package dal

import (
	"time"
)

type Author struct {
	Id              int64
	Username        string
	DisplayName     string
	GithubUrl       string
	ProfileImageUrl string
	CreatedAt       time.Time
}

const (
	VisibilityPublic  = "PUBLIC"
	VisibilityFriends = "FRIENDS"
)

type Post struct {
	Id          int64
	AuthorId    int64
	Title       string
	Description string
	ContentType string // text/markdown, text/plain, application/base64, image/png;base64, image/jpeg;base64
	Content     string
	Visibility  string // PUBLIC or FRIENDS
	Unlisted    bool
	Published   time.Time
	Categories  []string
}

type Comment struct {
	Id          int64
	PostId      int64
	AuthorId    int64
	Comment     string
	ContentType string
	Published   time.Time
}

// RemoteComment carries only the acting author's URL; the author itself
// lives on a peer and is not locally resolvable.
type RemoteComment struct {
	Id          int64
	PostId      int64
	AuthorUrl   string
	Comment     string
	ContentType string
	Published   time.Time
}

type Like struct {
	AuthorId int64
	PostId   int64
}

type CommentLike struct {
	AuthorId  int64
	CommentId int64
}

type RemoteLike struct {
	AuthorUrl string
	PostId    int64
}

// Follow is a directed edge between two local authors. A symmetric pair
// of edges constitutes a true friend relationship.
type Follow struct {
	FollowerId int64
	FolloweeId int64
	Created    time.Time
}

// Request is a pending local follow request, consumed on accept/reject.
type Request struct {
	FromId  int64
	ToId    int64
	Created time.Time
}

type RemoteRequest struct {
	FromUrl string
	ToId    int64
	Created time.Time
}

// RemoteFollow records that a local author follows an author on a peer.
type RemoteFollow struct {
	FollowerId  int64
	FolloweeUrl string
	Created     time.Time
}
