package test

import (
	"fmt"
	"net/url"
	"sort"

	"quilt/dal"
	"quilt/logic"
	"quilt/shared"
)

// Hand-written test doubles. The repo fake keeps everything in memory
// and mirrors the uniqueness guarantees the real schema enforces.

type nullLogger struct{}

func (l *nullLogger) Debug(msg interface{}, keyvals ...interface{}) {}
func (l *nullLogger) Debugf(format string, args ...interface{})     {}
func (l *nullLogger) Info(msg interface{}, keyvals ...interface{})  {}
func (l *nullLogger) Infof(format string, args ...interface{})      {}
func (l *nullLogger) Warn(msg interface{}, keyvals ...interface{})  {}
func (l *nullLogger) Warnf(format string, args ...interface{})      {}
func (l *nullLogger) Error(msg interface{}, keyvals ...interface{}) {}
func (l *nullLogger) Errorf(format string, args ...interface{})     {}
func (l *nullLogger) Printf(format string, args ...interface{})     {}

type nullObserver struct{}

func (o *nullObserver) Finish() {}

type nullMetrics struct{}

func (m *nullMetrics) StartFedRequestIn(label string) logic.IRequestObserver {
	return &nullObserver{}
}
func (m *nullMetrics) StartFedRequestOut(label string) logic.IRequestObserver {
	return &nullObserver{}
}
func (m *nullMetrics) ActivityApplied(kind string)    {}
func (m *nullMetrics) ActivityRejected(reason string) {}
func (m *nullMetrics) FeedAssembled()                 {}
func (m *nullMetrics) PeerFetchFailed(peer string)    {}
func (m *nullMetrics) TotalPeers(count int)           {}
func (m *nullMetrics) ServiceStarted()                {}

type fakeRepo struct {
	authors        map[int64]*dal.Author
	posts          map[int64]*dal.Post
	streamPosts    []*dal.Post
	comments       []*dal.Comment
	remoteComments []*dal.RemoteComment
	likes          []*dal.Like
	commentLikes   []*dal.CommentLike
	remoteLikes    []*dal.RemoteLike
	requests       []*dal.Request
	remoteRequests []*dal.RemoteRequest
	follows        []*dal.Follow
	remoteFollows  []*dal.RemoteFollow
	nextId         int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		authors: map[int64]*dal.Author{},
		posts:   map[int64]*dal.Post{},
		nextId:  1,
	}
}

func (f *fakeRepo) takeId() int64 {
	id := f.nextId
	f.nextId++
	return id
}

func (f *fakeRepo) InitUpdateDb() {}

func (f *fakeRepo) AddAuthor(author *dal.Author) (int64, error) {
	author.Id = f.takeId()
	f.authors[author.Id] = author
	return author.Id, nil
}

func (f *fakeRepo) GetAuthor(id int64) (*dal.Author, error) {
	return f.authors[id], nil
}

func (f *fakeRepo) GetAuthorsPage(offset, limit int) ([]*dal.Author, int, error) {
	ids := make([]int64, 0, len(f.authors))
	for id := range f.authors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var res []*dal.Author
	for ix := offset; ix < len(ids) && len(res) < limit; ix++ {
		res = append(res, f.authors[ids[ix]])
	}
	return res, len(ids), nil
}

func (f *fakeRepo) AddPost(post *dal.Post) (int64, error) {
	post.Id = f.takeId()
	f.posts[post.Id] = post
	return post.Id, nil
}

func (f *fakeRepo) GetPost(postId int64) (*dal.Post, error) {
	return f.posts[postId], nil
}

func (f *fakeRepo) GetPostsByAuthor(authorId int64) ([]*dal.Post, error) {
	ids := make([]int64, 0, len(f.posts))
	for id := range f.posts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var res []*dal.Post
	for _, id := range ids {
		if f.posts[id].AuthorId == authorId {
			res = append(res, f.posts[id])
		}
	}
	return res, nil
}

func (f *fakeRepo) GetStreamPosts(viewerId int64) ([]*dal.Post, error) {
	return f.streamPosts, nil
}

func (f *fakeRepo) AddComment(c *dal.Comment) (int64, error) {
	c.Id = f.takeId()
	f.comments = append(f.comments, c)
	return c.Id, nil
}

func (f *fakeRepo) AddRemoteComment(c *dal.RemoteComment) (int64, error) {
	c.Id = f.takeId()
	f.remoteComments = append(f.remoteComments, c)
	return c.Id, nil
}

func (f *fakeRepo) GetComments(postId int64) ([]*dal.Comment, error) {
	var res []*dal.Comment
	for _, c := range f.comments {
		if c.PostId == postId {
			res = append(res, c)
		}
	}
	return res, nil
}

func (f *fakeRepo) GetRemoteComments(postId int64) ([]*dal.RemoteComment, error) {
	var res []*dal.RemoteComment
	for _, c := range f.remoteComments {
		if c.PostId == postId {
			res = append(res, c)
		}
	}
	return res, nil
}

func (f *fakeRepo) GetCommentCount(postId int64) (int, error) {
	count := 0
	for _, c := range f.comments {
		if c.PostId == postId {
			count++
		}
	}
	for _, c := range f.remoteComments {
		if c.PostId == postId {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) AddLikeIfNew(authorId, postId int64) (bool, error) {
	for _, l := range f.likes {
		if l.AuthorId == authorId && l.PostId == postId {
			return false, nil
		}
	}
	f.likes = append(f.likes, &dal.Like{AuthorId: authorId, PostId: postId})
	return true, nil
}

func (f *fakeRepo) AddCommentLikeIfNew(authorId, commentId int64) (bool, error) {
	for _, l := range f.commentLikes {
		if l.AuthorId == authorId && l.CommentId == commentId {
			return false, nil
		}
	}
	f.commentLikes = append(f.commentLikes, &dal.CommentLike{AuthorId: authorId, CommentId: commentId})
	return true, nil
}

func (f *fakeRepo) AddRemoteLikeIfNew(authorUrl string, postId int64) (bool, error) {
	for _, l := range f.remoteLikes {
		if l.AuthorUrl == authorUrl && l.PostId == postId {
			return false, nil
		}
	}
	f.remoteLikes = append(f.remoteLikes, &dal.RemoteLike{AuthorUrl: authorUrl, PostId: postId})
	return true, nil
}

func (f *fakeRepo) GetPostLikes(postId int64) ([]*dal.Like, error) {
	var res []*dal.Like
	for _, l := range f.likes {
		if l.PostId == postId {
			res = append(res, l)
		}
	}
	return res, nil
}

func (f *fakeRepo) GetLikeCount(postId int64) (int, error) {
	likes, _ := f.GetPostLikes(postId)
	return len(likes), nil
}

func (f *fakeRepo) GetRemoteLikeCount(postId int64) (int, error) {
	count := 0
	for _, l := range f.remoteLikes {
		if l.PostId == postId {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) AddRequestIfNew(fromId, toId int64) (bool, error) {
	for _, r := range f.requests {
		if r.FromId == fromId && r.ToId == toId {
			return false, nil
		}
	}
	f.requests = append(f.requests, &dal.Request{FromId: fromId, ToId: toId})
	return true, nil
}

func (f *fakeRepo) AddRemoteRequestIfNew(fromUrl string, toId int64) (bool, error) {
	for _, r := range f.remoteRequests {
		if r.FromUrl == fromUrl && r.ToId == toId {
			return false, nil
		}
	}
	f.remoteRequests = append(f.remoteRequests, &dal.RemoteRequest{FromUrl: fromUrl, ToId: toId})
	return true, nil
}

func (f *fakeRepo) GetRequestsTo(toId int64) ([]*dal.Request, error) {
	var res []*dal.Request
	for _, r := range f.requests {
		if r.ToId == toId {
			res = append(res, r)
		}
	}
	return res, nil
}

func (f *fakeRepo) DeleteRequest(fromId, toId int64) (bool, error) {
	for ix, r := range f.requests {
		if r.FromId == fromId && r.ToId == toId {
			f.requests = append(f.requests[:ix], f.requests[ix+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) AddFollow(followerId, followeeId int64) error {
	for _, fl := range f.follows {
		if fl.FollowerId == followerId && fl.FolloweeId == followeeId {
			return nil
		}
	}
	f.follows = append(f.follows, &dal.Follow{FollowerId: followerId, FolloweeId: followeeId})
	return nil
}

func (f *fakeRepo) RemoveFollow(followerId, followeeId int64) error {
	for ix, fl := range f.follows {
		if fl.FollowerId == followerId && fl.FolloweeId == followeeId {
			f.follows = append(f.follows[:ix], f.follows[ix+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeRepo) GetFollowersPage(followeeId int64, offset, limit int) ([]*dal.Author, int, error) {
	var res []*dal.Author
	total := 0
	for _, fl := range f.follows {
		if fl.FolloweeId != followeeId {
			continue
		}
		total++
		if total > offset && len(res) < limit {
			if a := f.authors[fl.FollowerId]; a != nil {
				res = append(res, a)
			}
		}
	}
	return res, total, nil
}

func (f *fakeRepo) IsTrueFriend(a, b int64) (bool, error) {
	var ab, ba bool
	for _, fl := range f.follows {
		if fl.FollowerId == a && fl.FolloweeId == b {
			ab = true
		}
		if fl.FollowerId == b && fl.FolloweeId == a {
			ba = true
		}
	}
	return ab && ba, nil
}

func (f *fakeRepo) AddRemoteFollowIfNew(followerId int64, followeeUrl string) (bool, error) {
	for _, fl := range f.remoteFollows {
		if fl.FollowerId == followerId && fl.FolloweeUrl == followeeUrl {
			return false, nil
		}
	}
	f.remoteFollows = append(f.remoteFollows, &dal.RemoteFollow{FollowerId: followerId, FolloweeUrl: followeeUrl})
	return true, nil
}

func (f *fakeRepo) RemoveRemoteFollow(followerId int64, followeeUrl string) error {
	for ix, fl := range f.remoteFollows {
		if fl.FollowerId == followerId && fl.FolloweeUrl == followeeUrl {
			f.remoteFollows = append(f.remoteFollows[:ix], f.remoteFollows[ix+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeRepo) GetRemoteFollows(followerId int64) ([]*dal.RemoteFollow, error) {
	var res []*dal.RemoteFollow
	for _, fl := range f.remoteFollows {
		if fl.FollowerId == followerId {
			res = append(res, fl)
		}
	}
	return res, nil
}

type postedActivity struct {
	peerAddr string
	path     string
	body     any
}

// fakeRegistry serves canned GET responses keyed on peer address plus
// path, and records every POST.
type fakeRegistry struct {
	peers     []shared.Peer
	responses map[string][]byte
	failures  map[string]error
	getCount  map[string]int
	posted    []postedActivity
	postErr   error
}

func newFakeRegistry(peers []shared.Peer) *fakeRegistry {
	return &fakeRegistry{
		peers:     peers,
		responses: map[string][]byte{},
		failures:  map[string]error{},
		getCount:  map[string]int{},
	}
}

func regKey(peerAddr, path string) string {
	return peerAddr + "|" + path
}

func (f *fakeRegistry) serve(peerAddr, path, body string) {
	f.responses[regKey(peerAddr, path)] = []byte(body)
}

func (f *fakeRegistry) fail(peerAddr, path string, err error) {
	f.failures[regKey(peerAddr, path)] = err
}

func (f *fakeRegistry) Peers() []shared.Peer {
	return f.peers
}

func (f *fakeRegistry) Get(peer *shared.Peer, path string, params url.Values) ([]byte, error) {
	key := regKey(peer.ServiceAddress, path)
	f.getCount[key]++
	if err, ok := f.failures[key]; ok {
		return nil, err
	}
	if body, ok := f.responses[key]; ok {
		return body, nil
	}
	return nil, fmt.Errorf("no canned response for %s", key)
}

func (f *fakeRegistry) Post(peer *shared.Peer, path string, body any) error {
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, postedActivity{peer.ServiceAddress, path, body})
	return nil
}
