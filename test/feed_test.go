package test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quilt/dal"
)

func peer1Authors() string {
	return `{"type": "authors", "items": [
		{"id": "https://birbnet.example.net/authors/7", "displayName": "Remote Birb"}]}`
}

func peer1Posts(published string) string {
	return fmt.Sprintf(`{"type": "posts", "items": [
		{"id": "https://birbnet.example.net/authors/7/posts/100",
		 "title": "Chirp", "contentType": "text/plain",
		 "content": "tweet <script>alert(1)</script>",
		 "published": %q}]}`, published)
}

func Test_Feed_MergesLocalAndRemote_NewestFirst(t *testing.T) {
	deps := newTestDeps()
	author := seedAuthor(deps.repo, "Jane Doe")
	older := seedPost(deps.repo, author.Id, "Older local", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	newer := seedPost(deps.repo, author.Id, "Newer local", time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC))
	deps.repo.streamPosts = []*dal.Post{older, newer}

	deps.registry.serve(peer1Addr, "/authors", peer1Authors())
	deps.registry.serve(peer1Addr, "/authors/7/posts", peer1Posts("2024-03-01T10:00:00Z"))
	deps.registry.fail(peer2Addr, "/authors", errors.New("connection refused"))

	feed := deps.newFeed()
	page, err := feed.GetStream(context.Background(), author.Id, 1, 10)
	assert.Nil(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, "Newer local", page.Items[0].Title)
	assert.Equal(t, "Chirp", page.Items[1].Title)
	assert.Equal(t, "Older local", page.Items[2].Title)

	// Remote content is sanitized, attributed and proxied
	assert.False(t, strings.Contains(page.Items[1].Content, "<script"))
	assert.Equal(t, "Remote Birb", page.Items[1].AuthorName)
	assert.Equal(t, "birbnet.example.net", page.Items[1].Origin)
	assert.True(t, strings.Contains(page.Items[1].DetailUrl, "/api/remote/post?src="))
}

func Test_Feed_DeadPeersContributeNothing(t *testing.T) {
	deps := newTestDeps()
	author := seedAuthor(deps.repo, "Jane Doe")
	post := seedPost(deps.repo, author.Id, "Only local", time.Now().UTC())
	deps.repo.streamPosts = append(deps.repo.streamPosts, post)

	deps.registry.fail(peer1Addr, "/authors", errors.New("timeout"))
	deps.registry.fail(peer2Addr, "/authors", errors.New("timeout"))

	feed := deps.newFeed()
	page, err := feed.GetStream(context.Background(), author.Id, 1, 10)
	assert.Nil(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "Only local", page.Items[0].Title)
}

func Test_Feed_InvalidPeerPayload_Skipped(t *testing.T) {
	deps := newTestDeps()
	deps.registry.serve(peer1Addr, "/authors", `{"type": "authors"}`)
	deps.registry.fail(peer2Addr, "/authors", errors.New("unreachable"))

	feed := deps.newFeed()
	page, err := feed.GetStream(context.Background(), 1, 1, 10)
	assert.Nil(t, err)
	assert.Equal(t, 0, page.Total)
}

func Test_Feed_ZeroWorkerConfig_StillFansOut(t *testing.T) {
	deps := newTestDeps()
	deps.cfg.FeedFanoutWorkers = 0

	deps.registry.serve(peer1Addr, "/authors", peer1Authors())
	deps.registry.serve(peer1Addr, "/authors/7/posts", peer1Posts("2024-03-01T10:00:00Z"))
	deps.registry.fail(peer2Addr, "/authors", errors.New("down"))

	feed := deps.newFeed()
	page, err := feed.GetStream(context.Background(), 1, 1, 10)
	assert.Nil(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "Chirp", page.Items[0].Title)
}

func Test_Feed_Pagination(t *testing.T) {
	deps := newTestDeps()
	author := seedAuthor(deps.repo, "Jane Doe")
	for i := 0; i < 5; i++ {
		p := seedPost(deps.repo, author.Id, fmt.Sprintf("Post %d", i),
			time.Date(2024, 3, 1, 10+i, 0, 0, 0, time.UTC))
		deps.repo.streamPosts = append(deps.repo.streamPosts, p)
	}
	deps.registry.fail(peer1Addr, "/authors", errors.New("down"))
	deps.registry.fail(peer2Addr, "/authors", errors.New("down"))

	feed := deps.newFeed()

	page, err := feed.GetStream(context.Background(), author.Id, 2, 2)
	assert.Nil(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 2, len(page.Items))
	assert.Equal(t, "Post 2", page.Items[0].Title)
	assert.Equal(t, "Post 1", page.Items[1].Title)

	// Past the end: empty page, not an error
	page, err = feed.GetStream(context.Background(), author.Id, 9, 2)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(page.Items))
}

func Test_GetRemotePost_KnownPeer(t *testing.T) {
	deps := newTestDeps()
	src := "https://birbnet.example.net/authors/7/posts/100"
	deps.registry.serve(peer1Addr, "/authors/7/posts/100",
		`{"id": "https://birbnet.example.net/authors/7/posts/100",
		  "title": "Chirp", "content": "hi <script>x</script> there"}`)

	feed := deps.newFeed()
	post, err := feed.GetRemotePost(context.Background(), src)
	assert.Nil(t, err)
	assert.NotNil(t, post)
	assert.Equal(t, "Chirp", post.Title)
	assert.False(t, strings.Contains(post.Content, "<script"))
}

func Test_GetRemotePost_UnknownPeer_FailsSoft(t *testing.T) {
	deps := newTestDeps()

	feed := deps.newFeed()
	post, err := feed.GetRemotePost(context.Background(), "https://nowhere.example.io/authors/1/posts/2")
	assert.Nil(t, err)
	assert.Nil(t, post)
}

func Test_GetRemotePost_FetchError_FailsSoft(t *testing.T) {
	deps := newTestDeps()
	deps.registry.fail(peer1Addr, "/authors/7/posts/100", errors.New("boom"))

	feed := deps.newFeed()
	post, err := feed.GetRemotePost(context.Background(), "https://birbnet.example.net/authors/7/posts/100")
	assert.Nil(t, err)
	assert.Nil(t, post)
}
