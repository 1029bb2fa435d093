package test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quilt/dal"
	"quilt/server"
)

func newTestMux(deps *testDeps) http.Handler {
	logger := &nullLogger{}
	metrics := &nullMetrics{}
	groups := []server.IHandlerGroup{
		server.NewFedHandlerGroup(deps.cfg, logger, metrics, deps.repo, deps.canon, deps.newInbox()),
		server.NewApiHandlerGroup(deps.cfg, logger, deps.repo, deps.canon, deps.resolver, deps.newFeed(), deps.newOutbox()),
	}
	return server.NewMux(groups, logger)
}

func fedRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.SetBasicAuth("birb", "seeds")
	return req
}

func Test_Handlers_Fed_RequiresBasicAuth(t *testing.T) {
	deps := newTestDeps()
	handler := newTestMux(deps)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/authors", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/authors", nil)
	req.SetBasicAuth("birb", "wrong")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_Handlers_GetAuthors(t *testing.T) {
	deps := newTestDeps()
	seedAuthor(deps.repo, "Jane Doe")
	seedAuthor(deps.repo, "Lara Croft")
	handler := newTestMux(deps)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, fedRequest("GET", "/authors", ""))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Type  string            `json:"type"`
		Items []json.RawMessage `json:"items"`
	}
	assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "authors", resp.Type)
	assert.Equal(t, 2, len(resp.Items))
}

func Test_Handlers_GetAuthor_NotFound(t *testing.T) {
	deps := newTestDeps()
	handler := newTestMux(deps)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, fedRequest("GET", "/authors/99", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_Handlers_GetPost(t *testing.T) {
	deps := newTestDeps()
	author := seedAuthor(deps.repo, "Jane Doe")
	post := seedPost(deps.repo, author.Id, "Hello", time.Now().UTC())
	handler := newTestMux(deps)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, fedRequest("GET", "/authors/1/posts/2", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Hello"`)
	assert.Contains(t, rec.Body.String(), post.Title)

	// Post addressed under the wrong author 404s
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, fedRequest("GET", "/authors/42/posts/2", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_Handlers_Inbox_UnknownType(t *testing.T) {
	deps := newTestDeps()
	seedAuthor(deps.repo, "Jane Doe")
	handler := newTestMux(deps)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, fedRequest("POST", "/authors/1/inbox", `{"type": "Boost"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Detail string `json:"detail"`
	}
	assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Unknown type", resp.Detail)
}

func Test_Handlers_Inbox_LocalLike(t *testing.T) {
	deps := newTestDeps()
	poster := seedAuthor(deps.repo, "Jane Doe")
	liker := seedAuthor(deps.repo, "Lara Croft")
	post := seedPost(deps.repo, poster.Id, "Hello", time.Now().UTC())
	handler := newTestMux(deps)

	body := fmt.Sprintf(`{"type": "Like",
		"author": {"id": "https://%s/authors/%d"},
		"object": "https://%s/authors/%d/posts/%d"}`,
		testHost, liker.Id, testHost, poster.Id, post.Id)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, fedRequest("POST", "/authors/1/inbox", body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Lara Croft likes your post")
}

func Test_Handlers_Inbox_GetAndDelete_NotImplemented(t *testing.T) {
	deps := newTestDeps()
	seedAuthor(deps.repo, "Jane Doe")
	handler := newTestMux(deps)

	for _, method := range []string{"GET", "DELETE"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, fedRequest(method, "/authors/1/inbox", ""))
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	}
}

func Test_Handlers_Api_RequiresApiKey(t *testing.T) {
	deps := newTestDeps()
	handler := newTestMux(deps)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/stream?viewer=1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_Handlers_Api_Stream(t *testing.T) {
	deps := newTestDeps()
	author := seedAuthor(deps.repo, "Jane Doe")
	post := seedPost(deps.repo, author.Id, "Hello", time.Now().UTC())
	deps.repo.streamPosts = append(deps.repo.streamPosts, post)
	deps.registry.fail(peer1Addr, "/authors", assert.AnError)
	deps.registry.fail(peer2Addr, "/authors", assert.AnError)
	handler := newTestMux(deps)

	req := httptest.NewRequest("GET", "/api/stream?viewer=1", nil)
	req.Header.Set("X-API-KEY", "test-api-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
	assert.Contains(t, rec.Body.String(), "Hello")
}

func Test_Handlers_Api_RequestAcceptCreatesFollow(t *testing.T) {
	deps := newTestDeps()
	followee := seedAuthor(deps.repo, "Jane Doe")
	follower := seedAuthor(deps.repo, "Lara Croft")
	_, _ = deps.repo.AddRequestIfNew(follower.Id, followee.Id)
	handler := newTestMux(deps)

	req := httptest.NewRequest("POST", "/api/authors/1/requests/accept",
		strings.NewReader(`{"from": 2}`))
	req.Header.Set("X-API-KEY", "test-api-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	reqs, _ := deps.repo.GetRequestsTo(followee.Id)
	assert.Equal(t, 0, len(reqs))
	followers, total, _ := deps.repo.GetFollowersPage(followee.Id, 0, 10)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Lara Croft", followers[0].DisplayName)
}

func apiRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("X-API-KEY", "test-api-key")
	return req
}

func Test_Handlers_Api_PostComment_LocalAuthor(t *testing.T) {
	deps := newTestDeps()
	poster := seedAuthor(deps.repo, "Jane Doe")
	commenter := seedAuthor(deps.repo, "Lara Croft")
	post := seedPost(deps.repo, poster.Id, "Hello", time.Now().UTC())
	handler := newTestMux(deps)

	body := fmt.Sprintf(`{"author": "https://%s/authors/%d", "comment": "Nice one!"}`,
		testHost, commenter.Id)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest("POST",
		fmt.Sprintf("/api/authors/%d/posts/%d/comments", poster.Id, post.Id), body))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"comment"`)
	assert.Contains(t, rec.Body.String(), "Nice one!")
	assert.Contains(t, rec.Body.String(), "Lara Croft")

	comments, _ := deps.repo.GetComments(post.Id)
	assert.Equal(t, 1, len(comments))
	assert.Equal(t, commenter.Id, comments[0].AuthorId)
	assert.Equal(t, "text/plain", comments[0].ContentType)
}

func Test_Handlers_Api_PostComment_RemoteAuthor(t *testing.T) {
	deps := newTestDeps()
	poster := seedAuthor(deps.repo, "Jane Doe")
	post := seedPost(deps.repo, poster.Id, "Hello", time.Now().UTC())
	handler := newTestMux(deps)

	authorUrl := peer1Addr + "/authors/17"
	body := fmt.Sprintf(`{"author": "%s", "comment": "Greetings from afar", "contentType": "text/markdown"}`,
		authorUrl)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest("POST",
		fmt.Sprintf("/api/authors/%d/posts/%d/comments", poster.Id, post.Id), body))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), authorUrl)

	remotes, _ := deps.repo.GetRemoteComments(post.Id)
	assert.Equal(t, 1, len(remotes))
	assert.Equal(t, authorUrl, remotes[0].AuthorUrl)
	assert.Equal(t, "text/markdown", remotes[0].ContentType)
}

func Test_Handlers_Api_PostComment_UnknownPost(t *testing.T) {
	deps := newTestDeps()
	poster := seedAuthor(deps.repo, "Jane Doe")
	handler := newTestMux(deps)

	body := fmt.Sprintf(`{"author": "https://%s/authors/%d", "comment": "Hi"}`,
		testHost, poster.Id)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest("POST",
		fmt.Sprintf("/api/authors/%d/posts/99/comments", poster.Id), body))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_Handlers_Api_CommentLike(t *testing.T) {
	deps := newTestDeps()
	poster := seedAuthor(deps.repo, "Jane Doe")
	liker := seedAuthor(deps.repo, "Lara Croft")
	post := seedPost(deps.repo, poster.Id, "Hello", time.Now().UTC())
	commentId, _ := deps.repo.AddComment(&dal.Comment{
		PostId:      post.Id,
		AuthorId:    poster.Id,
		Comment:     "First!",
		ContentType: "text/plain",
		Published:   time.Now().UTC(),
	})
	handler := newTestMux(deps)

	path := fmt.Sprintf("/api/authors/%d/posts/%d/comments/%d/likes", poster.Id, post.Id, commentId)
	body := fmt.Sprintf(`{"author": %d}`, liker.Id)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest("POST", path, body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Lara Croft likes your comment")
	assert.Contains(t, rec.Body.String(),
		fmt.Sprintf("/authors/%d/posts/%d/comments/%d", poster.Id, post.Id, commentId))

	// Liking the same comment again is a quiet no-op
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest("POST", path, body))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func Test_Handlers_Api_FriendStatus(t *testing.T) {
	deps := newTestDeps()
	jane := seedAuthor(deps.repo, "Jane Doe")
	lara := seedAuthor(deps.repo, "Lara Croft")
	_ = deps.repo.AddFollow(jane.Id, lara.Id)
	handler := newTestMux(deps)

	path := fmt.Sprintf("/api/authors/%d/friends/%d", jane.Id, lara.Id)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest("GET", path, ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isFriend":false`)

	_ = deps.repo.AddFollow(lara.Id, jane.Id)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest("GET", path, ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isFriend":true`)
}

func Test_Handlers_Api_UnfollowLocal(t *testing.T) {
	deps := newTestDeps()
	jane := seedAuthor(deps.repo, "Jane Doe")
	lara := seedAuthor(deps.repo, "Lara Croft")
	_ = deps.repo.AddFollow(jane.Id, lara.Id)
	handler := newTestMux(deps)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest("POST",
		fmt.Sprintf("/api/authors/%d/unfollow-local", jane.Id),
		fmt.Sprintf(`{"followee": %d}`, lara.Id)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, total, _ := deps.repo.GetFollowersPage(lara.Id, 0, 10)
	assert.Equal(t, 0, total)
}
