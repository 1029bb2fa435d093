package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_IdBuilder_Urls(t *testing.T) {
	idb := IdBuilder{Host: "quilt.example.com"}
	assert.Equal(t, "https://quilt.example.com", idb.SiteUrl())
	assert.Equal(t, "https://quilt.example.com/authors/5", idb.AuthorUrl(5))
	assert.Equal(t, "https://quilt.example.com/authors/5/inbox", idb.AuthorInbox(5))
	assert.Equal(t, "https://quilt.example.com/authors/5/posts/7", idb.PostUrl(5, 7))
	assert.Equal(t, "https://quilt.example.com/authors/5/posts/7/comments/9", idb.CommentUrl(5, 7, 9))
}

func Test_RemotePostProxyUrl_EscapesSource(t *testing.T) {
	idb := IdBuilder{Host: "quilt.example.com"}
	res := idb.RemotePostProxyUrl("https://birbnet.example.net/authors/7/posts/100")
	assert.Equal(t,
		"https://quilt.example.com/api/remote/post?src=https%3A%2F%2Fbirbnet.example.net%2Fauthors%2F7%2Fposts%2F100",
		res)
}

func Test_LastPathSegment(t *testing.T) {
	assert.Equal(t, "17", LastPathSegment("https://x.example/authors/17"))
	assert.Equal(t, "17", LastPathSegment("https://x.example/authors/17/"))
	assert.Equal(t, "authors", LastPathSegment("https://x.example/authors"))
}

func Test_GetHostName(t *testing.T) {
	host, err := GetHostName("https://birbnet.example.net:8443/authors/7")
	assert.Nil(t, err)
	assert.Equal(t, "birbnet.example.net", host)
}
