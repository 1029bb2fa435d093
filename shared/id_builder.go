package shared

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// GetHostName extracts the hostname from an identifier URL.
func GetHostName(rawUrl string) (string, error) {
	parsedUrl, urlError := url.Parse(rawUrl)
	if urlError != nil {
		return "", fmt.Errorf("failed to parse URL '%s': %v", rawUrl, urlError)
	}
	return parsedUrl.Hostname(), nil
}

// LastPathSegment returns everything after the last slash of the URL's path,
// ignoring any trailing slash.
func LastPathSegment(rawUrl string) string {
	parsedUrl, err := url.Parse(rawUrl)
	path := rawUrl
	if err == nil && parsedUrl.Path != "" {
		path = parsedUrl.Path
	}
	path = strings.TrimRight(path, "/")
	ix := strings.LastIndexByte(path, '/')
	if ix == -1 {
		return path
	}
	return path[ix+1:]
}

// IdBuilder constructs the canonical URLs under which this instance's
// entities are addressable by peers. Local ids on the wire are always
// full URLs, never bare numeric keys.
type IdBuilder struct {
	Host string
}

func (idb *IdBuilder) SiteUrl() string {
	return fmt.Sprintf("https://%s", idb.Host)
}

func (idb *IdBuilder) AuthorUrl(authorId int64) string {
	return fmt.Sprintf("https://%s/authors/%d", idb.Host, authorId)
}

func (idb *IdBuilder) AuthorInbox(authorId int64) string {
	return fmt.Sprintf("https://%s/authors/%d/inbox", idb.Host, authorId)
}

func (idb *IdBuilder) AuthorFollowers(authorId int64) string {
	return fmt.Sprintf("https://%s/authors/%d/followers", idb.Host, authorId)
}

func (idb *IdBuilder) PostUrl(authorId, postId int64) string {
	return fmt.Sprintf("https://%s/authors/%d/posts/%d", idb.Host, authorId, postId)
}

func (idb *IdBuilder) PostCommentsUrl(authorId, postId int64) string {
	return fmt.Sprintf("https://%s/authors/%d/posts/%d/comments", idb.Host, authorId, postId)
}

func (idb *IdBuilder) CommentUrl(authorId, postId, commentId int64) string {
	return fmt.Sprintf("https://%s/authors/%d/posts/%d/comments/%d", idb.Host, authorId, postId, commentId)
}

func (idb *IdBuilder) RemotePostProxyUrl(srcUrl string) string {
	return fmt.Sprintf("https://%s/api/remote/post?src=%s", idb.Host, url.QueryEscape(srcUrl))
}

func (idb *IdBuilder) FormatId(id int64) string {
	return strconv.FormatInt(id, 10)
}
