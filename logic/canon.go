package logic

import (
	"quilt/dal"
	"quilt/dto"
	"quilt/shared"
	"quilt/texts"
)

// ICanon builds canonical wire representations from local entities.
// A local author's wire id is always its canonical URL, never a bare
// numeric key, so peers can treat id as an opaque, dereferenceable
// identifier.
type ICanon interface {
	EncodeAuthor(a *dal.Author) *dto.Author
	EncodePost(p *dal.Post) (*dto.Post, error)
	EncodeComment(c *dal.Comment) (*dto.Comment, error)
	EncodeRemoteComment(postAuthorId int64, c *dal.RemoteComment) *dto.Comment
	EncodeLike(author *dal.Author, objectUrl string, ofComment bool) *dto.Like
}

type canon struct {
	cfg  *shared.Config
	repo dal.IRepo
	txt  texts.ITexts
	idb  shared.IdBuilder
}

func NewCanon(cfg *shared.Config, repo dal.IRepo, txt texts.ITexts) ICanon {
	return &canon{cfg, repo, txt, shared.IdBuilder{Host: cfg.Host}}
}

func (cn *canon) EncodeAuthor(a *dal.Author) *dto.Author {
	authorUrl := cn.idb.AuthorUrl(a.Id)
	return &dto.Author{
		Type:         "author",
		Id:           authorUrl,
		Url:          authorUrl,
		Host:         cn.idb.SiteUrl() + "/",
		DisplayName:  a.DisplayName,
		Github:       a.GithubUrl,
		ProfileImage: a.ProfileImageUrl,
	}
}

func (cn *canon) EncodePost(p *dal.Post) (*dto.Post, error) {

	author, err := cn.repo.GetAuthor(p.AuthorId)
	if err != nil {
		return nil, err
	}

	postUrl := cn.idb.PostUrl(p.AuthorId, p.Id)

	count, err := cn.repo.GetCommentCount(p.Id)
	if err != nil {
		return nil, err
	}

	comments, err := cn.repo.GetComments(p.Id)
	if err != nil {
		return nil, err
	}
	remoteComments, err := cn.repo.GetRemoteComments(p.Id)
	if err != nil {
		return nil, err
	}

	wireComments := make([]dto.Comment, 0, len(comments)+len(remoteComments))
	for _, c := range comments {
		wc, err := cn.EncodeComment(c)
		if err != nil {
			return nil, err
		}
		wireComments = append(wireComments, *wc)
	}
	for _, c := range remoteComments {
		wireComments = append(wireComments, *cn.EncodeRemoteComment(p.AuthorId, c))
	}

	res := dto.Post{
		Type:        "post",
		Id:          postUrl,
		Title:       p.Title,
		Description: p.Description,
		ContentType: p.ContentType,
		Content:     p.Content,
		Categories:  p.Categories,
		Published:   shared.FormatTimestamp(p.Published),
		PublishedAt: p.Published,
		Visibility:  p.Visibility,
		Unlisted:    p.Unlisted,
		Origin:      postUrl,
		Count:       count,
		CommentsSrc: &dto.Comments{
			Type:     "comments",
			Page:     1,
			Post:     postUrl,
			Id:       cn.idb.PostCommentsUrl(p.AuthorId, p.Id),
			Comments: wireComments,
		},
	}
	if author != nil {
		res.Author = *cn.EncodeAuthor(author)
	}
	return &res, nil
}

func (cn *canon) EncodeComment(c *dal.Comment) (*dto.Comment, error) {

	author, err := cn.repo.GetAuthor(c.AuthorId)
	if err != nil {
		return nil, err
	}
	post, err := cn.repo.GetPost(c.PostId)
	if err != nil {
		return nil, err
	}

	res := dto.Comment{
		Type:        "comment",
		Comment:     c.Comment,
		ContentType: c.ContentType,
		Published:   shared.FormatTimestamp(c.Published),
		PublishedAt: c.Published,
	}
	if post != nil {
		res.Id = cn.idb.CommentUrl(post.AuthorId, c.PostId, c.Id)
	}
	if author != nil {
		res.Author = *cn.EncodeAuthor(author)
	}
	return &res, nil
}

// EncodeRemoteComment renders a comment whose author lives on a peer.
// Only the opaque author URL is known; no detail fetch happens here.
func (cn *canon) EncodeRemoteComment(postAuthorId int64, c *dal.RemoteComment) *dto.Comment {
	return &dto.Comment{
		Type:        "comment",
		Id:          cn.idb.CommentUrl(postAuthorId, c.PostId, c.Id),
		Author:      dto.Author{Type: "author", Id: c.AuthorUrl, Url: c.AuthorUrl},
		Comment:     c.Comment,
		ContentType: c.ContentType,
		Published:   shared.FormatTimestamp(c.Published),
		PublishedAt: c.Published,
	}
}

func (cn *canon) EncodeLike(author *dal.Author, objectUrl string, ofComment bool) *dto.Like {
	snippet := "like_post.txt"
	if ofComment {
		snippet = "like_comment.txt"
	}
	return &dto.Like{
		Type:    "Like",
		Summary: cn.txt.WithVals(snippet, map[string]string{"displayName": author.DisplayName}),
		Author:  *cn.EncodeAuthor(author),
		Object:  objectUrl,
	}
}
