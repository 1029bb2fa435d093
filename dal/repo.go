package dal

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"quilt/shared"
)

const schemaVer = 1

//go:embed scripts/*
var scripts embed.FS

type IRepo interface {
	InitUpdateDb()
	AddAuthor(author *Author) (int64, error)
	GetAuthor(id int64) (*Author, error)
	GetAuthorsPage(offset, limit int) ([]*Author, int, error)
	AddPost(post *Post) (int64, error)
	GetPost(postId int64) (*Post, error)
	GetPostsByAuthor(authorId int64) ([]*Post, error)
	GetStreamPosts(viewerId int64) ([]*Post, error)
	AddComment(c *Comment) (int64, error)
	AddRemoteComment(c *RemoteComment) (int64, error)
	GetComments(postId int64) ([]*Comment, error)
	GetRemoteComments(postId int64) ([]*RemoteComment, error)
	GetCommentCount(postId int64) (int, error)
	AddLikeIfNew(authorId, postId int64) (isNew bool, err error)
	AddCommentLikeIfNew(authorId, commentId int64) (isNew bool, err error)
	AddRemoteLikeIfNew(authorUrl string, postId int64) (isNew bool, err error)
	GetPostLikes(postId int64) ([]*Like, error)
	GetLikeCount(postId int64) (int, error)
	GetRemoteLikeCount(postId int64) (int, error)
	AddRequestIfNew(fromId, toId int64) (isNew bool, err error)
	AddRemoteRequestIfNew(fromUrl string, toId int64) (isNew bool, err error)
	GetRequestsTo(toId int64) ([]*Request, error)
	DeleteRequest(fromId, toId int64) (found bool, err error)
	AddFollow(followerId, followeeId int64) error
	RemoveFollow(followerId, followeeId int64) error
	GetFollowersPage(followeeId int64, offset, limit int) ([]*Author, int, error)
	IsTrueFriend(a, b int64) (bool, error)
	AddRemoteFollowIfNew(followerId int64, followeeUrl string) (isNew bool, err error)
	RemoveRemoteFollow(followerId int64, followeeUrl string) error
	GetRemoteFollows(followerId int64) ([]*RemoteFollow, error)
}

type Repo struct {
	cfg    *shared.Config
	logger shared.ILogger
	db     *sql.DB
	muDb   sync.RWMutex
}

func NewRepo(cfg *shared.Config, logger shared.ILogger) IRepo {

	var err error
	var db *sql.DB

	// _synchronous=1 is "normal"
	cstr := "file:%s?cache=shared&mode=rwc&_journal_mode=WAL&_synchronous=1&_busy_timeout=5000"
	db, err = sql.Open("sqlite3", fmt.Sprintf(cstr, cfg.DbFile))
	if err != nil {
		logger.Errorf("Failed to open/create DB file: %s: %v", cfg.DbFile, err)
		panic(err)
	}

	return &Repo{
		cfg:    cfg,
		logger: logger,
		db:     db,
	}
}

// isDuplicate tells whether an insert failed on a unique constraint.
// Duplicate inbound activities are treated as no-op successes.
func isDuplicate(err error) bool {
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		if sqliteErr.Code == 19 && sqliteErr.ExtendedCode == 2067 {
			return true
		}
	}
	return false
}

func (repo *Repo) InitUpdateDb() {

	dbVer := 0
	sysParamsExists := false
	var err error
	var rows *sql.Rows

	rows, err = repo.db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name='sys_params'")
	if err != nil {
		repo.logger.Errorf("Failed to check if 'sys_params' table exists: %v", err)
		panic(err)
	}
	for rows.Next() {
		sysParamsExists = true
	}
	_ = rows.Close()
	if !sysParamsExists {
		repo.logger.Printf("Database appears to be empty; current schema version is %d", schemaVer)
	} else {
		row := repo.db.QueryRow("SELECT val FROM sys_params WHERE name='schema_ver'")
		if err = row.Scan(&dbVer); err != nil {
			repo.logger.Errorf("Failed to query schema version: %v", err)
			panic(err)
		}
		repo.logger.Printf("Database is at version %d; current schema version is %d", dbVer, schemaVer)
	}
	for i := dbVer; i < schemaVer; i += 1 {
		nextVer := i + 1
		fn := fmt.Sprintf("scripts/create-%02d.sql", nextVer)
		repo.logger.Printf("Running %s", fn)
		var sqlBytes []byte
		if sqlBytes, err = scripts.ReadFile(fn); err != nil {
			repo.logger.Errorf("Failed to read init script %s: %v", fn, err)
			panic(err)
		}
		sqlStr := string(sqlBytes)
		if _, err = repo.db.Exec(sqlStr); err != nil {
			repo.logger.Errorf("Failed to execute init script %s: %v", fn, err)
			panic(err)
		}
		_, err = repo.db.Exec("UPDATE sys_params SET val=? WHERE name='schema_ver'", nextVer)
		if err != nil {
			repo.logger.Errorf("Failed to update schema_ver to %d: %v", nextVer, err)
			panic(err)
		}
	}
}

func (repo *Repo) AddAuthor(author *Author) (int64, error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	res, err := repo.db.Exec(`INSERT INTO authors (username, display_name, github_url, profile_image_url, created_at)
		VALUES(?, ?, ?, ?, ?)`,
		author.Username, author.DisplayName, author.GithubUrl, author.ProfileImageUrl, author.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (repo *Repo) GetAuthor(id int64) (*Author, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	return repo.getAuthor(id)
}

func (repo *Repo) getAuthor(id int64) (*Author, error) {

	row := repo.db.QueryRow(
		`SELECT id, username, display_name, github_url, profile_image_url, created_at
		FROM authors WHERE id=?`, id)
	var res Author
	err := row.Scan(&res.Id, &res.Username, &res.DisplayName, &res.GithubUrl, &res.ProfileImageUrl, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (repo *Repo) GetAuthorsPage(offset, limit int) ([]*Author, int, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	var total int
	row := repo.db.QueryRow(`SELECT COUNT(*) FROM authors`)
	if err := row.Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := repo.db.Query(`SELECT id, username, display_name, github_url, profile_image_url, created_at
		FROM authors ORDER BY id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	res := make([]*Author, 0)
	for rows.Next() {
		a := Author{}
		err = rows.Scan(&a.Id, &a.Username, &a.DisplayName, &a.GithubUrl, &a.ProfileImageUrl, &a.CreatedAt)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, &a)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

func (repo *Repo) AddPost(post *Post) (int64, error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	res, err := repo.db.Exec(`INSERT INTO posts
		(author_id, title, description, content_type, content, visibility, unlisted, published)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		post.AuthorId, post.Title, post.Description, post.ContentType, post.Content,
		post.Visibility, post.Unlisted, post.Published)
	if err != nil {
		return 0, err
	}
	postId, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, category := range post.Categories {
		_, err = repo.db.Exec(`INSERT INTO categories (category) VALUES(?)
			ON CONFLICT DO NOTHING`, category)
		if err != nil {
			return 0, err
		}
		_, err = repo.db.Exec(`INSERT INTO post_categories (post_id, category_id)
			SELECT ?, id FROM categories WHERE category=?
			ON CONFLICT DO NOTHING`, postId, category)
		if err != nil {
			return 0, err
		}
	}
	return postId, nil
}

func (repo *Repo) GetPost(postId int64) (*Post, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(
		`SELECT id, author_id, title, description, content_type, content, visibility, unlisted, published
		FROM posts WHERE id=?`, postId)
	var res Post
	err := row.Scan(&res.Id, &res.AuthorId, &res.Title, &res.Description, &res.ContentType,
		&res.Content, &res.Visibility, &res.Unlisted, &res.Published)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if res.Categories, err = repo.getCategories(postId); err != nil {
		return nil, err
	}
	return &res, nil
}

func (repo *Repo) getCategories(postId int64) ([]string, error) {

	rows, err := repo.db.Query(`SELECT categories.category FROM categories
		JOIN post_categories ON post_categories.category_id=categories.id
		WHERE post_categories.post_id=? ORDER BY categories.id ASC`, postId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]string, 0)
	for rows.Next() {
		var category string
		if err = rows.Scan(&category); err != nil {
			return nil, err
		}
		res = append(res, category)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (repo *Repo) GetPostsByAuthor(authorId int64) ([]*Post, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(
		`SELECT id, author_id, title, description, content_type, content, visibility, unlisted, published
		FROM posts WHERE author_id=? ORDER BY published DESC`, authorId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return repo.readPosts(rows)
}

// GetStreamPosts returns the local contribution to the aggregated feed:
// public listed posts, the viewer's own posts, and friends-only posts by
// authors in a symmetric follow relationship with the viewer.
func (repo *Repo) GetStreamPosts(viewerId int64) ([]*Post, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(
		`SELECT id, author_id, title, description, content_type, content, visibility, unlisted, published
		FROM posts
		WHERE (visibility=? AND unlisted=0)
			OR author_id=?
			OR (visibility=? AND author_id IN (
				SELECT f1.followee_id FROM follows f1
				JOIN follows f2 ON f1.followee_id=f2.follower_id AND f1.follower_id=f2.followee_id
				WHERE f1.follower_id=?))
		ORDER BY published DESC`,
		VisibilityPublic, viewerId, VisibilityFriends, viewerId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return repo.readPosts(rows)
}

func (repo *Repo) readPosts(rows *sql.Rows) ([]*Post, error) {

	res := make([]*Post, 0)
	for rows.Next() {
		p := Post{}
		err := rows.Scan(&p.Id, &p.AuthorId, &p.Title, &p.Description, &p.ContentType,
			&p.Content, &p.Visibility, &p.Unlisted, &p.Published)
		if err != nil {
			return nil, err
		}
		res = append(res, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range res {
		var err error
		if p.Categories, err = repo.getCategories(p.Id); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (repo *Repo) AddComment(c *Comment) (int64, error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	res, err := repo.db.Exec(`INSERT INTO comments (post_id, author_id, comment, content_type, published)
		VALUES(?, ?, ?, ?, ?)`,
		c.PostId, c.AuthorId, c.Comment, c.ContentType, c.Published)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (repo *Repo) AddRemoteComment(c *RemoteComment) (int64, error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	res, err := repo.db.Exec(`INSERT INTO remote_comments (post_id, author_url, comment, content_type, published)
		VALUES(?, ?, ?, ?, ?)`,
		c.PostId, c.AuthorUrl, c.Comment, c.ContentType, c.Published)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (repo *Repo) GetComments(postId int64) ([]*Comment, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(`SELECT id, post_id, author_id, comment, content_type, published
		FROM comments WHERE post_id=? ORDER BY published DESC`, postId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*Comment, 0)
	for rows.Next() {
		c := Comment{}
		err = rows.Scan(&c.Id, &c.PostId, &c.AuthorId, &c.Comment, &c.ContentType, &c.Published)
		if err != nil {
			return nil, err
		}
		res = append(res, &c)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (repo *Repo) GetRemoteComments(postId int64) ([]*RemoteComment, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(`SELECT id, post_id, author_url, comment, content_type, published
		FROM remote_comments WHERE post_id=? ORDER BY published DESC`, postId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*RemoteComment, 0)
	for rows.Next() {
		c := RemoteComment{}
		err = rows.Scan(&c.Id, &c.PostId, &c.AuthorUrl, &c.Comment, &c.ContentType, &c.Published)
		if err != nil {
			return nil, err
		}
		res = append(res, &c)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (repo *Repo) GetCommentCount(postId int64) (int, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM comments WHERE post_id=?) +
		(SELECT COUNT(*) FROM remote_comments WHERE post_id=?)`, postId, postId)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (repo *Repo) AddLikeIfNew(authorId, postId int64) (isNew bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	isNew = true
	_, err = repo.db.Exec(`INSERT INTO likes (author_id, post_id) VALUES(?, ?)`, authorId, postId)
	if err != nil && isDuplicate(err) {
		isNew = false
		err = nil
	}
	return
}

func (repo *Repo) AddCommentLikeIfNew(authorId, commentId int64) (isNew bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	isNew = true
	_, err = repo.db.Exec(`INSERT INTO comment_likes (author_id, comment_id) VALUES(?, ?)`, authorId, commentId)
	if err != nil && isDuplicate(err) {
		isNew = false
		err = nil
	}
	return
}

func (repo *Repo) AddRemoteLikeIfNew(authorUrl string, postId int64) (isNew bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	isNew = true
	_, err = repo.db.Exec(`INSERT INTO remote_likes (author_url, post_id) VALUES(?, ?)`, authorUrl, postId)
	if err != nil && isDuplicate(err) {
		isNew = false
		err = nil
	}
	return
}

func (repo *Repo) GetPostLikes(postId int64) ([]*Like, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(`SELECT author_id, post_id FROM likes WHERE post_id=? ORDER BY author_id ASC`, postId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*Like, 0)
	for rows.Next() {
		l := Like{}
		if err = rows.Scan(&l.AuthorId, &l.PostId); err != nil {
			return nil, err
		}
		res = append(res, &l)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (repo *Repo) GetLikeCount(postId int64) (int, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT COUNT(*) FROM likes WHERE post_id=?`, postId)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (repo *Repo) GetRemoteLikeCount(postId int64) (int, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT COUNT(*) FROM remote_likes WHERE post_id=?`, postId)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (repo *Repo) AddRequestIfNew(fromId, toId int64) (isNew bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	isNew = true
	_, err = repo.db.Exec(`INSERT INTO requests (from_id, to_id, created) VALUES(?, ?, ?)`,
		fromId, toId, time.Now().UTC())
	if err != nil && isDuplicate(err) {
		isNew = false
		err = nil
	}
	return
}

func (repo *Repo) AddRemoteRequestIfNew(fromUrl string, toId int64) (isNew bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	isNew = true
	_, err = repo.db.Exec(`INSERT INTO remote_requests (from_url, to_id, created) VALUES(?, ?, ?)`,
		fromUrl, toId, time.Now().UTC())
	if err != nil && isDuplicate(err) {
		isNew = false
		err = nil
	}
	return
}

func (repo *Repo) GetRequestsTo(toId int64) ([]*Request, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(`SELECT from_id, to_id, created FROM requests WHERE to_id=? ORDER BY created DESC`, toId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*Request, 0)
	for rows.Next() {
		r := Request{}
		if err = rows.Scan(&r.FromId, &r.ToId, &r.Created); err != nil {
			return nil, err
		}
		res = append(res, &r)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (repo *Repo) DeleteRequest(fromId, toId int64) (found bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	res, err := repo.db.Exec(`DELETE FROM requests WHERE from_id=? AND to_id=?`, fromId, toId)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (repo *Repo) AddFollow(followerId, followeeId int64) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	_, err := repo.db.Exec(`INSERT INTO follows (follower_id, followee_id, created) VALUES(?, ?, ?)
		ON CONFLICT DO NOTHING`, followerId, followeeId, time.Now().UTC())
	return err
}

func (repo *Repo) RemoveFollow(followerId, followeeId int64) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	_, err := repo.db.Exec(`DELETE FROM follows WHERE follower_id=? AND followee_id=?`, followerId, followeeId)
	return err
}

func (repo *Repo) GetFollowersPage(followeeId int64, offset, limit int) ([]*Author, int, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	var total int
	row := repo.db.QueryRow(`SELECT COUNT(*) FROM follows WHERE followee_id=?`, followeeId)
	if err := row.Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := repo.db.Query(`SELECT authors.id, username, display_name, github_url, profile_image_url, created_at
		FROM authors JOIN follows ON follows.follower_id=authors.id
		WHERE follows.followee_id=? ORDER BY follows.created DESC LIMIT ? OFFSET ?`,
		followeeId, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	res := make([]*Author, 0)
	for rows.Next() {
		a := Author{}
		err = rows.Scan(&a.Id, &a.Username, &a.DisplayName, &a.GithubUrl, &a.ProfileImageUrl, &a.CreatedAt)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, &a)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

// IsTrueFriend reports whether a symmetric pair of follow edges exists.
func (repo *Repo) IsTrueFriend(a, b int64) (bool, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT COUNT(*) FROM follows f1
		JOIN follows f2 ON f1.follower_id=f2.followee_id AND f1.followee_id=f2.follower_id
		WHERE f1.follower_id=? AND f1.followee_id=?`, a, b)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (repo *Repo) AddRemoteFollowIfNew(followerId int64, followeeUrl string) (isNew bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	isNew = true
	_, err = repo.db.Exec(`INSERT INTO remote_follows (follower_id, followee_url, created) VALUES(?, ?, ?)`,
		followerId, followeeUrl, time.Now().UTC())
	if err != nil && isDuplicate(err) {
		isNew = false
		err = nil
	}
	return
}

func (repo *Repo) RemoveRemoteFollow(followerId int64, followeeUrl string) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	_, err := repo.db.Exec(`DELETE FROM remote_follows WHERE follower_id=? AND followee_url=?`,
		followerId, followeeUrl)
	return err
}

func (repo *Repo) GetRemoteFollows(followerId int64) ([]*RemoteFollow, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(`SELECT follower_id, followee_url, created FROM remote_follows
		WHERE follower_id=? ORDER BY created DESC`, followerId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*RemoteFollow, 0)
	for rows.Next() {
		rf := RemoteFollow{}
		if err = rows.Scan(&rf.FollowerId, &rf.FolloweeUrl, &rf.Created); err != nil {
			return nil, err
		}
		res = append(res, &rf)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
