package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"quilt/dal"
	"quilt/dto"
	"quilt/logic"
	"quilt/shared"
)

// Groups together the handlers that make up the federation surface:
// the canonical author/post/comment/like resources served to peers,
// plus the inbox endpoint.
type fedHandlerGroup struct {
	cfg     *shared.Config
	logger  shared.ILogger
	metrics logic.IMetrics
	repo    dal.IRepo
	canon   logic.ICanon
	inbox   logic.IInbox
}

func NewFedHandlerGroup(
	cfg *shared.Config,
	logger shared.ILogger,
	metrics logic.IMetrics,
	repo dal.IRepo,
	canon logic.ICanon,
	ibox logic.IInbox,
) IHandlerGroup {
	return &fedHandlerGroup{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		repo:    repo,
		canon:   canon,
		inbox:   ibox,
	}
}

func (hg *fedHandlerGroup) Prefix() string {
	return ""
}

func (hg *fedHandlerGroup) GroupDefs() []handlerDef {
	return []handlerDef{
		{"GET", "/authors", func(w http.ResponseWriter, r *http.Request) { hg.getAuthors(w, r) }},
		{"GET", "/authors/{author}", func(w http.ResponseWriter, r *http.Request) { hg.getAuthor(w, r) }},
		{"GET", "/authors/{author}/posts", func(w http.ResponseWriter, r *http.Request) { hg.getPosts(w, r) }},
		{"GET", "/authors/{author}/posts/{post}", func(w http.ResponseWriter, r *http.Request) { hg.getPost(w, r) }},
		{"GET", "/authors/{author}/posts/{post}/comments", func(w http.ResponseWriter, r *http.Request) { hg.getComments(w, r) }},
		{"GET", "/authors/{author}/posts/{post}/likes", func(w http.ResponseWriter, r *http.Request) { hg.getLikes(w, r) }},
		{"GET", "/authors/{author}/followers", func(w http.ResponseWriter, r *http.Request) { hg.getFollowers(w, r) }},
		{"POST", "/authors/{author}/inbox", func(w http.ResponseWriter, r *http.Request) { hg.postInbox(w, r) }},
		{"GET", "/authors/{author}/inbox", func(w http.ResponseWriter, r *http.Request) { hg.inboxNotImplemented(w, r) }},
		{"DELETE", "/authors/{author}/inbox", func(w http.ResponseWriter, r *http.Request) { hg.inboxNotImplemented(w, r) }},
	}
}

// Peers authenticate with statically configured basic-auth credentials.
// An empty credential list leaves the surface open.
func (hg *fedHandlerGroup) AuthMW() func(next http.Handler) http.Handler {
	if len(hg.cfg.Secrets.FedUsers) == 0 {
		return emptyMW
	}
	return func(next http.Handler) http.Handler {
		return hg.authMW(next)
	}
}

func (hg *fedHandlerGroup) authMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		found := false
		if ok {
			for _, cred := range hg.cfg.Secrets.FedUsers {
				if user == cred.Username && pass == cred.Password {
					found = true
				}
			}
		}
		if !found {
			hg.logger.Warnf("Federation request with missing or invalid credentials: %s", r.URL.Path)
			w.Header().Set("WWW-Authenticate", `Basic realm="federation"`)
			writeErrorResponse(w, badCredentialsStr, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (hg *fedHandlerGroup) pageParams(r *http.Request) (offset, limit, page int) {
	page = 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	limit = hg.cfg.PageSize
	if s, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && s > 0 {
		limit = s
	}
	offset = (page - 1) * limit
	return
}

func pathId(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (hg *fedHandlerGroup) getAuthors(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling authors GET: %s", r.URL.Path)
	obs := hg.metrics.StartFedRequestIn("authors")
	defer obs.Finish()

	offset, limit, _ := hg.pageParams(r)
	authors, _, err := hg.repo.GetAuthorsPage(offset, limit)
	if err != nil {
		hg.logger.Errorf("Error retrieving authors: %v", err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}

	items := make([]*dto.Author, 0, len(authors))
	for _, a := range authors {
		items = append(items, hg.canon.EncodeAuthor(a))
	}
	writeJsonResponse(hg.logger, w, map[string]any{"type": "authors", "items": items})
}

func (hg *fedHandlerGroup) getAuthor(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling author GET: %s", r.URL.Path)
	obs := hg.metrics.StartFedRequestIn("author")
	defer obs.Finish()

	authorId, ok := pathId(r, "author")
	if !ok {
		writeErrorResponse(w, "Invalid author id", http.StatusNotFound)
		return
	}
	author, err := hg.repo.GetAuthor(authorId)
	if err != nil {
		hg.logger.Errorf("Error retrieving author %d: %v", authorId, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	if author == nil {
		writeErrorResponse(w, "No such author", http.StatusNotFound)
		return
	}
	writeJsonResponse(hg.logger, w, hg.canon.EncodeAuthor(author))
}

func (hg *fedHandlerGroup) getPosts(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling posts GET: %s", r.URL.Path)
	obs := hg.metrics.StartFedRequestIn("posts")
	defer obs.Finish()

	authorId, ok := pathId(r, "author")
	if !ok {
		writeErrorResponse(w, "Invalid author id", http.StatusNotFound)
		return
	}
	posts, err := hg.repo.GetPostsByAuthor(authorId)
	if err != nil {
		hg.logger.Errorf("Error retrieving posts of %d: %v", authorId, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}

	items := make([]*dto.Post, 0, len(posts))
	for _, p := range posts {
		wp, err := hg.canon.EncodePost(p)
		if err != nil {
			hg.logger.Errorf("Error encoding post %d: %v", p.Id, err)
			writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
			return
		}
		items = append(items, wp)
	}
	writeJsonResponse(hg.logger, w, map[string]any{"type": "posts", "items": items})
}

func (hg *fedHandlerGroup) getPost(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling post GET: %s", r.URL.Path)
	obs := hg.metrics.StartFedRequestIn("post")
	defer obs.Finish()

	post := hg.findPost(w, r)
	if post == nil {
		return
	}
	wp, err := hg.canon.EncodePost(post)
	if err != nil {
		hg.logger.Errorf("Error encoding post %d: %v", post.Id, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	writeJsonResponse(hg.logger, w, wp)
}

// findPost loads the post addressed by the route or writes the error
// response and returns nil.
func (hg *fedHandlerGroup) findPost(w http.ResponseWriter, r *http.Request) *dal.Post {
	authorId, ok := pathId(r, "author")
	if !ok {
		writeErrorResponse(w, "Invalid author id", http.StatusNotFound)
		return nil
	}
	postId, ok := pathId(r, "post")
	if !ok {
		writeErrorResponse(w, "Invalid post id", http.StatusNotFound)
		return nil
	}
	post, err := hg.repo.GetPost(postId)
	if err != nil {
		hg.logger.Errorf("Error retrieving post %d: %v", postId, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return nil
	}
	if post == nil || post.AuthorId != authorId {
		writeErrorResponse(w, "No such post", http.StatusNotFound)
		return nil
	}
	return post
}

func (hg *fedHandlerGroup) getComments(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling comments GET: %s", r.URL.Path)
	obs := hg.metrics.StartFedRequestIn("comments")
	defer obs.Finish()

	post := hg.findPost(w, r)
	if post == nil {
		return
	}
	wp, err := hg.canon.EncodePost(post)
	if err != nil {
		hg.logger.Errorf("Error encoding post %d: %v", post.Id, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	writeJsonResponse(hg.logger, w, wp.CommentsSrc)
}

func (hg *fedHandlerGroup) getLikes(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling likes GET: %s", r.URL.Path)
	obs := hg.metrics.StartFedRequestIn("likes")
	defer obs.Finish()

	post := hg.findPost(w, r)
	if post == nil {
		return
	}
	likes, err := hg.repo.GetPostLikes(post.Id)
	if err != nil {
		hg.logger.Errorf("Error retrieving likes of post %d: %v", post.Id, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}

	idb := shared.IdBuilder{Host: hg.cfg.Host}
	postUrl := idb.PostUrl(post.AuthorId, post.Id)
	items := make([]*dto.Like, 0, len(likes))
	for _, l := range likes {
		author, err := hg.repo.GetAuthor(l.AuthorId)
		if err != nil {
			hg.logger.Errorf("Error retrieving author %d: %v", l.AuthorId, err)
			writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
			return
		}
		if author == nil {
			continue
		}
		items = append(items, hg.canon.EncodeLike(author, postUrl, false))
	}
	writeJsonResponse(hg.logger, w, map[string]any{"type": "likes", "items": items})
}

func (hg *fedHandlerGroup) getFollowers(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling followers GET: %s", r.URL.Path)
	obs := hg.metrics.StartFedRequestIn("followers")
	defer obs.Finish()

	authorId, ok := pathId(r, "author")
	if !ok {
		writeErrorResponse(w, "Invalid author id", http.StatusNotFound)
		return
	}
	offset, limit, _ := hg.pageParams(r)
	followers, _, err := hg.repo.GetFollowersPage(authorId, offset, limit)
	if err != nil {
		hg.logger.Errorf("Error retrieving followers of %d: %v", authorId, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}

	items := make([]*dto.Author, 0, len(followers))
	for _, a := range followers {
		items = append(items, hg.canon.EncodeAuthor(a))
	}
	writeJsonResponse(hg.logger, w, map[string]any{"type": "followers", "items": items})
}

func (hg *fedHandlerGroup) postInbox(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling inbox POST: %s", r.URL.Path)
	obs := hg.metrics.StartFedRequestIn("inbox")
	defer obs.Finish()

	recipientId, ok := pathId(r, "author")
	if !ok {
		writeErrorResponse(w, "Invalid author id", http.StatusNotFound)
		return
	}

	bodyBytes := readBody(hg.logger, w, r)
	if bodyBytes == nil {
		return
	}

	res, err := hg.inbox.HandleActivity(recipientId, bodyBytes)
	if err != nil {
		hg.logger.Errorf("Error handling inbox activity: %v", err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}

	switch {
	case res.Body != nil:
		writeJsonBody(hg.logger, w, res.Status, res.Body)
	case res.Detail != "":
		writeDetailResponse(w, res.Detail, res.Status)
	default:
		w.WriteHeader(res.Status)
	}
}

func (hg *fedHandlerGroup) inboxNotImplemented(w http.ResponseWriter, r *http.Request) {
	hg.logger.Infof("Handling inbox %s: %s", r.Method, r.URL.Path)
	writeDetailResponse(w, "Not implemented", http.StatusNotImplemented)
}
