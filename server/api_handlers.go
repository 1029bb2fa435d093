package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"quilt/dal"
	"quilt/dto"
	"quilt/logic"
	"quilt/shared"
)

// Groups together the handlers of the local client API. These endpoints
// are for the node's own frontend, not for peers; they authenticate by
// API key rather than basic auth.
type apiHandlerGroup struct {
	cfg      *shared.Config
	logger   shared.ILogger
	repo     dal.IRepo
	canon    logic.ICanon
	resolver logic.IIdentityResolver
	feed     logic.IFeedAggregator
	outbox   logic.IOutbox
}

func NewApiHandlerGroup(
	cfg *shared.Config,
	logger shared.ILogger,
	repo dal.IRepo,
	canon logic.ICanon,
	resolver logic.IIdentityResolver,
	feed logic.IFeedAggregator,
	outbox logic.IOutbox,
) IHandlerGroup {
	return &apiHandlerGroup{
		cfg:      cfg,
		logger:   logger,
		repo:     repo,
		canon:    canon,
		resolver: resolver,
		feed:     feed,
		outbox:   outbox,
	}
}

func (hg *apiHandlerGroup) Prefix() string {
	return "/api"
}

func (hg *apiHandlerGroup) GroupDefs() []handlerDef {
	return []handlerDef{
		{"GET", "/stream", func(w http.ResponseWriter, r *http.Request) { hg.getStream(w, r) }},
		{"GET", "/remote/post", func(w http.ResponseWriter, r *http.Request) { hg.getRemotePost(w, r) }},
		{"POST", "/authors/{author}/posts/{post}/comments", func(w http.ResponseWriter, r *http.Request) { hg.postComment(w, r) }},
		{"POST", "/authors/{author}/posts/{post}/comments/{comment}/likes", func(w http.ResponseWriter, r *http.Request) { hg.postCommentLike(w, r) }},
		{"GET", "/authors/{author}/friends/{other}", func(w http.ResponseWriter, r *http.Request) { hg.getFriendStatus(w, r) }},
		{"POST", "/authors/{author}/follow", func(w http.ResponseWriter, r *http.Request) { hg.postFollow(w, r) }},
		{"POST", "/authors/{author}/unfollow", func(w http.ResponseWriter, r *http.Request) { hg.postUnfollow(w, r) }},
		{"POST", "/authors/{author}/unfollow-local", func(w http.ResponseWriter, r *http.Request) { hg.postUnfollowLocal(w, r) }},
		{"GET", "/authors/{author}/requests", func(w http.ResponseWriter, r *http.Request) { hg.getRequests(w, r) }},
		{"POST", "/authors/{author}/requests/accept", func(w http.ResponseWriter, r *http.Request) { hg.postRequestAccept(w, r) }},
		{"POST", "/authors/{author}/requests/reject", func(w http.ResponseWriter, r *http.Request) { hg.postRequestReject(w, r) }},
	}
}

func (hg *apiHandlerGroup) AuthMW() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return hg.authMW(next)
	}
}

func (hg *apiHandlerGroup) authMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(apiKeyHeader)
		found := false
		for _, key := range hg.cfg.Secrets.ApiKeys {
			if apiKey == key {
				found = true
			}
		}
		if !found {
			hg.logger.Warnf("API request with missing or invalid key: %s", r.URL.Path)
			writeErrorResponse(w, badApiKeyStr, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (hg *apiHandlerGroup) getStream(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling stream GET: %s", r.URL.RequestURI())

	viewerId, err := strconv.ParseInt(r.URL.Query().Get("viewer"), 10, 64)
	if err != nil {
		writeErrorResponse(w, "Missing or invalid 'viewer' parameter", http.StatusBadRequest)
		return
	}
	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	size := hg.cfg.PageSize
	if s, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && s > 0 {
		size = s
	}

	fp, err := hg.feed.GetStream(r.Context(), viewerId, page, size)
	if err != nil {
		hg.logger.Errorf("Error assembling stream for %d: %v", viewerId, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	writeJsonResponse(hg.logger, w, fp)
}

func (hg *apiHandlerGroup) getRemotePost(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling remote post GET: %s", r.URL.RequestURI())

	src := r.URL.Query().Get("src")
	if src == "" {
		writeErrorResponse(w, "Missing 'src' parameter", http.StatusBadRequest)
		return
	}
	post, err := hg.feed.GetRemotePost(r.Context(), src)
	if err != nil {
		hg.logger.Errorf("Error retrieving remote post %s: %v", src, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	if post == nil {
		writeErrorResponse(w, "No such post", http.StatusNotFound)
		return
	}
	writeJsonResponse(hg.logger, w, post)
}

type followReq struct {
	Url string `json:"url"`
}

func (hg *apiHandlerGroup) loadActor(w http.ResponseWriter, r *http.Request) *dal.Author {
	authorId, ok := pathId(r, "author")
	if !ok {
		writeErrorResponse(w, "Invalid author id", http.StatusNotFound)
		return nil
	}
	author, err := hg.repo.GetAuthor(authorId)
	if err != nil {
		hg.logger.Errorf("Error retrieving author %d: %v", authorId, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return nil
	}
	if author == nil {
		writeErrorResponse(w, "No such author", http.StatusNotFound)
		return nil
	}
	return author
}

// loadPost fetches the post addressed by the author/post path pair,
// writing a 404 if either is missing or if they don't belong together.
func (hg *apiHandlerGroup) loadPost(w http.ResponseWriter, r *http.Request, authorId int64) *dal.Post {
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

type commentReq struct {
	Author      string `json:"author"`
	Comment     string `json:"comment"`
	ContentType string `json:"contentType"`
}

func (hg *apiHandlerGroup) postComment(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling comment POST: %s", r.URL.Path)

	owner := hg.loadActor(w, r)
	if owner == nil {
		return
	}
	post := hg.loadPost(w, r, owner.Id)
	if post == nil {
		return
	}
	body := readBody(hg.logger, w, r)
	if body == nil {
		return
	}
	var req commentReq
	if err := json.Unmarshal(body, &req); err != nil || req.Author == "" || req.Comment == "" {
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return
	}
	if req.ContentType == "" {
		req.ContentType = "text/plain"
	}

	ident, err := hg.resolver.Resolve(req.Author)
	if err != nil {
		writeErrorResponse(w, "Invalid 'author' identifier", http.StatusBadRequest)
		return
	}

	if ident.Kind == logic.IdentityRemote {
		rc := dal.RemoteComment{
			PostId:      post.Id,
			AuthorUrl:   ident.Url,
			Comment:     req.Comment,
			ContentType: req.ContentType,
			Published:   time.Now().UTC(),
		}
		id, err := hg.repo.AddRemoteComment(&rc)
		if err != nil {
			hg.logger.Errorf("Error storing remote comment on post %d: %v", post.Id, err)
			writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
			return
		}
		rc.Id = id
		writeJsonBody(hg.logger, w, http.StatusCreated, hg.canon.EncodeRemoteComment(post.AuthorId, &rc))
		return
	}

	commenter, err := hg.repo.GetAuthor(ident.LocalId)
	if err != nil {
		hg.logger.Errorf("Error retrieving author %d: %v", ident.LocalId, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	if commenter == nil {
		writeErrorResponse(w, "No such author", http.StatusNotFound)
		return
	}
	c := dal.Comment{
		PostId:      post.Id,
		AuthorId:    commenter.Id,
		Comment:     req.Comment,
		ContentType: req.ContentType,
		Published:   time.Now().UTC(),
	}
	id, err := hg.repo.AddComment(&c)
	if err != nil {
		hg.logger.Errorf("Error storing comment on post %d: %v", post.Id, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	c.Id = id
	wc, err := hg.canon.EncodeComment(&c)
	if err != nil {
		hg.logger.Errorf("Error encoding comment %d: %v", c.Id, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	writeJsonBody(hg.logger, w, http.StatusCreated, wc)
}

type commentLikeReq struct {
	Author int64 `json:"author"`
}

func (hg *apiHandlerGroup) postCommentLike(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling comment like POST: %s", r.URL.Path)

	owner := hg.loadActor(w, r)
	if owner == nil {
		return
	}
	post := hg.loadPost(w, r, owner.Id)
	if post == nil {
		return
	}
	commentId, ok := pathId(r, "comment")
	if !ok {
		writeErrorResponse(w, "Invalid comment id", http.StatusNotFound)
		return
	}
	comments, err := hg.repo.GetComments(post.Id)
	if err != nil {
		hg.logger.Errorf("Error retrieving comments of post %d: %v", post.Id, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	var comment *dal.Comment
	for _, c := range comments {
		if c.Id == commentId {
			comment = c
		}
	}
	if comment == nil {
		writeErrorResponse(w, "No such comment", http.StatusNotFound)
		return
	}
	body := readBody(hg.logger, w, r)
	if body == nil {
		return
	}
	var req commentLikeReq
	if err := json.Unmarshal(body, &req); err != nil || req.Author == 0 {
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return
	}
	liker, err := hg.repo.GetAuthor(req.Author)
	if err != nil {
		hg.logger.Errorf("Error retrieving author %d: %v", req.Author, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	if liker == nil {
		writeErrorResponse(w, "No such author", http.StatusNotFound)
		return
	}

	isNew, err := hg.repo.AddCommentLikeIfNew(liker.Id, comment.Id)
	if err != nil {
		hg.logger.Errorf("Error storing like of comment %d: %v", comment.Id, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	if !isNew {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	idb := shared.IdBuilder{Host: hg.cfg.Host}
	like := hg.canon.EncodeLike(liker, idb.CommentUrl(post.AuthorId, post.Id, comment.Id), true)
	writeJsonBody(hg.logger, w, http.StatusOK, like)
}

func (hg *apiHandlerGroup) getFriendStatus(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling friends GET: %s", r.URL.Path)

	actor := hg.loadActor(w, r)
	if actor == nil {
		return
	}
	otherId, ok := pathId(r, "other")
	if !ok {
		writeErrorResponse(w, "Invalid author id", http.StatusNotFound)
		return
	}
	other, err := hg.repo.GetAuthor(otherId)
	if err != nil {
		hg.logger.Errorf("Error retrieving author %d: %v", otherId, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	if other == nil {
		writeErrorResponse(w, "No such author", http.StatusNotFound)
		return
	}
	isFriend, err := hg.repo.IsTrueFriend(actor.Id, other.Id)
	if err != nil {
		hg.logger.Errorf("Error checking friendship %d <-> %d: %v", actor.Id, other.Id, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	writeJsonResponse(hg.logger, w, map[string]any{"type": "friendship", "isFriend": isFriend})
}

type unfollowLocalReq struct {
	Followee int64 `json:"followee"`
}

func (hg *apiHandlerGroup) postUnfollowLocal(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling local unfollow POST: %s", r.URL.Path)

	actor := hg.loadActor(w, r)
	if actor == nil {
		return
	}
	body := readBody(hg.logger, w, r)
	if body == nil {
		return
	}
	var req unfollowLocalReq
	if err := json.Unmarshal(body, &req); err != nil || req.Followee == 0 {
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return
	}
	if err := hg.repo.RemoveFollow(actor.Id, req.Followee); err != nil {
		hg.logger.Errorf("Error removing follow %d -> %d: %v", actor.Id, req.Followee, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (hg *apiHandlerGroup) postFollow(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling follow POST: %s", r.URL.Path)

	actor := hg.loadActor(w, r)
	if actor == nil {
		return
	}
	body := readBody(hg.logger, w, r)
	if body == nil {
		return
	}
	var req followReq
	if err := json.Unmarshal(body, &req); err != nil || req.Url == "" {
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return
	}

	if err := hg.outbox.SendFollow(actor, req.Url); err != nil {
		hg.logger.Errorf("Error sending follow to %s: %v", req.Url, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (hg *apiHandlerGroup) postUnfollow(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling unfollow POST: %s", r.URL.Path)

	actor := hg.loadActor(w, r)
	if actor == nil {
		return
	}
	body := readBody(hg.logger, w, r)
	if body == nil {
		return
	}
	var req followReq
	if err := json.Unmarshal(body, &req); err != nil || req.Url == "" {
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return
	}

	if err := hg.outbox.Unfollow(actor.Id, req.Url); err != nil {
		hg.logger.Errorf("Error removing follow of %s: %v", req.Url, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (hg *apiHandlerGroup) getRequests(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling requests GET: %s", r.URL.Path)

	actor := hg.loadActor(w, r)
	if actor == nil {
		return
	}
	reqs, err := hg.repo.GetRequestsTo(actor.Id)
	if err != nil {
		hg.logger.Errorf("Error retrieving requests to %d: %v", actor.Id, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}

	items := make([]*dto.Author, 0, len(reqs))
	for _, req := range reqs {
		from, err := hg.repo.GetAuthor(req.FromId)
		if err != nil {
			hg.logger.Errorf("Error retrieving author %d: %v", req.FromId, err)
			writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
			return
		}
		if from == nil {
			continue
		}
		items = append(items, hg.canon.EncodeAuthor(from))
	}
	writeJsonResponse(hg.logger, w, map[string]any{"type": "requests", "items": items})
}

type requestDecision struct {
	From int64 `json:"from"`
}

// resolveRequest locates the pending follow request addressed by the
// body and removes it. Returns false if anything went wrong; the
// response has been written in that case.
func (hg *apiHandlerGroup) resolveRequest(w http.ResponseWriter, r *http.Request) (fromId, toId int64, ok bool) {
	actor := hg.loadActor(w, r)
	if actor == nil {
		return 0, 0, false
	}
	body := readBody(hg.logger, w, r)
	if body == nil {
		return 0, 0, false
	}
	var dec requestDecision
	if err := json.Unmarshal(body, &dec); err != nil || dec.From == 0 {
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return 0, 0, false
	}
	found, err := hg.repo.DeleteRequest(dec.From, actor.Id)
	if err != nil {
		hg.logger.Errorf("Error deleting request %d -> %d: %v", dec.From, actor.Id, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return 0, 0, false
	}
	if !found {
		writeErrorResponse(w, "No such request", http.StatusNotFound)
		return 0, 0, false
	}
	return dec.From, actor.Id, true
}

func (hg *apiHandlerGroup) postRequestAccept(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling request accept POST: %s", r.URL.Path)

	fromId, toId, ok := hg.resolveRequest(w, r)
	if !ok {
		return
	}
	if err := hg.repo.AddFollow(fromId, toId); err != nil {
		hg.logger.Errorf("Error adding follow %d -> %d: %v", fromId, toId, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (hg *apiHandlerGroup) postRequestReject(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling request reject POST: %s", r.URL.Path)

	if _, _, ok := hg.resolveRequest(w, r); !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
