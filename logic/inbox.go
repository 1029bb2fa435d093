package logic

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"quilt/dal"
	"quilt/dto"
	"quilt/shared"
	"quilt/texts"
)

// InboxResult is the outcome of dispatching one inbound activity.
// Status is the HTTP status the caller must return. Body is set only
// when the contract requires one (a local like echoes the encoded Like);
// Detail carries the diagnostic for rejected/deferred activities.
type InboxResult struct {
	Status int
	Body   any
	Detail string
}

// IInbox is the single entry point for inbound federation traffic: it
// classifies an activity by declared type, resolves the acting author
// and target entity, and applies the corresponding state mutation at
// most once per (author, target) pair.
type IInbox interface {
	HandleActivity(recipientId int64, bodyBytes []byte) (*InboxResult, error)
}

type inbox struct {
	cfg      *shared.Config
	logger   shared.ILogger
	idb      shared.IdBuilder
	repo     dal.IRepo
	txt      texts.ITexts
	metrics  IMetrics
	resolver IIdentityResolver
	canon    ICanon
}

func NewInbox(
	cfg *shared.Config,
	logger shared.ILogger,
	repo dal.IRepo,
	txt texts.ITexts,
	metrics IMetrics,
	resolver IIdentityResolver,
	canon ICanon,
) IInbox {
	return &inbox{cfg, logger, shared.IdBuilder{Host: cfg.Host}, repo, txt, metrics, resolver, canon}
}

func rejected(detail string) *InboxResult {
	return &InboxResult{Status: http.StatusUnprocessableEntity, Detail: detail}
}

func deferred(detail string) *InboxResult {
	return &InboxResult{Status: http.StatusNotImplemented, Detail: detail}
}

func (ib *inbox) HandleActivity(recipientId int64, bodyBytes []byte) (*InboxResult, error) {

	var act dto.ActivityIn
	if jsonErr := json.Unmarshal(bodyBytes, &act); jsonErr != nil {
		ib.logger.Infof("Invalid JSON in inbox activity body: %v", jsonErr)
		ib.metrics.ActivityRejected("invalid_json")
		return rejected("Invalid JSON"), nil
	}

	switch strings.ToLower(act.Type) {
	case "like":
		return ib.handleLike(recipientId, &act)
	case "follow":
		return ib.handleFollow(recipientId, &act)
	case "post":
		ib.metrics.ActivityRejected("not_implemented")
		return deferred("Post activities are not implemented"), nil
	case "comment":
		ib.metrics.ActivityRejected("not_implemented")
		return deferred("Comment activities are not implemented"), nil
	}

	ib.logger.Infof("Inbox activity with unknown type '%s'", act.Type)
	ib.metrics.ActivityRejected("unknown_type")
	return rejected("Unknown type"), nil
}

func (ib *inbox) handleLike(recipientId int64, act *dto.ActivityIn) (*InboxResult, error) {

	ib.logger.Infof("Handling Like activity to author %d", recipientId)

	if act.Author == nil || act.Author.Id == "" {
		return rejected("Like activity is missing 'author'"), nil
	}
	if act.ObjectUrl == "" {
		return rejected("Like activity is missing 'object' URL"), nil
	}

	// A comment-segment marker means the target is a comment
	if objectPathContains(act.ObjectUrl, "/comments/") {
		return deferred("Liking a comment is not implemented"), nil
	}

	objIdent, err := ib.resolver.Resolve(act.ObjectUrl)
	if err != nil {
		return rejected(fmt.Sprintf("Invalid object identifier: %s", act.ObjectUrl)), nil
	}
	if objIdent.Kind != IdentityLocal {
		return rejected(fmt.Sprintf("Object is not hosted here: %s", act.ObjectUrl)), nil
	}

	post, err := ib.repo.GetPost(objIdent.LocalId)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return &InboxResult{Status: http.StatusNotFound, Detail: "No such post"}, nil
	}

	actorIdent, err := ib.resolver.Resolve(act.Author.Id)
	if err != nil {
		if errors.Is(err, ErrMalformedIdentifier) {
			return rejected(fmt.Sprintf("Invalid author identifier: %s", act.Author.Id)), nil
		}
		return nil, err
	}

	if actorIdent.Kind == IdentityRemote {
		// The caller already has the data; no body in the response
		if _, err = ib.repo.AddRemoteLikeIfNew(actorIdent.Url, post.Id); err != nil {
			return nil, err
		}
		ib.metrics.ActivityApplied("remote_like")
		return &InboxResult{Status: http.StatusNoContent}, nil
	}

	author, err := ib.repo.GetAuthor(actorIdent.LocalId)
	if err != nil {
		return nil, err
	}
	if author == nil {
		return rejected(fmt.Sprintf("No such local author: %d", actorIdent.LocalId)), nil
	}

	// Duplicate inbound likes are a no-op, not an error
	if _, err = ib.repo.AddLikeIfNew(author.Id, post.Id); err != nil {
		return nil, err
	}
	ib.metrics.ActivityApplied("like")

	like := ib.canon.EncodeLike(author, act.ObjectUrl, false)
	return &InboxResult{Status: http.StatusOK, Body: like}, nil
}

func (ib *inbox) handleFollow(recipientId int64, act *dto.ActivityIn) (*InboxResult, error) {

	ib.logger.Infof("Handling Follow activity to author %d", recipientId)

	if act.Author == nil || act.Author.Id == "" {
		return rejected("Follow activity is missing 'actor'"), nil
	}
	if act.ObjectAuthor == nil || act.ObjectAuthor.Id == "" {
		return rejected("Follow activity is missing 'object' author"), nil
	}

	objIdent, err := ib.resolver.Resolve(act.ObjectAuthor.Id)
	if err != nil {
		return rejected(fmt.Sprintf("Invalid object identifier: %s", act.ObjectAuthor.Id)), nil
	}
	if objIdent.Kind != IdentityLocal {
		return rejected(fmt.Sprintf("Followee is not hosted here: %s", act.ObjectAuthor.Id)), nil
	}

	followee, err := ib.repo.GetAuthor(objIdent.LocalId)
	if err != nil {
		return nil, err
	}
	if followee == nil {
		return &InboxResult{Status: http.StatusNotFound, Detail: "No such author"}, nil
	}

	actorIdent, err := ib.resolver.Resolve(act.Author.Id)
	if err != nil {
		if errors.Is(err, ErrMalformedIdentifier) {
			return rejected(fmt.Sprintf("Invalid actor identifier: %s", act.Author.Id)), nil
		}
		return nil, err
	}

	if actorIdent.Kind == IdentityRemote {
		if _, err = ib.repo.AddRemoteRequestIfNew(actorIdent.Url, followee.Id); err != nil {
			return nil, err
		}
		ib.metrics.ActivityApplied("remote_follow")
		return &InboxResult{Status: http.StatusNoContent}, nil
	}

	if actorIdent.LocalId == followee.Id {
		return rejected("Author cannot follow themselves"), nil
	}

	// Duplicate follow requests are a no-op, not an error
	if _, err = ib.repo.AddRequestIfNew(actorIdent.LocalId, followee.Id); err != nil {
		return nil, err
	}
	ib.metrics.ActivityApplied("follow")
	return &InboxResult{Status: http.StatusNoContent}, nil
}

func objectPathContains(objectUrl, marker string) bool {
	parsed, err := url.Parse(objectUrl)
	if err != nil {
		return strings.Contains(objectUrl, marker)
	}
	return strings.Contains(parsed.Path, marker)
}
