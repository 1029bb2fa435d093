package logic

import (
	"encoding/json"
	"net/url"
	"strings"

	"quilt/dal"
	"quilt/dto"
	"quilt/shared"
	"quilt/texts"
)

// IOutbox constructs outbound activities and delivers them to the owning
// peer's inbox. Delivery is fire-and-forget: when no registered peer owns
// the target, the activity is dropped without surfacing an error.
type IOutbox interface {
	SendFollow(actor *dal.Author, remoteAuthorUrl string) error
	Unfollow(actorId int64, remoteAuthorUrl string) error
}

type outbox struct {
	cfg      *shared.Config
	logger   shared.ILogger
	repo     dal.IRepo
	txt      texts.ITexts
	registry IPeerRegistry
	resolver IIdentityResolver
	canon    ICanon
}

func NewOutbox(
	cfg *shared.Config,
	logger shared.ILogger,
	repo dal.IRepo,
	txt texts.ITexts,
	registry IPeerRegistry,
	resolver IIdentityResolver,
	canon ICanon,
) IOutbox {
	return &outbox{cfg, logger, repo, txt, registry, resolver, canon}
}

func (ob *outbox) SendFollow(actor *dal.Author, remoteAuthorUrl string) error {

	peer := ob.resolver.OwningPeer(remoteAuthorUrl)
	if peer == nil {
		// Unknown peer: the activity is silently not sent
		ob.logger.Warnf("No registered peer owns %s; follow activity dropped", remoteAuthorUrl)
		return nil
	}

	objectPath := pathOnPeer(peer, remoteAuthorUrl)

	// Fetch the remote author representation; the activity carries it
	// exactly as received.
	objectRaw, err := ob.registry.Get(peer, objectPath, nil)
	if err != nil {
		ob.logger.Warnf("Failed to fetch remote author %s: %v", remoteAuthorUrl, err)
		return err
	}
	var object dto.Author
	if err = json.Unmarshal(objectRaw, &object); err != nil {
		ob.logger.Warnf("Peer returned an invalid author representation for %s: %v", remoteAuthorUrl, err)
		return err
	}

	activity := dto.FollowActivityOut{
		Type: "Follow",
		Summary: ob.txt.WithVals("follow_request.txt", map[string]string{
			"actorName":  actor.DisplayName,
			"objectName": object.DisplayName,
		}),
		Actor:  ob.canon.EncodeAuthor(actor),
		Object: objectRaw,
	}

	if err = ob.registry.Post(peer, objectPath+"/inbox/", &activity); err != nil {
		// No retry; a failed delivery is dropped
		ob.logger.Warnf("Follow activity to %s not delivered: %v", remoteAuthorUrl, err)
		return err
	}

	_, err = ob.repo.AddRemoteFollowIfNew(actor.Id, remoteAuthorUrl)
	return err
}

func (ob *outbox) Unfollow(actorId int64, remoteAuthorUrl string) error {
	return ob.repo.RemoveRemoteFollow(actorId, remoteAuthorUrl)
}

// pathOnPeer rewrites an absolute resource URL into a path relative to
// the peer's service address, tolerating base addresses that carry a
// path prefix of their own.
func pathOnPeer(peer *shared.Peer, resourceUrl string) string {

	trimmedAddr := strings.TrimRight(peer.ServiceAddress, "/")
	if strings.HasPrefix(resourceUrl, trimmedAddr) {
		return strings.TrimSuffix(resourceUrl[len(trimmedAddr):], "/")
	}

	parsed, err := url.Parse(resourceUrl)
	if err != nil {
		return resourceUrl
	}
	return strings.TrimSuffix(parsed.Path, "/")
}
