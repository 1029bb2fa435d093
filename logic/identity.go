package logic

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"quilt/shared"
)

// ErrMalformedIdentifier marks identifiers that claim to be local but
// whose last path segment is not a numeric id.
var ErrMalformedIdentifier = errors.New("malformed identifier")

type IdentityKind int

const (
	IdentityLocal IdentityKind = iota
	IdentityRemote
)

// Identity is the classification of an identifier URL. Local identities
// carry the extracted numeric key; remote ones keep the opaque URL.
type Identity struct {
	Kind    IdentityKind
	LocalId int64
	Url     string
}

// IIdentityResolver classifies identifier URLs as local or remote and
// locates the peer that owns a remote one. Resolution is a pure function
// of the input URL and static configuration.
type IIdentityResolver interface {
	Resolve(rawUrl string) (Identity, error)
	OwningPeer(rawUrl string) *shared.Peer
}

type identityResolver struct {
	cfg      *shared.Config
	registry IPeerRegistry
}

func NewIdentityResolver(cfg *shared.Config, registry IPeerRegistry) IIdentityResolver {
	return &identityResolver{cfg, registry}
}

func (res *identityResolver) Resolve(rawUrl string) (Identity, error) {

	parsedUrl, err := url.Parse(rawUrl)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: cannot parse '%s': %v", ErrMalformedIdentifier, rawUrl, err)
	}

	if parsedUrl.Hostname() != res.cfg.Host {
		return Identity{Kind: IdentityRemote, Url: rawUrl}, nil
	}

	segment := shared.LastPathSegment(rawUrl)
	localId, err := strconv.ParseInt(segment, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: last path segment of '%s' is not a numeric id", ErrMalformedIdentifier, rawUrl)
	}
	return Identity{Kind: IdentityLocal, LocalId: localId, Url: rawUrl}, nil
}

// OwningPeer finds the registered peer whose service address shares the
// identifier's hostname; first match wins. A nil result means the peer is
// unknown and any detail fetch for the identity must fail soft.
func (res *identityResolver) OwningPeer(rawUrl string) *shared.Peer {

	host, err := shared.GetHostName(rawUrl)
	if err != nil {
		return nil
	}
	peers := res.registry.Peers()
	for i := range peers {
		peerHost, err := shared.GetHostName(peers[i].ServiceAddress)
		if err != nil {
			continue
		}
		if peerHost == host {
			return &peers[i]
		}
	}
	return nil
}
