package test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"quilt/logic"
)

func Test_Resolve_LocalAuthor(t *testing.T) {
	deps := newTestDeps()

	ident, err := deps.resolver.Resolve("https://" + testHost + "/authors/17")
	assert.Nil(t, err)
	assert.Equal(t, logic.IdentityLocal, ident.Kind)
	assert.Equal(t, int64(17), ident.LocalId)
}

func Test_Resolve_LocalPost_TrailingSlash(t *testing.T) {
	deps := newTestDeps()

	ident, err := deps.resolver.Resolve("https://" + testHost + "/authors/17/posts/4/")
	assert.Nil(t, err)
	assert.Equal(t, logic.IdentityLocal, ident.Kind)
	assert.Equal(t, int64(4), ident.LocalId)
}

func Test_Resolve_Remote(t *testing.T) {
	deps := newTestDeps()

	url := "https://birbnet.example.net/authors/not-even-numeric"
	ident, err := deps.resolver.Resolve(url)
	assert.Nil(t, err)
	assert.Equal(t, logic.IdentityRemote, ident.Kind)
	assert.Equal(t, url, ident.Url)
}

func Test_Resolve_MalformedLocal(t *testing.T) {
	deps := newTestDeps()

	_, err := deps.resolver.Resolve("https://" + testHost + "/authors/jane")
	assert.ErrorIs(t, err, logic.ErrMalformedIdentifier)
}

func Test_OwningPeer_MatchesByHost(t *testing.T) {
	deps := newTestDeps()

	peer := deps.resolver.OwningPeer("https://burrow.example.org/authors/8/posts/3")
	assert.NotNil(t, peer)
	assert.Equal(t, peer2Addr, peer.ServiceAddress)
}

func Test_OwningPeer_UnknownHost(t *testing.T) {
	deps := newTestDeps()

	peer := deps.resolver.OwningPeer("https://nowhere.example.io/authors/8")
	assert.Nil(t, peer)
}
