package test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"quilt/dto"
)

func Test_SendFollow_DeliversActivity(t *testing.T) {
	deps := newTestDeps()
	actor := seedAuthor(deps.repo, "Jane Doe")
	remoteUrl := "https://birbnet.example.net/authors/9"
	deps.registry.serve(peer1Addr, "/authors/9",
		`{"id": "https://birbnet.example.net/authors/9", "displayName": "Remote Birb"}`)

	obox := deps.newOutbox()
	err := obox.SendFollow(actor, remoteUrl)
	assert.Nil(t, err)

	assert.Equal(t, 1, len(deps.registry.posted))
	delivery := deps.registry.posted[0]
	assert.Equal(t, peer1Addr, delivery.peerAddr)
	assert.Equal(t, "/authors/9/inbox/", delivery.path)

	activity, ok := delivery.body.(*dto.FollowActivityOut)
	assert.True(t, ok)
	assert.Equal(t, "Follow", activity.Type)
	assert.Equal(t, "Jane Doe wants to follow Remote Birb", activity.Summary)
	assert.Equal(t, "https://"+testHost+"/authors/1", activity.Actor.Id)
	// Object carries the remote author representation verbatim
	assert.Contains(t, string(activity.Object), "Remote Birb")

	follows, _ := deps.repo.GetRemoteFollows(actor.Id)
	assert.Equal(t, 1, len(follows))
	assert.Equal(t, remoteUrl, follows[0].FolloweeUrl)
}

func Test_SendFollow_UnknownPeer_SilentlyDropped(t *testing.T) {
	deps := newTestDeps()
	actor := seedAuthor(deps.repo, "Jane Doe")

	obox := deps.newOutbox()
	err := obox.SendFollow(actor, "https://nowhere.example.io/authors/9")
	assert.Nil(t, err)
	assert.Equal(t, 0, len(deps.registry.posted))

	follows, _ := deps.repo.GetRemoteFollows(actor.Id)
	assert.Equal(t, 0, len(follows))
}

func Test_SendFollow_FetchFailure_ReturnsError(t *testing.T) {
	deps := newTestDeps()
	actor := seedAuthor(deps.repo, "Jane Doe")
	deps.registry.fail(peer1Addr, "/authors/9", errors.New("boom"))

	obox := deps.newOutbox()
	err := obox.SendFollow(actor, "https://birbnet.example.net/authors/9")
	assert.NotNil(t, err)
	assert.Equal(t, 0, len(deps.registry.posted))
}

func Test_SendFollow_Duplicate_SingleRow(t *testing.T) {
	deps := newTestDeps()
	actor := seedAuthor(deps.repo, "Jane Doe")
	remoteUrl := "https://birbnet.example.net/authors/9"
	deps.registry.serve(peer1Addr, "/authors/9",
		`{"id": "https://birbnet.example.net/authors/9", "displayName": "Remote Birb"}`)

	obox := deps.newOutbox()
	assert.Nil(t, obox.SendFollow(actor, remoteUrl))
	assert.Nil(t, obox.SendFollow(actor, remoteUrl))

	follows, _ := deps.repo.GetRemoteFollows(actor.Id)
	assert.Equal(t, 1, len(follows))
}

func Test_Unfollow_RemovesRow(t *testing.T) {
	deps := newTestDeps()
	actor := seedAuthor(deps.repo, "Jane Doe")
	remoteUrl := "https://birbnet.example.net/authors/9"
	_, _ = deps.repo.AddRemoteFollowIfNew(actor.Id, remoteUrl)

	obox := deps.newOutbox()
	assert.Nil(t, obox.Unfollow(actor.Id, remoteUrl))

	follows, _ := deps.repo.GetRemoteFollows(actor.Id)
	assert.Equal(t, 0, len(follows))
}
