package test

import (
	"time"

	"quilt/dal"
	"quilt/logic"
	"quilt/shared"
	"quilt/texts"
)

const (
	testHost  = "quilt.example.com"
	peer1Addr = "https://birbnet.example.net"
	peer2Addr = "https://burrow.example.org"
)

func newTestConfig() *shared.Config {
	return &shared.Config{
		Secrets: shared.Secrets{
			ApiKeys:     []string{"test-api-key"},
			MetricsAuth: "test-metrics-secret",
			FedUsers:    []shared.FedUser{{Username: "birb", Password: "seeds"}},
		},
		LogFile:            "test.log",
		LogLevel:           "Error",
		ServicePort:        8080,
		Host:               testHost,
		DbFile:             ":memory:",
		PageSize:           20,
		PeerCacheSeconds:   180,
		PeerTimeoutSeconds: 5,
		FeedFanoutWorkers:  4,
		Peers: []shared.Peer{
			{ServiceAddress: peer1Addr, Username: "quilt", Password: "pw1"},
			{ServiceAddress: peer2Addr, Username: "quilt", Password: "pw2"},
		},
	}
}

func seedAuthor(repo *fakeRepo, displayName string) *dal.Author {
	author := &dal.Author{
		Username:    displayName,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	_, _ = repo.AddAuthor(author)
	return author
}

func seedPost(repo *fakeRepo, authorId int64, title string, published time.Time) *dal.Post {
	post := &dal.Post{
		AuthorId:    authorId,
		Title:       title,
		Description: title,
		ContentType: "text/plain",
		Content:     title + " content",
		Visibility:  dal.VisibilityPublic,
		Published:   published,
	}
	_, _ = repo.AddPost(post)
	return post
}

type testDeps struct {
	cfg      *shared.Config
	repo     *fakeRepo
	registry *fakeRegistry
	resolver logic.IIdentityResolver
	canon    logic.ICanon
	txt      texts.ITexts
}

func newTestDeps() *testDeps {
	cfg := newTestConfig()
	repo := newFakeRepo()
	registry := newFakeRegistry(cfg.Peers)
	resolver := logic.NewIdentityResolver(cfg, registry)
	txt := texts.NewTexts()
	return &testDeps{
		cfg:      cfg,
		repo:     repo,
		registry: registry,
		resolver: resolver,
		canon:    logic.NewCanon(cfg, repo, txt),
		txt:      txt,
	}
}

func (d *testDeps) newInbox() logic.IInbox {
	return logic.NewInbox(d.cfg, &nullLogger{}, d.repo, d.txt, &nullMetrics{}, d.resolver, d.canon)
}

func (d *testDeps) newOutbox() logic.IOutbox {
	return logic.NewOutbox(d.cfg, &nullLogger{}, d.repo, d.txt, d.registry, d.resolver, d.canon)
}

func (d *testDeps) newFeed() logic.IFeedAggregator {
	return logic.NewFeedAggregator(d.cfg, &nullLogger{}, d.repo, d.registry, d.resolver, &nullMetrics{})
}
