package logic

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"

	"quilt/dal"
	"quilt/dto"
	"quilt/shared"
)

// FeedItem is the aggregator's internal record: one normalized entry of
// the unified stream, regardless of which instance it came from. Remote
// items point at a local proxy route so that detail views re-fetch live.
type FeedItem struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	ContentType string    `json:"contentType"`
	Published   time.Time `json:"published"`
	AuthorName  string    `json:"authorName"`
	DetailUrl   string    `json:"detailUrl"`
	Origin      string    `json:"origin"`
}

type FeedPage struct {
	Page  int         `json:"page"`
	Size  int         `json:"size"`
	Total int         `json:"total"`
	Items []*FeedItem `json:"items"`
}

// IFeedAggregator merges locally stored posts with posts fetched live
// from every registered peer into one time-ordered, paginated stream.
type IFeedAggregator interface {
	GetStream(ctx context.Context, viewerId int64, page, size int) (*FeedPage, error)
	GetRemotePost(ctx context.Context, srcUrl string) (*dto.Post, error)
}

type feedAggregator struct {
	cfg      *shared.Config
	logger   shared.ILogger
	repo     dal.IRepo
	registry IPeerRegistry
	resolver IIdentityResolver
	metrics  IMetrics
	idb      shared.IdBuilder
	policy   *bluemonday.Policy
}

func NewFeedAggregator(
	cfg *shared.Config,
	logger shared.ILogger,
	repo dal.IRepo,
	registry IPeerRegistry,
	resolver IIdentityResolver,
	metrics IMetrics,
) IFeedAggregator {
	return &feedAggregator{
		cfg:      cfg,
		logger:   logger,
		repo:     repo,
		registry: registry,
		resolver: resolver,
		metrics:  metrics,
		idb:      shared.IdBuilder{Host: cfg.Host},
		policy:   bluemonday.UGCPolicy(),
	}
}

func (ag *feedAggregator) GetStream(ctx context.Context, viewerId int64, page, size int) (*FeedPage, error) {

	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = ag.cfg.PageSize
	}

	localItems, err := ag.localItems(viewerId)
	if err != nil {
		return nil, err
	}
	remoteItems := ag.remoteItems(ctx)

	merged := append(localItems, remoteItems...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Published.After(merged[j].Published)
	})

	total := len(merged)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	ag.metrics.FeedAssembled()

	return &FeedPage{
		Page:  page,
		Size:  size,
		Total: total,
		Items: merged[start:end],
	}, nil
}

func (ag *feedAggregator) localItems(viewerId int64) ([]*FeedItem, error) {

	posts, err := ag.repo.GetStreamPosts(viewerId)
	if err != nil {
		return nil, err
	}

	authorNames := map[int64]string{}
	res := make([]*FeedItem, 0, len(posts))
	for _, p := range posts {
		name, ok := authorNames[p.AuthorId]
		if !ok {
			author, err := ag.repo.GetAuthor(p.AuthorId)
			if err != nil {
				return nil, err
			}
			if author != nil {
				name = author.DisplayName
			}
			authorNames[p.AuthorId] = name
		}
		res = append(res, &FeedItem{
			Title:       p.Title,
			Description: p.Description,
			Content:     p.Content,
			ContentType: p.ContentType,
			Published:   p.Published,
			AuthorName:  name,
			DetailUrl:   ag.idb.PostUrl(p.AuthorId, p.Id),
			Origin:      ag.cfg.Host,
		})
	}
	return res, nil
}

// remoteItems fans out to every registered peer with a bounded worker
// pool; the calls are independent and read-only. An unreachable or
// erroring peer contributes nothing. Per-peer results land at the peer's
// insertion-order index so output is deterministic before the merge sort.
func (ag *feedAggregator) remoteItems(ctx context.Context) []*FeedItem {

	peers := ag.registry.Peers()
	if len(peers) == 0 {
		return nil
	}

	workers := ag.cfg.FeedFanoutWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(peers) {
		workers = len(peers)
	}

	perPeer := make([][]*FeedItem, len(peers))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ix := range jobs {
				perPeer[ix] = ag.fetchPeer(ctx, &peers[ix])
			}
		}()
	}
	for ix := range peers {
		jobs <- ix
	}
	close(jobs)
	wg.Wait()

	return lo.Flatten(perPeer)
}

func (ag *feedAggregator) fetchPeer(ctx context.Context, peer *shared.Peer) []*FeedItem {

	if ctx.Err() != nil {
		return nil
	}

	authorsBody, err := ag.registry.Get(peer, "/authors", nil)
	if err != nil {
		ag.logger.Infof("Peer %s unreachable; feed contribution empty: %v", peer.ServiceAddress, err)
		ag.metrics.PeerFetchFailed(peer.ServiceAddress)
		return nil
	}
	authors, err := dto.DecodeAuthors(authorsBody)
	if err != nil {
		ag.logger.Infof("Peer %s returned an invalid author list: %v", peer.ServiceAddress, err)
		ag.metrics.PeerFetchFailed(peer.ServiceAddress)
		return nil
	}

	var res []*FeedItem
	for i := range authors {
		author := &authors[i]
		if ctx.Err() != nil {
			break
		}
		authorId := shared.LastPathSegment(author.Id)
		postsBody, err := ag.registry.Get(peer, "/authors/"+authorId+"/posts", nil)
		if err != nil {
			ag.logger.Infof("Failed to fetch posts of %s from %s: %v", author.Id, peer.ServiceAddress, err)
			ag.metrics.PeerFetchFailed(peer.ServiceAddress)
			continue
		}
		posts, err := dto.DecodePosts(postsBody)
		if err != nil {
			ag.logger.Infof("Peer %s returned an invalid post list for %s: %v", peer.ServiceAddress, author.Id, err)
			continue
		}
		res = append(res, lo.Map(posts, func(p dto.Post, _ int) *FeedItem {
			return ag.remoteItem(peer, author, &p)
		})...)
	}
	return res
}

func (ag *feedAggregator) remoteItem(peer *shared.Peer, author *dto.Author, p *dto.Post) *FeedItem {

	authorName := p.Author.DisplayName
	if authorName == "" {
		authorName = author.DisplayName
	}

	origin, _ := shared.GetHostName(peer.ServiceAddress)

	return &FeedItem{
		Title:       p.Title,
		Description: p.Description,
		Content:     ag.policy.Sanitize(p.Content),
		ContentType: p.ContentType,
		Published:   p.PublishedAt,
		AuthorName:  authorName,
		// Rewritten so a detail click re-fetches the live resource
		DetailUrl: ag.idb.RemotePostProxyUrl(p.Id),
		Origin:    origin,
	}
}

// GetRemotePost fetches one post live from the peer that owns the source
// URL. An unknown peer fails soft with a nil post.
func (ag *feedAggregator) GetRemotePost(ctx context.Context, srcUrl string) (*dto.Post, error) {

	peer := ag.resolver.OwningPeer(srcUrl)
	if peer == nil {
		return nil, nil
	}

	path := pathOnPeer(peer, srcUrl)
	body, err := ag.registry.Get(peer, path, nil)
	if err != nil {
		ag.logger.Infof("Remote post detail fetch failed for %s: %v", srcUrl, err)
		ag.metrics.PeerFetchFailed(peer.ServiceAddress)
		return nil, nil
	}

	var post dto.Post
	if err = json.Unmarshal(body, &post); err != nil {
		ag.logger.Infof("Peer returned an invalid post for %s: %v", srcUrl, err)
		return nil, nil
	}
	post.Content = ag.policy.Sanitize(post.Content)
	return &post, nil
}
