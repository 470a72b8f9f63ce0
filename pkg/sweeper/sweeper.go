package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sambigeara/messagecat/pkg/observability/metrics"
	"github.com/sambigeara/messagecat/pkg/types"
	"github.com/sambigeara/messagecat/pkg/util"
)

const (
	DefaultTTL      = 30 * 24 * time.Hour
	DefaultInterval = time.Hour

	intervalJitter = 0.05
)

type Store interface {
	FriendRequests(ctx context.Context) ([]types.FriendRequest, error)
	DeleteFriendRequest(ctx context.Context, id int) error
	ChatInvites(ctx context.Context) ([]types.ChatInvite, error)
	DeleteChatInvite(ctx context.Context, id int) error
	ChatInvitesUsingKey(ctx context.Context, keyID int) (int, error)
}

type KeyStore interface {
	Remove(id int) error
	LockRefs()
	UnlockRefs()
}

// Sweeper deletes friend requests and chat invites older than a TTL,
// releasing the private key held for each expired invite.
type Sweeper struct {
	db       Store
	keys     KeyStore
	now      func() time.Time
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	ttl      time.Duration
	interval time.Duration
}

type Result struct {
	FriendRequests int
	ChatInvites    int
	Keys           int
}

// New returns a sweeper. An interval of zero sweeps once and stops.
func New(db Store, keys KeyStore, ttl, interval time.Duration, m *metrics.Metrics) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Sweeper{
		db:       db,
		keys:     keys,
		now:      time.Now,
		metrics:  m,
		log:      zap.S().Named("sweeper"),
		ttl:      ttl,
		interval: interval,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.sweepAndLog(ctx)
	if s.interval <= 0 {
		return nil
	}

	ticker := util.NewTicker(ctx, s.interval, intervalJitter)
	defer ticker.Stop()
	for range ticker.C {
		s.sweepAndLog(ctx)
	}
	return nil
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	res := s.Sweep(ctx)
	if res.FriendRequests+res.ChatInvites > 0 {
		s.log.Infow("swept expired records",
			"friendRequests", res.FriendRequests, "chatInvites", res.ChatInvites, "keys", res.Keys)
	}
}

// Sweep runs one pass. Failures are logged and the pass continues; anything
// left behind is retried on the next pass.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	var res Result
	cutoff := s.now().Add(-s.ttl).UnixMilli()

	requests, err := s.db.FriendRequests(ctx)
	if err != nil {
		s.log.Warnw("list friend requests", "err", err)
	}
	for _, r := range requests {
		if r.TimeSent >= cutoff {
			continue
		}
		if err := s.db.DeleteFriendRequest(ctx, r.FriendRequestID); err != nil {
			s.log.Warnw("delete expired friend request", "id", r.FriendRequestID, "err", err)
			continue
		}
		res.FriendRequests++
	}

	invites, err := s.db.ChatInvites(ctx)
	if err != nil {
		s.log.Warnw("list chat invites", "err", err)
	}
	for _, inv := range invites {
		if inv.TimeSent >= cutoff {
			continue
		}
		deleted, keyRemoved := s.expireInvite(ctx, inv)
		if deleted {
			res.ChatInvites++
		}
		if keyRemoved {
			res.Keys++
		}
	}

	s.metrics.RecordSwept("friendRequest", res.FriendRequests)
	s.metrics.RecordSwept("chatInvite", res.ChatInvites)
	s.metrics.RecordSwept("key", res.Keys)
	return res
}

// expireInvite deletes inv and, if nothing else refers to it, its key.
func (s *Sweeper) expireInvite(ctx context.Context, inv types.ChatInvite) (deleted, keyRemoved bool) {
	s.keys.LockRefs()
	defer s.keys.UnlockRefs()

	if err := s.db.DeleteChatInvite(ctx, inv.ChatInviteID); err != nil {
		s.log.Warnw("delete expired chat invite", "id", inv.ChatInviteID, "err", err)
		return false, false
	}

	refs, err := s.db.ChatInvitesUsingKey(ctx, inv.PrivateKeyID)
	if err != nil {
		s.log.Warnw("count key references", "key", inv.PrivateKeyID, "err", err)
		return true, false
	}
	if refs > 0 {
		return true, false
	}
	// A failure here leaves an unreferenced key, which is never read again.
	if err := s.keys.Remove(inv.PrivateKeyID); err != nil {
		s.log.Warnw("remove expired invite key", "key", inv.PrivateKeyID, "err", err)
		return true, false
	}
	return true, true
}
