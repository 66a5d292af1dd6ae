package mailstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/a1418507570/freemail/cache"
	"github.com/a1418507570/freemail/models"
	"github.com/a1418507570/freemail/util"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

var log = slog.Default().With("system", "mailstore")

var tracer = otel.Tracer("mailstore")

var ErrMessageNotFound = errors.New("message not found")

var ErrMailboxNotFound = errors.New("mailbox not found")

// Statistic names accepted by StatValue.
const (
	StatMailboxesTotal = "mailboxes:total"
	StatMessagesTotal  = "messages:total"
	StatMessagesBytes  = "messages:bytes"
)

// How long a newly created disposable mailbox stays live.
const DefaultMailboxTTL = 24 * time.Hour

// CacheConfig fixes the cache parameters at construction time; nothing here
// is runtime-tunable.
type CacheConfig struct {
	SchemaTTL        time.Duration
	AddressTTL       time.Duration
	QuotaTTL         time.Duration
	StatTTL          time.Duration
	SweepMinInterval time.Duration
	ContentCapacity  int
	ContentTTL       time.Duration
}

func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		SchemaTTL:        time.Hour,
		AddressTTL:       10 * time.Minute,
		QuotaTTL:         5 * time.Minute,
		StatTTL:          10 * time.Minute,
		SweepMinInterval: 30 * time.Minute,
		ContentCapacity:  1000,
		ContentTTL:       time.Hour,
	}
}

// Store is the cache manager in front of the mail database: it owns the four
// TTL namespaces, the content LRU, and the sweep gate, supplies the loaders
// that read through to gorm, and performs the invalidations its own write
// paths require. Construct one per process and pass it by reference; there
// are no ambient singletons, so tests get isolated instances.
type Store struct {
	db *gorm.DB

	schemaCols *cache.Namespace[string, []string]
	addrIDs    *cache.Namespace[string, models.Uid]
	quotas     *cache.Namespace[models.Uid, int64]
	stats      *cache.Namespace[string, int64]
	content    *cache.LRU[models.Uid, *models.Message]
	sweeper    *cache.Sweeper

	// Coalesces concurrent address lookups for the same cold key.
	addrLookupChans sync.Map
}

func NewStore(db *gorm.DB, config *CacheConfig) (*Store, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}
	if config.ContentCapacity <= 0 {
		return nil, fmt.Errorf("content cache capacity must be positive, got %d", config.ContentCapacity)
	}

	if err := db.AutoMigrate(&models.Mailbox{}, &models.Message{}); err != nil {
		return nil, fmt.Errorf("migrating mail tables: %w", err)
	}

	content, err := cache.NewLRU[models.Uid, *models.Message]("content", config.ContentCapacity, config.ContentTTL)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:         db,
		schemaCols: cache.NewNamespace[string, []string]("schema", config.SchemaTTL),
		addrIDs:    cache.NewNamespace[string, models.Uid]("address", config.AddressTTL),
		quotas:     cache.NewNamespace[models.Uid, int64]("quota", config.QuotaTTL),
		stats:      cache.NewNamespace[string, int64]("stat", config.StatTTL),
		content:    content,
		sweeper:    cache.NewSweeper(config.SweepMinInterval),
	}, nil
}

// MailboxID resolves an address to its mailbox id, serving from the address
// namespace when it can. A malformed address is definitionally absent and
// touches neither cache nor database. A well-formed address with no mailbox
// resolves to the zero Uid, and that negative result is cached like any
// other so repeated probes for dead addresses stay off the database.
//
// Concurrent lookups for the same cold address are coalesced: one caller
// loads, the rest wait and read the refreshed cache.
func (s *Store) MailboxID(ctx context.Context, address string) (models.Uid, error) {
	ctx, span := tracer.Start(ctx, "mailboxID")
	defer span.End()

	addr, err := util.NormalizeAddress(address)
	if err != nil {
		return 0, nil
	}

	if uid, ok := s.addrIDs.Get(addr); ok {
		span.SetAttributes(attribute.Bool("cache", true))
		return uid, nil
	}
	span.SetAttributes(attribute.Bool("cache", false))

	res := make(chan struct{})
	val, loaded := s.addrLookupChans.LoadOrStore(addr, res)
	if loaded {
		lookupsCoalesced.Inc()
		// Wait for the result from the pending lookup
		select {
		case <-val.(chan struct{}):
			if uid, ok := s.addrIDs.Get(addr); ok {
				return uid, nil
			}
			// winner's load failed; fall through to our own
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	} else {
		defer func() {
			s.addrLookupChans.Delete(addr)
			close(res)
		}()
	}

	uid, err := s.loadMailboxID(ctx, addr)
	if err != nil {
		return 0, err
	}
	s.addrIDs.Set(addr, uid)
	return uid, nil
}

func (s *Store) loadMailboxID(ctx context.Context, addr string) (models.Uid, error) {
	start := time.Now()
	var mb models.Mailbox
	err := s.db.WithContext(ctx).Find(&mb, "address = ?", addr).Error
	observeLoad("address", start, err)
	if err != nil {
		return 0, fmt.Errorf("looking up mailbox: %w", err)
	}
	// a missing row leaves mb.ID at zero, the not-found sentinel
	return mb.ID, nil
}

// QuotaUsed reports how many messages a mailbox currently holds. The zero
// Uid is the not-found sentinel and short-circuits to zero without touching
// cache or database.
func (s *Store) QuotaUsed(ctx context.Context, uid models.Uid) (int64, error) {
	if uid == 0 {
		return 0, nil
	}
	return s.quotas.GetOrLoad(ctx, uid, func(ctx context.Context, uid models.Uid) (int64, error) {
		start := time.Now()
		var n int64
		err := s.db.WithContext(ctx).Model(&models.Message{}).Where("mailbox = ?", uid).Count(&n).Error
		observeLoad("quota", start, err)
		if err != nil {
			return 0, fmt.Errorf("counting mailbox messages: %w", err)
		}
		return n, nil
	})
}

// StatValue returns a named service-wide aggregate (StatMailboxesTotal,
// StatMessagesTotal, StatMessagesBytes). An unknown name is a loader error
// and is never cached.
func (s *Store) StatValue(ctx context.Context, name string) (int64, error) {
	return s.stats.GetOrLoad(ctx, name, func(ctx context.Context, name string) (int64, error) {
		start := time.Now()
		n, err := s.loadStat(ctx, name)
		observeLoad("stat", start, err)
		return n, err
	})
}

func (s *Store) loadStat(ctx context.Context, name string) (int64, error) {
	db := s.db.WithContext(ctx)
	var n int64
	switch name {
	case StatMailboxesTotal:
		if err := db.Model(&models.Mailbox{}).Count(&n).Error; err != nil {
			return 0, fmt.Errorf("counting mailboxes: %w", err)
		}
	case StatMessagesTotal:
		if err := db.Model(&models.Message{}).Count(&n).Error; err != nil {
			return 0, fmt.Errorf("counting messages: %w", err)
		}
	case StatMessagesBytes:
		if err := db.Model(&models.Message{}).Select("COALESCE(SUM(size), 0)").Scan(&n).Error; err != nil {
			return 0, fmt.Errorf("summing message sizes: %w", err)
		}
	default:
		return 0, fmt.Errorf("unknown statistic: %s", name)
	}
	return n, nil
}

// TableColumns returns the column names of a mail table, cached under the
// schema namespace. Table layout changes only across deploys, so this
// namespace carries the longest TTL. An empty table name short-circuits to
// nil without caching.
func (s *Store) TableColumns(ctx context.Context, table string) ([]string, error) {
	if table == "" {
		return nil, nil
	}
	return s.schemaCols.GetOrLoad(ctx, table, func(ctx context.Context, table string) ([]string, error) {
		start := time.Now()
		cols, err := s.db.WithContext(ctx).Migrator().ColumnTypes(table)
		observeLoad("schema", start, err)
		if err != nil {
			return nil, fmt.Errorf("introspecting table %s: %w", table, err)
		}
		names := make([]string, 0, len(cols))
		for _, col := range cols {
			names = append(names, col.Name())
		}
		return names, nil
	})
}

// Message fetches a full message row, read-through via the content LRU. A
// missing row returns ErrMessageNotFound and is not negative-cached; the
// LRU holds only real content.
func (s *Store) Message(ctx context.Context, id models.Uid) (*models.Message, error) {
	ctx, span := tracer.Start(ctx, "message")
	defer span.End()

	if id == 0 {
		return nil, ErrMessageNotFound
	}

	if msg, ok := s.content.Get(id); ok {
		span.SetAttributes(attribute.Bool("cache", true))
		return msg, nil
	}
	span.SetAttributes(attribute.Bool("cache", false))

	start := time.Now()
	var msg models.Message
	err := s.db.WithContext(ctx).Find(&msg, "id = ?", id).Error
	observeLoad("content", start, err)
	if err != nil {
		return nil, fmt.Errorf("loading message: %w", err)
	}
	if msg.ID == 0 {
		return nil, ErrMessageNotFound
	}

	s.content.Set(id, &msg)
	return &msg, nil
}

// CreateMailbox registers a disposable mailbox for address. On success the
// address namespace is primed directly, skipping a loader round-trip, and
// the mailbox count statistic is dropped.
func (s *Store) CreateMailbox(ctx context.Context, address string) (*models.Mailbox, error) {
	addr, err := util.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	mb := &models.Mailbox{
		Address:   addr,
		Domain:    util.AddressDomain(addr),
		ExpiresAt: time.Now().Add(DefaultMailboxTTL),
	}
	if err := s.db.WithContext(ctx).Create(mb).Error; err != nil {
		return nil, fmt.Errorf("creating mailbox: %w", err)
	}

	s.addrIDs.Set(addr, mb.ID)
	s.stats.Invalidate(StatMailboxesTotal)
	return mb, nil
}

// AddMessage stores an inbound message and invalidates everything it makes
// stale: the target mailbox's quota and the message statistics. The fresh
// row is primed into the content LRU since a just-delivered message is the
// likeliest next read.
func (s *Store) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.Mailbox == 0 {
		return fmt.Errorf("message requires a mailbox")
	}
	if msg.Size == 0 {
		msg.Size = int64(len(msg.Source))
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("storing message: %w", err)
	}

	s.quotas.Invalidate(msg.Mailbox)
	s.stats.Invalidate(StatMessagesTotal)
	s.stats.Invalidate(StatMessagesBytes)
	s.content.Set(msg.ID, msg)
	return nil
}

// MarkSeen flags a message read and drops its stale content entry.
func (s *Store) MarkSeen(ctx context.Context, id models.Uid) error {
	res := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Update("seen", true)
	if res.Error != nil {
		return fmt.Errorf("marking message seen: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	s.content.Delete(id)
	return nil
}

// DeleteMessage removes a message row along with its content entry and the
// quota and statistics it affected.
func (s *Store) DeleteMessage(ctx context.Context, id models.Uid) error {
	var msg models.Message
	if err := s.db.WithContext(ctx).Find(&msg, "id = ?", id).Error; err != nil {
		return fmt.Errorf("loading message: %w", err)
	}
	if msg.ID == 0 {
		return ErrMessageNotFound
	}
	if err := s.db.WithContext(ctx).Delete(&models.Message{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}

	s.content.Delete(id)
	s.quotas.Invalidate(msg.Mailbox)
	s.stats.Invalidate(StatMessagesTotal)
	s.stats.Invalidate(StatMessagesBytes)
	return nil
}

// DropMailbox deletes a mailbox and all of its messages, reporting how many
// messages went with it. Every cache the mailbox could have touched is
// invalidated: its address key, its quota, the statistics, and each deleted
// message's content entry.
func (s *Store) DropMailbox(ctx context.Context, address string) (int64, error) {
	addr, err := util.NormalizeAddress(address)
	if err != nil {
		return 0, err
	}

	var mb models.Mailbox
	if err := s.db.WithContext(ctx).Find(&mb, "address = ?", addr).Error; err != nil {
		return 0, fmt.Errorf("looking up mailbox: %w", err)
	}
	if mb.ID == 0 {
		return 0, ErrMailboxNotFound
	}

	var msgIDs []models.Uid
	if err := s.db.WithContext(ctx).Model(&models.Message{}).Where("mailbox = ?", mb.ID).Pluck("id", &msgIDs).Error; err != nil {
		return 0, fmt.Errorf("listing mailbox messages: %w", err)
	}

	res := s.db.WithContext(ctx).Delete(&models.Message{}, "mailbox = ?", mb.ID)
	if res.Error != nil {
		return 0, fmt.Errorf("deleting mailbox messages: %w", res.Error)
	}
	if err := s.db.WithContext(ctx).Delete(&models.Mailbox{}, "id = ?", mb.ID).Error; err != nil {
		return 0, fmt.Errorf("deleting mailbox: %w", err)
	}

	for _, id := range msgIDs {
		s.content.Delete(id)
	}
	s.addrIDs.Invalidate(addr)
	s.quotas.Invalidate(mb.ID)
	s.stats.Invalidate(StatMailboxesTotal)
	s.stats.Invalidate(StatMessagesTotal)
	s.stats.Invalidate(StatMessagesBytes)
	return res.RowsAffected, nil
}

// InvalidateStat drops one cached statistic, or all of them when name is
// empty (the blunt instrument for callers that mutated an unspecified
// aggregate).
func (s *Store) InvalidateStat(name string) {
	if name == "" {
		s.stats.InvalidateAll()
		return
	}
	s.stats.Invalidate(name)
}

// MaybeSweep offers the sweep gate a chance to run an expiry pass over the
// four namespaces. Call it opportunistically, once per request is fine; the
// gate admits at most one pass per configured interval. Reports whether a
// pass ran.
func (s *Store) MaybeSweep() bool {
	return s.sweeper.MaybeSweep(time.Now(), func() {
		s.sweepAll(time.Now())
	})
}

func (s *Store) sweepAll(now time.Time) {
	sweeps := []struct {
		name string
		fn   func(time.Time) int
	}{
		{"schema", s.schemaCols.SweepExpired},
		{"address", s.addrIDs.SweepExpired},
		{"quota", s.quotas.SweepExpired},
		{"stat", s.stats.SweepExpired},
	}
	for _, sw := range sweeps {
		// one namespace blowing up must not abort the others
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("cache sweep exception", "cache", sw.name, "err", r)
				}
			}()
			if removed := sw.fn(now); removed > 0 {
				log.Debug("swept expired cache entries", "cache", sw.name, "removed", removed)
			}
		}()
	}
}
