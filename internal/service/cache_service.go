package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads and revision counters.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	GetInt(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, keys ...string) error
}

// ResourceClass is a family of entities sharing one revision counter.
type ResourceClass string

const (
	ClassResources     ResourceClass = "resources"
	ClassAssignments   ResourceClass = "assignments"
	ClassAvailability  ResourceClass = "availability"
	ClassMeetings      ResourceClass = "meetings"
	ClassTeachers      ResourceClass = "teachers"
	ClassRegistrations ResourceClass = "registrations"
	ClassSubjects      ResourceClass = "subjects"
	ClassSettings      ResourceClass = "settings"
)

// Computation names a cached derived value.
type Computation string

const (
	ComputeViableTimes      Computation = "viable_times"
	ComputeViableRooms      Computation = "viable_rooms"
	ComputeCapacity         Computation = "capacity"
	ComputeStudentCount     Computation = "student_count"
	ComputeSchedulingStatus Computation = "scheduling_status"
	ComputeCatalog          Computation = "catalog"
	ComputeSettings         Computation = "settings"
)

// cacheDependencies lists, per computation, the classes whose mutation
// invalidates it. A bumped revision changes the key, so stale entries are
// never read again and simply expire.
var cacheDependencies = map[Computation][]ResourceClass{
	ComputeViableTimes:      {ClassAvailability, ClassMeetings, ClassTeachers},
	ComputeViableRooms:      {ClassResources, ClassAssignments, ClassMeetings},
	ComputeCapacity:         {ClassResources, ClassAssignments, ClassMeetings, ClassSubjects, ClassSettings},
	ComputeStudentCount:     {ClassRegistrations},
	ComputeSchedulingStatus: {ClassMeetings, ClassAssignments, ClassResources},
	ComputeCatalog:          {ClassSubjects, ClassMeetings, ClassTeachers, ClassRegistrations, ClassSettings, ClassResources, ClassAssignments, ClassAvailability},
	ComputeSettings:         {ClassSettings},
}

// Dependencies returns the classes a computation depends on.
func Dependencies(c Computation) []ResourceClass {
	return cacheDependencies[c]
}

// CacheService orchestrates cache operations and related metrics.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	prefix     string
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, prefix string, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if prefix == "" {
		prefix = "sched"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, prefix: prefix, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	s.metrics.RecordCacheOperation(true, duration)
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

func (s *CacheService) revisionKey(class ResourceClass) string {
	return fmt.Sprintf("%s:rev:%s", s.prefix, class)
}

// Bump advances the revision of each class. Failures are logged only; a
// missed bump leaves stale entries readable until their TTL.
func (s *CacheService) Bump(ctx context.Context, classes ...ResourceClass) {
	if !s.Enabled() {
		return
	}
	for _, class := range classes {
		if _, err := s.repo.Incr(ctx, s.revisionKey(class)); err != nil {
			s.logger.Warn("cache revision bump failed", zap.String("class", string(class)), zap.Error(err))
			continue
		}
		s.metrics.RecordRevisionBump(string(class))
	}
}

// Key builds the cache key of a computation for an entity from the current
// revisions of its dependencies. It reports false when any revision cannot
// be read, in which case the value must not be cached.
func (s *CacheService) Key(ctx context.Context, comp Computation, id string) (string, bool) {
	if !s.Enabled() {
		return "", false
	}
	deps := cacheDependencies[comp]
	revs := make([]string, len(deps))
	for i, class := range deps {
		rev, err := s.repo.GetInt(ctx, s.revisionKey(class))
		if err != nil {
			s.logger.Warn("cache revision read failed", zap.String("class", string(class)), zap.Error(err))
			return "", false
		}
		revs[i] = strconv.FormatInt(rev, 10)
	}
	return fmt.Sprintf("%s:%s:%s:r%s", s.prefix, comp, id, strings.Join(revs, ".")), true
}

// Remember serves dest from cache when possible. On a miss it calls load,
// which must fill dest, and stores the result. Cache failures fall through
// to load and never fail the call.
func (s *CacheService) Remember(ctx context.Context, comp Computation, id string, ttl time.Duration, dest interface{}, load func() error) error {
	key, ok := s.Key(ctx, comp, id)
	if !ok {
		return load()
	}
	if hit, err := s.Get(ctx, key, dest); err == nil && hit {
		return nil
	}
	if err := load(); err != nil {
		return err
	}
	_ = s.Set(ctx, key, dest, ttl)
	return nil
}
