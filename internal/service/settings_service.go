package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/course-scheduling-api/internal/dto"
	"github.com/noah-isme/course-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
)

type programTagRepository interface {
	ListByProgram(ctx context.Context, programID string) ([]models.ProgramTag, error)
	Upsert(ctx context.Context, tag *models.ProgramTag) error
	BulkUpsert(ctx context.Context, tags []models.ProgramTag) error
}

type tagType string

const (
	tagDecimal tagType = "decimal"
	tagBool    tagType = "boolean"
	tagInt     tagType = "integer"
	tagFloat   tagType = "float"
	tagString  tagType = "string"
	tagList    tagType = "list"
)

type allowedTag struct {
	Type        tagType
	Description string
}

var allowedProgramTags = map[string]allowedTag{
	models.TagClassCapMultiplier:  {tagDecimal, "Multiplier applied to every section capacity"},
	models.TagClassCapOffset:      {tagDecimal, "Offset added to every section capacity"},
	models.TagUsePriority:         {tagBool, "Register students by priority tier instead of enrolling"},
	models.TagPriorityLimit:       {tagInt, "Maximum priority selections per tier"},
	models.TagSignupVerb:          {tagString, "Relationship recorded by priority registration"},
	models.TagNearlyFullThreshold: {tagFloat, "Fraction of capacity at which a class is nearly full"},
	models.TagCatalogSortFields:   {tagList, "Catalog ordering fields"},
	models.TagAllowedStudentTypes: {tagList, "Student types admitted regardless of grade"},
	models.TagTemporarilyFullText: {tagString, "Message shown when every section is full"},
	models.TagProgramSizeMax:      {tagInt, "Maximum distinct students in the program, 0 for no limit"},
}

var catalogSortFields = map[string]bool{"category": true, "start": true, "num_students": true, "id": true, "title": true, "code": true}

// SettingsService decodes and updates per-program tunables.
type SettingsService struct {
	repo      programTagRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	threshold float64
}

// NewSettingsService constructs a SettingsService. threshold is the
// nearly-full default used when a program sets none.
func NewSettingsService(repo programTagRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger, threshold float64) *SettingsService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{repo: repo, cache: cache, validator: validate, logger: logger, threshold: threshold}
}

// Get returns a program's settings with defaults for unset or unreadable tags.
func (s *SettingsService) Get(ctx context.Context, programID string) (models.ProgramSettings, error) {
	var settings models.ProgramSettings
	err := s.cache.Remember(ctx, ComputeSettings, programID, 0, &settings, func() error {
		tags, err := s.repo.ListByProgram(ctx, programID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program settings")
		}
		base := models.DefaultProgramSettings(programID)
		if s.threshold > 0 {
			base.NearlyFullThreshold = s.threshold
		}
		settings = decodeSettings(base, tags, s.logger)
		return nil
	})
	return settings, err
}

// List returns every known tag with its effective value.
func (s *SettingsService) List(ctx context.Context, programID string) ([]dto.ProgramTagItem, error) {
	tags, err := s.repo.ListByProgram(ctx, programID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list program tags")
	}
	set := make(map[string]string, len(tags))
	for _, tag := range tags {
		set[tag.Key] = tag.Value
	}
	defaults := encodeSettings(models.DefaultProgramSettings(programID))

	keys := make([]string, 0, len(allowedProgramTags))
	for key := range allowedProgramTags {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	items := make([]dto.ProgramTagItem, 0, len(keys))
	for _, key := range keys {
		meta := allowedProgramTags[key]
		value, ok := set[key]
		if !ok {
			value = defaults[key]
		}
		items = append(items, dto.ProgramTagItem{Key: key, Value: value, Type: string(meta.Type), Description: meta.Description})
	}
	return items, nil
}

// BulkUpdate validates and stores tags, then invalidates settings-derived caches.
func (s *SettingsService) BulkUpdate(ctx context.Context, programID string, req dto.BulkUpdateProgramTagRequest, actorID string) ([]dto.ProgramTagItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk payload")
	}
	var updatedBy *string
	if actorID != "" {
		updatedBy = &actorID
	}

	tags := make([]models.ProgramTag, 0, len(req.Items))
	result := make([]dto.ProgramTagItem, 0, len(req.Items))
	for _, item := range req.Items {
		tag, out, err := buildTag(programID, item, updatedBy)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
		result = append(result, out)
	}

	if err := s.repo.BulkUpsert(ctx, tags); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update program tags")
	}
	s.cache.Bump(ctx, ClassSettings)
	return result, nil
}

// Update validates and stores a single tag.
func (s *SettingsService) Update(ctx context.Context, programID string, req dto.UpdateProgramTagRequest, actorID string) (*dto.ProgramTagItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid program tag payload")
	}
	var updatedBy *string
	if actorID != "" {
		updatedBy = &actorID
	}
	tag, out, err := buildTag(programID, req, updatedBy)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, &tag); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update program tag")
	}
	s.cache.Bump(ctx, ClassSettings)
	return &out, nil
}

func buildTag(programID string, item dto.UpdateProgramTagRequest, updatedBy *string) (models.ProgramTag, dto.ProgramTagItem, error) {
	meta, ok := allowedProgramTags[item.Key]
	if !ok {
		return models.ProgramTag{}, dto.ProgramTagItem{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown program tag %s", item.Key))
	}
	value, err := normalizeTag(item.Key, meta.Type, item.Value)
	if err != nil {
		return models.ProgramTag{}, dto.ProgramTagItem{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	tag := models.ProgramTag{ProgramID: programID, Key: item.Key, Value: value, UpdatedBy: updatedBy}
	return tag, dto.ProgramTagItem{Key: item.Key, Value: value, Type: string(meta.Type), Description: meta.Description}, nil
}

func normalizeTag(key string, typ tagType, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch typ {
	case tagDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return "", fmt.Errorf("%s must be a decimal", key)
		}
		return d.String(), nil
	case tagBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return "", fmt.Errorf("%s must be a boolean", key)
		}
		return strconv.FormatBool(b), nil
	case tagInt:
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return "", fmt.Errorf("%s must be a non-negative integer", key)
		}
		return strconv.Itoa(n), nil
	case tagFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f <= 0 || f > 1 {
			return "", fmt.Errorf("%s must be in (0, 1]", key)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case tagList:
		parts := splitList(raw)
		if key == models.TagCatalogSortFields {
			for _, p := range parts {
				if !catalogSortFields[p] {
					return "", fmt.Errorf("unknown catalog sort field %s", p)
				}
			}
		}
		return strings.Join(parts, ","), nil
	default:
		if raw == "" {
			return "", fmt.Errorf("%s must not be empty", key)
		}
		return raw, nil
	}
}

func decodeSettings(settings models.ProgramSettings, tags []models.ProgramTag, logger *zap.Logger) models.ProgramSettings {
	for _, tag := range tags {
		meta, ok := allowedProgramTags[tag.Key]
		if !ok {
			continue
		}
		value, err := normalizeTag(tag.Key, meta.Type, tag.Value)
		if err != nil {
			logger.Warn("ignoring invalid program tag", zap.String("program_id", settings.ProgramID), zap.String("key", tag.Key), zap.Error(err))
			continue
		}
		switch tag.Key {
		case models.TagClassCapMultiplier:
			settings.ClassCapMultiplier = decimal.RequireFromString(value)
		case models.TagClassCapOffset:
			settings.ClassCapOffset = decimal.RequireFromString(value)
		case models.TagUsePriority:
			settings.UsePriority = value == "true"
		case models.TagPriorityLimit:
			settings.PriorityLimit, _ = strconv.Atoi(value)
		case models.TagSignupVerb:
			settings.SignupVerb = value
		case models.TagNearlyFullThreshold:
			settings.NearlyFullThreshold, _ = strconv.ParseFloat(value, 64)
		case models.TagCatalogSortFields:
			settings.CatalogSortFields = splitList(value)
		case models.TagAllowedStudentTypes:
			settings.AllowedStudentTypes = splitList(value)
		case models.TagTemporarilyFullText:
			settings.TemporarilyFullText = value
		case models.TagProgramSizeMax:
			settings.ProgramSizeMax, _ = strconv.Atoi(value)
		}
	}
	return settings
}

func encodeSettings(s models.ProgramSettings) map[string]string {
	return map[string]string{
		models.TagClassCapMultiplier:  s.ClassCapMultiplier.String(),
		models.TagClassCapOffset:      s.ClassCapOffset.String(),
		models.TagUsePriority:         strconv.FormatBool(s.UsePriority),
		models.TagPriorityLimit:       strconv.Itoa(s.PriorityLimit),
		models.TagSignupVerb:          s.SignupVerb,
		models.TagNearlyFullThreshold: strconv.FormatFloat(s.NearlyFullThreshold, 'f', -1, 64),
		models.TagCatalogSortFields:   strings.Join(s.CatalogSortFields, ","),
		models.TagAllowedStudentTypes: strings.Join(s.AllowedStudentTypes, ","),
		models.TagTemporarilyFullText: s.TemporarilyFullText,
		models.TagProgramSizeMax:      strconv.Itoa(s.ProgramSizeMax),
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
