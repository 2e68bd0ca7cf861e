package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"client-portal/internal/authz"
	"client-portal/internal/models"
	"client-portal/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	defaultMaxAvatarBytes = 20 << 20
	avatarCacheControl    = "max-age=3600"
)

var avatarExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// ProfileService manages self-service profile edits and avatars
type ProfileService struct {
	users    UserStore
	storage  storage.Provider
	bucket   string
	maxBytes int64
	changes  ChangePublisher
	audit    *AuditService
	logger   *logrus.Entry
	now      func() time.Time
}

// ProfileDeps groups the collaborators of ProfileService
type ProfileDeps struct {
	Users          UserStore
	Storage        storage.Provider
	AvatarBucket   string
	MaxAvatarBytes int64
	Changes        ChangePublisher
	Audit          *AuditService
	Logger         *logrus.Logger
}

// NewProfileService creates a new profile service
func NewProfileService(deps ProfileDeps) *ProfileService {
	s := &ProfileService{
		users:    deps.Users,
		storage:  deps.Storage,
		bucket:   deps.AvatarBucket,
		maxBytes: deps.MaxAvatarBytes,
		changes:  deps.Changes,
		audit:    deps.Audit,
		logger:   deps.Logger.WithField("component", "profiles"),
		now:      time.Now,
	}
	if s.maxBytes <= 0 {
		s.maxBytes = defaultMaxAvatarBytes
	}
	if s.changes == nil {
		s.changes = noopChanges{}
	}
	return s
}

// GetUser returns a profile the caller may see
func (s *ProfileService) GetUser(ctx context.Context, caller authz.Caller, id uuid.UUID) (*models.User, error) {
	if !authz.CanViewUser(caller, id) {
		return nil, ErrForbidden
	}
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// ProfileUpdate holds the editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	FullName              *string         `json:"full_name"`
	JobTitle              *string         `json:"job_title"`
	Phone                 *string         `json:"phone"`
	Timezone              *string         `json:"timezone"`
	EmailNotifications    json.RawMessage `json:"email_notifications"`
	DashboardPreferences  json.RawMessage `json:"dashboard_preferences"`
	DataProcessingConsent *bool           `json:"data_processing_consent"`
	MarketingConsent      *bool           `json:"marketing_consent"`
}

// UpdateProfile applies a self-service edit
func (s *ProfileService) UpdateProfile(ctx context.Context, caller authz.Caller, id uuid.UUID, update ProfileUpdate, meta models.RequestMeta) (*models.User, error) {
	if !authz.CanEditUser(caller, id) {
		return nil, ErrForbidden
	}
	current, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}

	updates := map[string]interface{}{}
	if update.FullName != nil {
		name := strings.TrimSpace(*update.FullName)
		if name == "" {
			return nil, NewValidationError("full_name", "full name cannot be empty", nil)
		}
		updates["full_name"] = name
	}
	if update.JobTitle != nil {
		updates["job_title"] = optional(strings.TrimSpace(*update.JobTitle))
	}
	if update.Phone != nil {
		updates["phone"] = optional(strings.TrimSpace(*update.Phone))
	}
	if update.Timezone != nil {
		if _, err := time.LoadLocation(*update.Timezone); err != nil || *update.Timezone == "" {
			return nil, NewValidationError("timezone", "unknown time zone", []string{"UTC", "America/New_York", "Europe/London"})
		}
		updates["timezone"] = *update.Timezone
	}
	for field, raw := range map[string]json.RawMessage{
		"email_notifications":   update.EmailNotifications,
		"dashboard_preferences": update.DashboardPreferences,
	} {
		if len(raw) == 0 {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, NewValidationError(field, "must be a JSON object", nil)
		}
		updates[field] = datatypes.JSON(raw)
	}
	if update.DataProcessingConsent != nil {
		updates["data_processing_consent"] = *update.DataProcessingConsent
		if *update.DataProcessingConsent && current.GDPRConsentAt == nil {
			updates["gdpr_consent_at"] = s.now()
		}
	}
	if update.MarketingConsent != nil {
		updates["marketing_consent"] = *update.MarketingConsent
	}
	if len(updates) == 0 {
		return current, nil
	}
	updates["updated_at"] = s.now()

	user, err := s.users.UpdateUser(ctx, id, updates)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}

	s.changes.PublishChange(ctx, tableUsers, changeUpdate, user)
	s.audit.Record(ctx, AuditEntry{
		UserID:      uuidPtr(id),
		EventType:   "profile_updated",
		Category:    AuditCategoryProfile,
		Description: "Updated profile",
		Metadata:    map[string]interface{}{"fields": updatedFields(updates)},
		Meta:        meta,
	})
	return user, nil
}

// AvatarUpload is an uploaded image
type AvatarUpload struct {
	Size    int64
	Content io.Reader
}

// UploadAvatar stores a new avatar image under the user's folder and records its public URL
func (s *ProfileService) UploadAvatar(ctx context.Context, caller authz.Caller, id uuid.UUID, upload AvatarUpload, meta models.RequestMeta) (*models.User, error) {
	if !authz.CanEditUser(caller, id) {
		return nil, ErrForbidden
	}
	if upload.Size <= 0 {
		return nil, NewValidationError("avatar", "file is empty", nil)
	}
	if upload.Size > s.maxBytes {
		return nil, NewValidationError("avatar", fmt.Sprintf("file must be at most %d MB", s.maxBytes>>20), nil)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(upload.Content, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	ext, ok := avatarExtensions[contentType]
	if !ok {
		return nil, NewValidationError("avatar", "unsupported image type "+contentType, []string{"png", "jpeg", "gif", "webp"})
	}

	path := fmt.Sprintf("%s/%s-%d.%s", id, id, s.now().UnixMilli(), ext)
	content := io.LimitReader(io.MultiReader(bytes.NewReader(head), upload.Content), s.maxBytes)
	if err := s.storage.Upload(ctx, s.bucket, path, content, storage.UploadOptions{
		ContentType:  contentType,
		CacheControl: avatarCacheControl,
	}); err != nil {
		return nil, NewServiceError("upload_avatar", err)
	}

	avatarURL := s.storage.PublicURL(s.bucket, path)
	user, err := s.users.UpdateUser(ctx, id, map[string]interface{}{
		"avatar_url": avatarURL,
		"updated_at": s.now(),
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}

	s.changes.PublishChange(ctx, tableUsers, changeUpdate, user)
	s.audit.Record(ctx, AuditEntry{
		UserID:      uuidPtr(id),
		EventType:   "avatar_updated",
		Category:    AuditCategoryProfile,
		Description: "Uploaded a new avatar",
		Meta:        meta,
	})
	return user, nil
}

func updatedFields(updates map[string]interface{}) []string {
	fields := make([]string, 0, len(updates))
	for field := range updates {
		if field != "updated_at" {
			fields = append(fields, field)
		}
	}
	return fields
}
