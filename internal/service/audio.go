package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/storage"
)

// DefaultAudioURLTTL is how long a download URL stays valid.
const DefaultAudioURLTTL = 10 * time.Minute

// AudioService hands out download URLs for notebook audio overviews,
// gated by the user's plan.
type AudioService interface {
	// DownloadURL checks premium access and the download limit, records the
	// download and returns a time-limited URL.
	DownloadURL(ctx context.Context, params AudioDownloadParams) (string, error)
}

// AudioDownloadParams identifies the requested file and the requester.
type AudioDownloadParams struct {
	UserID    string
	Path      string
	IPAddress string
	UserAgent string
}

type audioService struct {
	storage      storage.Storage
	entitlements EntitlementService
	usage        UsageService
	urlTTL       time.Duration
	logger       *slog.Logger
}

// NewAudioService creates a new AudioService.
func NewAudioService(st storage.Storage, entitlements EntitlementService, usage UsageService, urlTTL time.Duration, logger *slog.Logger) AudioService {
	if urlTTL <= 0 {
		urlTTL = DefaultAudioURLTTL
	}
	return &audioService{
		storage:      st,
		entitlements: entitlements,
		usage:        usage,
		urlTTL:       urlTTL,
		logger:       logger,
	}
}

func (s *audioService) DownloadURL(ctx context.Context, params AudioDownloadParams) (string, error) {
	const op = "audio.download_url"

	userID, err := requireUserID(op, params.UserID)
	if err != nil {
		return "", err
	}

	key, err := storage.AudioKey(params.Path)
	if err != nil {
		return "", domain.Invalid(op, "Invalid audio path")
	}

	if storage.IsPremiumKey(key) {
		premium, err := s.entitlements.HasPremiumAccess(ctx, userID)
		if err != nil {
			return "", err
		}
		if !premium {
			return "", domain.Forbidden(op, "This audio overview requires a plan with premium content")
		}
	}

	allowed, err := s.usage.CanPerformAction(ctx, userID, domain.ActionDownload)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", domain.Errorf(domain.EPAYMENT, op, "Download limit reached for your plan")
	}

	info, err := s.storage.Stat(ctx, key)
	if err != nil {
		if storage.IsNotFound(err) {
			return "", domain.NotFound(op, "audio", key)
		}
		return "", domain.Internal(err, op, "failed to stat audio object")
	}

	url, err := s.storage.URL(ctx, key, s.urlTTL)
	if err != nil {
		return "", domain.Internal(err, op, "failed to create download URL")
	}

	s.usage.TrackActivity(ctx, TrackActivityParams{
		UserID:    userID,
		Action:    string(domain.ActionDownload),
		Metadata:  map[string]any{"key": key, "size": info.Size},
		IPAddress: params.IPAddress,
		UserAgent: params.UserAgent,
	})

	return url, nil
}
