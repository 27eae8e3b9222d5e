package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/queue"
)

// Maintenance task names accepted by Run.
const (
	TaskCleanupMagicLinks = "cleanup-magic-links"
	TaskCleanupTokens     = "cleanup-tokens"
	TaskCleanup           = "cleanup"
	TaskAll               = "all"
)

// PurgeReport is the outcome of one maintenance run.
type PurgeReport struct {
	Task                 string    `json:"task"`
	MagicLinksDeleted    int64     `json:"magic_links_deleted"`
	RefreshTokensDeleted int64     `json:"refresh_tokens_deleted"`
	RanAt                time.Time `json:"ran_at"`
}

// Maintenance purges stale magic links and refresh tokens.  It is driven by
// an external scheduler, never by request traffic on the login path.
type Maintenance struct {
	links            *MagicLinkStore
	refresh          *RefreshTokenStore
	linkRetention    time.Duration
	refreshRetention time.Duration
	audit            queue.Publisher
	log              *zap.Logger
}

func NewMaintenance(links *MagicLinkStore, refresh *RefreshTokenStore, linkRetention, refreshRetention time.Duration, audit queue.Publisher, log *zap.Logger) *Maintenance {
	if audit == nil {
		audit = queue.NopPublisher{}
	}
	return &Maintenance{
		links:            links,
		refresh:          refresh,
		linkRetention:    linkRetention,
		refreshRetention: refreshRetention,
		audit:            audit,
		log:              log,
	}
}

// Run executes task.  "cleanup" and "all" run both purges.
func (m *Maintenance) Run(ctx context.Context, task string) (PurgeReport, error) {
	rep := PurgeReport{Task: task, RanAt: utcNow()}
	var links, tokens bool
	switch task {
	case TaskCleanupMagicLinks:
		links = true
	case TaskCleanupTokens:
		tokens = true
	case TaskCleanup, TaskAll:
		links, tokens = true, true
	default:
		return rep, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}

	if links {
		n, err := m.links.Purge(ctx, m.linkRetention)
		if err != nil {
			return rep, fmt.Errorf("purge magic links: %w", err)
		}
		rep.MagicLinksDeleted = n
	}
	if tokens {
		n, err := m.refresh.Purge(ctx, m.refreshRetention)
		if err != nil {
			return rep, fmt.Errorf("purge refresh tokens: %w", err)
		}
		rep.RefreshTokensDeleted = n
	}

	m.log.Info("maintenance finished",
		zap.String("task", task),
		zap.Int64("magic_links_deleted", rep.MagicLinksDeleted),
		zap.Int64("refresh_tokens_deleted", rep.RefreshTokensDeleted))
	if err := m.audit.Publish(ctx, queue.AuthEvent{
		Event:      queue.EventMaintenancePurge,
		OccurredAt: rep.RanAt,
		Details: map[string]string{
			"task":                   task,
			"magic_links_deleted":    fmt.Sprint(rep.MagicLinksDeleted),
			"refresh_tokens_deleted": fmt.Sprint(rep.RefreshTokensDeleted),
		},
	}); err != nil {
		m.log.Warn("audit publish failed", zap.Error(err))
	}
	return rep, nil
}
