package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"agentlink/internal/domain"
)

// Refresher re-fetches the agent directories.
type Refresher interface {
	Refresh(ctx context.Context) ([]domain.AgentRecord, error)
}

// Retainer drops file audit lines older than maxAge.
type Retainer interface {
	EnforceRetention(ctx context.Context, maxAge time.Duration) (int, error)
}

// Pruner deletes stored audit events older than before.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Housekeeping binds the built-in actions to their targets. Nil targets are
// skipped.
type Housekeeping struct {
	Registry Refresher
	File     Retainer
	Store    Pruner
	MaxAge   time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Register installs the registry_refresh and audit_retention actions on s.
func (h Housekeeping) Register(s *Scheduler) {
	if h.Logger == nil {
		h.Logger = slog.New(slog.DiscardHandler)
	}
	if h.Now == nil {
		h.Now = time.Now
	}
	s.RegisterAction(ActionRegistryRefresh, h.refresh)
	s.RegisterAction(ActionAuditRetention, h.retain)
}

func (h Housekeeping) refresh(ctx context.Context) error {
	if h.Registry == nil {
		return nil
	}
	records, err := h.Registry.Refresh(ctx)
	if err != nil {
		return err
	}
	h.Logger.Info("scheduled registry refresh", "agents", len(records))
	return nil
}

func (h Housekeeping) retain(ctx context.Context) error {
	if h.MaxAge <= 0 {
		return nil
	}
	var errs []error
	if h.File != nil {
		n, err := h.File.EnforceRetention(ctx, h.MaxAge)
		if err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			h.Logger.Info("audit file pruned", "removed", n)
		}
	}
	if h.Store != nil {
		n, err := h.Store.Prune(ctx, h.Now().Add(-h.MaxAge))
		if err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			h.Logger.Info("audit store pruned", "removed", n)
		}
	}
	return errors.Join(errs...)
}
