// Package theme sets the host's active color theme.
package theme

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dynatheme/internal/notify"
	"dynatheme/internal/settings"
	logx "dynatheme/pkg/logx"
)

// Fallback is applied when minimal UI mode switches on. It is fixed and not
// one of the user's day/night choices.
const Fallback = settings.DefaultDayTheme

// Applier persists the active theme at global scope and reports the outcome.
type Applier struct {
	store  settings.Store
	notify notify.Notifier
	log    logx.Logger
}

func NewApplier(store settings.Store, n notify.Notifier, log logx.Logger) *Applier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Applier{store: store, notify: n, log: log}
}

// Apply writes themeID to the active-theme key. Success emits an info
// notification; a rejected write emits an error notification and is
// returned. Nothing is retried.
func (a *Applier) Apply(ctx context.Context, themeID string) error {
	themeID = strings.TrimSpace(themeID)
	if themeID == "" {
		err := errors.New("theme id required")
		a.report(err)
		return err
	}
	if err := a.store.Update(ctx, settings.KeyColorTheme, themeID, settings.ScopeGlobal); err != nil {
		err = fmt.Errorf("apply theme %q: %w", themeID, err)
		a.report(err)
		return err
	}
	a.log.Info("theme applied", logx.String("theme", themeID))
	if a.notify != nil {
		a.notify.Info("Theme changed to: " + themeID)
	}
	return nil
}

// Active returns the currently persisted theme, or "" when none is set.
func (a *Applier) Active(ctx context.Context) (string, error) {
	return settings.String(ctx, a.store, settings.KeyColorTheme, "")
}

func (a *Applier) report(err error) {
	a.log.Warn("theme apply failed", logx.Err(err))
	if a.notify != nil {
		a.notify.Error("Failed to change theme: " + err.Error())
	}
}
