package app

import (
	"fmt"
	"strings"
	"time"

	"nudged/internal/config"
	"nudged/internal/dispatch"
	"nudged/internal/notify"
	"nudged/internal/remind"
	"nudged/internal/store"
)

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	sc := cfg.Store
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))

	out := store.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), HistoryDays: sc.HistoryDays}
	switch driver {
	case "", "none", "file":
		return out, nil
	case "sqlite", "sqlite3":
		if out.Path == "" {
			return store.Config{}, fmt.Errorf("store.path is required when store.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("store.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return store.Config{}, err
		}
		out.Driver = "sqlite"
		out.BusyTimeout = busy
		return out, nil
	default:
		return store.Config{}, fmt.Errorf("unknown store.driver: %s", sc.Driver)
	}
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	nc := cfg.Notify
	retryBase, err := config.ParseDurationField("notify.retry_base", nc.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notify.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notify.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("notify.dedup_window", nc.DedupWindow)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: nc.DedupMaxEntries,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	dc := cfg.Dispatch
	debounce, err := config.ParseDurationField("dispatch.debounce", dc.Debounce)
	if err != nil {
		return dispatch.Config{}, err
	}
	tolerance, err := config.ParseDurationField("dispatch.fire_tolerance", dc.FireTolerance)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Debounce:      debounce,
		FireTolerance: tolerance,
		ClockStyle:    clockStyle(cfg),
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (notify.TelegramConfig, error) {
	tc := cfg.Notify.Telegram
	pollTimeout, err := config.ParseDurationOrDefault("notify.telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return notify.TelegramConfig{}, err
	}
	return notify.TelegramConfig{
		Token:       tc.Token,
		ChatID:      tc.ChatID,
		PollTimeout: pollTimeout,
	}, nil
}

func clockStyle(cfg *config.Config) remind.ClockStyle {
	if strings.EqualFold(strings.TrimSpace(cfg.Notify.ClockStyle), "12h") {
		return remind.Clock12
	}
	return remind.Clock24
}
