// Package loyalty — service.go отдаёт актуальные настройки с коротким кешем.
// Таблица уровней может быть слегка устаревшей (до SETTINGS_CACHE_TTL),
// балансы участников через этот кеш никогда не читаются.
package loyalty

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Service управляет настройками магазина и таблицей уровней.
type Service struct {
	repo          Repository
	ttl           time.Duration
	pointsDefault bool // enable_points, если в хранилище ключа нет
	now           func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	cached    *Settings
	fetchedAt time.Time
}

// NewService создаёт сервис настроек.
func NewService(repo Repository, ttl time.Duration, pointsDefault bool) *Service {
	return &Service{
		repo:          repo,
		ttl:           ttl,
		pointsDefault: pointsDefault,
		now:           time.Now,
	}
}

// Current возвращает настройки из кеша или перечитывает их из хранилища.
// Параллельные промахи кеша схлопываются в один запрос.
func (s *Service) Current(ctx context.Context) (Settings, error) {
	s.mu.RLock()
	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		cur := *s.cached
		s.mu.RUnlock()
		return cur, nil
	}
	s.mu.RUnlock()

	v, err, _ := s.group.Do("settings", func() (interface{}, error) {
		st, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached = &st
		s.fetchedAt = s.now()
		s.mu.Unlock()
		return st, nil
	})
	if err != nil {
		return Settings{}, err
	}
	return v.(Settings), nil
}

// Invalidate сбрасывает кеш — следующий Current пойдёт в хранилище.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *Service) load(ctx context.Context) (Settings, error) {
	kv, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return Settings{}, err
	}

	rows, err := s.repo.LoadTiers(ctx)
	if err != nil {
		return Settings{}, err
	}

	table, err := buildTable(rows)
	if err != nil {
		return Settings{}, err
	}

	st := Settings{
		ShopName:      valueOr(kv, keyShopName, defaultShopName),
		ShopBranch:    valueOr(kv, keyShopBranch, defaultBranch),
		PointsEnabled: s.pointsDefault,
		Tiers:         table,
	}
	if v, ok := kv[keyEnablePoints]; ok {
		st.PointsEnabled = strings.EqualFold(strings.TrimSpace(v), settingTrueValue)
	}
	return st, nil
}

// buildTable пропускает повторяющиеся имена (первое побеждает) и пустые строки.
// Пустое хранилище → уровни по умолчанию.
func buildTable(rows []Tier) (Table, error) {
	if len(rows) == 0 {
		return NewTable(DefaultTiers())
	}

	seen := make(map[string]struct{}, len(rows))
	uniq := make([]Tier, 0, len(rows))
	for _, t := range rows {
		key := strings.ToLower(strings.TrimSpace(t.Name))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			log.WithField("tier", t.Name).Warn("Повторяющийся уровень в таблице, пропускаем")
			continue
		}
		seen[key] = struct{}{}
		uniq = append(uniq, t)
	}
	return NewTable(uniq)
}

// Update сохраняет изменённые поля настроек.
func (s *Service) Update(ctx context.Context, patch SettingsPatch) error {
	defer s.Invalidate()

	if patch.ShopName != nil {
		if err := s.repo.SaveSetting(ctx, keyShopName, *patch.ShopName); err != nil {
			return err
		}
	}
	if patch.ShopBranch != nil {
		if err := s.repo.SaveSetting(ctx, keyShopBranch, *patch.ShopBranch); err != nil {
			return err
		}
	}
	if patch.PointsEnabled != nil {
		v := "FALSE"
		if *patch.PointsEnabled {
			v = settingTrueValue
		}
		if err := s.repo.SaveSetting(ctx, keyEnablePoints, v); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceTiers проверяет и сохраняет новую таблицу уровней.
func (s *Service) ReplaceTiers(ctx context.Context, tiers []Tier) (Table, error) {
	table, err := NewTable(tiers)
	if err != nil {
		return Table{}, err
	}
	if err := s.repo.ReplaceTiers(ctx, table.Tiers()); err != nil {
		return Table{}, fmt.Errorf("ошибка сохранения уровней: %w", err)
	}
	s.Invalidate()

	log.WithField("count", len(tiers)).Info("Таблица уровней обновлена")
	return table, nil
}

// Seed записывает уровни, только если таблица в хранилище пуста.
func (s *Service) Seed(ctx context.Context, tiers []Tier) error {
	existing, err := s.repo.LoadTiers(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	_, err = s.ReplaceTiers(ctx, tiers)
	return err
}

func valueOr(kv map[string]string, key, def string) string {
	if v, ok := kv[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}
