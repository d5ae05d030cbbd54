package project

import (
	"context"
	"sync"

	"botstudio/server/internal/apperr"
	"botstudio/server/internal/model"
)

// InMemoryStore 是基于内存的项目存储实现，调试与测试用。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*model.Project
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]*model.Project)}
}

// Get 按 id 获取项目。
func (s *InMemoryStore) Get(_ context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[id]
	if !ok {
		return nil, apperr.NotFoundf("project %q not found", id)
	}
	return p.Clone(), nil
}

// Create 创建项目；id 已存在时返回 ConflictError。
func (s *InMemoryStore) Create(_ context.Context, p *model.Project) error {
	if err := validateNew(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[p.ID]; ok {
		return apperr.Conflictf("project %q already exists", p.ID)
	}
	s.data[p.ID] = p.Clone()
	return nil
}

// AddLanguage 追加语言；重复返回 ConflictError。
func (s *InMemoryStore) AddLanguage(_ context.Context, id, lang string) (*model.Project, error) {
	if lang == "" {
		return nil, apperr.Validationf("language is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[id]
	if !ok {
		return nil, apperr.NotFoundf("project %q not found", id)
	}
	if p.HasLanguage(lang) {
		return nil, apperr.Conflictf("language %q already configured for project %q", lang, id)
	}
	p.Languages = append(p.Languages, lang)
	return p.Clone(), nil
}

// DeleteLanguage 移除语言；默认语言不允许删除。
func (s *InMemoryStore) DeleteLanguage(_ context.Context, id, lang string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[id]
	if !ok {
		return nil, apperr.NotFoundf("project %q not found", id)
	}
	if lang == p.DefaultLanguage {
		return nil, apperr.Validationf("cannot delete the default language %q", lang)
	}
	idx := -1
	for i, l := range p.Languages {
		if l == lang {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperr.NotFoundf("language %q not configured for project %q", lang, id)
	}
	p.Languages = append(p.Languages[:idx], p.Languages[idx+1:]...)
	return p.Clone(), nil
}

// validateNew 校验新项目记录：默认语言必须落在语言集合内。
func validateNew(p *model.Project) error {
	if p.ID == "" {
		return apperr.Validationf("project id is required")
	}
	if len(p.Languages) == 0 {
		return apperr.Validationf("project %q needs at least one language", p.ID)
	}
	seen := make(map[string]bool, len(p.Languages))
	for _, l := range p.Languages {
		if seen[l] {
			return apperr.Conflictf("duplicate language %q in project %q", l, p.ID)
		}
		seen[l] = true
	}
	if p.DefaultLanguage == "" || !p.HasLanguage(p.DefaultLanguage) {
		return apperr.Validationf("default language %q must be one of the project languages", p.DefaultLanguage)
	}
	return nil
}
