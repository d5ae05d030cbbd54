package project

import (
	"context"
	"testing"

	"botstudio/server/internal/apperr"
	"botstudio/server/internal/model"
)

func seedProject(t *testing.T) *InMemoryStore {
	t.Helper()

	s := NewInMemoryStore()
	err := s.Create(context.Background(), &model.Project{
		ID: "p1", Name: "Test", Languages: []string{"en", "fr"}, DefaultLanguage: "en",
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return s
}

// TestCreateValidatesLanguages 验证建项目时的语言约束：至少一种语言、
// 语言不重复、默认语言必须在集合内、id 不可重复。
func TestCreateValidatesLanguages(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	err := s.Create(ctx, &model.Project{ID: "p1", DefaultLanguage: "en"})
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("empty languages: want validation error, got %v", err)
	}

	err = s.Create(ctx, &model.Project{ID: "p1", Languages: []string{"en", "en"}, DefaultLanguage: "en"})
	if !apperr.Is(err, apperr.CodeConflict) {
		t.Fatalf("duplicate language: want conflict error, got %v", err)
	}

	err = s.Create(ctx, &model.Project{ID: "p1", Languages: []string{"en"}, DefaultLanguage: "fr"})
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("default outside set: want validation error, got %v", err)
	}

	if err := s.Create(ctx, &model.Project{ID: "p1", Languages: []string{"en"}, DefaultLanguage: "en"}); err != nil {
		t.Fatalf("valid project rejected: %v", err)
	}
	err = s.Create(ctx, &model.Project{ID: "p1", Languages: []string{"en"}, DefaultLanguage: "en"})
	if !apperr.Is(err, apperr.CodeConflict) {
		t.Fatalf("duplicate id: want conflict error, got %v", err)
	}
}

// TestAddLanguage 验证追加语言与重复追加的冲突。
func TestAddLanguage(t *testing.T) {
	ctx := context.Background()
	s := seedProject(t)

	p, err := s.AddLanguage(ctx, "p1", "de")
	if err != nil {
		t.Fatalf("add language: %v", err)
	}
	if !p.HasLanguage("de") {
		t.Fatalf("de missing after add: %+v", p.Languages)
	}

	if _, err := s.AddLanguage(ctx, "p1", "de"); !apperr.Is(err, apperr.CodeConflict) {
		t.Fatalf("duplicate add: want conflict error, got %v", err)
	}
	if _, err := s.AddLanguage(ctx, "nope", "de"); !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("unknown project: want not found error, got %v", err)
	}
}

// TestDeleteLanguageProtectsDefault 验证默认语言不可删、未配置语言报未找到。
func TestDeleteLanguageProtectsDefault(t *testing.T) {
	ctx := context.Background()
	s := seedProject(t)

	if _, err := s.DeleteLanguage(ctx, "p1", "en"); !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("default language delete: want validation error, got %v", err)
	}
	if _, err := s.DeleteLanguage(ctx, "p1", "de"); !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("unconfigured language: want not found error, got %v", err)
	}

	p, err := s.DeleteLanguage(ctx, "p1", "fr")
	if err != nil {
		t.Fatalf("delete fr: %v", err)
	}
	if p.HasLanguage("fr") {
		t.Fatalf("fr still present: %+v", p.Languages)
	}
}

// TestGetReturnsClone 验证读出的项目是拷贝，改它不影响存储内状态。
func TestGetReturnsClone(t *testing.T) {
	ctx := context.Background()
	s := seedProject(t)

	p, err := s.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p.Languages[0] = "zh"

	again, err := s.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Languages[0] != "en" {
		t.Fatalf("store state mutated through a returned clone: %+v", again.Languages)
	}

	if _, err := s.Get(ctx, "nope"); !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("unknown project: want not found error, got %v", err)
	}
}
