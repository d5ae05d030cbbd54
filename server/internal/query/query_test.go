package query

import (
	"context"
	"testing"

	"botstudio/server/internal/apperr"
	"botstudio/server/internal/auth"
	"botstudio/server/internal/model"
	"botstudio/server/internal/project"
	"botstudio/server/internal/response"
)

func newTestFacade(t *testing.T, gate auth.Gate) (*Facade, response.Store) {
	t.Helper()

	projects := project.NewInMemoryStore()
	err := projects.Create(context.Background(), &model.Project{
		ID: "p1", Languages: []string{"en"}, DefaultLanguage: "en",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	store := response.NewInMemoryStore(projects)
	return New(store, projects, gate), store
}

func seedResponse(t *testing.T, store response.Store) string {
	t.Helper()

	result, err := store.UpsertFullResponse(context.Background(), "p1", "", "utter_greet", []model.BotResponseValue{
		{Lang: "en", Sequence: []model.ContentContainer{{Content: model.Content{Type: model.TypeText, Text: "Hi"}}}},
	})
	if err != nil {
		t.Fatalf("seed response: %v", err)
	}
	return result.ID
}

// TestReadsReturnNilOnAbsent 验证读路径未命中时返回 (nil, nil) 而不是错误。
func TestReadsReturnNilOnAbsent(t *testing.T) {
	f, _ := newTestFacade(t, auth.AllowAll{})
	ctx := context.Background()

	doc, err := f.BotResponse(ctx, "p1", "utter_missing")
	if err != nil || doc != nil {
		t.Fatalf("absent key: want (nil, nil), got (%+v, %v)", doc, err)
	}
	doc, err = f.BotResponseByID(ctx, "no-such-id")
	if err != nil || doc != nil {
		t.Fatalf("absent id: want (nil, nil), got (%+v, %v)", doc, err)
	}
}

// TestByIDGatesOnOwningProject 验证按 id 读取的授权按文档归属项目判定。
func TestByIDGatesOnOwningProject(t *testing.T) {
	gate := auth.NewJWTGate("secret")
	f, store := newTestFacade(t, gate)
	id := seedResponse(t, store)

	allowed := auth.WithClaims(context.Background(), &auth.Claims{
		Scopes: map[string][]string{"p1": {auth.CapResponsesRead}},
	})
	doc, err := f.BotResponseByID(allowed, id)
	if err != nil || doc == nil {
		t.Fatalf("granted read failed: (%+v, %v)", doc, err)
	}

	other := auth.WithClaims(context.Background(), &auth.Claims{
		Scopes: map[string][]string{"p2": {auth.CapResponsesRead}},
	})
	if _, err := f.BotResponseByID(other, id); !apperr.Is(err, apperr.CodePermission) {
		t.Fatalf("cross-project read must be denied, got %v", err)
	}
}

// TestListRequiresReadCapability 验证项目级读取全部走授权门。
func TestListRequiresReadCapability(t *testing.T) {
	f, store := newTestFacade(t, auth.NewJWTGate("secret"))
	seedResponse(t, store)

	if _, err := f.BotResponses(context.Background(), "p1"); !apperr.Is(err, apperr.CodePermission) {
		t.Fatalf("anonymous list must be denied, got %v", err)
	}
	if _, err := f.Project(context.Background(), "p1"); !apperr.Is(err, apperr.CodePermission) {
		t.Fatalf("anonymous project read must be denied, got %v", err)
	}

	ctx := auth.WithClaims(context.Background(), &auth.Claims{
		Scopes: map[string][]string{"*": {auth.CapResponsesRead}},
	})
	docs, err := f.BotResponses(ctx, "p1")
	if err != nil || len(docs) != 1 {
		t.Fatalf("granted list failed: (%+v, %v)", docs, err)
	}
}
