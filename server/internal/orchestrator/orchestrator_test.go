package orchestrator

import (
	"context"
	"testing"

	"botstudio/server/internal/apperr"
	"botstudio/server/internal/auth"
	"botstudio/server/internal/model"
	"botstudio/server/internal/notifier"
	"botstudio/server/internal/project"
	"botstudio/server/internal/response"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *response.InMemoryStore, *notifier.Service) {
	t.Helper()

	projects := project.NewInMemoryStore()
	err := projects.Create(context.Background(), &model.Project{
		ID: "p1", Name: "Test", Languages: []string{"en", "fr"}, DefaultLanguage: "en",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	store := response.NewInMemoryStore(projects)
	n := notifier.New()
	return New(store, projects, n, auth.AllowAll{}), store, n
}

func textContent(text string) *model.Content {
	return &model.Content{Type: model.TypeText, Text: text}
}

func textValues(lang string, texts ...string) model.BotResponseValue {
	seq := make([]model.ContentContainer, len(texts))
	for i, tx := range texts {
		seq[i] = model.ContentContainer{Content: *textContent(tx)}
	}
	return model.BotResponseValue{Lang: lang, Sequence: seq}
}

func drain(ch <-chan notifier.Event) []notifier.Event {
	var out []notifier.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

// denyGate 拒绝一切授权检查。
type denyGate struct{}

func (denyGate) CheckIfCan(ctx context.Context, capability, projectID string) error {
	return apperr.Permissionf("denied")
}

// failingStore 在删除路径注入存储错误，其余操作透传。
type failingStore struct {
	response.Store
}

func (failingStore) DeleteResponse(ctx context.Context, projectID, key string) (*model.BotResponse, error) {
	return nil, apperr.NotFoundf("storage unavailable")
}

// TestUpsertRoutesOnNewResponseType 验证请求携带 NewResponseType 时走类型
// 切换路径，所有语言被归一化并广播一条 modified 事件。
func TestUpsertRoutesOnNewResponseType(t *testing.T) {
	orch, _, n := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := orch.UpsertFullResponse(ctx, "p1", "", "utter_greet", []model.BotResponseValue{
		textValues("en", "Hi"), textValues("fr", "Salut"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ch, cancel := n.Subscribe("p1", notifier.ResponsesModified)
	defer cancel()

	doc, err := orch.UpsertResponse(ctx, UpsertRequest{
		ProjectID: "p1", Key: "utter_greet", NewResponseType: model.TypeQuickReplies,
	})
	if err != nil {
		t.Fatalf("type change: %v", err)
	}
	for _, v := range doc.Values {
		for _, cc := range v.Sequence {
			if cc.Content.Type != model.TypeQuickReplies {
				t.Fatalf("language %s not normalized: %+v", v.Lang, cc.Content)
			}
		}
	}

	events := drain(ch)
	if len(events) != 1 || events[0].Response.Key != "utter_greet" {
		t.Fatalf("expected one modified event, got %+v", events)
	}
}

// TestUpsertRequiresContentWithoutTypeChange 验证纯合并请求缺 content 直接被
// 校验拒绝，存储不被触碰。
func TestUpsertRequiresContentWithoutTypeChange(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := orch.UpsertResponse(ctx, UpsertRequest{ProjectID: "p1", Key: "utter_greet", Lang: "en"})
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if doc, _ := store.GetBotResponse(ctx, "p1", "utter_greet"); doc != nil {
		t.Fatalf("store must stay untouched, found %+v", doc)
	}
}

// TestUpsertNoOpRefetchesAndPublishesAuthoritativeDoc 验证 NoOp 合并回读
// 权威文档后才广播，载荷与落库状态一致。
func TestUpsertNoOpRefetchesAndPublishesAuthoritativeDoc(t *testing.T) {
	orch, _, n := newTestOrchestrator(t)
	ctx := context.Background()

	req := UpsertRequest{ProjectID: "p1", Key: "utter_greet", Lang: "en", Index: 0, Content: textContent("Hi")}
	if _, err := orch.UpsertResponse(ctx, req); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	ch, cancel := n.Subscribe("p1", notifier.ResponsesModified)
	defer cancel()

	doc, err := orch.UpsertResponse(ctx, req)
	if err != nil {
		t.Fatalf("no-op upsert: %v", err)
	}
	if doc == nil || doc.ID == "" {
		t.Fatalf("refetch must return the stored document, got %+v", doc)
	}

	events := drain(ch)
	if len(events) != 1 || events[0].Response.ID != doc.ID {
		t.Fatalf("expected one event carrying the stored document, got %+v", events)
	}
}

// TestBatchOverwritePublishesOneEventPerDocument 验证批量覆写按文档粒度广播：
// 新建和覆写各发一条事件，不合并成批量事件。
func TestBatchOverwritePublishesOneEventPerDocument(t *testing.T) {
	orch, _, n := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := orch.UpsertFullResponse(ctx, "p1", "", "utter_b", []model.BotResponseValue{textValues("en", "old")}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ch, cancel := n.Subscribe("p1", notifier.ResponsesModified)
	defer cancel()

	docs, err := orch.CreateAndOverwriteResponses(ctx, "p1", []*model.BotResponse{
		{Key: "utter_a", Values: []model.BotResponseValue{textValues("en", "A")}},
		{Key: "utter_b", Values: []model.BotResponseValue{textValues("en", "B")}},
	})
	if err != nil {
		t.Fatalf("batch overwrite: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	events := drain(ch)
	if len(events) != 2 {
		t.Fatalf("expected one event per document, got %d: %+v", len(events), events)
	}
	for i, doc := range docs {
		if events[i].Response.ID != doc.ID {
			t.Fatalf("event %d payload mismatch: %+v vs %+v", i, events[i].Response, doc)
		}
	}
	if events[1].Response.Values[0].Sequence[0].Content.Text != "B" {
		t.Fatalf("overwrite payload must carry the new content: %+v", events[1].Response)
	}
}

// TestDeletePublishesSnapshotAndReportsSuccess 验证删除广播删除前快照，
// 未命中时不广播且 Success 为 false。
func TestDeletePublishesSnapshotAndReportsSuccess(t *testing.T) {
	orch, _, n := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := orch.UpsertFullResponse(ctx, "p1", "", "utter_greet", []model.BotResponseValue{textValues("en", "Hi")}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ch, cancel := n.Subscribe("p1", notifier.ResponseDeleted)
	defer cancel()

	result, err := orch.DeleteResponse(ctx, "p1", "utter_greet")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected Success=true")
	}
	events := drain(ch)
	if len(events) != 1 || events[0].Response.Values[0].Sequence[0].Content.Text != "Hi" {
		t.Fatalf("expected pre-deletion snapshot, got %+v", events)
	}

	result, err = orch.DeleteResponse(ctx, "p1", "utter_greet")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if result.Success {
		t.Fatalf("expected Success=false when nothing matched")
	}
	if extra := drain(ch); len(extra) != 0 {
		t.Fatalf("no event expected on miss, got %+v", extra)
	}
}

// TestDenyingGateAbortsBeforeStoreEffect 验证授权失败发生在存储写入之前。
func TestDenyingGateAbortsBeforeStoreEffect(t *testing.T) {
	projects := project.NewInMemoryStore()
	if err := projects.Create(context.Background(), &model.Project{
		ID: "p1", Languages: []string{"en"}, DefaultLanguage: "en",
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	store := response.NewInMemoryStore(projects)
	n := notifier.New()
	orch := New(store, projects, n, denyGate{})
	ctx := context.Background()

	ch, cancel := n.Subscribe("p1")
	defer cancel()

	_, err := orch.UpsertResponse(ctx, UpsertRequest{
		ProjectID: "p1", Key: "utter_greet", Lang: "en", Index: -1, Content: textContent("Hi"),
	})
	if !apperr.Is(err, apperr.CodePermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if doc, _ := store.GetBotResponse(ctx, "p1", "utter_greet"); doc != nil {
		t.Fatalf("denied write must not reach the store, found %+v", doc)
	}
	if events := drain(ch); len(events) != 0 {
		t.Fatalf("denied write must not publish, got %+v", events)
	}
}

// TestStoreErrorSuppressesPublish 验证存储报错时不发任何广播。
func TestStoreErrorSuppressesPublish(t *testing.T) {
	orch, store, n := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := orch.UpsertFullResponse(ctx, "p1", "", "utter_greet", []model.BotResponseValue{textValues("en", "Hi")}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	failing := New(failingStore{Store: store}, project.NewInMemoryStore(), n, auth.AllowAll{})

	ch, cancel := n.Subscribe("p1", notifier.ResponseDeleted)
	defer cancel()

	if _, err := failing.DeleteResponse(ctx, "p1", "utter_greet"); err == nil {
		t.Fatalf("expected injected store error")
	}
	if events := drain(ch); len(events) != 0 {
		t.Fatalf("store failure must not publish, got %+v", events)
	}
}

// TestDeleteLanguagePrunesValuesAndPublishes 验证摘语言后所有响应被剪除并
// 按文档广播 modified 事件。
func TestDeleteLanguagePrunesValuesAndPublishes(t *testing.T) {
	orch, store, n := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := orch.UpsertFullResponse(ctx, "p1", "", "utter_greet", []model.BotResponseValue{
		textValues("en", "Hi"), textValues("fr", "Salut"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ch, cancel := n.Subscribe("p1", notifier.ResponsesModified)
	defer cancel()

	proj, err := orch.DeleteLanguage(ctx, "p1", "fr")
	if err != nil {
		t.Fatalf("delete language: %v", err)
	}
	if proj.HasLanguage("fr") {
		t.Fatalf("fr must be removed from project: %+v", proj)
	}

	events := drain(ch)
	if len(events) != 1 {
		t.Fatalf("expected one modified event, got %+v", events)
	}
	if events[0].Response.ValueFor("fr") >= 0 {
		t.Fatalf("broadcast payload must be pruned: %+v", events[0].Response)
	}

	doc, _ := store.GetBotResponse(ctx, "p1", "utter_greet")
	if doc.ValueFor("fr") >= 0 {
		t.Fatalf("stored document must be pruned: %+v", doc)
	}
}
