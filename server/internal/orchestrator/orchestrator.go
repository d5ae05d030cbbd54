package orchestrator

import (
	"context"
	"log"

	"botstudio/server/internal/apperr"
	"botstudio/server/internal/auth"
	"botstudio/server/internal/model"
	"botstudio/server/internal/notifier"
	"botstudio/server/internal/project"
	"botstudio/server/internal/response"
)

// Orchestrator 负责写路径的编排：授权 → 存储操作 → 广播。
//
// 契约：
// - 授权与校验失败发生在任何存储写入之前，失败即整个操作中止。
// - 存储报错原样上抛，且不发任何广播（广播只跟在成功写入之后）。
// - 广播是 best-effort：存储写成功后进程崩溃，订阅者会错过事件，
//   由订阅端重连拉全量兜底，这里不做补偿。
type Orchestrator struct {
	store    response.Store
	projects project.Store
	notifier *notifier.Service
	gate     auth.Gate
}

func New(store response.Store, projects project.Store, n *notifier.Service, gate auth.Gate) *Orchestrator {
	return &Orchestrator{store: store, projects: projects, notifier: n, gate: gate}
}

// DeleteResult 报告删除是否真的删到了文档。
type DeleteResult struct {
	Success bool `json:"success"`
}

// DeleteResponse 删除响应并广播删除前快照。没有匹配文档时不广播，
// Success 为 false。
func (o *Orchestrator) DeleteResponse(ctx context.Context, projectID, key string) (DeleteResult, error) {
	if err := o.gate.CheckIfCan(ctx, auth.CapResponsesWrite, projectID); err != nil {
		return DeleteResult{}, err
	}

	doc, err := o.store.DeleteResponse(ctx, projectID, key)
	if err != nil {
		return DeleteResult{}, err
	}
	if doc == nil {
		return DeleteResult{Success: false}, nil
	}

	o.notifier.PublishDeleted(projectID, doc)
	return DeleteResult{Success: true}, nil
}

// UpsertFullResponse 整体覆写一个响应并广播落库后的文档。
func (o *Orchestrator) UpsertFullResponse(ctx context.Context, projectID, id, key string, values []model.BotResponseValue) (response.FullUpsertResult, error) {
	if err := o.gate.CheckIfCan(ctx, auth.CapResponsesWrite, projectID); err != nil {
		return response.FullUpsertResult{}, err
	}

	result, err := o.store.UpsertFullResponse(ctx, projectID, id, key, values)
	if err != nil {
		return response.FullUpsertResult{}, err
	}

	o.notifier.PublishModified(projectID, &model.BotResponse{
		ID:        result.ID,
		ProjectID: projectID,
		Key:       key,
		Values:    values,
	})
	return result, nil
}

// CreateAndOverwriteResponses 批量创建/覆写。每个落库文档单独广播一条
// 事件，不合并成批量事件——订阅端按文档粒度做过滤与合并。
func (o *Orchestrator) CreateAndOverwriteResponses(ctx context.Context, projectID string, responses []*model.BotResponse) ([]*model.BotResponse, error) {
	if err := o.gate.CheckIfCan(ctx, auth.CapResponsesWrite, projectID); err != nil {
		return nil, err
	}

	docs, err := o.store.CreateAndOverwriteResponses(ctx, projectID, responses)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		o.notifier.PublishModified(projectID, doc)
	}
	return docs, nil
}

// CreateResponses 仅插入，key 冲突整批拒绝。
func (o *Orchestrator) CreateResponses(ctx context.Context, projectID string, responses []*model.BotResponse) ([]*model.BotResponse, error) {
	if err := o.gate.CheckIfCan(ctx, auth.CapResponsesWrite, projectID); err != nil {
		return nil, err
	}

	docs, err := o.store.CreateResponses(ctx, projectID, responses)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		o.notifier.PublishModified(projectID, doc)
	}
	return docs, nil
}

// UpsertRequest 是局部合并/类型切换的统一入参。
// NewResponseType 非空时走类型切换：所有语言、所有变体一起归一化。
type UpsertRequest struct {
	ProjectID       string             `json:"project_id"`
	Key             string             `json:"key"`
	Lang            string             `json:"lang"`
	Index           int                `json:"index"`
	Content         *model.Content     `json:"content"`
	NewResponseType model.ResponseType `json:"new_response_type"`
}

// UpsertResponse 按请求选择存储操作并广播结果。
//
// 路由规则：声明了 NewResponseType 就走 UpdateResponseType，否则走
// UpsertResponse。后者返回 NoOp 时，这里显式回读权威状态再广播——
// 订阅者拿到的永远是落库的文档，不是调用方拼出来的 payload。
func (o *Orchestrator) UpsertResponse(ctx context.Context, req UpsertRequest) (*model.BotResponse, error) {
	if err := o.gate.CheckIfCan(ctx, auth.CapResponsesWrite, req.ProjectID); err != nil {
		return nil, err
	}

	if req.NewResponseType != "" {
		doc, err := o.store.UpdateResponseType(ctx, response.TypeChangeArgs{
			ProjectID: req.ProjectID,
			Key:       req.Key,
			Lang:      req.Lang,
			Index:     req.Index,
			Content:   req.Content,
			NewType:   req.NewResponseType,
		})
		if err != nil {
			return nil, err
		}
		o.notifier.PublishModified(req.ProjectID, doc)
		return doc, nil
	}

	if req.Content == nil {
		return nil, apperr.Validationf("content is required")
	}

	result, err := o.store.UpsertResponse(ctx, response.UpsertArgs{
		ProjectID: req.ProjectID,
		Key:       req.Key,
		Lang:      req.Lang,
		Index:     req.Index,
		Content:   *req.Content,
	})
	if err != nil {
		return nil, err
	}

	if result.NoOp {
		// 存储优化掉了 no-op 写入，回读当前状态，保证广播载荷一致。
		doc, err := o.store.GetBotResponse(ctx, req.ProjectID, req.Key)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			o.notifier.PublishModified(req.ProjectID, doc)
		}
		return doc, nil
	}

	o.notifier.PublishModified(req.ProjectID, result.Response)
	return result.Response, nil
}

// DeleteVariation 删除单个变体并广播更新后的文档。
func (o *Orchestrator) DeleteVariation(ctx context.Context, args response.DeleteVariationArgs) (*model.BotResponse, error) {
	if err := o.gate.CheckIfCan(ctx, auth.CapResponsesWrite, args.ProjectID); err != nil {
		return nil, err
	}

	doc, err := o.store.DeleteVariation(ctx, args)
	if err != nil {
		return nil, err
	}
	o.notifier.PublishModified(args.ProjectID, doc)
	return doc, nil
}

// ImportResponseFromLang 把一种语言的内容拷到另一种语言并广播。
func (o *Orchestrator) ImportResponseFromLang(ctx context.Context, args response.LangCopyArgs) (*model.BotResponse, error) {
	if err := o.gate.CheckIfCan(ctx, auth.CapResponsesWrite, args.ProjectID); err != nil {
		return nil, err
	}

	doc, err := o.store.LangToLangResp(ctx, args)
	if err != nil {
		return nil, err
	}
	o.notifier.PublishModified(args.ProjectID, doc)
	return doc, nil
}

// CreateProject 建项目。
func (o *Orchestrator) CreateProject(ctx context.Context, p *model.Project) error {
	if err := o.gate.CheckIfCan(ctx, auth.CapProjectsWrite, p.ID); err != nil {
		return err
	}
	return o.projects.Create(ctx, p)
}

// AddLanguage 向项目追加语言。
func (o *Orchestrator) AddLanguage(ctx context.Context, projectID, lang string) (*model.Project, error) {
	if err := o.gate.CheckIfCan(ctx, auth.CapProjectsWrite, projectID); err != nil {
		return nil, err
	}
	return o.projects.AddLanguage(ctx, projectID, lang)
}

// DeleteLanguage 从项目移除语言，并清掉所有响应里该语言的 value。
// 每个被改动的响应单独广播一条 modified 事件。
func (o *Orchestrator) DeleteLanguage(ctx context.Context, projectID, lang string) (*model.Project, error) {
	if err := o.gate.CheckIfCan(ctx, auth.CapProjectsWrite, projectID); err != nil {
		return nil, err
	}

	proj, err := o.projects.DeleteLanguage(ctx, projectID, lang)
	if err != nil {
		return nil, err
	}

	docs, err := o.store.DeleteLanguageValues(ctx, projectID, lang)
	if err != nil {
		// 语言已经摘掉而 value 清理失败：状态不回滚，上抛让调用方重试。
		log.Printf("[Orchestrator] ❌ prune language %q values failed for project %s: %v", lang, projectID, err)
		return nil, err
	}
	for _, doc := range docs {
		o.notifier.PublishModified(projectID, doc)
	}
	return proj, nil
}
