// Package query 是只读门面：在存储的读契约之上不加任何不变式，
// 只负责套上授权门，给外层一个稳定的窄读接口。
package query

import (
	"context"

	"botstudio/server/internal/auth"
	"botstudio/server/internal/model"
	"botstudio/server/internal/project"
	"botstudio/server/internal/response"
)

type Facade struct {
	store    response.Store
	projects project.Store
	gate     auth.Gate
}

func New(store response.Store, projects project.Store, gate auth.Gate) *Facade {
	return &Facade{store: store, projects: projects, gate: gate}
}

// BotResponses 返回项目下全部响应。
func (f *Facade) BotResponses(ctx context.Context, projectID string) ([]*model.BotResponse, error) {
	if err := f.gate.CheckIfCan(ctx, auth.CapResponsesRead, projectID); err != nil {
		return nil, err
	}
	return f.store.GetBotResponses(ctx, projectID)
}

// BotResponse 按 (projectId, key) 读取；没有匹配返回 (nil, nil)。
func (f *Facade) BotResponse(ctx context.Context, projectID, key string) (*model.BotResponse, error) {
	if err := f.gate.CheckIfCan(ctx, auth.CapResponsesRead, projectID); err != nil {
		return nil, err
	}
	return f.store.GetBotResponse(ctx, projectID, key)
}

// BotResponseByID 按持久 id 读取。id 不携带项目信息，
// 先取文档再按其归属项目过授权门。
func (f *Facade) BotResponseByID(ctx context.Context, id string) (*model.BotResponse, error) {
	doc, err := f.store.GetBotResponseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	if err := f.gate.CheckIfCan(ctx, auth.CapResponsesRead, doc.ProjectID); err != nil {
		return nil, err
	}
	return doc, nil
}

// Project 返回项目记录。
func (f *Facade) Project(ctx context.Context, id string) (*model.Project, error) {
	if err := f.gate.CheckIfCan(ctx, auth.CapResponsesRead, id); err != nil {
		return nil, err
	}
	return f.projects.Get(ctx, id)
}
