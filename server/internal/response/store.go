// Package response 实现响应文档的存储契约：按 (projectId, key) 标识的
// 多语言响应的增删改查、局部合并、类型切换与跨语言拷贝。
package response

import (
	"context"

	"botstudio/server/internal/model"
)

// UpsertArgs 描述一次针对单个语言、单个变体的局部合并。
// Index 为 -1（或等于序列长度）表示追加，否则替换该下标的变体；
// 其余语言、其余变体一律不动。
type UpsertArgs struct {
	ProjectID string
	Key       string
	Lang      string
	Index     int
	Content   model.Content
}

// TypeChangeArgs 描述一次结构类型切换。切换会把所有语言、所有变体
// 统一归一化到新类型的形状；Content 非 nil 时同时落下这次编辑本身。
type TypeChangeArgs struct {
	ProjectID string
	Key       string
	Lang      string
	Index     int
	Content   *model.Content
	NewType   model.ResponseType
}

// DeleteVariationArgs 定位要删除的变体。
type DeleteVariationArgs struct {
	ProjectID string
	Key       string
	Lang      string
	Index     int
}

// LangCopyArgs 描述把一种语言的 value 拷贝到另一种语言。
type LangCopyArgs struct {
	ProjectID string
	Key       string
	FromLang  string
	ToLang    string
}

// UpsertResult 是局部合并的三态结果之一半：err 非 nil 是第三态。
// NoOp 为 true 表示合并后状态与合并前一致，存储未写入，
// Response 为 nil，调用方应当重新读取权威状态而不是自行拼 payload。
type UpsertResult struct {
	Response *model.BotResponse
	NoOp     bool
}

// FullUpsertResult 报告整体覆写的结果。
type FullUpsertResult struct {
	ID      string
	Created bool
}

// Store 是响应文档的持久化契约。
//
// 读路径：没有匹配文档时返回 (nil, nil)，不返回 NotFoundError；
// 写路径的错误遵循 apperr 的分类。所有实现都保证单文档写入原子，
// 跨文档批量操作不保证整体原子。
type Store interface {
	GetBotResponses(ctx context.Context, projectID string) ([]*model.BotResponse, error)
	GetBotResponse(ctx context.Context, projectID, key string) (*model.BotResponse, error)
	GetBotResponseByID(ctx context.Context, id string) (*model.BotResponse, error)

	// UpsertFullResponse 整体替换一个响应的 value 集合。id 非空时按 id 定位
	// （此时 key 作为新 key 写入，允许改名），否则按 (projectId, key) 定位；
	// 不存在则创建。values 含项目未配置的语言时返回 ValidationError。
	UpsertFullResponse(ctx context.Context, projectID, id, key string, values []model.BotResponseValue) (FullUpsertResult, error)

	// CreateAndOverwriteResponses 批量版本：同 key 已存在则整体替换，否则创建。
	// 返回落库后的每个文档（携带最终 id），顺序与入参一致。
	CreateAndOverwriteResponses(ctx context.Context, projectID string, responses []*model.BotResponse) ([]*model.BotResponse, error)

	// CreateResponses 仅插入：任何一个 key 已存在即返回 ConflictError，
	// 且冲突检查先于全部写入（冲突时不落任何文档）。
	CreateResponses(ctx context.Context, projectID string, responses []*model.BotResponse) ([]*model.BotResponse, error)

	UpsertResponse(ctx context.Context, args UpsertArgs) (UpsertResult, error)
	UpdateResponseType(ctx context.Context, args TypeChangeArgs) (*model.BotResponse, error)

	// DeleteResponse 删除文档并返回删除前的快照；没有匹配时返回 (nil, nil)。
	DeleteResponse(ctx context.Context, projectID, key string) (*model.BotResponse, error)

	// DeleteVariation 删除单个变体。删除某语言最后一个变体会被拒绝
	// （ValidationError）：空序列的 value 没有可渲染内容。
	DeleteVariation(ctx context.Context, args DeleteVariationArgs) (*model.BotResponse, error)

	LangToLangResp(ctx context.Context, args LangCopyArgs) (*model.BotResponse, error)

	// DeleteLanguageValues 把项目内所有响应中某语言的 value 摘除，
	// 返回被改动的文档。逐文档原子，整批不原子。
	DeleteLanguageValues(ctx context.Context, projectID, lang string) ([]*model.BotResponse, error)
}
