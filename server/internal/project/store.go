package project

import (
	"context"

	"botstudio/server/internal/model"
)

// Store 管理项目记录。项目携带语言集合与默认语言，
// 响应存储对语言的所有校验都以这里为准。
type Store interface {
	Get(ctx context.Context, id string) (*model.Project, error)
	Create(ctx context.Context, p *model.Project) error
	// AddLanguage 向语言集合追加一种语言；重复添加返回 ConflictError。
	AddLanguage(ctx context.Context, id, lang string) (*model.Project, error)
	// DeleteLanguage 从语言集合移除一种语言。默认语言不允许删除（ValidationError）；
	// 语言不在集合内返回 NotFoundError。响应文档里该语言的 value 由调用方
	// 通过响应存储的 DeleteLanguageValues 另行清理。
	DeleteLanguage(ctx context.Context, id, lang string) (*model.Project, error)
}
