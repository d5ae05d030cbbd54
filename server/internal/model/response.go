package model

// ResponseType 表示响应的结构类型。类型是响应级别的属性：
// 同一个 key 下所有语言、所有变体必须保持同一种结构。
type ResponseType string

const (
	TypeText         ResponseType = "text"
	TypeQuickReplies ResponseType = "quick_replies"
	TypeImage        ResponseType = "image"
	TypeCustom       ResponseType = "custom"
)

// ValidType 判断是否为已知的响应类型。
func ValidType(t ResponseType) bool {
	switch t {
	case TypeText, TypeQuickReplies, TypeImage, TypeCustom:
		return true
	}
	return false
}

// QuickReply 是 quick_replies 类型下的一个按钮。
type QuickReply struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Content 是一个变体携带的富载荷。
// 字段按类型取舍：text 只用 Text；quick_replies 用 Text+QuickReplies；
// image 用 Text+Image；custom 用 Custom（任意结构化块，原样透传给机器人）。
type Content struct {
	Type         ResponseType   `json:"type"`
	Text         string         `json:"text,omitempty"`
	QuickReplies []QuickReply   `json:"quick_replies,omitempty"`
	Image        string         `json:"image,omitempty"`
	Custom       map[string]any `json:"custom,omitempty"`
}

// ContentContainer 是 value 序列中的一个变体。序列顺序有业务含义
// （展示/轮换顺序），所有局部更新都不能打乱未触碰的条目。
type ContentContainer struct {
	Content Content `json:"content"`
}

// BotResponseValue 是某一种语言对响应的完整渲染。
type BotResponseValue struct {
	Lang     string             `json:"lang"`
	Sequence []ContentContainer `json:"sequence"`
}

// BotResponse 是一个以 (projectId, key) 标识的多语言响应文档。
// 不变式：key 在项目内唯一；每种语言至多出现一个 value。
type BotResponse struct {
	ID        string             `json:"_id"`
	ProjectID string             `json:"project_id"`
	Key       string             `json:"key"`
	Values    []BotResponseValue `json:"values"`
}

// ValueFor 返回指定语言的 value 在 Values 中的下标，不存在时返回 -1。
func (r *BotResponse) ValueFor(lang string) int {
	for i := range r.Values {
		if r.Values[i].Lang == lang {
			return i
		}
	}
	return -1
}

// Type 推断响应当前的结构类型：取第一个非空序列的首个变体。
// 空文档（没有任何变体）视为 text。
func (r *BotResponse) Type() ResponseType {
	for i := range r.Values {
		if len(r.Values[i].Sequence) > 0 {
			return r.Values[i].Sequence[0].Content.Type
		}
	}
	return TypeText
}

// Clone 返回文档的深拷贝。存储实现返回文档前都要经过 Clone，
// 避免调用方拿到内部状态的别名。
func (r *BotResponse) Clone() *BotResponse {
	if r == nil {
		return nil
	}
	out := &BotResponse{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		Key:       r.Key,
		Values:    make([]BotResponseValue, len(r.Values)),
	}
	for i, v := range r.Values {
		out.Values[i] = cloneValue(v)
	}
	return out
}

func cloneValue(v BotResponseValue) BotResponseValue {
	out := BotResponseValue{Lang: v.Lang, Sequence: make([]ContentContainer, len(v.Sequence))}
	for i, c := range v.Sequence {
		out.Sequence[i] = ContentContainer{Content: c.Content.Clone()}
	}
	return out
}

// Clone 返回内容的深拷贝。
func (c Content) Clone() Content {
	out := c
	if c.QuickReplies != nil {
		out.QuickReplies = make([]QuickReply, len(c.QuickReplies))
		copy(out.QuickReplies, c.QuickReplies)
	}
	if c.Custom != nil {
		out.Custom = make(map[string]any, len(c.Custom))
		for k, v := range c.Custom {
			out.Custom[k] = v
		}
	}
	return out
}

// EmptyContent 返回指定类型的空占位内容，用于类型切换时补齐缺失的变体。
func EmptyContent(t ResponseType) Content {
	c := Content{Type: t}
	switch t {
	case TypeQuickReplies:
		c.QuickReplies = []QuickReply{}
	case TypeCustom:
		c.Custom = map[string]any{}
	}
	return c
}

// NormalizeTo 把内容改写成目标类型的形状：兼容的字段保留（文本几乎总能保留），
// 新形状不存在的字段丢弃，新形状要求而旧内容缺失的字段补空。
func (c Content) NormalizeTo(t ResponseType) Content {
	out := EmptyContent(t)
	switch t {
	case TypeText:
		out.Text = c.Text
	case TypeQuickReplies:
		out.Text = c.Text
		if c.Type == TypeQuickReplies && c.QuickReplies != nil {
			out.QuickReplies = make([]QuickReply, len(c.QuickReplies))
			copy(out.QuickReplies, c.QuickReplies)
		}
	case TypeImage:
		out.Text = c.Text
		if c.Type == TypeImage {
			out.Image = c.Image
		}
	case TypeCustom:
		if c.Type == TypeCustom && c.Custom != nil {
			out.Custom = make(map[string]any, len(c.Custom))
			for k, v := range c.Custom {
				out.Custom[k] = v
			}
		}
	}
	return out
}
