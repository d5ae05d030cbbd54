package response

import (
	"reflect"

	"botstudio/server/internal/apperr"
	"botstudio/server/internal/model"
)

// 文档级的变换逻辑集中在这里，三个存储后端只负责“取出-变换-原子写回”。
// 所有函数都不修改入参文档，返回新的副本。

// validateValues 校验一组 value：语言都在项目配置内，且每种语言至多一个。
func validateValues(p *model.Project, values []model.BotResponseValue) error {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if !p.HasLanguage(v.Lang) {
			return apperr.Validationf("language %q is not configured for project %q", v.Lang, p.ID)
		}
		if seen[v.Lang] {
			return apperr.Validationf("duplicate language %q in response values", v.Lang)
		}
		seen[v.Lang] = true
	}
	return nil
}

// applyUpsert 对 doc 应用一次局部合并。doc 为 nil 表示文档尚不存在，会创建。
// 返回合并后的文档副本，以及合并是否产生了可观察的变化。
func applyUpsert(p *model.Project, doc *model.BotResponse, args UpsertArgs) (*model.BotResponse, bool, error) {
	if !p.HasLanguage(args.Lang) {
		return nil, false, apperr.Validationf("language %q is not configured for project %q", args.Lang, p.ID)
	}

	created := doc == nil
	var out *model.BotResponse
	if created {
		out = &model.BotResponse{ProjectID: args.ProjectID, Key: args.Key}
	} else {
		out = doc.Clone()
	}

	vi := out.ValueFor(args.Lang)
	if vi < 0 {
		out.Values = append(out.Values, model.BotResponseValue{Lang: args.Lang})
		vi = len(out.Values) - 1
	}

	content := args.Content
	if content.Type == "" {
		content.Type = out.Type()
	}

	seq := out.Values[vi].Sequence
	switch {
	case args.Index == -1 || args.Index == len(seq):
		out.Values[vi].Sequence = append(seq, model.ContentContainer{Content: content})
	case args.Index >= 0 && args.Index < len(seq):
		out.Values[vi].Sequence[args.Index] = model.ContentContainer{Content: content}
	default:
		return nil, false, apperr.Validationf("variation index %d out of range for language %q", args.Index, args.Lang)
	}

	changed := created || !reflect.DeepEqual(doc, out)
	return out, changed, nil
}

// applyTypeChange 把整个文档归一化到新类型。Content 非 nil 时先落下这次编辑，
// 再统一归一化，保证编辑本身也符合新形状。语言数量保持不变；
// 序列为空的语言补一个新类型的空占位变体。
func applyTypeChange(p *model.Project, doc *model.BotResponse, args TypeChangeArgs) (*model.BotResponse, error) {
	if !model.ValidType(args.NewType) {
		return nil, apperr.Validationf("unknown response type %q", args.NewType)
	}
	if doc == nil {
		return nil, apperr.NotFoundf("response %q not found in project %q", args.Key, args.ProjectID)
	}

	out := doc.Clone()
	if args.Content != nil {
		merged, _, err := applyUpsert(p, out, UpsertArgs{
			ProjectID: args.ProjectID,
			Key:       args.Key,
			Lang:      args.Lang,
			Index:     args.Index,
			Content:   *args.Content,
		})
		if err != nil {
			return nil, err
		}
		out = merged
	}

	for i := range out.Values {
		for j := range out.Values[i].Sequence {
			out.Values[i].Sequence[j].Content = out.Values[i].Sequence[j].Content.NormalizeTo(args.NewType)
		}
		if len(out.Values[i].Sequence) == 0 {
			out.Values[i].Sequence = []model.ContentContainer{{Content: model.EmptyContent(args.NewType)}}
		}
	}
	return out, nil
}

// applyDeleteVariation 删除一个变体。语言的最后一个变体不允许删：
// 留下空序列的 value 没有可渲染内容，要清掉整个语言应该走语言删除。
func applyDeleteVariation(doc *model.BotResponse, args DeleteVariationArgs) (*model.BotResponse, error) {
	if doc == nil {
		return nil, apperr.NotFoundf("response %q not found in project %q", args.Key, args.ProjectID)
	}

	out := doc.Clone()
	vi := out.ValueFor(args.Lang)
	if vi < 0 {
		return nil, apperr.NotFoundf("response %q has no value for language %q", args.Key, args.Lang)
	}

	seq := out.Values[vi].Sequence
	if args.Index < 0 || args.Index >= len(seq) {
		return nil, apperr.Validationf("variation index %d out of range for language %q", args.Index, args.Lang)
	}
	if len(seq) == 1 {
		return nil, apperr.Validationf("cannot delete the last variation for language %q", args.Lang)
	}

	out.Values[vi].Sequence = append(seq[:args.Index], seq[args.Index+1:]...)
	return out, nil
}

// applyLangCopy 把源语言的 value 深拷贝到目标语言，目标语言原有内容被替换。
func applyLangCopy(p *model.Project, doc *model.BotResponse, args LangCopyArgs) (*model.BotResponse, error) {
	if doc == nil {
		return nil, apperr.NotFoundf("response %q not found in project %q", args.Key, args.ProjectID)
	}
	if !p.HasLanguage(args.ToLang) {
		return nil, apperr.Validationf("language %q is not configured for project %q", args.ToLang, p.ID)
	}

	src := doc.ValueFor(args.FromLang)
	if src < 0 || len(doc.Values[src].Sequence) == 0 {
		return nil, apperr.NotFoundf("response %q has no content for language %q", args.Key, args.FromLang)
	}

	out := doc.Clone()
	copied := make([]model.ContentContainer, len(out.Values[src].Sequence))
	for i, c := range out.Values[src].Sequence {
		copied[i] = model.ContentContainer{Content: c.Content.Clone()}
	}

	if ti := out.ValueFor(args.ToLang); ti >= 0 {
		out.Values[ti].Sequence = copied
	} else {
		out.Values = append(out.Values, model.BotResponseValue{Lang: args.ToLang, Sequence: copied})
	}
	return out, nil
}

// pruneLanguage 摘除某语言的 value，返回 (新文档, 是否有改动)。
func pruneLanguage(doc *model.BotResponse, lang string) (*model.BotResponse, bool) {
	vi := doc.ValueFor(lang)
	if vi < 0 {
		return doc, false
	}
	out := doc.Clone()
	out.Values = append(out.Values[:vi], out.Values[vi+1:]...)
	return out, true
}
