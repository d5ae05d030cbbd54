package response

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"botstudio/server/internal/apperr"
	"botstudio/server/internal/model"
	"botstudio/server/internal/project"
)

// InMemoryStore 是基于内存的响应存储实现。
// 注意：重启即丢数据；多实例部署需要换成 SQLite/Mongo 后端。
type InMemoryStore struct {
	projects project.Store

	mu    sync.RWMutex
	byKey map[string]map[string]*model.BotResponse // projectID -> key -> doc
	byID  map[string]*model.BotResponse
}

func NewInMemoryStore(projects project.Store) *InMemoryStore {
	return &InMemoryStore{
		projects: projects,
		byKey:    make(map[string]map[string]*model.BotResponse),
		byID:     make(map[string]*model.BotResponse),
	}
}

// GetBotResponses 返回项目下的全部响应，按 key 排序保证单次调用内顺序稳定。
func (s *InMemoryStore) GetBotResponses(_ context.Context, projectID string) ([]*model.BotResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.byKey[projectID]
	out := make([]*model.BotResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// GetBotResponse 按 (projectId, key) 读取；没有匹配返回 (nil, nil)。
func (s *InMemoryStore) GetBotResponse(_ context.Context, projectID, key string) (*model.BotResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.byKey[projectID][key]
	if !ok {
		return nil, nil
	}
	return doc.Clone(), nil
}

// GetBotResponseByID 按持久 id 读取；没有匹配返回 (nil, nil)。
func (s *InMemoryStore) GetBotResponseByID(_ context.Context, id string) (*model.BotResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return doc.Clone(), nil
}

func (s *InMemoryStore) UpsertFullResponse(ctx context.Context, projectID, id, key string, values []model.BotResponseValue) (FullUpsertResult, error) {
	proj, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return FullUpsertResult{}, err
	}
	if err := validateValues(proj, values); err != nil {
		return FullUpsertResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var doc *model.BotResponse
	if id != "" {
		if existing, ok := s.byID[id]; ok && existing.ProjectID == projectID {
			doc = existing
		}
	}
	if doc == nil {
		doc = s.byKey[projectID][key]
	}

	if doc != nil {
		// 按 id 定位时允许改 key，但不能撞到同项目下的另一个文档。
		if key != doc.Key {
			if other, ok := s.byKey[projectID][key]; ok && other.ID != doc.ID {
				return FullUpsertResult{}, apperr.Conflictf("key %q already exists in project %q", key, projectID)
			}
			delete(s.byKey[projectID], doc.Key)
			doc.Key = key
			s.byKey[projectID][key] = doc
		}
		doc.Values = cloneValues(values)
		return FullUpsertResult{ID: doc.ID}, nil
	}

	newDoc := &model.BotResponse{ID: id, ProjectID: projectID, Key: key, Values: cloneValues(values)}
	if newDoc.ID == "" {
		newDoc.ID = uuid.NewString()
	}
	s.put(newDoc)
	return FullUpsertResult{ID: newDoc.ID, Created: true}, nil
}

func (s *InMemoryStore) CreateAndOverwriteResponses(ctx context.Context, projectID string, responses []*model.BotResponse) ([]*model.BotResponse, error) {
	proj, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.BotResponse, 0, len(responses))
	for _, r := range responses {
		if err := validateValues(proj, r.Values); err != nil {
			return nil, err
		}
		if existing, ok := s.byKey[projectID][r.Key]; ok {
			existing.Values = cloneValues(r.Values)
			out = append(out, existing.Clone())
			continue
		}
		doc := &model.BotResponse{ID: uuid.NewString(), ProjectID: projectID, Key: r.Key, Values: cloneValues(r.Values)}
		s.put(doc)
		out = append(out, doc.Clone())
	}
	return out, nil
}

func (s *InMemoryStore) CreateResponses(ctx context.Context, projectID string, responses []*model.BotResponse) ([]*model.BotResponse, error) {
	proj, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 冲突检查先于全部写入：任何一个 key 已存在则整批拒绝。
	for _, r := range responses {
		if err := validateValues(proj, r.Values); err != nil {
			return nil, err
		}
		if _, ok := s.byKey[projectID][r.Key]; ok {
			return nil, apperr.Conflictf("key %q already exists in project %q", r.Key, projectID)
		}
	}

	out := make([]*model.BotResponse, 0, len(responses))
	for _, r := range responses {
		doc := &model.BotResponse{ID: uuid.NewString(), ProjectID: projectID, Key: r.Key, Values: cloneValues(r.Values)}
		s.put(doc)
		out = append(out, doc.Clone())
	}
	return out, nil
}

func (s *InMemoryStore) UpsertResponse(ctx context.Context, args UpsertArgs) (UpsertResult, error) {
	proj, err := s.projects.Get(ctx, args.ProjectID)
	if err != nil {
		return UpsertResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.byKey[args.ProjectID][args.Key]
	merged, changed, err := applyUpsert(proj, doc, args)
	if err != nil {
		return UpsertResult{}, err
	}
	if !changed {
		return UpsertResult{NoOp: true}, nil
	}

	if doc != nil {
		merged.ID = doc.ID
		delete(s.byID, doc.ID)
	} else {
		merged.ID = uuid.NewString()
	}
	s.put(merged)
	return UpsertResult{Response: merged.Clone()}, nil
}

func (s *InMemoryStore) UpdateResponseType(ctx context.Context, args TypeChangeArgs) (*model.BotResponse, error) {
	proj, err := s.projects.Get(ctx, args.ProjectID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.byKey[args.ProjectID][args.Key]
	normalized, err := applyTypeChange(proj, doc, args)
	if err != nil {
		return nil, err
	}
	s.put(normalized)
	return normalized.Clone(), nil
}

func (s *InMemoryStore) DeleteResponse(_ context.Context, projectID, key string) (*model.BotResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.byKey[projectID][key]
	if !ok {
		return nil, nil
	}
	delete(s.byKey[projectID], key)
	delete(s.byID, doc.ID)
	return doc, nil
}

func (s *InMemoryStore) DeleteVariation(ctx context.Context, args DeleteVariationArgs) (*model.BotResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.byKey[args.ProjectID][args.Key]
	trimmed, err := applyDeleteVariation(doc, args)
	if err != nil {
		return nil, err
	}
	s.put(trimmed)
	return trimmed.Clone(), nil
}

func (s *InMemoryStore) LangToLangResp(ctx context.Context, args LangCopyArgs) (*model.BotResponse, error) {
	proj, err := s.projects.Get(ctx, args.ProjectID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.byKey[args.ProjectID][args.Key]
	copied, err := applyLangCopy(proj, doc, args)
	if err != nil {
		return nil, err
	}
	s.put(copied)
	return copied.Clone(), nil
}

func (s *InMemoryStore) DeleteLanguageValues(_ context.Context, projectID, lang string) ([]*model.BotResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.byKey[projectID]))
	for key := range s.byKey[projectID] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []*model.BotResponse
	for _, key := range keys {
		pruned, changed := pruneLanguage(s.byKey[projectID][key], lang)
		if !changed {
			continue
		}
		s.put(pruned)
		out = append(out, pruned.Clone())
	}
	return out, nil
}

// put 把文档写入两个索引。调用方必须已持有写锁。
func (s *InMemoryStore) put(doc *model.BotResponse) {
	if s.byKey[doc.ProjectID] == nil {
		s.byKey[doc.ProjectID] = make(map[string]*model.BotResponse)
	}
	s.byKey[doc.ProjectID][doc.Key] = doc
	s.byID[doc.ID] = doc
}

func cloneValues(values []model.BotResponseValue) []model.BotResponseValue {
	tmp := model.BotResponse{Values: values}
	return tmp.Clone().Values
}
