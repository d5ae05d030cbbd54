package response

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"botstudio/server/internal/apperr"
	"botstudio/server/internal/model"
	"botstudio/server/internal/project"
)

// MongoStore 把响应文档存进 MongoDB，一个响应一个 document。
// 并发写同一 (projectId, key) 时按文档级 last-writer-wins，与契约一致；
// 没有多文档事务，批量操作逐文档生效。
type MongoStore struct {
	coll     *mongo.Collection
	projects project.Store
}

// responseDoc 是 BotResponse 在集合里的形状。
type responseDoc struct {
	ID        string                   `bson:"_id"`
	ProjectID string                   `bson:"project_id"`
	Key       string                   `bson:"key"`
	Values    []model.BotResponseValue `bson:"values"`
}

// OpenMongo 连接 MongoDB 并准备索引。
func OpenMongo(ctx context.Context, uri, database string, projects project.Store) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection("bot_responses")
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "project_id", Value: 1}}},
		{
			Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	return &MongoStore{coll: coll, projects: projects}, nil
}

func (s *MongoStore) GetBotResponses(ctx context.Context, projectID string) ([]*model.BotResponse, error) {
	cur, err := s.coll.Find(ctx, bson.M{"project_id": projectID},
		options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find responses: %w", err)
	}
	var docs []responseDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode responses: %w", err)
	}
	out := make([]*model.BotResponse, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

func (s *MongoStore) GetBotResponse(ctx context.Context, projectID, key string) (*model.BotResponse, error) {
	return s.findOne(ctx, bson.M{"project_id": projectID, "key": key})
}

func (s *MongoStore) GetBotResponseByID(ctx context.Context, id string) (*model.BotResponse, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoStore) UpsertFullResponse(ctx context.Context, projectID, id, key string, values []model.BotResponseValue) (FullUpsertResult, error) {
	proj, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return FullUpsertResult{}, err
	}
	if err := validateValues(proj, values); err != nil {
		return FullUpsertResult{}, err
	}

	var doc *model.BotResponse
	if id != "" {
		doc, err = s.findOne(ctx, bson.M{"_id": id, "project_id": projectID})
		if err != nil {
			return FullUpsertResult{}, err
		}
	}
	if doc == nil {
		doc, err = s.GetBotResponse(ctx, projectID, key)
		if err != nil {
			return FullUpsertResult{}, err
		}
	}

	if doc != nil {
		if key != doc.Key {
			other, err := s.GetBotResponse(ctx, projectID, key)
			if err != nil {
				return FullUpsertResult{}, err
			}
			if other != nil && other.ID != doc.ID {
				return FullUpsertResult{}, apperr.Conflictf("key %q already exists in project %q", key, projectID)
			}
		}
		doc.Key = key
		doc.Values = values
		if err := s.replace(ctx, doc); err != nil {
			return FullUpsertResult{}, err
		}
		return FullUpsertResult{ID: doc.ID}, nil
	}

	newDoc := &model.BotResponse{ID: id, ProjectID: projectID, Key: key, Values: values}
	if newDoc.ID == "" {
		newDoc.ID = uuid.NewString()
	}
	if err := s.replace(ctx, newDoc); err != nil {
		return FullUpsertResult{}, err
	}
	return FullUpsertResult{ID: newDoc.ID, Created: true}, nil
}

func (s *MongoStore) CreateAndOverwriteResponses(ctx context.Context, projectID string, responses []*model.BotResponse) ([]*model.BotResponse, error) {
	proj, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	out := make([]*model.BotResponse, 0, len(responses))
	for _, r := range responses {
		if err := validateValues(proj, r.Values); err != nil {
			return nil, err
		}
		existing, err := s.GetBotResponse(ctx, projectID, r.Key)
		if err != nil {
			return nil, err
		}
		doc := &model.BotResponse{ProjectID: projectID, Key: r.Key, Values: r.Values}
		if existing != nil {
			doc.ID = existing.ID
		} else {
			doc.ID = uuid.NewString()
		}
		if err := s.replace(ctx, doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *MongoStore) CreateResponses(ctx context.Context, projectID string, responses []*model.BotResponse) ([]*model.BotResponse, error) {
	proj, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	for _, r := range responses {
		if err := validateValues(proj, r.Values); err != nil {
			return nil, err
		}
		existing, err := s.GetBotResponse(ctx, projectID, r.Key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, apperr.Conflictf("key %q already exists in project %q", r.Key, projectID)
		}
	}

	out := make([]*model.BotResponse, 0, len(responses))
	for _, r := range responses {
		doc := &model.BotResponse{ID: uuid.NewString(), ProjectID: projectID, Key: r.Key, Values: r.Values}
		if _, err := s.coll.InsertOne(ctx, fromModel(doc)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, apperr.Conflictf("key %q already exists in project %q", r.Key, projectID)
			}
			return nil, fmt.Errorf("insert response: %w", err)
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *MongoStore) UpsertResponse(ctx context.Context, args UpsertArgs) (UpsertResult, error) {
	proj, err := s.projects.Get(ctx, args.ProjectID)
	if err != nil {
		return UpsertResult{}, err
	}

	doc, err := s.GetBotResponse(ctx, args.ProjectID, args.Key)
	if err != nil {
		return UpsertResult{}, err
	}

	merged, changed, err := applyUpsert(proj, doc, args)
	if err != nil {
		return UpsertResult{}, err
	}
	if !changed {
		return UpsertResult{NoOp: true}, nil
	}

	if doc != nil {
		merged.ID = doc.ID
	} else {
		merged.ID = uuid.NewString()
	}
	if err := s.replace(ctx, merged); err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Response: merged}, nil
}

func (s *MongoStore) UpdateResponseType(ctx context.Context, args TypeChangeArgs) (*model.BotResponse, error) {
	proj, err := s.projects.Get(ctx, args.ProjectID)
	if err != nil {
		return nil, err
	}

	doc, err := s.GetBotResponse(ctx, args.ProjectID, args.Key)
	if err != nil {
		return nil, err
	}
	normalized, err := applyTypeChange(proj, doc, args)
	if err != nil {
		return nil, err
	}
	if err := s.replace(ctx, normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

func (s *MongoStore) DeleteResponse(ctx context.Context, projectID, key string) (*model.BotResponse, error) {
	var doc responseDoc
	err := s.coll.FindOneAndDelete(ctx, bson.M{"project_id": projectID, "key": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete response: %w", err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) DeleteVariation(ctx context.Context, args DeleteVariationArgs) (*model.BotResponse, error) {
	doc, err := s.GetBotResponse(ctx, args.ProjectID, args.Key)
	if err != nil {
		return nil, err
	}
	trimmed, err := applyDeleteVariation(doc, args)
	if err != nil {
		return nil, err
	}
	if err := s.replace(ctx, trimmed); err != nil {
		return nil, err
	}
	return trimmed, nil
}

func (s *MongoStore) LangToLangResp(ctx context.Context, args LangCopyArgs) (*model.BotResponse, error) {
	proj, err := s.projects.Get(ctx, args.ProjectID)
	if err != nil {
		return nil, err
	}

	doc, err := s.GetBotResponse(ctx, args.ProjectID, args.Key)
	if err != nil {
		return nil, err
	}
	copied, err := applyLangCopy(proj, doc, args)
	if err != nil {
		return nil, err
	}
	if err := s.replace(ctx, copied); err != nil {
		return nil, err
	}
	return copied, nil
}

func (s *MongoStore) DeleteLanguageValues(ctx context.Context, projectID, lang string) ([]*model.BotResponse, error) {
	docs, err := s.GetBotResponses(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var out []*model.BotResponse
	for _, doc := range docs {
		pruned, changed := pruneLanguage(doc, lang)
		if !changed {
			continue
		}
		if err := s.replace(ctx, pruned); err != nil {
			return nil, err
		}
		out = append(out, pruned)
	}
	return out, nil
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*model.BotResponse, error) {
	var doc responseDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find response: %w", err)
	}
	return doc.toModel(), nil
}

// replace 整文档替换（不存在则插入）。单文档替换在 Mongo 里是原子的。
func (s *MongoStore) replace(ctx context.Context, doc *model.BotResponse) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, fromModel(doc),
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace response: %w", err)
	}
	return nil
}

func (d responseDoc) toModel() *model.BotResponse {
	return &model.BotResponse{ID: d.ID, ProjectID: d.ProjectID, Key: d.Key, Values: d.Values}
}

func fromModel(r *model.BotResponse) responseDoc {
	return responseDoc{ID: r.ID, ProjectID: r.ProjectID, Key: r.Key, Values: r.Values}
}
