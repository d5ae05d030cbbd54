package response

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"botstudio/server/internal/apperr"
	"botstudio/server/internal/model"
	"botstudio/server/internal/project"
)

// SQLiteStore 把每个响应文档存成一行，value 集合序列化为 JSON。
// 每个操作一个事务：读出整行、应用变换、写回整行，单文档原子由此保证。
type SQLiteStore struct {
	db       *sql.DB
	projects project.Store
	now      func() time.Time
}

func NewSQLiteStore(db *sql.DB, projects project.Store) *SQLiteStore {
	return &SQLiteStore{db: db, projects: projects, now: time.Now}
}

// querier 抽象 *sql.DB 与 *sql.Tx 共有的查询面。
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) GetBotResponses(ctx context.Context, projectID string) ([]*model.BotResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, key, values_json
		FROM bot_responses WHERE project_id = ? ORDER BY key
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	var out []*model.BotResponse
	for rows.Next() {
		var doc model.BotResponse
		var values string
		if err := rows.Scan(&doc.ID, &doc.ProjectID, &doc.Key, &values); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if err := json.Unmarshal([]byte(values), &doc.Values); err != nil {
			return nil, fmt.Errorf("unmarshal values for %q: %w", doc.Key, err)
		}
		out = append(out, &doc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetBotResponse(ctx context.Context, projectID, key string) (*model.BotResponse, error) {
	return getResponse(ctx, s.db, `
		SELECT id, project_id, key, values_json
		FROM bot_responses WHERE project_id = ? AND key = ?
	`, projectID, key)
}

func (s *SQLiteStore) GetBotResponseByID(ctx context.Context, id string) (*model.BotResponse, error) {
	return getResponse(ctx, s.db, `
		SELECT id, project_id, key, values_json
		FROM bot_responses WHERE id = ?
	`, id)
}

func (s *SQLiteStore) UpsertFullResponse(ctx context.Context, projectID, id, key string, values []model.BotResponseValue) (FullUpsertResult, error) {
	proj, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return FullUpsertResult{}, err
	}
	if err := validateValues(proj, values); err != nil {
		return FullUpsertResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FullUpsertResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var doc *model.BotResponse
	if id != "" {
		byID, err := getResponse(ctx, tx, `
			SELECT id, project_id, key, values_json
			FROM bot_responses WHERE id = ? AND project_id = ?
		`, id, projectID)
		if err != nil {
			return FullUpsertResult{}, err
		}
		doc = byID
	}
	if doc == nil {
		byKey, err := getResponse(ctx, tx, `
			SELECT id, project_id, key, values_json
			FROM bot_responses WHERE project_id = ? AND key = ?
		`, projectID, key)
		if err != nil {
			return FullUpsertResult{}, err
		}
		doc = byKey
	}

	result := FullUpsertResult{}
	if doc != nil {
		if key != doc.Key {
			other, err := getResponse(ctx, tx, `
				SELECT id, project_id, key, values_json
				FROM bot_responses WHERE project_id = ? AND key = ?
			`, projectID, key)
			if err != nil {
				return FullUpsertResult{}, err
			}
			if other != nil && other.ID != doc.ID {
				return FullUpsertResult{}, apperr.Conflictf("key %q already exists in project %q", key, projectID)
			}
		}
		doc.Key = key
		doc.Values = values
		if err := saveResponse(ctx, tx, doc, s.now()); err != nil {
			return FullUpsertResult{}, err
		}
		result.ID = doc.ID
	} else {
		newDoc := &model.BotResponse{ID: id, ProjectID: projectID, Key: key, Values: values}
		if newDoc.ID == "" {
			newDoc.ID = uuid.NewString()
		}
		if err := insertResponse(ctx, tx, newDoc, s.now()); err != nil {
			return FullUpsertResult{}, err
		}
		result.ID = newDoc.ID
		result.Created = true
	}

	if err := tx.Commit(); err != nil {
		return FullUpsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) CreateAndOverwriteResponses(ctx context.Context, projectID string, responses []*model.BotResponse) ([]*model.BotResponse, error) {
	proj, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	// 逐文档独立提交：单文档原子即可，整批不要求原子。
	out := make([]*model.BotResponse, 0, len(responses))
	for _, r := range responses {
		if err := validateValues(proj, r.Values); err != nil {
			return nil, err
		}
		doc, err := s.overwriteOne(ctx, projectID, r)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *SQLiteStore) overwriteOne(ctx context.Context, projectID string, r *model.BotResponse) (*model.BotResponse, error) {
	return s.mutate(ctx, projectID, r.Key, func(doc *model.BotResponse) (*model.BotResponse, error) {
		if doc == nil {
			return &model.BotResponse{ID: uuid.NewString(), ProjectID: projectID, Key: r.Key, Values: r.Values}, nil
		}
		doc.Values = r.Values
		return doc, nil
	})
}

func (s *SQLiteStore) CreateResponses(ctx context.Context, projectID string, responses []*model.BotResponse) ([]*model.BotResponse, error) {
	proj, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	out := make([]*model.BotResponse, 0, len(responses))
	for _, r := range responses {
		if err := validateValues(proj, r.Values); err != nil {
			return nil, err
		}
		existing, err := getResponse(ctx, tx, `
			SELECT id, project_id, key, values_json
			FROM bot_responses WHERE project_id = ? AND key = ?
		`, projectID, r.Key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, apperr.Conflictf("key %q already exists in project %q", r.Key, projectID)
		}
		doc := &model.BotResponse{ID: uuid.NewString(), ProjectID: projectID, Key: r.Key, Values: r.Values}
		if err := insertResponse(ctx, tx, doc, s.now()); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpsertResponse(ctx context.Context, args UpsertArgs) (UpsertResult, error) {
	proj, err := s.projects.Get(ctx, args.ProjectID)
	if err != nil {
		return UpsertResult{}, err
	}

	var result UpsertResult
	_, err = s.mutate(ctx, args.ProjectID, args.Key, func(doc *model.BotResponse) (*model.BotResponse, error) {
		merged, changed, err := applyUpsert(proj, doc, args)
		if err != nil {
			return nil, err
		}
		if !changed {
			result = UpsertResult{NoOp: true}
			return nil, nil
		}
		if doc != nil {
			merged.ID = doc.ID
		} else {
			merged.ID = uuid.NewString()
		}
		result = UpsertResult{Response: merged}
		return merged, nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

func (s *SQLiteStore) UpdateResponseType(ctx context.Context, args TypeChangeArgs) (*model.BotResponse, error) {
	proj, err := s.projects.Get(ctx, args.ProjectID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, args.ProjectID, args.Key, func(doc *model.BotResponse) (*model.BotResponse, error) {
		return applyTypeChange(proj, doc, args)
	})
}

func (s *SQLiteStore) DeleteResponse(ctx context.Context, projectID, key string) (*model.BotResponse, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	doc, err := getResponse(ctx, tx, `
		SELECT id, project_id, key, values_json
		FROM bot_responses WHERE project_id = ? AND key = ?
	`, projectID, key)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bot_responses WHERE id = ?`, doc.ID); err != nil {
		return nil, fmt.Errorf("delete response: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) DeleteVariation(ctx context.Context, args DeleteVariationArgs) (*model.BotResponse, error) {
	return s.mutate(ctx, args.ProjectID, args.Key, func(doc *model.BotResponse) (*model.BotResponse, error) {
		return applyDeleteVariation(doc, args)
	})
}

func (s *SQLiteStore) LangToLangResp(ctx context.Context, args LangCopyArgs) (*model.BotResponse, error) {
	proj, err := s.projects.Get(ctx, args.ProjectID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, args.ProjectID, args.Key, func(doc *model.BotResponse) (*model.BotResponse, error) {
		return applyLangCopy(proj, doc, args)
	})
}

func (s *SQLiteStore) DeleteLanguageValues(ctx context.Context, projectID, lang string) ([]*model.BotResponse, error) {
	docs, err := s.GetBotResponses(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var out []*model.BotResponse
	for _, doc := range docs {
		// 每个文档独立一个事务；并发写入时在事务内重新读再剪。
		saved, err := s.mutate(ctx, projectID, doc.Key, func(current *model.BotResponse) (*model.BotResponse, error) {
			if current == nil {
				return nil, nil
			}
			pruned, changed := pruneLanguage(current, lang)
			if !changed {
				return nil, nil
			}
			return pruned, nil
		})
		if err != nil {
			return nil, err
		}
		if saved != nil {
			out = append(out, saved)
		}
	}
	return out, nil
}

// mutate 在一个事务里按 (projectId, key) 读出文档、应用 fn、写回。
// fn 返回 (nil, nil) 表示不写（no-op）；fn 收到 nil 表示文档不存在。
func (s *SQLiteStore) mutate(ctx context.Context, projectID, key string, fn func(*model.BotResponse) (*model.BotResponse, error)) (*model.BotResponse, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	doc, err := getResponse(ctx, tx, `
		SELECT id, project_id, key, values_json
		FROM bot_responses WHERE project_id = ? AND key = ?
	`, projectID, key)
	if err != nil {
		return nil, err
	}

	out, err := fn(doc)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}

	if doc == nil {
		err = insertResponse(ctx, tx, out, s.now())
	} else {
		err = saveResponse(ctx, tx, out, s.now())
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func getResponse(ctx context.Context, q querier, query string, args ...any) (*model.BotResponse, error) {
	var doc model.BotResponse
	var values string
	err := q.QueryRowContext(ctx, query, args...).Scan(&doc.ID, &doc.ProjectID, &doc.Key, &values)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan response: %w", err)
	}
	if err := json.Unmarshal([]byte(values), &doc.Values); err != nil {
		return nil, fmt.Errorf("unmarshal values for %q: %w", doc.Key, err)
	}
	return &doc, nil
}

func insertResponse(ctx context.Context, q querier, doc *model.BotResponse, now time.Time) error {
	values, err := json.Marshal(doc.Values)
	if err != nil {
		return fmt.Errorf("marshal values: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO bot_responses (id, project_id, key, values_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, doc.ID, doc.ProjectID, doc.Key, string(values), now.Unix()); err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func saveResponse(ctx context.Context, q querier, doc *model.BotResponse, now time.Time) error {
	values, err := json.Marshal(doc.Values)
	if err != nil {
		return fmt.Errorf("marshal values: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE bot_responses SET key = ?, values_json = ?, updated_at = ? WHERE id = ?
	`, doc.Key, string(values), now.Unix(), doc.ID); err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	return nil
}
