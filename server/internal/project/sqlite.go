package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"botstudio/server/internal/apperr"
	"botstudio/server/internal/model"
)

// SQLiteStore 把项目记录存到 SQLite。语言集合序列化成一列 JSON，
// 整行更新即原子更新。
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, languages_json, default_language
		FROM projects WHERE id = ?
	`, id)
	return scanProject(row, id)
}

func (s *SQLiteStore) Create(ctx context.Context, p *model.Project) error {
	if err := validateNew(p); err != nil {
		return err
	}

	langs, err := json.Marshal(p.Languages)
	if err != nil {
		return fmt.Errorf("marshal languages: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, languages_json, default_language)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.Name, string(langs), p.DefaultLanguage)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.Conflictf("project %q already exists", p.ID)
	}
	return nil
}

func (s *SQLiteStore) AddLanguage(ctx context.Context, id, lang string) (*model.Project, error) {
	if lang == "" {
		return nil, apperr.Validationf("language is required")
	}
	return s.mutate(ctx, id, func(p *model.Project) error {
		if p.HasLanguage(lang) {
			return apperr.Conflictf("language %q already configured for project %q", lang, id)
		}
		p.Languages = append(p.Languages, lang)
		return nil
	})
}

func (s *SQLiteStore) DeleteLanguage(ctx context.Context, id, lang string) (*model.Project, error) {
	return s.mutate(ctx, id, func(p *model.Project) error {
		if lang == p.DefaultLanguage {
			return apperr.Validationf("cannot delete the default language %q", lang)
		}
		idx := -1
		for i, l := range p.Languages {
			if l == lang {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apperr.NotFoundf("language %q not configured for project %q", lang, id)
		}
		p.Languages = append(p.Languages[:idx], p.Languages[idx+1:]...)
		return nil
	})
}

// mutate 在一个事务里读出项目、应用修改、写回整行。
func (s *SQLiteStore) mutate(ctx context.Context, id string, fn func(*model.Project) error) (*model.Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, name, languages_json, default_language
		FROM projects WHERE id = ?
	`, id)
	p, err := scanProject(row, id)
	if err != nil {
		return nil, err
	}

	if err := fn(p); err != nil {
		return nil, err
	}

	langs, err := json.Marshal(p.Languages)
	if err != nil {
		return nil, fmt.Errorf("marshal languages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE projects SET languages_json = ?, default_language = ? WHERE id = ?
	`, string(langs), p.DefaultLanguage, id); err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner, id string) (*model.Project, error) {
	var p model.Project
	var langs string
	if err := row.Scan(&p.ID, &p.Name, &langs, &p.DefaultLanguage); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFoundf("project %q not found", id)
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if err := json.Unmarshal([]byte(langs), &p.Languages); err != nil {
		return nil, fmt.Errorf("unmarshal languages: %w", err)
	}
	return &p, nil
}
