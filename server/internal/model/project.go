package model

// Project 是租户隔离边界。Languages 是项目允许的语言集合，
// 响应的所有写入都要落在这个集合内。
type Project struct {
	ID              string   `json:"_id"`
	Name            string   `json:"name"`
	Languages       []string `json:"languages"`
	DefaultLanguage string   `json:"default_language"`
}

// HasLanguage 判断项目是否配置了该语言。
func (p *Project) HasLanguage(lang string) bool {
	for _, l := range p.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Clone 返回项目的深拷贝。
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := *p
	out.Languages = make([]string, len(p.Languages))
	copy(out.Languages, p.Languages)
	return &out
}
