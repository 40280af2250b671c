package store

// Scope 数据隔离范围
// 由调用层构造并透传到每一次持久化调用，引擎不解释其含义，
// 仅将组织边界应用到知识库查询上
type Scope struct {
	OrganizationCode string
	UserCode         string
}

// SystemScope 后台任务使用的全量范围（不过滤组织）
var SystemScope = Scope{}

// IsSystem 是否为不过滤组织的系统范围
func (s Scope) IsSystem() bool {
	return s.OrganizationCode == ""
}
