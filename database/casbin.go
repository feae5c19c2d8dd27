package database

import (
	"fmt"

	"uplink-service/model"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

// rbacModel is a RESTful RBAC model with role inheritance. Subjects are role
// names, objects are keyMatch2 paths (":id" is one segment, "/*" the rest),
// actions are method regexps.
const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
`

type policy struct {
	sub, obj, act string
}

var defaultPolicies = []policy{
	{model.RoleViewer, "/v1/chat/*", "GET"},
	// Viewers are read-only participants: they keep their own read state
	// and may open a direct conversation, but never post.
	{model.RoleViewer, "/v1/chat/conversations/:id/read", "POST"},
	{model.RoleViewer, "/v1/chat/conversations/direct", "POST"},
	{model.RoleMember, "/v1/chat/*", "(GET)|(POST)|(PATCH)"},
	{model.RoleViewer, "/v1/profile", "(GET)|(PATCH)"},
	{model.RoleViewer, "/v1/profile/*", "(GET)|(POST)|(PATCH)"},
	{model.RoleMember, "/v1/upload/*", "POST"},
	{model.RoleAdmin, "/v1/admin/*", "(GET)|(POST)|(PUT)|(DELETE)"},
}

var defaultRoles = [][2]string{
	{model.RoleAdmin, model.RoleMember},
	{model.RoleMember, model.RoleViewer},
}

// Casbin builds an enforcer whose policy lives in the same database as the
// rest of the service, seeding the default policy on first start.
func Casbin(db *gorm.DB) (*casbin.Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("initialize casbin adapter: %w", err)
	}

	m, err := casbinmodel.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}

	e, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	for _, p := range defaultPolicies {
		if ok, _ := e.HasPolicy(p.sub, p.obj, p.act); !ok {
			if _, err := e.AddPolicy(p.sub, p.obj, p.act); err != nil {
				return nil, fmt.Errorf("add policy: %w", err)
			}
		}
	}
	for _, r := range defaultRoles {
		if ok, _ := e.HasGroupingPolicy(r[0], r[1]); !ok {
			if _, err := e.AddGroupingPolicy(r[0], r[1]); err != nil {
				return nil, fmt.Errorf("add role: %w", err)
			}
		}
	}

	if err := e.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return e, nil
}
