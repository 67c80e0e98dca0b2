package realtime

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var policyModel string

//go:embed policy.csv
var policyRules string

// Resources and actions checked against the policy.
const (
	ResourceCall     = "call"
	ResourceCampaign = "campaign"
	ResourceAlert    = "alert"

	ActionSubscribe = "subscribe"
	ActionIntervene = "intervene"
	ActionAck       = "ack"
)

// Policy decides which roles may open detail rooms and act on calls.
type Policy struct {
	enforcer *casbin.SyncedEnforcer
}

// NewPolicy loads the embedded RBAC model and rules.
func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("realtime: load policy model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("realtime: create enforcer: %w", err)
	}
	if err := loadRules(enforcer, policyRules); err != nil {
		return nil, err
	}
	return &Policy{enforcer: enforcer}, nil
}

func loadRules(enforcer *casbin.SyncedEnforcer, rules string) error {
	for _, line := range strings.Split(rules, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		var err error
		switch {
		case parts[0] == "p" && len(parts) == 4:
			_, err = enforcer.AddPolicy(parts[1], parts[2], parts[3])
		case parts[0] == "g" && len(parts) == 3:
			_, err = enforcer.AddGroupingPolicy(parts[1], parts[2])
		default:
			err = fmt.Errorf("malformed rule %q", line)
		}
		if err != nil {
			return fmt.Errorf("realtime: load policy: %w", err)
		}
	}
	return nil
}

// Allowed reports whether role may perform action on resource.
func (p *Policy) Allowed(role, resource, action string) bool {
	ok, err := p.enforcer.Enforce(role, resource, action)
	return err == nil && ok
}
