package tenantauth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ResolveUser finds the account for email. An empty tenantID falls back to
// the tenant on ctx; with no tenant at all the email must match exactly one
// account, otherwise *AmbiguousTenantError lists the candidates.
func (e *Engine) ResolveUser(ctx context.Context, email, tenantID string) (User, error) {
	if e == nil || e.store == nil {
		return User{}, ErrEngineNotReady
	}
	email = NormalizeEmail(email)
	if email == "" {
		return User{}, fmt.Errorf("%w: email required", ErrValidation)
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		tenantID = TenantIDFromContext(ctx)
	}

	if tenantID != "" {
		u, err := e.store.FindUser(ctx, tenantID, email)
		if err != nil {
			return User{}, e.storeError("find_user", err)
		}
		return u, nil
	}

	users, err := e.store.FindUsersByEmail(ctx, email)
	if err != nil {
		return User{}, e.storeError("find_users_by_email", err)
	}
	switch len(users) {
	case 0:
		return User{}, ErrUserNotFound
	case 1:
		return users[0], nil
	}

	tenants := make([]string, 0, len(users))
	for _, u := range users {
		tenants = append(tenants, u.TenantID)
	}
	sort.Strings(tenants)
	e.logger.Debug("email matches several tenants", zap.Int("tenants", len(tenants)))
	e.metricInc(MetricLoginAmbiguousTenant)
	return User{}, &AmbiguousTenantError{Tenants: tenants}
}
