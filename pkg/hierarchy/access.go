package hierarchy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// AccessChecker is the access-control collaborator.
type AccessChecker interface {
	// CanAccessScope reports whether the user may read content of the scope.
	CanAccessScope(ctx context.Context, userID string, scope storage.ScopeRef) (bool, error)

	// CanManageScope reports whether the user may approve sharing into the
	// scope or manage memories anchored there.
	CanManageScope(ctx context.Context, userID string, scope storage.ScopeRef) (bool, error)
}

// DenyAll denies every request.
type DenyAll struct{}

func (DenyAll) CanAccessScope(context.Context, string, storage.ScopeRef) (bool, error) {
	return false, nil
}

func (DenyAll) CanManageScope(context.Context, string, storage.ScopeRef) (bool, error) {
	return false, nil
}

// Policy is a static access policy keyed by user ID. Scope entries have the
// form "level:id", for example "space:s1". Manage implies access.
type Policy struct {
	Access map[string][]string `json:"access"`
	Manage map[string][]string `json:"manage"`
}

// StaticAccess is an AccessChecker backed by an in-memory Policy.
type StaticAccess struct {
	mu     sync.RWMutex
	access map[string]map[string]bool
	manage map[string]map[string]bool
}

// NewStaticAccess creates a StaticAccess from a policy. A nil policy denies
// everything until grants are added.
func NewStaticAccess(policy *Policy) *StaticAccess {
	s := &StaticAccess{
		access: make(map[string]map[string]bool),
		manage: make(map[string]map[string]bool),
	}
	if policy == nil {
		return s
	}
	for user, scopes := range policy.Access {
		for _, scope := range scopes {
			add(s.access, user, scope)
		}
	}
	for user, scopes := range policy.Manage {
		for _, scope := range scopes {
			add(s.manage, user, scope)
		}
	}
	return s
}

// LoadPolicy reads a JSON policy file.
func LoadPolicy(path string) (*StaticAccess, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadPolicy: %w", err)
	}
	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("LoadPolicy: %w", err)
	}
	return NewStaticAccess(&policy), nil
}

// GrantAccess allows the user to read the scope.
func (s *StaticAccess) GrantAccess(userID string, ref storage.ScopeRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	add(s.access, userID, ref.String())
}

// GrantManage allows the user to manage the scope.
func (s *StaticAccess) GrantManage(userID string, ref storage.ScopeRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	add(s.manage, userID, ref.String())
}

// CanAccessScope implements AccessChecker.
func (s *StaticAccess) CanAccessScope(_ context.Context, userID string, ref storage.ScopeRef) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := ref.String()
	return s.access[userID][key] || s.manage[userID][key], nil
}

// CanManageScope implements AccessChecker.
func (s *StaticAccess) CanManageScope(_ context.Context, userID string, ref storage.ScopeRef) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manage[userID][ref.String()], nil
}

func add(m map[string]map[string]bool, user, scope string) {
	if m[user] == nil {
		m[user] = make(map[string]bool)
	}
	m[user][scope] = true
}
