// Package memory is an in-process registration store with the same conditional
// write semantics as the DynamoDB repo. Used by STORAGE_DRIVER=memory and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-registration-api/internal/domain"
)

type item = map[string]types.AttributeValue

// RegistrationStore keeps items in their DynamoDB attribute form so updates are
// applied exactly as the real table would apply them.
type RegistrationStore struct {
	mu    sync.Mutex
	items map[string]item
}

func NewRegistrationStore() *RegistrationStore {
	return &RegistrationStore{items: make(map[string]item)}
}

func (s *RegistrationStore) Create(_ context.Context, reg *domain.Registration) error {
	it, err := attributevalue.MarshalMap(reg)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[reg.ContactKey]; ok {
		return fmt.Errorf("registration already exists: %w", domain.ErrConflict)
	}
	s.items[reg.ContactKey] = it
	return nil
}

func (s *RegistrationStore) Get(_ context.Context, contactKey string) (*domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[contactKey]
	if !ok {
		return nil, fmt.Errorf("registration not found: %w", domain.ErrNotFound)
	}
	return decode(it)
}

func (s *RegistrationStore) FindByPlain(_ context.Context, channel domain.Channel, plain string) (*domain.Registration, error) {
	return s.find(func(it item) bool {
		return strAttr(it, domain.FieldContactPlain) == plain && strAttr(it, domain.FieldChannel) == string(channel)
	})
}

func (s *RegistrationStore) FindByUserID(_ context.Context, userID string) (*domain.Registration, error) {
	return s.find(func(it item) bool { return strAttr(it, domain.FieldUserID) == userID })
}

func (s *RegistrationStore) Update(_ context.Context, contactKey string, u domain.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[contactKey]
	if !ok || !matches(it, u.Expect) {
		return fmt.Errorf("registration changed concurrently: %w", domain.ErrConflict)
	}

	next := make(item, len(it)+len(u.Set)+1)
	for k, v := range it {
		next[k] = v
	}
	set := map[string]interface{}{domain.FieldUpdatedAt: time.Now().UTC()}
	for k, v := range u.Set {
		set[k] = v
	}
	for k, v := range set {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal field %s: %w", k, err)
		}
		next[k] = av
	}
	for k, values := range u.AddToSet {
		if len(values) == 0 {
			continue
		}
		next[k] = &types.AttributeValueMemberSS{Value: union(ssAttr(next, k), values)}
	}
	s.items[contactKey] = next
	return nil
}

func (s *RegistrationStore) Delete(_ context.Context, contactKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, contactKey)
	return nil
}

func (s *RegistrationStore) find(pred func(item) bool) (*domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if pred(it) {
			return decode(it)
		}
	}
	return nil, fmt.Errorf("registration not found: %w", domain.ErrNotFound)
}

func matches(it item, c domain.Condition) bool {
	if c.State != "" && strAttr(it, domain.FieldState) != string(c.State) {
		return false
	}
	if c.Unregistered && boolAttr(it, domain.FieldIsRegistered) {
		return false
	}
	for _, attr := range c.Absent {
		if _, ok := it[attr]; ok {
			return false
		}
	}
	for _, attr := range c.Unclaimed {
		if boolAttr(it, attr) {
			return false
		}
	}
	if c.ResendCount != nil && intAttr(it, domain.FieldResendCount) != *c.ResendCount {
		return false
	}
	return true
}

func decode(it item) (*domain.Registration, error) {
	var reg domain.Registration
	if err := attributevalue.UnmarshalMap(it, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func strAttr(it item, name string) string {
	if v, ok := it[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func intAttr(it item, name string) int {
	v, ok := it[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(v.Value)
	return n
}

func boolAttr(it item, name string) bool {
	v, ok := it[name].(*types.AttributeValueMemberBOOL)
	return ok && v.Value
}

func ssAttr(it item, name string) []string {
	if v, ok := it[name].(*types.AttributeValueMemberSS); ok {
		return v.Value
	}
	return nil
}

// union merges b into a without duplicates, sorted like DynamoDB returns sets.
func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range append(append([]string{}, a...), b...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
