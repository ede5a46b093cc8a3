// Isolation proofs: the store/profile cross-space boundary check.
//
// Resource ownership is tracked per store and every check emits a
// content-addressed IsolationReceipt: no time.Now(), no incrementing
// sequence counters — the receipt id is a fingerprint of its own fields.
package tenants

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/helm-pm/pkg/canonicalize"
)

// IsolationReceipt proves no cross-store leakage occurred for one check.
type IsolationReceipt struct {
	ReceiptID    string   `json:"receiptId"`
	StoreID      string   `json:"storeId"`
	ChecksPassed int      `json:"checksPassed"`
	ChecksFailed int      `json:"checksFailed"`
	Violations   []string `json:"violations,omitempty"`
	Isolated     bool     `json:"isolated"`
}

// IsolationChecker verifies that resources (profile/entity ids) registered
// to one store are never reachable from another store's operations.
type IsolationChecker struct {
	mu        sync.Mutex
	ownership map[string]map[string]bool // storeID -> set of resource ids
}

// NewIsolationChecker creates an empty checker.
func NewIsolationChecker() *IsolationChecker {
	return &IsolationChecker{ownership: map[string]map[string]bool{}}
}

// RegisterResource associates a resource id with the store that owns it.
func (c *IsolationChecker) RegisterResource(storeID, resourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownership[storeID] == nil {
		c.ownership[storeID] = map[string]bool{}
	}
	c.ownership[storeID][resourceID] = true
}

// CheckAccess verifies storeID may only reach resources it owns, returning a
// content-addressed receipt as proof.
func (c *IsolationChecker) CheckAccess(storeID string, resourceIDs []string) (*IsolationReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	receipt := &IsolationReceipt{StoreID: storeID, Isolated: true}
	own := c.ownership[storeID]

	sortedResources := append([]string{}, resourceIDs...)
	sort.Strings(sortedResources)

	for _, resourceID := range sortedResources {
		if own != nil && own[resourceID] {
			receipt.ChecksPassed++
			continue
		}
		crossStore := ""
		for otherStore, resources := range c.ownership {
			if otherStore != storeID && resources[resourceID] {
				crossStore = otherStore
				break
			}
		}
		if crossStore != "" {
			receipt.ChecksFailed++
			receipt.Isolated = false
			receipt.Violations = append(receipt.Violations,
				fmt.Sprintf("store %s attempted to access resource %s owned by %s", storeID, resourceID, crossStore))
			continue
		}
		receipt.ChecksPassed++
	}
	sort.Strings(receipt.Violations)

	digest, err := canonicalize.CanonicalHash(receipt)
	if err != nil {
		return nil, err
	}
	receipt.ReceiptID = canonicalize.MakeID("iso", digest)
	return receipt, nil
}

// VerifyIsolation checks that no resource is claimed by more than one store.
func (c *IsolationChecker) VerifyIsolation() (bool, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	owners := map[string]string{}
	var violations []string
	stores := make([]string, 0, len(c.ownership))
	for s := range c.ownership {
		stores = append(stores, s)
	}
	sort.Strings(stores)

	for _, storeID := range stores {
		ids := make([]string, 0, len(c.ownership[storeID]))
		for id := range c.ownership[storeID] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, resourceID := range ids {
			if owner, exists := owners[resourceID]; exists {
				violations = append(violations, fmt.Sprintf("resource %s claimed by both %s and %s", resourceID, owner, storeID))
			} else {
				owners[resourceID] = storeID
			}
		}
	}
	return len(violations) == 0, violations
}
