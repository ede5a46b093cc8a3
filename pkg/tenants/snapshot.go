package tenants

import (
	"encoding/json"

	"github.com/Mindburn-Labs/helm-pm/pkg/memory"
)

// registrySnapshot is the JSON-serializable form of the full registry, written
// atomically by the persistence gate after every write operation.
type registrySnapshot struct {
	Stores map[string]map[string]*memory.ProfileState `json:"stores"`
}

// MarshalSnapshot serializes the registry's current contents.
func (r *Registry) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(registrySnapshot{Stores: r.Snapshot()})
}

// LoadSnapshot decodes data (as produced by MarshalSnapshot) and replaces the
// registry's contents, rehydrating every profile state's unexported fields.
func (r *Registry) LoadSnapshot(data []byte) error {
	var snap registrySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Stores == nil {
		snap.Stores = map[string]map[string]*memory.ProfileState{}
	}
	for storeID, profiles := range snap.Stores {
		for profile, st := range profiles {
			if st == nil {
				st = memory.NewProfileState(storeID, profile)
				profiles[profile] = st
				continue
			}
			st.RehydrateAfterLoad(storeID, profile)
		}
	}
	r.Import(snap.Stores)
	return nil
}
