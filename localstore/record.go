// Package localstore mirrors the metadata of registered entities on local
// disk. Each cloud id has one record holding the entity's identity triple and
// its last known properties, plus a side file that external agents read: an
// XML attribute document for the edge system and a discovery JSON document
// for devices.
package localstore

import (
	"encoding/json"
	"maps"
	"sort"
)

// Entity types stored in records.
const (
	EntityEdgeSystem = "EdgeSystem"
	EntityDevice     = "Devices"
)

// Reserved record keys.
const (
	keyEntityType = "entity type"
	keyName       = "name"
	keyDeviceType = "device type"
)

// Record is the cached state of one registered entity.
type Record struct {
	EntityType string
	Name       string
	DeviceType string
	Properties map[string]string
}

// SameEntity reports whether r and other share the identity triple.
func (r Record) SameEntity(other Record) bool {
	return r.EntityType == other.EntityType &&
		r.Name == other.Name &&
		r.DeviceType == other.DeviceType
}

// Merge returns the record that results from applying update on top of r.
// When the identity triples match, properties are merged with update
// winning; otherwise r is discarded.
func (r Record) Merge(update Record) Record {
	out := Record{
		EntityType: update.EntityType,
		Name:       update.Name,
		DeviceType: update.DeviceType,
		Properties: make(map[string]string, len(r.Properties)+len(update.Properties)),
	}
	if r.SameEntity(update) {
		maps.Copy(out.Properties, r.Properties)
	}
	maps.Copy(out.Properties, update.Properties)
	return out
}

func (r Record) clone() Record {
	r.Properties = maps.Clone(r.Properties)
	return r
}

// PropertyKeys returns property names in sorted order.
func (r Record) PropertyKeys() []string {
	keys := make([]string, 0, len(r.Properties))
	for k := range r.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON writes the record as one flat object keyed by the identity
// fields and property names.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]string, len(r.Properties)+3)
	for k, v := range r.Properties {
		flat[k] = v
	}
	flat[keyEntityType] = r.EntityType
	flat[keyName] = r.Name
	flat[keyDeviceType] = r.DeviceType
	return json.Marshal(flat)
}

// UnmarshalJSON reads the flat form written by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	r.EntityType = flat[keyEntityType]
	r.Name = flat[keyName]
	r.DeviceType = flat[keyDeviceType]
	delete(flat, keyEntityType)
	delete(flat, keyName)
	delete(flat, keyDeviceType)
	r.Properties = flat
	return nil
}

func isReserved(key string) bool {
	return key == keyEntityType || key == keyName || key == keyDeviceType
}
