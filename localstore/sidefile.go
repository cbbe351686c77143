package localstore

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"path/filepath"
)

type xmlAttribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type xmlAttributes struct {
	XMLName    xml.Name       `xml:"attributes"`
	Attributes []xmlAttribute `xml:"attribute"`
}

// edgeSystemDocument renders the edge system attribute file: the edge system
// name first, then properties in key order, then the last-seen stamp.
func edgeSystemDocument(rec Record, lastSeen string) ([]byte, error) {
	doc := xmlAttributes{}
	doc.Attributes = append(doc.Attributes, xmlAttribute{Name: "edge system name", Value: rec.Name})
	for _, k := range rec.PropertyKeys() {
		if isReserved(k) {
			continue
		}
		doc.Attributes = append(doc.Attributes, xmlAttribute{Name: k, Value: rec.Properties[k]})
	}
	doc.Attributes = append(doc.Attributes, xmlAttribute{Name: "LastSeenTimestamp", Value: lastSeen})

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

type discovery struct {
	Discovery discoveryBody `json:"discovery"`
}

// field order matches sorted keys
type discoveryBody struct {
	Attributes []map[string]string `json:"attributes"`
	Remove     bool                `json:"remove"`
}

// deviceDocument renders the device discovery file.
func deviceDocument(rec Record, lastSeen string) ([]byte, error) {
	attrs := []map[string]string{
		{"IoTDeviceType": rec.DeviceType},
		{"IoTDeviceName": rec.Name},
	}
	for _, k := range rec.PropertyKeys() {
		if isReserved(k) {
			continue
		}
		attrs = append(attrs, map[string]string{k: rec.Properties[k]})
	}
	attrs = append(attrs, map[string]string{"LastSeenTimestamp": lastSeen})

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(discovery{Discovery: discoveryBody{Attributes: attrs}}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sideFilePath returns "" for entity types without a side file.
func sideFilePath(dir, regID, entityType string) (string, error) {
	var ext string
	switch entityType {
	case EntityEdgeSystem:
		ext = ".xml"
	case EntityDevice:
		ext = ".json"
	default:
		return "", nil
	}
	name, err := fileName(regID, ext)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
