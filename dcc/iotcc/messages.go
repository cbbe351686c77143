package iotcc

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// Message types.
const (
	typeConnectionRequest   = "connection_request"
	typeConnectionVerified  = "connection_verified"
	typeConnectionRejected  = "connection_rejected"
	typeResourceRequest     = "create_or_find_resource_request"
	typeResourceResponse    = "create_or_find_resource_response"
	typeRelationshipRequest = "create_relationship_request"
	typeAddProperties       = "add_properties"
	typeAddStats            = "add_stats"
)

const (
	// uuid the cloud returns while a resource is still being created
	notCreated = "null"
	// kind the cloud uses for edge systems
	edgeSystemKind          = "HelixGateway"
	notAuthorizedReasonCode = 5
)

type request struct {
	TransactionID string `json:"transactionID,omitempty"`
	Type          string `json:"type"`
	UUID          string `json:"uuid,omitempty"`
	Body          any    `json:"body"`
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type resourceBody struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type relationshipBody struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

type property struct {
	Key   string `json:"propertyKey"`
	Value string `json:"propertyValue"`
}

type propertiesBody struct {
	Kind         string     `json:"kind"`
	Timestamp    int64      `json:"timestamp"`
	PropertyData []property `json:"property_data"`
}

type statsMessage struct {
	Type       string     `json:"type"`
	UUID       string     `json:"uuid"`
	MetricData []statData `json:"metric_data"`
}

type statData struct {
	StatKey    string    `json:"statKey"`
	Timestamps []int64   `json:"timestamps"`
	Data       []float64 `json:"data"`
}

// transactionID accepts the id as a JSON string or number.
type transactionID string

func (t *transactionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = transactionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = transactionID(n.String())
	return nil
}

type response struct {
	TransactionID transactionID `json:"transactionID"`
	Type          string        `json:"type"`
	Body          struct {
		UUID   string `json:"uuid"`
		Reason string `json:"reason"`
	} `json:"body"`
}

func propertyData(props map[string]string) []property {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]property, 0, len(keys))
	for _, k := range keys {
		out = append(out, property{Key: k, Value: props[k]})
	}
	return out
}

func formatTxID(session string, seq uint64) string {
	return session + "-" + strconv.FormatUint(seq, 10)
}
