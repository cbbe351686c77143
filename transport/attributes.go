package transport

import (
	"github.com/sanket-mindstix/liota/errors"
)

// MessagingAttributes carries the topics and delivery options a DCC uses on
// a pub/sub transport. A metric may carry its own to override the DCC's
// publish topic.
type MessagingAttributes struct {
	PubTopic    string
	SubTopic    string
	PubQoS      QoS
	SubQoS      QoS
	PubRetain   bool
	SubCallback Handler
}

// AttributeOption customizes MessagingAttributes.
type AttributeOption func(*MessagingAttributes)

// WithTopics sets explicit publish and subscribe topics.
func WithTopics(pub, sub string) AttributeOption {
	return func(a *MessagingAttributes) {
		a.PubTopic = pub
		a.SubTopic = sub
	}
}

// WithQoS sets publish and subscribe QoS levels.
func WithQoS(pub, sub QoS) AttributeOption {
	return func(a *MessagingAttributes) {
		a.PubQoS = pub
		a.SubQoS = sub
	}
}

// WithRetain sets the retain flag on publishes.
func WithRetain(retain bool) AttributeOption {
	return func(a *MessagingAttributes) {
		a.PubRetain = retain
	}
}

// WithCallback sets the handler for messages on the subscribe topic.
func WithCallback(h Handler) AttributeOption {
	return func(a *MessagingAttributes) {
		a.SubCallback = h
	}
}

// NewMessagingAttributes builds attributes for an edge system. Without
// explicit topics it uses liota/<edge>/request and liota/<edge>/response;
// without an edge system name both topics must be given.
func NewMessagingAttributes(edgeSystemName string, opts ...AttributeOption) (*MessagingAttributes, error) {
	a := &MessagingAttributes{PubQoS: AtLeastOnce, SubQoS: AtLeastOnce}
	for _, opt := range opts {
		opt(a)
	}

	if edgeSystemName == "" && (a.PubTopic == "" || a.SubTopic == "") {
		return nil, errors.Configf("transport", "NewMessagingAttributes",
			"either an edge system name or both publish and subscribe topics are required")
	}
	if a.PubTopic == "" {
		a.PubTopic = "liota/" + edgeSystemName + "/request"
	}
	if a.SubTopic == "" {
		a.SubTopic = "liota/" + edgeSystemName + "/response"
	}

	if err := a.PubQoS.Validate(); err != nil {
		return nil, err
	}
	if err := a.SubQoS.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
