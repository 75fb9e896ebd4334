package model

// Well-known native channels.
var (
	ChannelBrand      = NewChannel(NativeNamespace, "brand")
	ChannelRegister   = NewChannel(NativeNamespace, "register")
	ChannelUnregister = NewChannel(NativeNamespace, "unregister")
)

// Message is any outbound custom-payload message.
type Message interface {
	ChannelID() Channel
}

// RegistrationMessage advertises (or withdraws) the client's channel list.
type RegistrationMessage struct {
	ID       Channel   `json:"id"`
	Channels []Channel `json:"channels"`
}

func (m RegistrationMessage) ChannelID() Channel { return m.ID }

// IsRegistration reports whether ch carries a channel list.
func IsRegistration(ch Channel) bool {
	return ch == ChannelRegister || ch == ChannelUnregister
}

// ExtensionMessage is a generic outbound message on one channel.
type ExtensionMessage struct {
	ID      Channel `json:"id"`
	Payload []byte  `json:"payload,omitempty"`
}

func (m ExtensionMessage) ChannelID() Channel { return m.ID }

// IdentityMessage carries the client identity string. Its content is
// substituted at the identity accessor, so the message itself always passes.
type IdentityMessage struct {
	Brand string `json:"brand"`
}

func (m IdentityMessage) ChannelID() Channel { return ChannelBrand }

// ResourcePushMessage is an inbound server request to fetch a resource.
type ResourcePushMessage struct {
	URL       string `json:"url"`
	ContentID string `json:"content_id"`
	Hash      string `json:"hash"`
}
