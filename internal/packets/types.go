package packets

// MQTT Control Packet types
const (
	RESERVED    = 0
	CONNECT     = 1
	CONNACK     = 2
	PUBLISH     = 3
	PUBACK      = 4
	PUBREC      = 5
	PUBREL      = 6
	PUBCOMP     = 7
	SUBSCRIBE   = 8
	SUBACK      = 9
	UNSUBSCRIBE = 10
	UNSUBACK    = 11
	PINGREQ     = 12
	PINGRESP    = 13
	DISCONNECT  = 14
	AUTH        = 15 // MQTT v5.0 only
)

// PacketNames maps packet types to human-readable names
var PacketNames = map[uint8]string{
	RESERVED:    "RESERVED",
	CONNECT:     "CONNECT",
	CONNACK:     "CONNACK",
	PUBLISH:     "PUBLISH",
	PUBACK:      "PUBACK",
	PUBREC:      "PUBREC",
	PUBREL:      "PUBREL",
	PUBCOMP:     "PUBCOMP",
	SUBSCRIBE:   "SUBSCRIBE",
	SUBACK:      "SUBACK",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	UNSUBACK:    "UNSUBACK",
	PINGREQ:     "PINGREQ",
	PINGRESP:    "PINGRESP",
	DISCONNECT:  "DISCONNECT",
	AUTH:        "AUTH",
}

// Protocol levels carried in the CONNECT variable header.
const (
	ProtocolV31  = 3 // "MQIsdp"
	ProtocolV311 = 4
	ProtocolV50  = 5
)

// CONNACK return codes (v3.1.1)
const (
	ConnAccepted                     = 0
	ConnRefusedUnacceptableProtocol  = 1
	ConnRefusedIdentifierRejected    = 2
	ConnRefusedServerUnavailable     = 3
	ConnRefusedBadUsernameOrPassword = 4
	ConnRefusedNotAuthorized         = 5
)

// MQTT v5.0 property identifiers understood by this package.
const (
	propSessionExpiryInterval    = 0x11
	propAssignedClientIdentifier = 0x12
	propServerKeepAlive          = 0x13
	propAuthenticationMethod     = 0x15
	propAuthenticationData       = 0x16
	propRequestProblemInfo       = 0x17
	propWillDelayInterval        = 0x18
	propRequestResponseInfo      = 0x19
	propResponseInformation      = 0x1A
	propServerReference          = 0x1C
	propReasonString             = 0x1F
	propReceiveMaximum           = 0x21
	propTopicAliasMaximum        = 0x22
	propMaximumQoS               = 0x24
	propRetainAvailable          = 0x25
	propUserProperty             = 0x26
	propMaximumPacketSize        = 0x27
	propWildcardSubAvailable     = 0x28
	propSubIDAvailable           = 0x29
	propSharedSubAvailable       = 0x2A
)
