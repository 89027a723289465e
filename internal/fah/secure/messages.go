package secure

// MsgID identifies the payload type carried in an encrypted-transport message.
type MsgID uint8

// Message ids of the encrypted transport.
const (
	MsgNewSession               MsgID = 0x01
	MsgNewSessionResult         MsgID = 0x02
	MsgLoginSASL                MsgID = 0x03
	MsgSASLChallenge            MsgID = 0x04
	MsgSASLResponse             MsgID = 0x05
	MsgSASLLoginSuccess         MsgID = 0x06
	MsgCryptedContainerToServer MsgID = 0x10
	MsgCryptedContainerToClient MsgID = 0x11
)

// Protocol constants exchanged during session setup.
const (
	ProtocolVersion     uint32 = 2
	KeyExchangeVersion  uint32 = 2
	AuthTypeUser        uint8  = 0x01
	ResultOK            uint32 = 0
	ErrorAlreadyPaired  uint32 = 25
	flagKeyMaterial     uint8  = 0x02
	defaultStreamName          = "update"
	encryptedNameSuffix        = "_encrypted"
)

// String returns a readable name for logs.
func (m MsgID) String() string {
	switch m {
	case MsgNewSession:
		return "new-session"
	case MsgNewSessionResult:
		return "new-session-result"
	case MsgLoginSASL:
		return "login-sasl"
	case MsgSASLChallenge:
		return "sasl-challenge"
	case MsgSASLResponse:
		return "sasl-response"
	case MsgSASLLoginSuccess:
		return "sasl-login-success"
	case MsgCryptedContainerToServer:
		return "crypted-container-to-server"
	case MsgCryptedContainerToClient:
		return "crypted-container-to-client"
	default:
		return "unknown"
	}
}
