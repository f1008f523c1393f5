package protocol

// Sender identifies the origin of a relayed message, taken from the
// sender's own registry binding rather than from the payload.
type Sender struct {
	UserID       string
	DisplayName  string
	ConnectionID string
}

// Relayable is a message the server forwards to one target connection.
type Relayable interface {
	MessageType() Type
	StampSender(Sender)
}

func (m *CallIncoming) MessageType() Type { return TypeCallIncoming }

func (m *CallIncoming) StampSender(s Sender) {
	m.Type = TypeCallIncoming
	m.CallerID = s.UserID
	m.CallerConnectionID = s.ConnectionID
	if m.CallerName == "" {
		m.CallerName = s.DisplayName
	}
}

func (m *CallAnswered) MessageType() Type { return TypeCallAnswered }

func (m *CallAnswered) StampSender(s Sender) {
	m.Type = TypeCallAnswered
	m.ResponderID = s.UserID
	m.ResponderName = s.DisplayName
	m.ResponderConnectionID = s.ConnectionID
}

func (m *CallDeclined) MessageType() Type { return TypeCallDeclined }

func (m *CallDeclined) StampSender(s Sender) {
	m.Type = TypeCallDeclined
	m.ResponderID = s.UserID
	m.ResponderName = s.DisplayName
}

func (m *CallEnded) MessageType() Type { return TypeCallEnded }

func (m *CallEnded) StampSender(s Sender) {
	m.Type = TypeCallEnded
	m.UserID = s.UserID
}

func (m *Signal) MessageType() Type { return TypeSignal }

func (m *Signal) StampSender(s Sender) {
	m.Type = TypeSignal
	m.SenderID = s.UserID
	m.SenderName = s.DisplayName
}
