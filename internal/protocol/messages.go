// Package protocol defines the JSON signaling messages exchanged between the
// browser (or callctl) clients and the signaling server. Every message is a
// flat JSON object with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

type Type string

// Client to server.
const (
	TypeRegister     Type = "register"
	TypeCallInitiate Type = "call-initiate"
	TypeCallAnswer   Type = "call-answer"
	TypeCallDecline  Type = "call-decline"
	TypeCallEnd      Type = "call-end"
	TypeSignal       Type = "signal"
	TypePing         Type = "ping"
)

// Server to client.
const (
	TypeRegistered       Type = "registered"
	TypePresenceOnline   Type = "presence-online"
	TypePresenceOffline  Type = "presence-offline"
	TypePresenceSnapshot Type = "presence-snapshot"
	TypeCallIncoming     Type = "call-incoming"
	TypeCallAnswered     Type = "call-answered"
	TypeCallDeclined     Type = "call-declined"
	TypeCallEnded        Type = "call-ended"
	TypeUserDisconnected Type = "user-disconnected"
	TypeError            Type = "error"
	TypePong             Type = "pong"
)

// Reasons carried by call-ended.
const (
	EndReasonHangup     = "hangup"
	EndReasonDisconnect = "disconnect"
	EndReasonForced     = "forced"
	EndReasonCancel     = "cancel"
)

// Signal kinds carried inside a generic signal message.
const (
	SignalCandidate = "candidate"
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
)

// Envelope is decoded first to pick the concrete payload type.
type Envelope struct {
	Type Type `json:"type"`
}

// PeekType returns the discriminator of a raw message.
func PeekType(data []byte) (Type, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("decode envelope: missing type")
	}
	return env.Type, nil
}

type Register struct {
	Type        Type   `json:"type"`
	UserID      string `json:"userId" validate:"required,max=128"`
	DisplayName string `json:"displayName" validate:"max=64"`
	AvatarRef   string `json:"avatarRef,omitempty" validate:"max=1024"`
}

type Registered struct {
	Type         Type   `json:"type"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// PresenceUser is one entry of the presence view.
type PresenceUser struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

type Presence struct {
	Type Type `json:"type"`
	PresenceUser
}

type PresenceSnapshot struct {
	Type  Type           `json:"type"`
	Users []PresenceUser `json:"users"`
}

type CallInitiate struct {
	Type         Type            `json:"type"`
	TargetUserID string          `json:"targetUserId" validate:"required"`
	Offer        json.RawMessage `json:"offer" validate:"required"`
	CallerName   string          `json:"callerName,omitempty"`
	IsVideo      bool            `json:"isVideo"`
}

type CallIncoming struct {
	Type               Type            `json:"type"`
	Offer              json.RawMessage `json:"offer"`
	CallerID           string          `json:"callerId"`
	CallerName         string          `json:"callerName"`
	CallerConnectionID string          `json:"callerConnectionId"`
	IsVideo            bool            `json:"isVideo"`
}

type CallAnswer struct {
	Type               Type            `json:"type"`
	CallerConnectionID string          `json:"callerConnectionId" validate:"required"`
	Answer             json.RawMessage `json:"answer" validate:"required"`
}

type CallAnswered struct {
	Type                  Type            `json:"type"`
	Answer                json.RawMessage `json:"answer"`
	ResponderID           string          `json:"responderId"`
	ResponderName         string          `json:"responderName"`
	ResponderConnectionID string          `json:"responderConnectionId"`
	SessionID             string          `json:"sessionId"`
}

type CallDecline struct {
	Type               Type   `json:"type"`
	CallerConnectionID string `json:"callerConnectionId" validate:"required"`
}

type CallDeclined struct {
	Type          Type   `json:"type"`
	ResponderID   string `json:"responderId"`
	ResponderName string `json:"responderName"`
}

// CallEnd names the other side by connection, by user or both. The user id
// form also cancels a call that is still ringing.
type CallEnd struct {
	Type               Type   `json:"type"`
	TargetConnectionID string `json:"targetConnectionId,omitempty" validate:"required_without=TargetUserID"`
	TargetUserID       string `json:"targetUserId,omitempty" validate:"required_without=TargetConnectionID"`
}

type CallEnded struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId"`
	Reason    string `json:"reason"`
}

type UserDisconnected struct {
	Type        Type   `json:"type"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Signal carries ICE candidates and renegotiation data. SenderID and
// SenderName are filled in by the server on relay.
type Signal struct {
	Type         Type            `json:"type"`
	TargetUserID string          `json:"targetUserId" validate:"required"`
	SignalType   string          `json:"signalType" validate:"required"`
	Signal       json.RawMessage `json:"signal" validate:"required"`
	SenderID     string          `json:"senderId,omitempty"`
	SenderName   string          `json:"senderName,omitempty"`
}

type Error struct {
	Type         Type   `json:"type"`
	Message      string `json:"message"`
	TargetUserID string `json:"targetUserId,omitempty"`
	For          Type   `json:"for,omitempty"`
}

type Pong struct {
	Type Type `json:"type"`
}
