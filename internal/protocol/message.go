package protocol

import "github.com/pion/webrtc/v4"

// Message type constants for all signaling traffic, whether it travels
// through the relay server or the shared broadcast medium.
const (
	// Server to client.
	MessageTypeClientID         = "client-id"
	MessageTypeWaiting          = "waiting"
	MessageTypeMatchFound       = "match-found"
	MessageTypePeerDisconnected = "peer-disconnected"

	// Client to server.
	MessageTypeFindMatch = "find-match"

	// Both directions: an opaque WebRTC signaling payload relayed to the
	// matched opponent.
	MessageTypeSignal = "signal"

	// Broadcast medium only: the role-assignment handshake between a
	// would-be responder and the elected initiator.
	MessageTypeJoinRequest = "join-request"
	MessageTypeJoinAccept  = "join-accept"
)

// Roles assigned by matchmaking. The initiator produces the SDP offer and
// creates the data channels; the responder answers.
const (
	RoleInitiator = "initiator"
	RoleResponder = "responder"
)

// Signal payload kinds carried inside a "signal" message.
const (
	SignalTypeOffer        = "offer"
	SignalTypeAnswer       = "answer"
	SignalTypeICECandidate = "ice-candidate"
)

// Message is the envelope for every signaling message. One message is one
// JSON object on the wire. Fields are populated according to Type; the
// zero values are omitted.
type Message struct {
	Type        string      `json:"type"`
	ClientID    string      `json:"clientId,omitempty"`
	RoomID      string      `json:"roomId,omitempty"`
	Role        string      `json:"role,omitempty"`
	OpponentID  string      `json:"opponentId,omitempty"`
	IsInitiator bool        `json:"isInitiator,omitempty"`
	ICEServers  []ICEServer `json:"iceServers,omitempty"`
	Data        *SignalData `json:"data,omitempty"`

	// From and To identify sender and recipient on the broadcast medium,
	// where every participant sees every message and filters by To. The
	// relay server ignores them: it forwards by connection identity.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// SignalData is the WebRTC handshake payload inside a "signal" message.
// The SDP and candidate contents are opaque to the signaling layer.
type SignalData struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	From      string                   `json:"from,omitempty"`
	To        string                   `json:"to,omitempty"`
}

// ICEServer describes a STUN/TURN server handed to peers in match-found.
// Mirrors the browser RTCIceServer dictionary shape.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ToWebRTC converts a server list to the pion configuration type.
func ToWebRTC(servers []ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}

// Registration is one participant's entry in the broadcast-medium registry
// key. Timestamp is the registration instant and is never rewritten: it is
// the primary tie-break key during initiator election. LastSeen is the
// liveness signal and is refreshed while the participant is waiting.
// Both are unix milliseconds.
type Registration struct {
	ID              string `json:"id"`
	Active          bool   `json:"active"`
	Timestamp       int64  `json:"timestamp"`
	LastSeen        int64  `json:"lastSeen"`
	Role            string `json:"role,omitempty"`
	LookingForMatch bool   `json:"lookingForMatch,omitempty"`
	MatchedWith     string `json:"matchedWith,omitempty"`
}
