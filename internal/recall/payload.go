package recall

import (
	"bytes"
	"encoding/json"
)

// PayloadKind tags the shape a downloaded transcript arrived in.
type PayloadKind string

const (
	PayloadArray              PayloadKind = "array"
	PayloadJSONString         PayloadKind = "json_string"
	PayloadObjectParticipants PayloadKind = "object_participants"
	PayloadObjectWords        PayloadKind = "object_words"
	PayloadUnrecognized       PayloadKind = "unrecognized"
)

// Payload is a downloaded transcript resolved to the canonical array-of-participants form.
// Data holds the canonical JSON array; for PayloadUnrecognized it holds the bytes as received
// and Participants is nil.
type Payload struct {
	Kind         PayloadKind
	Data         json.RawMessage
	Participants []Participant
}

// Recognized reports whether the payload resolved to participants.
func (p Payload) Recognized() bool { return p.Kind != PayloadUnrecognized }

// String returns the serialized payload as persisted on the meeting.
func (p Payload) String() string { return string(p.Data) }

var defaultSpeaker = ParticipantInfo{ID: 1, Name: "Speaker", IsHost: true, Platform: "desktop"}

// ParsePayload resolves raw transcript bytes into one of the known shapes: an array of
// participants, a JSON string containing that array, an object with a participants array,
// or a single participant object with a words array. Anything else is carried forward as
// PayloadUnrecognized.
func ParsePayload(raw []byte) Payload {
	trimmed := bytes.TrimSpace(raw)
	unrecognized := Payload{Kind: PayloadUnrecognized, Data: json.RawMessage(raw)}
	if len(trimmed) == 0 {
		return unrecognized
	}

	switch trimmed[0] {
	case '[':
		if participants, ok := decodeParticipants(trimmed); ok {
			return Payload{Kind: PayloadArray, Data: json.RawMessage(trimmed), Participants: participants}
		}
	case '"':
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return unrecognized
		}
		innerTrimmed := bytes.TrimSpace([]byte(inner))
		if isJSONArray(innerTrimmed) {
			if participants, ok := decodeParticipants(innerTrimmed); ok {
				return Payload{Kind: PayloadJSONString, Data: json.RawMessage(innerTrimmed), Participants: participants}
			}
		}
	case '{':
		var obj struct {
			Participants json.RawMessage `json:"participants"`
			Words        json.RawMessage `json:"words"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return unrecognized
		}
		if isJSONArray(obj.Participants) {
			if participants, ok := decodeParticipants(obj.Participants); ok {
				return Payload{Kind: PayloadObjectParticipants, Data: compact(obj.Participants), Participants: participants}
			}
		}
		if isJSONArray(obj.Words) {
			return wrapWords(obj.Words, unrecognized)
		}
	}
	return unrecognized
}

// decodeParticipants decodes an array element by element. Elements that are not participant
// objects decode to an empty participant so array order is kept.
func decodeParticipants(data []byte) ([]Participant, bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, false
	}
	out := make([]Participant, 0, len(elems))
	for _, e := range elems {
		var p Participant
		if err := json.Unmarshal(e, &p); err != nil {
			p = Participant{}
		}
		out = append(out, p)
	}
	return out, true
}

func wrapWords(words json.RawMessage, fallback Payload) Payload {
	var parsed []Word
	if err := json.Unmarshal(words, &parsed); err != nil {
		return fallback
	}
	speaker := defaultSpeaker
	wrapped := []struct {
		Participant *ParticipantInfo `json:"participant"`
		Words       json.RawMessage  `json:"words"`
	}{{Participant: &speaker, Words: words}}
	data, err := json.Marshal(wrapped)
	if err != nil {
		return fallback
	}
	return Payload{
		Kind:         PayloadObjectWords,
		Data:         data,
		Participants: []Participant{{Participant: &speaker, Words: parsed}},
	}
}

func isJSONArray(data []byte) bool {
	t := bytes.TrimSpace(data)
	return len(t) > 0 && t[0] == '['
}

func compact(data []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return json.RawMessage(data)
	}
	return buf.Bytes()
}
