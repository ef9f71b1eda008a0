package schema

import (
	"fmt"

	"github.com/danmuck/spellctl/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Requirement struct {
	Name string
	Type protocol.ValueType
}

type ValidationError struct {
	MessageID string
	Field     string
	Reason    string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: message=%s: %s", e.MessageID, e.Reason)
	}
	return fmt.Sprintf("schema: message=%s field=%s: %s", e.MessageID, e.Field, e.Reason)
}

// Fields every successful RESPONSE must carry, per message id.
var responses = map[string][]Requirement{
	protocol.MsgListContexts: {
		{protocol.FieldContextList, protocol.ValueList},
	},
	protocol.MsgContextInfo: {
		{protocol.FieldContextName, protocol.ValueString},
		{protocol.FieldStatus, protocol.ValueString},
	},
	protocol.MsgAttachContext: {
		{protocol.FieldContextName, protocol.ValueString},
		{protocol.FieldStatus, protocol.ValueString},
		{protocol.FieldHost, protocol.ValueString},
		{protocol.FieldPort, protocol.ValueString},
	},
	protocol.MsgProcList: {
		{protocol.FieldProcList, protocol.ValueMap},
	},
	protocol.MsgProcProperties: {
		{protocol.FieldProperties, protocol.ValueMap},
	},
	protocol.MsgExecList: {
		{protocol.FieldExecList, protocol.ValueList},
	},
	protocol.MsgGetInstanceID: {
		{protocol.FieldInstanceID, protocol.ValueString},
	},
	protocol.MsgExecInfo: {
		{protocol.FieldInstanceID, protocol.ValueString},
		{protocol.FieldStatus, protocol.ValueString},
	},
	protocol.MsgFileReq: {
		{protocol.FieldFilePath, protocol.ValueString},
	},
}

// ValidateResponse enforces required fields and field types for a successful response.
// Unknown message ids and unknown fields are accepted.
func ValidateResponse(msg protocol.Message) error {
	if msg.Kind() != protocol.KindResponse {
		return nil
	}
	reqs, ok := responses[msg.ID()]
	if !ok {
		return nil
	}
	for _, req := range reqs {
		v, found := msg.Value(req.Name)
		if !found {
			log.Debug().Str("message", msg.ID()).Str("field", req.Name).Msg("schema missing field")
			return ValidationError{MessageID: msg.ID(), Field: req.Name, Reason: "missing required field"}
		}
		if v.Type != req.Type && !(req.Type == protocol.ValueList && v.Type == protocol.ValueString) {
			log.Debug().
				Str("message", msg.ID()).
				Str("field", req.Name).
				Stringer("got", v.Type).
				Stringer("want", req.Type).
				Msg("schema type mismatch")
			return ValidationError{MessageID: msg.ID(), Field: req.Name, Reason: "type mismatch"}
		}
	}
	return nil
}
