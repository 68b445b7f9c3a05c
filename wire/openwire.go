// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
)

// openWireCodec is the binary/tight wire format's payload encoding. The
// corpus offers no general-purpose binary struct codec suited to a small,
// closed command set (protobuf requires a schema compiler and .proto
// sources this project does not have; gob is stdlib-only and does not
// round-trip the RemoveInfo.ObjectId interface field any better than a
// hand-rolled DTO would) so the payload itself is length-prefixed JSON;
// "tight" here refers to the outer frame envelope and optional s2 body
// compression (compress.go), not the field encoding. This is recorded as a
// standard-library justification in the design ledger.
type openWireCodec struct{}

func NewOpenWireCodec() Codec { return &openWireCodec{} }

func (o *openWireCodec) Name() string { return "openwire" }

func (o *openWireCodec) Encode(cmd command.Command) ([]byte, error) {
	if ri, ok := cmd.(*command.RemoveInfo); ok {
		return json.Marshal(removeInfoDTO{
			Header:     ri.Header,
			ObjectId:   stringerString(ri.ObjectId),
			ObjectType: ri.ObjectType,
		})
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return nil, cmserr.Protocol("encode %s: %v", command.TypeName(cmd.TypeTag()), err)
	}
	return b, nil
}

func (o *openWireCodec) Decode(tag byte, payload []byte) (command.Command, error) {
	if tag == command.TypeRemoveInfo {
		var dto removeInfoDTO
		if err := json.Unmarshal(payload, &dto); err != nil {
			return nil, cmserr.Protocol("decode RemoveInfo: %v", err)
		}
		return &command.RemoveInfo{
			Header:     dto.Header,
			ObjectId:   wireStringer(dto.ObjectId),
			ObjectType: dto.ObjectType,
		}, nil
	}
	cmd, err := newZeroCommand(tag)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, cmserr.Protocol("decode %s: %v", command.TypeName(tag), err)
	}
	return cmd, nil
}

// removeInfoDTO stands in for command.RemoveInfo across the wire: ObjectId
// is a fmt.Stringer in memory (any identifier type) but only its string
// form ever crosses the wire.
type removeInfoDTO struct {
	Header     command.Header
	ObjectId   string
	ObjectType byte
}

func stringerString(s interface{ String() string }) string {
	if s == nil {
		return ""
	}
	return s.String()
}

// newZeroCommand allocates the concrete *command.X value for tag so
// json.Unmarshal has a destination to decode into.
func newZeroCommand(tag byte) (command.Command, error) {
	switch tag {
	case command.TypeWireFormatInfo:
		return &command.WireFormatInfo{}, nil
	case command.TypeKeepAliveInfo:
		return &command.KeepAliveInfo{}, nil
	case command.TypeShutdownInfo:
		return &command.ShutdownInfo{}, nil
	case command.TypeConnectionInfo:
		return &command.ConnectionInfo{}, nil
	case command.TypeConnectionError:
		return &command.ConnectionError{}, nil
	case command.TypeSessionInfo:
		return &command.SessionInfo{}, nil
	case command.TypeConsumerInfo:
		return &command.ConsumerInfo{}, nil
	case command.TypeProducerInfo:
		return &command.ProducerInfo{}, nil
	case command.TypeDestinationInfo:
		return &command.DestinationInfo{}, nil
	case command.TypeConsumerControl:
		return &command.ConsumerControl{}, nil
	case command.TypeMessagePull:
		return &command.MessagePull{}, nil
	case command.TypeMessage:
		return &command.Message{}, nil
	case command.TypeMessageAck:
		return &command.MessageAck{}, nil
	case command.TypeMessageDispatch:
		return &command.MessageDispatch{}, nil
	case command.TypeResponse:
		return &command.Response{}, nil
	case command.TypeExceptionResponse:
		return &command.ExceptionResponse{}, nil
	default:
		return nil, cmserr.Protocol("unknown command type tag %d", tag)
	}
}
