// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
)

// stompCodec implements the text STOMP frame format: a command line,
// "key:value" headers, a blank line, an optional body, and a trailing NUL.
// The core messaging commands (CONNECT, SEND/MESSAGE, SUBSCRIBE,
// UNSUBSCRIBE, ACK/NACK, DISCONNECT, RECEIPT, ERROR) map to native STOMP
// frames; commands STOMP has no vocabulary for (session registration,
// destination registration, pull-mode requests) ride inside a vendor
// extension frame, "X-GOCMS", carrying a type header and a JSON body — the
// STOMP spec explicitly reserves unrecognized frame commands and headers
// for such extensions.
type stompCodec struct{}

func NewStompCodec() Codec { return &stompCodec{} }

func (s *stompCodec) Name() string { return "stomp" }

const stompNul = 0x00

func (s *stompCodec) Encode(cmd command.Command) ([]byte, error) {
	switch c := cmd.(type) {
	case *command.ConnectionInfo:
		return encodeFrame("CONNECT", map[string]string{
			"login":          c.Username,
			"passcode":       c.Password,
			"client-id":      c.ClientId,
			"host":           c.ConnectionId.Value,
			"accept-version": "1.2",
		}, nil), nil

	case *command.Message:
		headers := messageHeaders(c)
		body, err := encodeMessageBody(c, headers)
		if err != nil {
			return nil, err
		}
		return encodeFrame("SEND", headers, body), nil

	case *command.MessageDispatch:
		if c.Message == nil {
			return encodeFrame("MESSAGE", map[string]string{"subscription": c.ConsumerId.String()}, nil), nil
		}
		headers := messageHeaders(c.Message)
		headers["subscription"] = c.ConsumerId.String()
		headers["redelivered"] = strconv.FormatBool(c.Message.Redelivered || c.RedeliveryCounter > 0)
		body, err := encodeMessageBody(c.Message, headers)
		if err != nil {
			return nil, err
		}
		return encodeFrame("MESSAGE", headers, body), nil

	case *command.ConsumerInfo:
		return encodeFrame("SUBSCRIBE", map[string]string{
			"id":          c.ConsumerId.String(),
			"destination": c.Destination.String(),
			"ack":         "auto",
			"selector":    c.Selector,
			"prefetch":    strconv.Itoa(c.Prefetch),
		}, nil), nil

	case *command.MessageAck:
		frameName := "ACK"
		if c.AckType == command.AckRedelivered {
			frameName = "NACK"
		}
		return encodeFrame(frameName, map[string]string{
			"id":           c.LastMessageId.String(),
			"subscription": c.ConsumerId.String(),
		}, nil), nil

	case *command.ConsumerControl:
		if c.Close {
			return encodeFrame("UNSUBSCRIBE", map[string]string{"id": c.ConsumerId.String()}, nil), nil
		}
		return encodeExtensionFrame(command.TypeConsumerControl, c)

	case *command.RemoveInfo:
		if c.ObjectType == command.TypeConsumerInfo {
			return encodeFrame("UNSUBSCRIBE", map[string]string{"id": c.ObjectId.String()}, nil), nil
		}
		return encodeExtensionFrame(command.TypeRemoveInfo, c)

	case *command.ShutdownInfo:
		return encodeFrame("DISCONNECT", nil, nil), nil

	case *command.Response:
		return encodeFrame("RECEIPT", map[string]string{"receipt-id": strconv.FormatUint(uint64(c.CorrelationId), 10)}, nil), nil

	case *command.ExceptionResponse:
		return encodeFrame("ERROR", map[string]string{
			"receipt-id": strconv.FormatUint(uint64(c.CorrelationId), 10),
			"message":    c.Message,
		}, []byte(c.StackTrace)), nil

	default:
		return encodeExtensionFrame(cmd.TypeTag(), cmd)
	}
}

func messageHeaders(m *command.Message) map[string]string {
	headers := map[string]string{
		"destination":    m.Destination.String(),
		"correlation-id": m.CorrelationId,
		"persistent":     strconv.FormatBool(m.DeliveryMode == command.Persistent),
		"priority":       strconv.Itoa(int(m.Priority)),
		"message-id":     m.MessageId.String(),
		"redelivered":    strconv.FormatBool(m.Redelivered),
	}
	if m.ReplyTo != nil {
		headers["reply-to"] = m.ReplyTo.String()
	}
	if !m.Expiration.IsZero() {
		headers["expires"] = strconv.FormatInt(m.Expiration.UnixMilli(), 10)
	}
	for k, v := range m.Properties {
		headers["gocms-prop-"+k] = fmt.Sprintf("%v", v)
	}
	return headers
}

func encodeMessageBody(m *command.Message, headers map[string]string) ([]byte, error) {
	switch m.BodyType {
	case command.BodyText:
		headers["content-type"] = "text/plain"
		return []byte(m.Text), nil
	case command.BodyBytes:
		headers["content-type"] = "application/octet-stream"
		headers["content-transfer-encoding"] = "base64"
		return []byte(base64.StdEncoding.EncodeToString(m.Bytes)), nil
	case command.BodyMap:
		headers["content-type"] = "application/json"
		return json.Marshal(m.Map)
	case command.BodyStream:
		headers["content-type"] = "application/json"
		return json.Marshal(m.Stream)
	default:
		headers["content-type"] = "application/octet-stream"
		return m.Bytes, nil
	}
}

func encodeFrame(frameCmd string, headers map[string]string, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(frameCmd)
	buf.WriteByte('\n')
	for k, v := range headers {
		if v == "" {
			continue
		}
		fmt.Fprintf(&buf, "%s:%s\n", k, escapeHeaderValue(v))
	}
	if len(body) > 0 {
		fmt.Fprintf(&buf, "content-length:%d\n", len(body))
	}
	buf.WriteByte('\n')
	buf.Write(body)
	buf.WriteByte(stompNul)
	return buf.Bytes()
}

func encodeExtensionFrame(tag byte, cmd command.Command) ([]byte, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, cmserr.Protocol("encode extension frame for %s: %v", command.TypeName(tag), err)
	}
	return encodeFrame("X-GOCMS", map[string]string{
		"gocms-type": strconv.Itoa(int(tag)),
	}, body), nil
}

func escapeHeaderValue(v string) string {
	r := strings.NewReplacer("\\", "\\\\", "\n", "\\n", ":", "\\c")
	return r.Replace(v)
}

func unescapeHeaderValue(v string) string {
	r := strings.NewReplacer("\\\\", "\\", "\\n", "\n", "\\c", ":")
	return r.Replace(v)
}

func (s *stompCodec) Decode(tag byte, payload []byte) (command.Command, error) {
	frameCmd, headers, body, err := parseFrame(payload)
	if err != nil {
		return nil, err
	}

	if frameCmd == "X-GOCMS" {
		return decodeExtensionFrame(tag, body)
	}

	switch frameCmd {
	case "CONNECT", "STOMP":
		return &command.ConnectionInfo{
			ConnectionId: command.ConnectionId{Value: headers["host"]},
			ClientId:     headers["client-id"],
			Username:     headers["login"],
			Password:     headers["passcode"],
		}, nil

	case "SEND":
		return decodeMessageFrame(headers, body)

	case "MESSAGE":
		m, err := decodeMessageFrame(headers, body)
		if err != nil {
			return nil, err
		}
		return &command.MessageDispatch{
			ConsumerId: command.ConsumerId{Value: parseSubscriptionValue(headers["subscription"])},
			Message:    m,
		}, nil

	case "SUBSCRIBE":
		return &command.ConsumerInfo{
			Destination: parseDestination(headers["destination"]),
			Selector:    headers["selector"],
			Prefetch:    atoiOr(headers["prefetch"], 0),
		}, nil

	case "UNSUBSCRIBE":
		return &command.RemoveInfo{
			ObjectId:   wireStringer(headers["id"]),
			ObjectType: command.TypeConsumerInfo,
		}, nil

	case "ACK":
		return &command.MessageAck{AckType: command.AckDelivered}, nil

	case "NACK":
		return &command.MessageAck{AckType: command.AckRedelivered}, nil

	case "DISCONNECT":
		return &command.ShutdownInfo{}, nil

	case "RECEIPT":
		id, _ := strconv.ParseUint(headers["receipt-id"], 10, 32)
		return &command.Response{CorrelationId: uint32(id)}, nil

	case "ERROR":
		id, _ := strconv.ParseUint(headers["receipt-id"], 10, 32)
		return &command.ExceptionResponse{
			CorrelationId: uint32(id),
			Message:       headers["message"],
			StackTrace:    string(body),
		}, nil

	default:
		return nil, cmserr.Protocol("unrecognized STOMP frame command %q", frameCmd)
	}
}

// parseSubscriptionValue tolerates both a bare sequence number and the
// "connId:sessId:consId" form produced by ConsumerId.String(); only the
// final segment identifies the consumer within its session for lookup
// purposes on this side of the wire.
func parseSubscriptionValue(raw string) int64 {
	parts := strings.Split(raw, ":")
	n, _ := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	return n
}

func decodeMessageFrame(headers map[string]string, body []byte) (*command.Message, error) {
	m := &command.Message{
		Destination:   parseDestination(headers["destination"]),
		CorrelationId: headers["correlation-id"],
		Priority:      byte(atoiOr(headers["priority"], 4)),
		Redelivered:   headers["redelivered"] == "true",
		Properties:    map[string]interface{}{},
	}
	if headers["persistent"] == "true" {
		m.DeliveryMode = command.Persistent
	} else {
		m.DeliveryMode = command.NonPersistent
	}
	if rt, ok := headers["reply-to"]; ok && rt != "" {
		d := parseDestination(rt)
		m.ReplyTo = &d
	}
	if exp, ok := headers["expires"]; ok && exp != "" {
		if ms, err := strconv.ParseInt(exp, 10, 64); err == nil {
			m.Expiration = time.UnixMilli(ms)
		}
	}
	for k, v := range headers {
		if strings.HasPrefix(k, "gocms-prop-") {
			m.Properties[strings.TrimPrefix(k, "gocms-prop-")] = v
		}
	}
	switch headers["content-type"] {
	case "application/octet-stream":
		m.BodyType = command.BodyBytes
		if headers["content-transfer-encoding"] == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(string(body))
			if err != nil {
				return nil, cmserr.Protocol("decode base64 STOMP body: %v", err)
			}
			m.Bytes = decoded
		} else {
			m.Bytes = body
		}
	case "application/json":
		m.BodyType = command.BodyMap
		if err := json.Unmarshal(body, &m.Map); err != nil {
			return nil, cmserr.Protocol("decode JSON STOMP body: %v", err)
		}
	default:
		m.BodyType = command.BodyText
		m.Text = string(body)
	}
	return m, nil
}

func decodeExtensionFrame(tag byte, body []byte) (command.Command, error) {
	cmd, err := newZeroCommand(tag)
	if err != nil {
		return nil, err
	}
	if tag == command.TypeRemoveInfo {
		var dto removeInfoDTO
		if err := json.Unmarshal(body, &dto); err != nil {
			return nil, cmserr.Protocol("decode extension RemoveInfo: %v", err)
		}
		return &command.RemoveInfo{Header: dto.Header, ObjectId: wireStringer(dto.ObjectId), ObjectType: dto.ObjectType}, nil
	}
	if err := json.Unmarshal(body, cmd); err != nil {
		return nil, cmserr.Protocol("decode extension %s: %v", command.TypeName(tag), err)
	}
	return cmd, nil
}

func parseDestination(raw string) command.Destination {
	parts := strings.SplitN(raw, "://", 2)
	if len(parts) != 2 {
		return command.NewQueue(raw)
	}
	switch parts[0] {
	case "topic":
		return command.NewTopic(parts[1])
	case "temp-queue":
		return command.NewTemporaryQueue(parts[1])
	case "temp-topic":
		return command.NewTemporaryTopic(parts[1])
	default:
		return command.NewQueue(parts[1])
	}
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// parseFrame splits a raw STOMP frame (with the trailing NUL still
// present) into its command line, headers, and body.
func parseFrame(raw []byte) (frameCmd string, headers map[string]string, body []byte, err error) {
	raw = bytes.TrimSuffix(raw, []byte{stompNul})
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return "", nil, nil, cmserr.Protocol("empty STOMP frame")
	}
	frameCmd = scanner.Text()
	headers = make(map[string]string)

	consumed := len(frameCmd) + 1
	for scanner.Scan() {
		line := scanner.Text()
		consumed += len(line) + 1
		if line == "" {
			break
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		headers[kv[0]] = unescapeHeaderValue(kv[1])
	}
	if consumed < len(raw) {
		body = raw[consumed:]
	}
	return frameCmd, headers, body, nil
}
