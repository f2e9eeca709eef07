package transport

import (
	"encoding/base64"
	"encoding/json"

	"github.com/spherical/techread/internal/domain"
)

const actionReadDrawing = "read_drawing"

// outboundFrame is the JSON frame carrying a submission.
type outboundFrame struct {
	Action    string                 `json:"action"`
	RequestID string                 `json:"request_id"`
	Asks      []domain.AskDescriptor `json:"asks"`
	Drawing   string                 `json:"drawing"`
	Model     string                 `json:"model,omitempty"`
}

// inboundFrame is the JSON frame carrying one response message.
type inboundFrame struct {
	RequestID      string             `json:"request_id,omitempty"`
	MessageType    string             `json:"message_type"`
	MessageSubtype string             `json:"message_subtype"`
	PayloadDict    map[string]any     `json:"payload_dict,omitempty"`
	PayloadURL     string             `json:"payload_url,omitempty"`
	PayloadBytes   *string            `json:"payload_bytes,omitempty"`
	Exceptions     []domain.Exception `json:"exceptions,omitempty"`
}

// EncodeRequest renders a submission as a wire frame. Binary content is
// base64 encoded so that it survives the text frame.
func EncodeRequest(req *domain.Request) ([]byte, error) {
	frame := outboundFrame{
		Action:    actionReadDrawing,
		RequestID: req.RequestID,
		Asks:      req.Asks,
		Drawing:   base64.StdEncoding.EncodeToString(req.Drawing),
	}
	if req.Model != nil {
		frame.Model = base64.StdEncoding.EncodeToString(req.Model)
	}
	if frame.Asks == nil {
		frame.Asks = []domain.AskDescriptor{}
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, domain.TransmissionError("encode request", err)
	}
	return data, nil
}

// DecodeMessage parses one inbound frame. The message type is carried through
// verbatim; classifying it is the dispatcher's job.
func DecodeMessage(data []byte) (*domain.ResponseMessage, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, domain.ProtocolError("malformed response frame", err)
	}

	msg := &domain.ResponseMessage{
		RequestID:      frame.RequestID,
		MessageType:    domain.MessageType(frame.MessageType),
		MessageSubtype: frame.MessageSubtype,
		PayloadDict:    frame.PayloadDict,
		PayloadURL:     frame.PayloadURL,
		Exceptions:     frame.Exceptions,
	}

	if frame.PayloadBytes != nil {
		payload, err := base64.StdEncoding.DecodeString(*frame.PayloadBytes)
		if err != nil {
			return nil, domain.ProtocolError("payload_bytes is not valid base64", err)
		}
		msg.Payload = payload
	}

	return msg, nil
}

// EncodeMessage is the inverse of DecodeMessage, used by test services.
func EncodeMessage(msg *domain.ResponseMessage) ([]byte, error) {
	frame := inboundFrame{
		RequestID:      msg.RequestID,
		MessageType:    string(msg.MessageType),
		MessageSubtype: msg.MessageSubtype,
		PayloadDict:    msg.PayloadDict,
		PayloadURL:     msg.PayloadURL,
		Exceptions:     msg.Exceptions,
	}
	if msg.Payload != nil {
		s := base64.StdEncoding.EncodeToString(msg.Payload)
		frame.PayloadBytes = &s
	}
	return json.Marshal(frame)
}

// DecodeRequest is the inverse of EncodeRequest, used by test services.
func DecodeRequest(data []byte) (*domain.Request, error) {
	var frame struct {
		Action    string           `json:"action"`
		RequestID string           `json:"request_id"`
		Asks      []map[string]any `json:"asks"`
		Drawing   string           `json:"drawing"`
		Model     string           `json:"model"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, domain.ProtocolError("malformed request frame", err)
	}
	if frame.Action != actionReadDrawing {
		return nil, domain.ProtocolError("unsupported action "+frame.Action, nil)
	}

	drawing, err := base64.StdEncoding.DecodeString(frame.Drawing)
	if err != nil {
		return nil, domain.ProtocolError("drawing is not valid base64", err)
	}

	req := &domain.Request{RequestID: frame.RequestID, Drawing: drawing}
	if frame.Model != "" {
		if req.Model, err = base64.StdEncoding.DecodeString(frame.Model); err != nil {
			return nil, domain.ProtocolError("model is not valid base64", err)
		}
	}

	for _, raw := range frame.Asks {
		askType, _ := raw["ask_type"].(string)
		delete(raw, "ask_type")
		req.Asks = append(req.Asks, domain.NewAskDescriptor(askType, raw))
	}
	return req, nil
}
