package signalr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/go-kit/log"
)

// jsonHubProtocol is the JSON based SignalR protocol
type jsonHubProtocol struct {
	dbg StructuredLogger
}

// Protocol specific messages for correct unmarshaling of arguments and results.
// They are only used in ParseMessage, not in WriteMessage
type jsonInvocationMessage struct {
	Type         int               `json:"type"`
	Target       string            `json:"target"`
	InvocationID string            `json:"invocationId"`
	Arguments    []json.RawMessage `json:"arguments"`
}

type jsonCompletionMessage struct {
	Type         int             `json:"type"`
	InvocationID string          `json:"invocationId"`
	Result       json.RawMessage `json:"result"`
	Error        string          `json:"error"`
}

func newJSONHubProtocol(dbg StructuredLogger) *jsonHubProtocol {
	j := &jsonHubProtocol{}
	j.setDebugLogger(dbg)
	return j
}

// UnmarshalArgument unmarshals a json.RawMessage depending on the specified value type into dst
func (j *jsonHubProtocol) UnmarshalArgument(src interface{}, dst interface{}) error {
	var raw []byte
	switch src := src.(type) {
	case json.RawMessage:
		raw = src
	case []byte:
		raw = src
	case nil:
		raw = []byte("null")
	default:
		var err error
		if raw, err = json.Marshal(src); err != nil {
			return err
		}
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ProtocolError{Frame: string(raw), Err: err}
	}
	_ = j.dbg.Log(evt, "UnmarshalArgument",
		"argument", string(raw),
		"value", fmt.Sprintf("%v", reflect.ValueOf(dst).Elem()))
	return nil
}

// ParseMessage decodes one frame. Frames of unknown type are returned as hubMessage,
// the caller decides to ignore them.
func (j *jsonHubProtocol) ParseMessage(frame []byte) (interface{}, error) {
	_ = j.dbg.Log(evt, "read", msg, string(frame))
	message := hubMessage{}
	if err := json.Unmarshal(frame, &message); err != nil {
		return nil, &ProtocolError{Frame: string(frame), Err: err}
	}
	switch message.Type {
	case invocationType:
		jsonInvocation := jsonInvocationMessage{}
		if err := json.Unmarshal(frame, &jsonInvocation); err != nil {
			return nil, &ProtocolError{Frame: string(frame), Err: err}
		}
		if jsonInvocation.Target == "" {
			return nil, &ProtocolError{Frame: string(frame), Err: errors.New("invocation without target")}
		}
		arguments := make([]interface{}, len(jsonInvocation.Arguments))
		for i, a := range jsonInvocation.Arguments {
			arguments[i] = a
		}
		return invocationMessage{
			Type:         jsonInvocation.Type,
			Target:       jsonInvocation.Target,
			InvocationID: jsonInvocation.InvocationID,
			Arguments:    arguments,
		}, nil
	case completionType:
		jsonCompletion := jsonCompletionMessage{}
		if err := json.Unmarshal(frame, &jsonCompletion); err != nil {
			return nil, &ProtocolError{Frame: string(frame), Err: err}
		}
		if jsonCompletion.InvocationID == "" {
			return nil, &ProtocolError{Frame: string(frame), Err: errors.New("completion without invocationId")}
		}
		completion := completionMessage{
			Type:         jsonCompletion.Type,
			InvocationID: jsonCompletion.InvocationID,
			Error:        jsonCompletion.Error,
		}
		if jsonCompletion.Result != nil {
			completion.Result = jsonCompletion.Result
		}
		return completion, nil
	case closeType:
		cm := closeMessage{}
		if err := json.Unmarshal(frame, &cm); err != nil {
			return nil, &ProtocolError{Frame: string(frame), Err: err}
		}
		return cm, nil
	default:
		return message, nil
	}
}

// WriteMessage writes a message as JSON frame to the specified writer.
// If the message can not be encoded, nothing is written and the error is a ProtocolError.
func (j *jsonHubProtocol) WriteMessage(message interface{}, writer io.Writer) error {
	b, err := json.Marshal(message)
	if err != nil {
		return &ProtocolError{Frame: fmt.Sprintf("%v", message), Err: err}
	}
	b = append(b, recordSeparator)
	_ = j.dbg.Log(evt, "write", msg, string(b))
	_, err = writer.Write(b)
	return err
}

func (j *jsonHubProtocol) setDebugLogger(dbg StructuredLogger) {
	j.dbg = log.WithPrefix(dbg, "ts", log.DefaultTimestampUTC, "protocol", "JSON")
}
