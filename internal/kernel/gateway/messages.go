package gateway

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

const protocolVersion = "5.3"

// Jupyter message types used by the session.
const (
	msgKernelInfoRequest = "kernel_info_request"
	msgKernelInfoReply   = "kernel_info_reply"
	msgExecuteRequest    = "execute_request"
	msgExecuteReply      = "execute_reply"
	msgExecuteResult     = "execute_result"
	msgDisplayData       = "display_data"
	msgStream            = "stream"
	msgError             = "error"
	msgStatus            = "status"
)

type header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// message is the JSON form of a Jupyter message on the channels websocket.
type message struct {
	Header       header          `json:"header"`
	ParentHeader header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel"`
	Buffers      []any           `json:"buffers"`
}

func newMessage(session, msgType, channel string, content any) (*message, error) {
	raw, err := sonic.Marshal(content)
	if err != nil {
		return nil, err
	}
	return &message{
		Header: header{
			MsgID:    uuid.NewString(),
			Username: "varinspector",
			Session:  session,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			MsgType:  msgType,
			Version:  protocolVersion,
		},
		Metadata: map[string]any{},
		Content:  raw,
		Channel:  channel,
		Buffers:  []any{},
	}, nil
}

type executeRequest struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

type executeReply struct {
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count"`
	Ename          string   `json:"ename"`
	Evalue         string   `json:"evalue"`
	Traceback      []string `json:"traceback"`
}

type kernelInfoReply struct {
	Status         string `json:"status"`
	Implementation string `json:"implementation"`
	LanguageInfo   struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"language_info"`
}

type streamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type dataContent struct {
	ExecutionCount int            `json:"execution_count"`
	Data           map[string]any `json:"data"`
}

type errorContent struct {
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

type statusContent struct {
	ExecutionState string `json:"execution_state"`
}

// mimeText renders a display-data value as text. Strings pass through;
// structured values (application/json) are re-encoded.
func mimeText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		raw, err := sonic.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
