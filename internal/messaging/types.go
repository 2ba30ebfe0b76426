package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/cryptodecoy/internal/notify"
	"github.com/bardlex/cryptodecoy/pkg/errors"
)

// BeaconMessage is the mirrored form of one notification event
type BeaconMessage struct {
	EventID   string         `json:"event_id"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Title     string         `json:"title,omitempty"`
	Footer    string         `json:"footer,omitempty"`
	Fields    []notify.Field `json:"fields"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewBeaconMessage converts an event; source names the emitting process
func NewBeaconMessage(source string, ev notify.Event) BeaconMessage {
	fields := ev.Fields
	if fields == nil {
		fields = []notify.Field{}
	}
	return BeaconMessage{
		EventID:   uuid.NewString(),
		Source:    source,
		Kind:      string(ev.Kind),
		Severity:  ev.Severity.String(),
		Message:   ev.Message,
		Title:     ev.Title,
		Footer:    ev.Footer,
		Fields:    fields,
		Timestamp: ev.Timestamp.UTC(),
	}
}

// Key is the partition key; events from one source stay ordered
func (m BeaconMessage) Key() string {
	return m.Source
}

// ToStruct converts the message to a protobuf Struct
func (m BeaconMessage) ToStruct() (*structpb.Struct, error) {
	fields := make([]any, len(m.Fields))
	for i, f := range m.Fields {
		fields[i] = map[string]any{
			"title": f.Title,
			"value": f.Value,
			"short": f.Short,
		}
	}

	return structpb.NewStruct(map[string]any{
		"event_id":  m.EventID,
		"source":    m.Source,
		"kind":      m.Kind,
		"severity":  m.Severity,
		"message":   m.Message,
		"title":     m.Title,
		"footer":    m.Footer,
		"fields":    fields,
		"timestamp": m.Timestamp.Format(time.RFC3339Nano),
	})
}

// Encode serializes the message in the given encoding
func Encode(m BeaconMessage, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingJSON, "":
		data, err := json.Marshal(m)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "json_marshal",
				"failed to marshal beacon message")
		}
		return data, nil

	case EncodingProto:
		st, err := m.ToStruct()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "protobuf_convert",
				"failed to convert beacon message")
		}
		data, err := proto.Marshal(st)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "protobuf_marshal",
				"failed to marshal beacon message")
		}
		return data, nil

	default:
		return nil, errors.New(errors.ErrorTypeConfig, "encode", "unknown encoding").
			WithContext("encoding", string(enc))
	}
}

// Decode is the inverse of Encode
func Decode(data []byte, enc Encoding) (BeaconMessage, error) {
	var m BeaconMessage

	switch enc {
	case EncodingJSON, "":
		if err := json.Unmarshal(data, &m); err != nil {
			return m, errors.Wrap(err, errors.ErrorTypeInternal, "json_unmarshal",
				"failed to unmarshal beacon message")
		}
		return m, nil

	case EncodingProto:
		var st structpb.Struct
		if err := proto.Unmarshal(data, &st); err != nil {
			return m, errors.Wrap(err, errors.ErrorTypeInternal, "protobuf_unmarshal",
				"failed to unmarshal beacon message").
				WithContext("message_size", len(data))
		}
		return fromStruct(&st), nil

	default:
		return m, errors.New(errors.ErrorTypeConfig, "decode", "unknown encoding").
			WithContext("encoding", string(enc))
	}
}

func fromStruct(st *structpb.Struct) BeaconMessage {
	f := st.GetFields()
	str := func(key string) string { return f[key].GetStringValue() }

	m := BeaconMessage{
		EventID:  str("event_id"),
		Source:   str("source"),
		Kind:     str("kind"),
		Severity: str("severity"),
		Message:  str("message"),
		Title:    str("title"),
		Footer:   str("footer"),
		Fields:   []notify.Field{},
	}
	m.Timestamp, _ = time.Parse(time.RFC3339Nano, str("timestamp"))

	for _, v := range f["fields"].GetListValue().GetValues() {
		ff := v.GetStructValue().GetFields()
		m.Fields = append(m.Fields, notify.Field{
			Title: ff["title"].GetStringValue(),
			Value: ff["value"].GetStringValue(),
			Short: ff["short"].GetBoolValue(),
		})
	}
	return m
}
