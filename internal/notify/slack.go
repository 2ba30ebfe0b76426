package notify

// Payload is the Slack-compatible incoming-webhook document
type Payload struct {
	Attachments []Attachment `json:"attachments"`
}

// Attachment is one legacy Slack message attachment
type Attachment struct {
	Fallback string  `json:"fallback"`
	Color    string  `json:"color"`
	Title    string  `json:"title"`
	Text     string  `json:"text"`
	Fields   []Field `json:"fields"`
	Footer   string  `json:"footer"`
	TS       int64   `json:"ts"`
}

// BuildPayload renders an event as a single-attachment payload
func BuildPayload(event Event) Payload {
	fields := event.Fields
	if fields == nil {
		fields = []Field{}
	}

	fallback := event.Message
	if event.Title != "" {
		fallback = event.Title + ": " + event.Message
	}

	return Payload{
		Attachments: []Attachment{{
			Fallback: fallback,
			Color:    event.Severity.Color(),
			Title:    event.Title,
			Text:     event.Message,
			Fields:   fields,
			Footer:   event.Footer,
			TS:       event.Timestamp.Unix(),
		}},
	}
}
