// Package twiml is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency; only the verbs the
// voice webhooks speak are included.
package twiml

import (
	"bytes"
	"encoding/xml"
)

type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type Gather struct {
	XMLName   xml.Name `xml:"Gather"`
	Input     string   `xml:"input,attr,omitempty"`
	Action    string   `xml:"action,attr,omitempty"`
	Method    string   `xml:"method,attr,omitempty"`
	NumDigits int      `xml:"numDigits,attr,omitempty"`
	Timeout   int      `xml:"timeout,attr,omitempty"`
	Verbs     []any    `xml:",any"`
}

type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (r *Response) Append(verbs ...any) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

// Render serializes the response with the XML declaration Twilio expects.
func (r *Response) Render() (string, error) {
	var buf bytes.Buffer

	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	err := enc.Encode(r)
	if err != nil {
		return "", err
	}

	err = enc.Flush()
	if err != nil {
		return "", err
	}

	return buf.String(), nil
}

// AnswerPrompt greets the contact, reads the reminder and gathers a keypad or
// spoken response. gatherAction must point back at the gather webhook with the
// reminder identifier attached.
func AnswerPrompt(title, gatherAction string) *Response {
	gather := Gather{
		Input:     "dtmf speech",
		Action:    gatherAction,
		Method:    "POST",
		NumDigits: 1,
		Timeout:   5,
	}
	gather.Verbs = append(gather.Verbs,
		Say{Text: "Hello. This is a reminder about: " + title + "."},
		Pause{Length: 1},
		Say{Text: "Press 1 or say confirm to acknowledge. Press 2 or say snooze to be called again in an hour."},
	)

	response := &Response{}
	response.Append(gather, Say{Text: "We did not receive a response. Goodbye."}, Hangup{})

	return response
}

// GatherReply acknowledges the classified response and ends the call.
func GatherReply(confirmed bool) *Response {
	text := "Sorry, I did not understand. We will try again later. Goodbye."
	if confirmed {
		text = "Thank you, your reminder is confirmed. Goodbye."
	}

	response := &Response{}
	response.Append(Say{Text: text}, Hangup{})

	return response
}

// SnoozeReply confirms the snooze and ends the call.
func SnoozeReply() *Response {
	response := &Response{}
	response.Append(Say{Text: "Okay, we will call you again in an hour. Goodbye."}, Hangup{})

	return response
}
