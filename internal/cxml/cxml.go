// Package cxml renders call-control documents. The voice webhook path
// always answers HTTP 200 with a document; even failures become a spoken
// announcement followed by hangup rather than an HTTP error the platform
// would retry.
package cxml

import (
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/routing"
)

// Response is the document root.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Say     *Say     `xml:"Say,omitempty"`
	Dial    *Dial    `xml:"Dial,omitempty"`
	Hangup  *Hangup  `xml:"Hangup,omitempty"`
}

// Say speaks an announcement to the caller.
type Say struct {
	Voice    string `xml:"voice,attr,omitempty"`
	Language string `xml:"language,attr,omitempty"`
	Text     string `xml:",chardata"`
}

// Dial connects the call to one or more destinations. Multiple Number
// children ring in parallel; sequential strategies issue one child per
// document and chain through the action callback.
type Dial struct {
	Timeout    int         `xml:"timeout,attr,omitempty"`
	Action     string      `xml:"action,attr,omitempty"`
	CallerID   string      `xml:"callerId,attr,omitempty"`
	Numbers    []Number    `xml:"Number,omitempty"`
	Sips       []Sip       `xml:"Sip,omitempty"`
	Conference *Conference `xml:"Conference,omitempty"`
	Service    *Service    `xml:"Service,omitempty"`
}

// Number dials a subscriber extension or an external E.164 number.
type Number struct {
	Text string `xml:",chardata"`
}

// Sip dials a raw transport URI.
type Sip struct {
	Text string `xml:",chardata"`
}

// Conference places the caller into a named conference.
type Conference struct {
	Text string `xml:",chardata"`
}

// Service hands the call to an external IVR or AI provider.
type Service struct {
	URL    string  `xml:"url,attr"`
	Token  string  `xml:"token,attr,omitempty"`
	Params []Param `xml:"Parameter,omitempty"`
}

// Param is an opaque provider parameter carried on a Service element.
type Param struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Hangup ends the call.
type Hangup struct{}

// ContentType is the media type of rendered documents.
const ContentType = "text/xml; charset=utf-8"

// Render serializes the document with the XML header.
func (r *Response) Render() ([]byte, error) {
	body, err := xml.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rendering response document: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Options adjust document rendering for the request being answered.
type Options struct {
	// ActionURL receives the dial result callback. Required for sequential
	// distributions, where it carries the position of the next member.
	ActionURL string

	// CallerID overrides the presented caller id on outbound legs.
	CallerID string
}

// FromDecision translates a routing decision into a document.
func FromDecision(d routing.Decision, opts Options) (*Response, error) {
	switch d.Action {
	case routing.ActionDialExtensions:
		dial := &Dial{
			Timeout:  d.Timeout,
			Action:   opts.ActionURL,
			CallerID: opts.CallerID,
		}
		if d.Sequential {
			// One member per document; the action callback advances the loop.
			idx := d.Offset
			if idx < 0 || idx >= len(d.Extensions) {
				idx = 0
			}
			dial.Numbers = []Number{{Text: d.Extensions[idx]}}
		} else {
			for _, ext := range d.Extensions {
				dial.Numbers = append(dial.Numbers, Number{Text: ext})
			}
		}
		return &Response{Dial: dial}, nil

	case routing.ActionDialNumber:
		return &Response{Dial: &Dial{
			Timeout:  d.Timeout,
			Action:   opts.ActionURL,
			CallerID: opts.CallerID,
			Numbers:  []Number{{Text: d.Number}},
		}}, nil

	case routing.ActionDialSIP:
		return &Response{Dial: &Dial{
			Timeout:  d.Timeout,
			Action:   opts.ActionURL,
			CallerID: opts.CallerID,
			Sips:     []Sip{{Text: d.SIPURI}},
		}}, nil

	case routing.ActionDialService:
		if d.Service == nil {
			return nil, fmt.Errorf("service decision without service target")
		}
		svc := &Service{URL: d.Service.URL, Token: d.Service.Token}
		names := make([]string, 0, len(d.Service.Params))
		for name := range d.Service.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			svc.Params = append(svc.Params, Param{Name: name, Value: d.Service.Params[name]})
		}
		return &Response{Dial: &Dial{Service: svc}}, nil

	case routing.ActionJoinConference:
		return &Response{Dial: &Dial{
			Conference: &Conference{Text: d.ConferenceName},
		}}, nil

	case routing.ActionHangup:
		resp := &Response{Hangup: &Hangup{}}
		if d.Message != "" {
			resp.Say = &Say{Text: d.Message}
		}
		return resp, nil

	default:
		return nil, fmt.Errorf("unhandled decision action %q", d.Action)
	}
}

// Reject is the document spoken when a call cannot be routed. The message
// is generic on purpose: internal failure detail goes to logs, not to the
// caller.
func Reject(message string) *Response {
	if message == "" {
		message = "We are unable to connect your call at this time. Please try again later."
	}
	return &Response{
		Say:    &Say{Text: message},
		Hangup: &Hangup{},
	}
}
