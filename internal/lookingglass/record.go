package lookingglass

import (
	"fmt"
	"net/http"
	"time"
)

// Recorder writes events into one session. Every method is a no-op on a nil Recorder,
// so callers record unconditionally.
type Recorder struct {
	engine    *Engine
	sessionID string
}

// RecorderFor returns a recorder for the session r is bound to, or nil when r carries
// no known session.
func (e *Engine) RecorderFor(r *http.Request) *Recorder {
	if e == nil {
		return nil
	}
	id := SessionFromRequest(r)
	if _, ok := e.GetSession(id); !ok {
		return nil
	}
	return &Recorder{engine: e, sessionID: id}
}

// Record appends an arbitrary event.
func (rec *Recorder) Record(eventType EventType, title string, data map[string]interface{}, notes ...Annotation) {
	if rec == nil {
		return
	}
	rec.engine.AddEvent(rec.sessionID, Event{
		Type:        eventType,
		Timestamp:   time.Now(),
		Title:       title,
		Data:        data,
		Annotations: notes,
	})
}

// Step records a wizard transition such as the logout redirect.
func (rec *Recorder) Step(title string, data map[string]interface{}, notes ...Annotation) {
	rec.Record(EventTypeFlowStep, title, data, notes...)
}

// Request records an outbound call made on the user's behalf.
func (rec *Recorder) Request(method, url string, headers map[string]string, body interface{}, notes ...Annotation) {
	rec.Record(EventTypeRequestSent, method+" "+url, map[string]interface{}{
		"method":  method,
		"url":     url,
		"headers": headers,
		"body":    body,
	}, notes...)
}

// Response records what the upstream answered.
func (rec *Recorder) Response(status int, headers map[string]string, body interface{}) {
	rec.Record(EventTypeResponseReceived, fmt.Sprintf("Response %d", status), map[string]interface{}{
		"status":  status,
		"headers": headers,
		"body":    body,
	})
}

// Tokens records every JWT in a token response, decoded. Opaque values produce a warning.
func (rec *Recorder) Tokens(response map[string]interface{}) {
	if rec == nil {
		return
	}
	for _, name := range []string{"access_token", "id_token", "refresh_token"} {
		raw, _ := response[name].(string)
		if raw == "" {
			continue
		}
		inspection, err := rec.engine.DecodeToken(raw)
		if err != nil {
			rec.Record(EventTypeSecurityWarning, "Undecodable "+name, map[string]interface{}{"error": err.Error()})
			continue
		}
		rec.Record(EventTypeTokenIssued, "Token Issued: "+name, map[string]interface{}{
			"token_type": name,
			"inspection": inspection,
		}, inspection.Annotations...)
	}
}

// Exchange records a request/response pair captured at the server edge.
func (rec *Recorder) Exchange(title string, exchange CapturedExchange) {
	rec.Record(EventTypeHTTPExchange, title, map[string]interface{}{"exchange": exchange})
}
