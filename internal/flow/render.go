package flow

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
)

// View is everything a front end needs to draw the current state.
type View struct {
	Variant Variant           `json:"variant"`
	Step    Step              `json:"step"`
	Steps   []StepView        `json:"steps"`
	Inputs  map[string]string `json:"inputs"`
	Outputs map[string]string `json:"outputs"`
	Tokens  []TokenView       `json:"tokens,omitempty"`
}

// StepView is one wizard section.
type StepView struct {
	Name    Step `json:"name"`
	Visible bool `json:"visible"`
}

// TokenView is a token split for display. Nothing in it has been verified.
type TokenView struct {
	Name      string                 `json:"name"`
	Encoded   string                 `json:"encoded"`
	Header    map[string]interface{} `json:"header,omitempty"`
	Claims    map[string]interface{} `json:"claims,omitempty"`
	Signature string                 `json:"signature,omitempty"`
	Type      string                 `json:"type,omitempty"`
	Expired   bool                   `json:"expired,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Render maps a state to its view. It has no side effects.
func Render(v Variant, s State) View {
	view := View{
		Variant: v,
		Step:    s.Step,
		Inputs:  map[string]string{},
		Outputs: map[string]string{},
	}
	for _, step := range v.Steps() {
		view.Steps = append(view.Steps, StepView{Name: step, Visible: step == s.Step})
	}

	view.Inputs["issuer"] = s.Issuer
	if in := s.AuthorizationInput; in != nil {
		view.Inputs["clientId"] = in.ClientID
		view.Inputs["scope"] = in.Scope
		if v == VariantOIDC {
			view.Inputs["prompt"] = in.Prompt
			view.Inputs["maxAge"] = in.MaxAge
			view.Inputs["loginHint"] = in.LoginHint
		}
	}
	if s.AuthorizationCode != "" {
		view.Inputs["code"] = s.AuthorizationCode
	}

	if s.HasDiscovery() {
		if pretty, err := json.MarshalIndent(s.Discovery, "", "  "); err == nil {
			view.Outputs["discovery"] = string(pretty)
		}
	}
	if s.AuthorizationResponse != "" {
		view.Outputs[string(v.AuthorizationStep())+"Response"] = s.AuthorizationResponse
	}

	for _, t := range []struct{ name, raw string }{
		{"accessToken", s.AccessToken},
		{"idToken", s.IDToken},
	} {
		if t.raw != "" {
			view.Tokens = append(view.Tokens, DecodeToken(t.name, t.raw))
		}
	}
	return view
}

// DecodeToken splits a compact JWT and decodes its header and claims for display. The
// signature is returned as is.
func DecodeToken(name, raw string) TokenView {
	tv := TokenView{Name: name, Encoded: raw}
	decoded, err := lookingglass.NewDecoder().DecodeJWT(raw)
	if err != nil {
		tv.Error = err.Error()
		return tv
	}
	tv.Header, tv.Claims, tv.Signature = decoded.Header, decoded.Payload, decoded.Signature
	tv.Type = decoded.Analysis.Type
	tv.Expired = decoded.Analysis.IsExpired
	return tv
}

// WriteText prints a view for a terminal.
func (v View) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s playground\n", strings.ToUpper(string(v.Variant)))
	for _, s := range v.Steps {
		marker := "  "
		if s.Visible {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%s\n", marker, s.Name)
	}

	if len(v.Inputs) > 0 {
		b.WriteString("\nInputs:\n")
		for _, key := range sortedKeys(v.Inputs) {
			if v.Inputs[key] != "" {
				fmt.Fprintf(&b, "  %-10s %s\n", key, v.Inputs[key])
			}
		}
	}
	for _, key := range sortedKeys(v.Outputs) {
		fmt.Fprintf(&b, "\n%s:\n%s\n", key, v.Outputs[key])
	}
	for _, t := range v.Tokens {
		fmt.Fprintf(&b, "\n%s", t.Name)
		if t.Expired {
			b.WriteString(" (expired)")
		}
		b.WriteString(":\n")
		if t.Error != "" {
			fmt.Fprintf(&b, "  undecodable: %s\n", t.Error)
			continue
		}
		header, _ := json.MarshalIndent(t.Header, "  ", "  ")
		claims, _ := json.MarshalIndent(t.Claims, "  ", "  ")
		fmt.Fprintf(&b, "  header: %s\n  claims: %s\n  signature: %s\n", header, claims, t.Signature)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
