// Package intake runs the inbound signal pipeline: rate limit, quota,
// normalization, intent scoring, identity resolution, and reply generation.
package intake

import (
	"encoding/json"
	"strings"

	"github.com/sells-group/lead-intake/internal/envelope"
	"github.com/sells-group/lead-intake/internal/lead"
)

// Signal is one inbound contact event from any channel. Context carries the
// channel-specific payload and is validated against the shape for Source
// before the pipeline runs.
type Signal struct {
	TenantID   string          `json:"tenantId"`
	Source     lead.Source     `json:"source"`
	Name       string          `json:"name,omitempty"`
	Email      string          `json:"email,omitempty"`
	Phone      string          `json:"phone,omitempty"`
	Message    string          `json:"message"`
	ProjectIDs []string        `json:"projectIds,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
}

// ChatContext is the payload shape for source "chat".
type ChatContext struct {
	ConversationID string `json:"conversationId"`
	PageURL        string `json:"pageUrl,omitempty"`
}

// SiteContext is the payload shape for source "site" (form submissions).
type SiteContext struct {
	FormID      string `json:"formId"`
	PageURL     string `json:"pageUrl,omitempty"`
	UTMSource   string `json:"utmSource,omitempty"`
	UTMMedium   string `json:"utmMedium,omitempty"`
	UTMCampaign string `json:"utmCampaign,omitempty"`
}

// CampaignContext is the payload shape for source "campaign" (replies to
// outbound email/SMS sends).
type CampaignContext struct {
	CampaignID string `json:"campaignId"`
	Channel    string `json:"channel"` // "email" or "sms"
	MessageID  string `json:"messageId,omitempty"`
}

// AgentDemoContext is the payload shape for source "agent_demo".
type AgentDemoContext struct {
	DemoID    string `json:"demoId"`
	AgentName string `json:"agentName,omitempty"`
}

// Validate checks the signal's envelope fields and decodes Context against
// the shape its Source requires. It returns the canonical re-encoded context
// (unknown fields dropped) ready for persistence, or a *ValidationError.
func (s *Signal) Validate() ([]byte, error) {
	if strings.TrimSpace(s.TenantID) == "" {
		return nil, &envelope.ValidationError{Field: "tenantId", Reason: "required"}
	}
	if !s.Source.Valid() {
		return nil, &envelope.ValidationError{Field: "source", Reason: "unknown source " + string(s.Source)}
	}
	if strings.TrimSpace(s.Message) == "" {
		return nil, &envelope.ValidationError{Field: "message", Reason: "required"}
	}

	if len(s.Context) == 0 {
		return nil, nil
	}

	var shaped any
	switch s.Source {
	case lead.SourceChat:
		var c ChatContext
		if err := strictDecode(s.Context, &c); err != nil {
			return nil, err
		}
		if c.ConversationID == "" {
			return nil, &envelope.ValidationError{Field: "context.conversationId", Reason: "required for chat signals"}
		}
		shaped = c
	case lead.SourceSite:
		var c SiteContext
		if err := strictDecode(s.Context, &c); err != nil {
			return nil, err
		}
		if c.FormID == "" {
			return nil, &envelope.ValidationError{Field: "context.formId", Reason: "required for site signals"}
		}
		shaped = c
	case lead.SourceCampaign:
		var c CampaignContext
		if err := strictDecode(s.Context, &c); err != nil {
			return nil, err
		}
		if c.CampaignID == "" {
			return nil, &envelope.ValidationError{Field: "context.campaignId", Reason: "required for campaign signals"}
		}
		if c.Channel != "email" && c.Channel != "sms" {
			return nil, &envelope.ValidationError{Field: "context.channel", Reason: "must be email or sms"}
		}
		shaped = c
	case lead.SourceAgentDemo:
		var c AgentDemoContext
		if err := strictDecode(s.Context, &c); err != nil {
			return nil, err
		}
		if c.DemoID == "" {
			return nil, &envelope.ValidationError{Field: "context.demoId", Reason: "required for agent_demo signals"}
		}
		shaped = c
	}

	out, err := json.Marshal(shaped)
	if err != nil {
		return nil, &envelope.ValidationError{Field: "context", Reason: "not encodable"}
	}
	return out, nil
}

func strictDecode(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &envelope.ValidationError{Field: "context", Reason: err.Error()}
	}
	return nil
}
