// Package reply generates a short acknowledgement message for a freshly
// recorded lead. Generation is best-effort: the pipeline substitutes a canned
// fallback when the model is slow or down, and lead persistence never waits
// on it.
package reply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-intake/internal/envelope"
	"github.com/sells-group/lead-intake/internal/intent"
	"github.com/sells-group/lead-intake/internal/lead"
	"github.com/sells-group/lead-intake/pkg/anthropic"
)

// Generator produces a reply for a recorded lead.
type Generator interface {
	Generate(ctx context.Context, l *lead.Lead) (string, error)
}

const systemPrompt = `You are a friendly assistant for a real-estate sales team.
Write a short, warm acknowledgement (2-3 sentences) to a prospective buyer who
just reached out. Thank them, reflect what they asked about, and say a team
member will follow up. Do not invent prices, availability, or appointment
times. Plain text only.`

// AnthropicGenerator generates replies through the Anthropic API, throttled
// and bounded by a per-call timeout.
type AnthropicGenerator struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewAnthropicGenerator builds a Generator over client. maxPerSec throttles
// outbound calls across the whole process; timeout bounds each call.
func NewAnthropicGenerator(client anthropic.Client, model string, timeout time.Duration, maxPerSec float64) *AnthropicGenerator {
	burst := int(maxPerSec)
	if burst < 1 {
		burst = 1
	}
	return &AnthropicGenerator{
		client:  client,
		model:   model,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(maxPerSec), burst),
	}
}

// Generate asks the model for an acknowledgement. Any failure, including the
// throttle or timeout firing, comes back as *envelope.AIUnavailableError so
// callers can fall back without inspecting transport details.
func (g *AnthropicGenerator) Generate(ctx context.Context, l *lead.Lead) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return "", &envelope.AIUnavailableError{Reason: "reply throttle: " + err.Error()}
	}

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: 300,
		System:    systemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: buildPrompt(l)},
		},
	})
	if err != nil {
		zap.L().Warn("reply: generation failed",
			zap.String("tenant_id", l.TenantID),
			zap.String("lead_id", l.ID),
			zap.Error(err),
		)
		return "", &envelope.AIUnavailableError{Reason: err.Error()}
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", &envelope.AIUnavailableError{Reason: "empty completion"}
	}
	return text, nil
}

func buildPrompt(l *lead.Lead) string {
	var b strings.Builder
	name := l.Name
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Prospect name: %s\n", name)
	fmt.Fprintf(&b, "Their message: %s\n", l.Message)
	if l.IntentFocus != "" {
		fmt.Fprintf(&b, "Detected interest: %s\n", l.IntentFocus)
	}
	if len(l.IntentProjects) > 0 {
		fmt.Fprintf(&b, "Projects mentioned: %s\n", strings.Join(l.IntentProjects, ", "))
	}
	if l.IntentAction == intent.ActionContactNow {
		b.WriteString("They look ready to talk; mention that someone will reach out very soon.\n")
	}
	return b.String()
}

// StaticGenerator always returns the same text. Used when no API key is
// configured, and in tests.
type StaticGenerator struct {
	Text string
}

func (g *StaticGenerator) Generate(context.Context, *lead.Lead) (string, error) {
	return g.Text, nil
}
