package reply

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/envelope"
	"github.com/sells-group/lead-intake/internal/lead"
	"github.com/sells-group/lead-intake/pkg/anthropic"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeClient returns a fixed response or error and records the last request.
type fakeClient struct {
	resp *anthropic.MessageResponse
	err  error
	last anthropic.MessageRequest
}

func (c *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.last = req
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

func testLead() *lead.Lead {
	return &lead.Lead{
		ID:           "lead-1",
		TenantID:     "t1",
		Name:         "John",
		Message:      "interested in booking a viewing",
		IntentFocus:  "scheduling",
		IntentAction: "follow_up",
	}
}

func TestGenerate_Success(t *testing.T) {
	client := &fakeClient{resp: &anthropic.MessageResponse{Text: "  Thanks John!  "}}
	g := NewAnthropicGenerator(client, "claude-haiku-4-5-20251001", 5*time.Second, 10)

	text, err := g.Generate(context.Background(), testLead())
	require.NoError(t, err)
	assert.Equal(t, "Thanks John!", text, "whitespace trimmed")

	assert.Equal(t, "claude-haiku-4-5-20251001", client.last.Model)
	require.Len(t, client.last.Messages, 1)
	assert.Contains(t, client.last.Messages[0].Content, "John")
	assert.Contains(t, client.last.Messages[0].Content, "booking a viewing")
	assert.Contains(t, client.last.Messages[0].Content, "scheduling")
}

func TestGenerate_APIErrorBecomesUnavailable(t *testing.T) {
	client := &fakeClient{err: eris.New("529 overloaded")}
	g := NewAnthropicGenerator(client, "claude-haiku-4-5-20251001", 5*time.Second, 10)

	_, err := g.Generate(context.Background(), testLead())
	var down *envelope.AIUnavailableError
	require.ErrorAs(t, err, &down)
	assert.Contains(t, down.Reason, "overloaded")
}

func TestGenerate_EmptyCompletionBecomesUnavailable(t *testing.T) {
	client := &fakeClient{resp: &anthropic.MessageResponse{Text: "   "}}
	g := NewAnthropicGenerator(client, "claude-haiku-4-5-20251001", 5*time.Second, 10)

	_, err := g.Generate(context.Background(), testLead())
	var down *envelope.AIUnavailableError
	assert.ErrorAs(t, err, &down)
}

func TestGenerate_CancelledContext(t *testing.T) {
	client := &fakeClient{resp: &anthropic.MessageResponse{Text: "hi"}}
	g := NewAnthropicGenerator(client, "claude-haiku-4-5-20251001", 5*time.Second, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, testLead())
	var down *envelope.AIUnavailableError
	require.ErrorAs(t, err, &down, "throttle wait surfaces as unavailable")
}

func TestGenerate_AnonymousLeadPrompt(t *testing.T) {
	client := &fakeClient{resp: &anthropic.MessageResponse{Text: "hello"}}
	g := NewAnthropicGenerator(client, "claude-haiku-4-5-20251001", 5*time.Second, 10)

	l := testLead()
	l.Name = ""
	_, err := g.Generate(context.Background(), l)
	require.NoError(t, err)
	assert.Contains(t, client.last.Messages[0].Content, "there", "placeholder used for unnamed prospects")
}

func TestStaticGenerator(t *testing.T) {
	g := &StaticGenerator{Text: "canned"}
	text, err := g.Generate(context.Background(), testLead())
	require.NoError(t, err)
	assert.Equal(t, "canned", text)
}
