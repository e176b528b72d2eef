package agent

import "context"

type sourceKey struct{}

// WithSource tags ctx with the channel a message arrived on ("cli",
// "http", "websocket").
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFromContext returns the channel set by WithSource, or "".
func SourceFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}

// channelNotes maps sources to system prompt notes describing how the
// reply will be displayed.
var channelNotes = map[string]string{
	"cli": "[Source: terminal. Replies are shown as plain text; " +
		"keep lists short and skip markdown tables.]",
	"websocket": "[Source: chat window. Markdown renders; " +
		"poster links and short tables are fine.]",
}

// ChannelProvider is a ContextProvider that injects a display note for
// the source attached to the request context. Unknown or missing
// sources produce no note.
type ChannelProvider struct{}

// NewChannelProvider creates a channel awareness context provider.
func NewChannelProvider() *ChannelProvider {
	return &ChannelProvider{}
}

// GetContext returns the note for the request's source, if any.
func (p *ChannelProvider) GetContext(ctx context.Context, _ string) (string, error) {
	return channelNotes[SourceFromContext(ctx)], nil
}
