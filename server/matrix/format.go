package matrix

import (
	"context"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

var htmlConverter = md.NewConverter("", true, nil)

// PlainTextFromHTML derives the plain body of a formatted message. The HTML itself is
// returned, stripped of surrounding space, if conversion fails.
func PlainTextFromHTML(html string) string {
	text, err := htmlConverter.ConvertString(html)
	if err != nil {
		return strings.TrimSpace(html)
	}
	return strings.TrimSpace(text)
}

// TextContent is an m.text message.
func TextContent(body string) *event.MessageEventContent {
	return &event.MessageEventContent{MsgType: event.MsgText, Body: body}
}

// NoticeContent is an m.notice message, the conventional type for bot output.
func NoticeContent(body string) *event.MessageEventContent {
	return &event.MessageEventContent{MsgType: event.MsgNotice, Body: body}
}

// FormattedContent is an HTML m.text message whose plain body is derived from the HTML.
func FormattedContent(html string) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          PlainTextFromHTML(html),
		Format:        event.FormatHTML,
		FormattedBody: html,
	}
}

func (u *UserClient) SendText(ctx context.Context, roomID id.RoomID, body string) (*Result, error) {
	return u.SendMessage(ctx, roomID, TextContent(body))
}

func (u *UserClient) SendNotice(ctx context.Context, roomID id.RoomID, body string) (*Result, error) {
	return u.SendMessage(ctx, roomID, NoticeContent(body))
}

func (u *UserClient) SendFormatted(ctx context.Context, roomID id.RoomID, html string) (*Result, error) {
	return u.SendMessage(ctx, roomID, FormattedContent(html))
}
