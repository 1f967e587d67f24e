package chatapi

import (
	"context"
	"net/url"

	"chatvector/internal/model"
)

// rawMessage mirrors the subset of the platform's wire shape this service
// consumes.
type rawMessage struct {
	TS             string          `json:"ts"`
	Text           string          `json:"text"`
	User           string          `json:"user"`
	ThreadTS       string          `json:"thread_ts"`
	ReplyCount     int             `json:"reply_count"`
	Files          []rawFile       `json:"files"`
	Reactions      []rawReaction   `json:"reactions"`
}

type rawFile struct {
	Title string `json:"title"`
	Name  string `json:"name"`
	URL   string `json:"url_private"`
}

type rawReaction struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
	Count int      `json:"count"`
}

type historyResponse struct {
	OK               bool         `json:"ok"`
	Error            string       `json:"error"`
	Messages         []rawMessage `json:"messages"`
	HasMore          bool         `json:"has_more"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

func (m rawMessage) toModel(channelID string, isReply bool) model.Message {
	kind := model.KindMessage
	if isReply {
		kind = model.KindThreadReply
	}
	out := model.Message{
		ChannelID:      channelID,
		TS:             m.TS,
		Text:           m.Text,
		AuthorID:       m.User,
		ThreadParentTS: m.ThreadTS,
		IsThreadRoot:   m.ThreadTS != "" && m.ThreadTS == m.TS,
		Kind:           kind,
	}
	for _, r := range m.Reactions {
		out.Reactions = append(out.Reactions, model.Reaction{Emoji: r.Name, UserIDs: r.Users, Count: r.Count})
	}
	for _, f := range m.Files {
		out.Attachments = append(out.Attachments, model.Attachment{Kind: "file", Title: firstNonEmptyStr(f.Title, f.Name), URL: f.URL})
	}
	return out
}

func firstNonEmptyStr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// ListChannelHistory streams a channel's messages from sinceTS (exclusive)
// forward in ascending ts order, paginating one page per rate-governed
// request (spec §4.2). The returned channel is closed when the stream ends
// or ctx is cancelled; a single error, if any, is sent on errCh before
// closing.
func (c *Client) ListChannelHistory(ctx context.Context, channelID, sinceTS string) (<-chan model.Message, <-chan error) {
	out := make(chan model.Message, 200)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		oldest := sinceTS
		if oldest == "" {
			oldest = "0"
		}
		cursor := ""
		for {
			params := url.Values{}
			params.Set("channel", channelID)
			params.Set("oldest", oldest)
			params.Set("inclusive", "false")
			if cursor != "" {
				params.Set("cursor", cursor)
			}

			var resp historyResponse
			if err := c.get(ctx, EndpointConversationsHistory, params, &resp); err != nil {
				errCh <- err
				return
			}
			if !resp.OK {
				errCh <- apiErr(resp.Error)
				return
			}
			for _, rm := range resp.Messages {
				select {
				case out <- rm.toModel(channelID, false):
				case <-ctx.Done():
					return
				}
			}
			if !resp.HasMore || resp.ResponseMetadata.NextCursor == "" {
				return
			}
			cursor = resp.ResponseMetadata.NextCursor
		}
	}()
	return out, errCh
}

// ListThreadReplies streams the replies under rootTS in the same channel,
// same pagination discipline as ListChannelHistory.
func (c *Client) ListThreadReplies(ctx context.Context, channelID, rootTS string) (<-chan model.Message, <-chan error) {
	out := make(chan model.Message, 200)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		cursor := ""
		for {
			params := url.Values{}
			params.Set("channel", channelID)
			params.Set("ts", rootTS)
			if cursor != "" {
				params.Set("cursor", cursor)
			}

			var resp historyResponse
			if err := c.get(ctx, EndpointConversationsReplies, params, &resp); err != nil {
				errCh <- err
				return
			}
			if !resp.OK {
				errCh <- apiErr(resp.Error)
				return
			}
			for _, rm := range resp.Messages {
				if rm.TS == rootTS {
					continue // the root itself comes back as the first reply; caller already has it
				}
				select {
				case out <- rm.toModel(channelID, true):
				case <-ctx.Done():
					return
				}
			}
			if !resp.HasMore || resp.ResponseMetadata.NextCursor == "" {
				return
			}
			cursor = resp.ResponseMetadata.NextCursor
		}
	}()
	return out, errCh
}

type userResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	User  struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Profile struct {
			DisplayName string `json:"display_name"`
			RealName    string `json:"real_name"`
		} `json:"profile"`
	} `json:"user"`
}

// GetUser resolves a user id, consulting the TTL cache first.
func (c *Client) GetUser(ctx context.Context, userID string) (model.User, error) {
	if u, ok := c.users.get(userID); ok {
		return u, nil
	}
	params := url.Values{"user": {userID}}
	var resp userResponse
	if err := c.get(ctx, EndpointUsersInfo, params, &resp); err != nil {
		return model.User{}, err
	}
	if !resp.OK {
		return model.User{}, apiErr(resp.Error)
	}
	u := model.User{
		ID:          resp.User.ID,
		DisplayName: firstNonEmptyStr(resp.User.Profile.DisplayName, resp.User.Name),
		RealName:    resp.User.Profile.RealName,
	}
	c.users.set(userID, u)
	return u, nil
}

type channelResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		IsMember   bool   `json:"is_member"`
		Properties struct {
			Canvas struct {
				FileID string `json:"file_id"`
			} `json:"canvas"`
		} `json:"properties"`
	} `json:"channel"`
}

// GetChannel resolves a channel id, consulting the TTL cache first.
func (c *Client) GetChannel(ctx context.Context, channelID string) (model.Channel, error) {
	if ch, ok := c.channels.get(channelID); ok {
		return ch, nil
	}
	params := url.Values{"channel": {channelID}}
	var resp channelResponse
	if err := c.get(ctx, EndpointConversationsInfo, params, &resp); err != nil {
		return model.Channel{}, err
	}
	if !resp.OK {
		return model.Channel{}, apiErr(resp.Error)
	}
	ch := model.Channel{
		ID:       resp.Channel.ID,
		Name:     resp.Channel.Name,
		IsMember: resp.Channel.IsMember,
		CanvasID: resp.Channel.Properties.Canvas.FileID,
	}
	c.channels.set(channelID, ch)
	return ch, nil
}

type reactionsResponse struct {
	OK      bool `json:"ok"`
	Message struct {
		Reactions []rawReaction `json:"reactions"`
	} `json:"message"`
}

// ListReactions is best-effort: any failure returns an empty list rather
// than an error (spec §4.2).
func (c *Client) ListReactions(ctx context.Context, channelID, ts string) []model.Reaction {
	params := url.Values{"channel": {channelID}, "timestamp": {ts}}
	var resp reactionsResponse
	if err := c.get(ctx, EndpointReactionsGet, params, &resp); err != nil || !resp.OK {
		return nil
	}
	out := make([]model.Reaction, 0, len(resp.Message.Reactions))
	for _, r := range resp.Message.Reactions {
		out = append(out, model.Reaction{Emoji: r.Name, UserIDs: r.Users, Count: r.Count})
	}
	return out
}

type canvasResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Title string `json:"title"`
	Text  string `json:"text"` // plaintext rendering; markup already stripped upstream
}

// ExtractCanvas fetches and normalizes the channel's canvas document to
// plaintext, or returns (nil, nil) if the channel has none.
func (c *Client) ExtractCanvas(ctx context.Context, ch model.Channel) (*model.Canvas, error) {
	if ch.CanvasID == "" {
		return nil, nil
	}
	params := url.Values{"canvas_id": {ch.CanvasID}}
	var resp canvasResponse
	if err := c.get(ctx, EndpointCanvasesRead, params, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, apiErr(resp.Error)
	}
	return &model.Canvas{
		ID:        ch.CanvasID,
		Title:     resp.Title,
		Body:      resp.Text,
		ChannelID: ch.ID,
	}, nil
}

func apiErr(code string) error {
	return &platformError{code: code}
}

type platformError struct{ code string }

func (e *platformError) Error() string {
	if e.code == "" {
		return "chat platform returned ok=false"
	}
	return "chat platform error: " + e.code
}
