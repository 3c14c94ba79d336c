package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"crmsync/internal/models"
)

// tokenExpiredCode is the platform's OAuth error code for expired or
// invalidated page tokens.
const tokenExpiredCode = 190

// GraphClient talks to the Graph-style HTTP API of the messaging platform.
// One client is constructed per job invocation with that page's token.
type GraphClient struct {
	baseURL  string
	pageSize int
	http     *http.Client
}

// NewGraphClient creates a client bound to one page access token. The token
// travels as an oauth2 static source so the underlying transport injects it
// into every request.
func NewGraphClient(baseURL string, pageSize int, accessToken string) *GraphClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	return &GraphClient{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		pageSize: pageSize,
		http: &http.Client{
			Timeout:   60 * time.Second,
			Transport: &oauth2.Transport{Source: ts},
		},
	}
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
		Subcode int    `json:"error_subcode"`
	} `json:"error"`
}

type graphPaging struct {
	Cursors struct {
		After string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next"`
}

type graphConversation struct {
	ID           string `json:"id"`
	UpdatedTime  string `json:"updated_time"`
	MessageCount int    `json:"message_count"`
	Participants struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	} `json:"participants"`
}

type conversationsPage struct {
	Data   []graphConversation `json:"data"`
	Paging graphPaging         `json:"paging"`
}

type graphMessage struct {
	From struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"from"`
	Message     string `json:"message"`
	CreatedTime string `json:"created_time"`
}

type messagesPage struct {
	Data   []graphMessage `json:"data"`
	Paging graphPaging    `json:"paging"`
}

// Conversations implements Client.
func (c *GraphClient) Conversations(ctx context.Context, pageID string, p models.Platform) (ConversationStream, error) {
	return &graphConversationStream{
		client:   c,
		pageID:   pageID,
		platform: p,
	}, nil
}

// graphConversationStream pulls conversation pages lazily and hands them out
// one descriptor at a time.
type graphConversationStream struct {
	client   *GraphClient
	pageID   string
	platform models.Platform
	buffer   []graphConversation
	after    string
	done     bool
}

func (s *graphConversationStream) Next(ctx context.Context) (*Conversation, bool, error) {
	for len(s.buffer) == 0 {
		if s.done {
			return nil, false, nil
		}
		if err := s.fetchPage(ctx); err != nil {
			return nil, false, err
		}
	}

	gc := s.buffer[0]
	s.buffer = s.buffer[1:]

	conv := &Conversation{
		ID:         gc.ID,
		Platform:   s.platform,
		MessageCnt: gc.MessageCount,
	}
	if t, err := time.Parse(time.RFC3339, gc.UpdatedTime); err == nil {
		conv.UpdatedAt = &t
	}
	// The participants list includes the page itself; the counterpart is the
	// first entry whose id differs from the page id.
	for _, part := range gc.Participants.Data {
		if part.ID != s.pageID {
			conv.Participant = Participant{ID: part.ID, Name: part.Name}
			break
		}
	}
	return conv, true, nil
}

func (s *graphConversationStream) fetchPage(ctx context.Context) error {
	params := url.Values{}
	params.Set("fields", "id,updated_time,message_count,participants")
	params.Set("limit", fmt.Sprintf("%d", s.client.pageSize))
	params.Set("platform", string(s.platform))
	if s.after != "" {
		params.Set("after", s.after)
	}

	var page conversationsPage
	endpoint := fmt.Sprintf("%s/%s/conversations?%s", s.client.baseURL, s.pageID, params.Encode())
	if err := s.client.get(ctx, endpoint, &page); err != nil {
		return err
	}

	s.buffer = append(s.buffer, page.Data...)
	s.after = page.Paging.Cursors.After
	if s.after == "" || len(page.Data) == 0 {
		s.done = true
	}
	return nil
}

// Messages implements Client.
func (c *GraphClient) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	params := url.Values{}
	params.Set("fields", "from,message,created_time")
	params.Set("limit", fmt.Sprintf("%d", c.pageSize))

	var out []Message
	endpoint := fmt.Sprintf("%s/%s/messages?%s", c.baseURL, conversationID, params.Encode())
	for endpoint != "" {
		var page messagesPage
		if err := c.get(ctx, endpoint, &page); err != nil {
			return nil, err
		}
		for _, gm := range page.Data {
			msg := Message{
				Sender: gm.From.Name,
				Text:   gm.Message,
			}
			if t, err := time.Parse(time.RFC3339, gm.CreatedTime); err == nil {
				msg.Timestamp = &t
			}
			out = append(out, msg)
		}
		endpoint = page.Paging.Next
	}
	return out, nil
}

// get performs one API call and decodes either the payload or the platform
// error envelope.
func (c *GraphClient) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var ge graphError
		if err := json.Unmarshal(body, &ge); err == nil && ge.Error.Code != 0 {
			return &Error{
				Code:         ge.Error.Code,
				TokenExpired: ge.Error.Code == tokenExpiredCode,
				Message:      ge.Error.Message,
			}
		}
		return &Error{Code: resp.StatusCode, Message: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
