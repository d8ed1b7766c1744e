package httpapi

import (
	"time"

	"github.com/bnema/venue-concierge/internal/codec"
	"github.com/bnema/venue-concierge/internal/domain"
)

type sessionView struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	SourceRef    string     `json:"source_ref"`
	Offer        string     `json:"offer,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LastActivity time.Time  `json:"last_activity"`
}

func toSessionView(s domain.Session) sessionView {
	return sessionView{
		ID:           string(s.ID),
		Status:       string(s.Status),
		SourceRef:    s.Transport.SourceRef,
		Offer:        s.Transport.Offer,
		CreatedAt:    s.CreatedAt,
		StartedAt:    s.StartedAt,
		LastActivity: s.LastActivity,
	}
}

type replyView struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model,omitempty"`
	InputTokens    int64  `json:"input_tokens"`
	OutputTokens   int64  `json:"output_tokens"`
	Dispatched     bool   `json:"dispatched"`
}

func toReplyView(r domain.Reply) replyView {
	return replyView{
		Text:           r.Text,
		ConversationID: string(r.ConversationID),
		Model:          r.Model,
		InputTokens:    r.Usage.InputTokens,
		OutputTokens:   r.Usage.OutputTokens,
		Dispatched:     r.Dispatched,
	}
}

type grantView struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	ItemID        string     `json:"item_id"`
	RequesterName string     `json:"requester_name,omitempty"`
	Status        string     `json:"status"`
	RequestedAt   time.Time  `json:"requested_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Note          string     `json:"note,omitempty"`
}

func toGrantView(g domain.GrantRequest) grantView {
	return grantView{
		ID:            string(g.ID),
		SessionID:     string(g.SessionID),
		ItemID:        string(g.ItemID),
		RequesterName: g.RequesterName,
		Status:        string(g.Status),
		RequestedAt:   g.RequestedAt,
		ResolvedAt:    g.ResolvedAt,
		ExpiresAt:     g.ExpiresAt,
		Note:          g.Note,
	}
}

func toGrantViews(requests []domain.GrantRequest) []grantView {
	views := make([]grantView, 0, len(requests))
	for _, request := range requests {
		views = append(views, toGrantView(request))
	}
	return views
}

type notificationView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
	Payload   any       `json:"payload,omitempty"`
}

// toNotificationView decodes the stored CBOR payload so it renders as a
// JSON object.
func toNotificationView(n domain.Notification) notificationView {
	view := notificationView{
		ID:        string(n.ID),
		Kind:      string(n.Kind),
		CreatedAt: n.CreatedAt,
		Read:      n.Read,
	}
	if len(n.Payload) > 0 {
		var payload any
		if err := codec.Unmarshal(n.Payload, &payload); err == nil {
			view.Payload = payload
		}
	}
	return view
}

type itemView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	Tier        string   `json:"tier"`
	Available   bool     `json:"available"`
}

func toItemViews(items []domain.CatalogItem) []itemView {
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		views = append(views, itemView{
			ID:          string(item.ID),
			Name:        item.Name,
			Category:    item.Category,
			Tags:        item.Tags,
			Description: item.Description,
			Price:       item.Price,
			Tier:        string(item.Tier),
			Available:   item.Available,
		})
	}
	return views
}
