package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/matheus3301/wpphub/internal/apperr"
	"github.com/matheus3301/wpphub/internal/bus"
	"github.com/matheus3301/wpphub/internal/chatcache"
	"github.com/matheus3301/wpphub/internal/dispatch"
	"github.com/matheus3301/wpphub/internal/registry"
	"github.com/matheus3301/wpphub/internal/session"
	"github.com/matheus3301/wpphub/internal/store"
	"github.com/matheus3301/wpphub/internal/webhook"
)

const (
	defaultMessageLimit  = 50
	defaultDeliveryLimit = 20
	watchBuffer          = 256
)

// Hub implements the control service over the registry, dispatcher,
// notifier and account store.
type Hub struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	notifier   *webhook.Notifier
	db         *store.DB
	bus        *bus.Bus
	logger     *zap.Logger
}

// NewHub creates the control service.
func NewHub(reg *registry.Registry, d *dispatch.Dispatcher, n *webhook.Notifier, db *store.DB, b *bus.Bus, logger *zap.Logger) *Hub {
	return &Hub{
		registry:   reg,
		dispatcher: d,
		notifier:   n,
		db:         db,
		bus:        b,
		logger:     logger.Named("api"),
	}
}

func (h *Hub) RequestPairing(ctx context.Context, req *SessionRequest) (*PairingResponse, error) {
	if err := session.ValidateID(req.SessionID); err != nil {
		return nil, toStatus(apperr.InvalidRequest("%v", err))
	}
	img, err := h.registry.RequestPairing(ctx, req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PairingResponse{SessionID: img.SessionID, Code: img.Code, DataURL: img.DataURL}, nil
}

func (h *Hub) PairingCode(_ context.Context, req *SessionRequest) (*PairingResponse, error) {
	img, err := h.registry.PairingCode(req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PairingResponse{SessionID: img.SessionID, Code: img.Code, DataURL: img.DataURL}, nil
}

func (h *Hub) GetStatus(_ context.Context, req *SessionRequest) (*StatusResponse, error) {
	st, err := h.registry.Status(req.SessionID)
	if apperr.CodeOf(err) == apperr.CodeSessionNotFound {
		return &StatusResponse{
			Status:  SessionStatus{SessionID: req.SessionID, State: "not_found"},
			Message: "session not held by this process; poll again",
		}, nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &StatusResponse{Found: true, Status: statusFromRegistry(st)}, nil
}

func (h *Hub) ListSessions(_ context.Context, _ *Empty) (*ListSessionsResponse, error) {
	list := h.registry.List()
	resp := &ListSessionsResponse{
		Sessions: make([]SessionStatus, 0, len(list)),
		Counts:   h.registry.CountByState(),
	}
	for _, st := range list {
		resp.Sessions = append(resp.Sessions, statusFromRegistry(st))
	}
	return resp, nil
}

func (h *Hub) ListConversations(ctx context.Context, req *SessionRequest) (*ConversationsResponse, error) {
	cache, err := h.readyCache(ctx, req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ConversationsResponse{Conversations: cache.Conversations()}, nil
}

func (h *Hub) ListContacts(ctx context.Context, req *SessionRequest) (*ContactsResponse, error) {
	cache, err := h.readyCache(ctx, req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ContactsResponse{Contacts: cache.Contacts()}, nil
}

func (h *Hub) LoadMessages(ctx context.Context, req *LoadMessagesRequest) (*MessagesResponse, error) {
	if req.ConversationID == "" {
		return nil, toStatus(apperr.InvalidRequest("conversation id is required"))
	}
	cache, err := h.readyCache(ctx, req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	return &MessagesResponse{Messages: cache.Messages(req.ConversationID, limit)}, nil
}

func (h *Hub) readyCache(ctx context.Context, id string) (*chatcache.Cache, error) {
	rec, err := h.registry.EnsureReady(ctx, id)
	if err != nil {
		return nil, err
	}
	return cacheOf(rec)
}

// cacheOf returns the record's cache, which is gone once the session was
// removed or its connection replaced after EnsureReady returned.
func cacheOf(rec *registry.Record) (*chatcache.Cache, error) {
	cache := rec.Cache()
	if cache == nil {
		return nil, apperr.SessionUnavailable(rec.ID, string(rec.State()))
	}
	return cache, nil
}

// Send dispatches one message and records the attempt in the delivery log.
func (h *Hub) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	d := &store.Delivery{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Recipient: req.To,
		Body:      req.Body,
	}
	dreq := dispatch.Request{
		SessionID: req.SessionID,
		To:        req.To,
		Kind:      dispatch.RecipientKind(req.RecipientKind),
		Body:      req.Body,
	}
	if a := req.Attachment; a != nil {
		d.MediaURL = a.URL
		d.MediaType = a.Kind
		dreq.Attachment = &dispatch.Attachment{
			Kind:     a.Kind,
			URL:      a.URL,
			Data:     a.Data,
			Caption:  a.Caption,
			MimeType: a.MimeType,
			FileName: a.FileName,
			PTT:      a.PTT,
		}
	}

	if err := h.db.QueueDelivery(ctx, d); err != nil {
		h.logger.Warn("delivery log insert failed", zap.String("session", req.SessionID), zap.Error(err))
	}

	res, err := h.dispatcher.Send(ctx, dreq)
	if err != nil {
		if merr := h.db.MarkDeliveryFailed(context.WithoutCancel(ctx), d.ID, err.Error()); merr != nil {
			h.logger.Warn("delivery log update failed", zap.String("delivery", d.ID), zap.Error(merr))
		}
		return nil, toStatus(err)
	}
	if merr := h.db.MarkDeliverySent(context.WithoutCancel(ctx), d.ID, res.MessageID); merr != nil {
		h.logger.Warn("delivery log update failed", zap.String("delivery", d.ID), zap.Error(merr))
	}
	return &SendResponse{DeliveryID: d.ID, Delivered: res.Delivered, MessageID: res.MessageID, To: res.To}, nil
}

func (h *Hub) ListDeliveries(ctx context.Context, req *ListDeliveriesRequest) (*DeliveriesResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultDeliveryLimit
	}
	rows, err := h.db.RecentDeliveries(ctx, req.SessionID, limit)
	if err != nil {
		return nil, toStatus(apperr.Wrap(err, apperr.CodeInternal, "list deliveries"))
	}
	resp := &DeliveriesResponse{Deliveries: make([]Delivery, 0, len(rows))}
	for _, r := range rows {
		resp.Deliveries = append(resp.Deliveries, Delivery{
			ID:          r.ID,
			SessionID:   r.SessionID,
			Recipient:   r.Recipient,
			Body:        r.Body,
			MediaURL:    r.MediaURL,
			MediaType:   r.MediaType,
			Status:      r.Status,
			ServerMsgID: r.ServerMsgID,
			Error:       r.ErrorMessage,
			CreatedAt:   time.UnixMilli(r.CreatedAt),
		})
	}
	return resp, nil
}

func (h *Hub) GetWebhookLog(_ context.Context, _ *Empty) (*WebhookLogResponse, error) {
	return &WebhookLogResponse{Entries: h.notifier.Log()}, nil
}

func (h *Hub) UpdateNotifierConfig(ctx context.Context, req *NotifierConfigRequest) (*Ack, error) {
	if req.URL == nil && req.Token == nil && req.Enabled == nil {
		return nil, toStatus(apperr.InvalidRequest("nothing to update"))
	}
	err := h.registry.UpdateNotifierConfig(ctx, req.SessionID, registry.NotifierPatch{
		URL:     req.URL,
		Token:   req.Token,
		Enabled: req.Enabled,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &Ack{Success: true, Message: "notifier updated"}, nil
}

// RemoveSession disconnects the session, deletes its credentials and its
// account row.
func (h *Hub) RemoveSession(ctx context.Context, req *SessionRequest) (*Ack, error) {
	if err := h.registry.Remove(ctx, req.SessionID); err != nil {
		return nil, toStatus(err)
	}
	h.dispatcher.Forget(req.SessionID)
	if err := h.db.DeleteAccount(ctx, req.SessionID); err != nil {
		return nil, toStatus(apperr.Wrap(err, apperr.CodeInternal, "delete account"))
	}
	return &Ack{Success: true, Message: "session removed"}, nil
}

func (h *Hub) UpsertAccount(ctx context.Context, req *AccountRequest) (*Ack, error) {
	if err := session.ValidateID(req.SessionID); err != nil {
		return nil, toStatus(apperr.InvalidRequest("%v", err))
	}
	existing, err := h.db.FindAccountBySessionID(ctx, req.SessionID)
	if err != nil {
		return nil, toStatus(apperr.Wrap(err, apperr.CodeInternal, "load account"))
	}
	acc := &store.Account{
		SessionID:   req.SessionID,
		Name:        req.Name,
		Description: req.Description,
		WebhookURL:  req.WebhookURL,
		APIToken:    req.APIToken,
		APIEnabled:  req.APIEnabled,
	}
	if existing != nil {
		acc.PhoneNumber = existing.PhoneNumber
		acc.Status = existing.Status
	}
	if err := h.db.UpsertAccount(ctx, acc); err != nil {
		return nil, toStatus(apperr.Wrap(err, apperr.CodeInternal, "save account"))
	}
	// Keep a loaded record's notifier in step with the row.
	if _, ok := h.registry.Get(req.SessionID); ok {
		url, token, enabled := req.WebhookURL, req.APIToken, req.APIEnabled
		if err := h.registry.UpdateNotifierConfig(ctx, req.SessionID, registry.NotifierPatch{URL: &url, Token: &token, Enabled: &enabled}); err != nil {
			return nil, toStatus(err)
		}
	}
	return &Ack{Success: true, Message: "account saved"}, nil
}

func (h *Hub) ListAccounts(ctx context.Context, _ *Empty) (*AccountsResponse, error) {
	rows, err := h.db.ListAccounts(ctx)
	if err != nil {
		return nil, toStatus(apperr.Wrap(err, apperr.CodeInternal, "list accounts"))
	}
	resp := &AccountsResponse{Accounts: make([]Account, 0, len(rows))}
	for _, a := range rows {
		resp.Accounts = append(resp.Accounts, Account{
			SessionID:   a.SessionID,
			Name:        a.Name,
			PhoneNumber: a.PhoneNumber,
			Description: a.Description,
			Status:      a.Status,
			WebhookURL:  a.WebhookURL,
			APIEnabled:  a.APIEnabled,
			UpdatedAt:   time.UnixMilli(a.UpdatedAt),
		})
	}
	return resp, nil
}

// Watch streams bus events until the client goes away.
func (h *Hub) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	ch, unsub := h.bus.SubscribeSession(req.Namespace, req.SessionID, watchBuffer)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env := EventEnvelope{
				EventID:   uuid.NewString(),
				Kind:      evt.Kind,
				SessionID: evt.Session,
				Timestamp: evt.Timestamp,
			}
			if evt.Payload != nil {
				payload, err := json.Marshal(evt.Payload)
				if err != nil {
					h.logger.Warn("event payload not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				} else {
					env.Payload = payload
				}
			}
			if err := stream.SendMsg(&env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func statusFromRegistry(st registry.Status) SessionStatus {
	return SessionStatus{
		SessionID:       st.SessionID,
		State:           string(st.State),
		Phone:           st.Phone,
		LastError:       st.LastError,
		RetryCount:      st.RetryCount,
		CreatedAt:       st.CreatedAt,
		HasConnection:   st.HasConnection,
		NotifierEnabled: st.NotifierEnabled,
	}
}
