package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/reactive"
	"github.com/matheus3301/meshphone/internal/replication"
)

// SendMessage delivers text from senderID to receiverID. Missing contact
// edges are added in both directions, the message is appended to every
// local partition of the pair and then replicated.
func (s *Service) SendMessage(ctx context.Context, senderID, receiverID, text string) (domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, errors.New("send message: empty text")
	}
	if senderID == receiverID {
		return domain.Message{}, fmt.Errorf("send message: %q cannot message itself", senderID)
	}

	s.mu.Lock()
	if !s.registry.Has(receiverID) {
		s.mu.Unlock()
		return domain.Message{}, fmt.Errorf("send to %q: %w", receiverID, domain.ErrNotFound)
	}
	if !s.hasLocalAccessLocked(senderID) {
		s.mu.Unlock()
		return domain.Message{}, fmt.Errorf("send from %q: %w", senderID, ErrNoLocalAccess)
	}

	var out []outgoing
	var changed []string
	added, err := s.registry.AddContact(senderID, receiverID)
	if err != nil {
		s.mu.Unlock()
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}
	if added {
		changed = append(changed, senderID)
	}
	reciprocal, err := s.registry.AddContact(receiverID, senderID)
	if err != nil {
		s.mu.Unlock()
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}
	if reciprocal {
		changed = append(changed, receiverID)
		out = append(out, broadcast(replication.ContactUpdate{
			DeviceID:        receiverID,
			ContactDeviceID: senderID,
			Action:          replication.ContactAutoAdd,
			Reason:          replication.ReasonMessageReceived,
		}))
	}

	now := s.now()
	msg := domain.Message{
		ID:         domain.NewMessageID(now),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Timestamp:  now.UnixMilli(),
	}
	key := msg.Key()
	s.convs.Append(senderID, key, msg)
	s.persistLocked(senderID)
	if s.hasLocalAccessLocked(receiverID) {
		s.convs.Append(receiverID, key, msg)
		s.persistLocked(receiverID)
	}
	out = append(out, broadcast(replication.MessageUpdate{SenderID: senderID, ReceiverID: receiverID, Message: msg}))
	devices := s.registry.Subset(changed...)
	s.mu.Unlock()

	if len(changed) > 0 {
		s.notifier.MarkTopicsDirty(reactive.ContactsTopic(senderID), reactive.ContactsTopic(receiverID))
	}
	s.publish(ctx, out...)
	s.saveWorld(ctx, &devices, nil)

	s.logger.Debug("message sent",
		zap.String("message_id", msg.ID), zap.String("from", senderID), zap.String("to", receiverID))
	return msg, nil
}

// Conversation returns viewerID's copy of its conversation with otherID.
func (s *Service) Conversation(viewerID, otherID string) []domain.Message {
	return s.convs.Messages(viewerID, domain.ConversationKey(viewerID, otherID))
}

// UnreadCount returns how many messages from otherID viewerID has not read.
func (s *Service) UnreadCount(viewerID, otherID string) int {
	return s.unread.Count(viewerID, otherID)
}

// TotalUnread sums UnreadCount over viewerID's contacts.
func (s *Service) TotalUnread(viewerID string) int {
	contacts, err := s.registry.Contacts(viewerID)
	if err != nil {
		return 0
	}
	return s.unread.Total(viewerID, contacts)
}

// MarkConversationRead flags every message addressed to viewerID in the
// conversation as read and records a local read mark. Read state is not
// replicated. Returns how many messages changed.
func (s *Service) MarkConversationRead(ctx context.Context, viewerID, otherID string) (int, error) {
	key := domain.ConversationKey(viewerID, otherID)

	s.mu.Lock()
	if !s.hasLocalAccessLocked(viewerID) {
		s.mu.Unlock()
		return 0, fmt.Errorf("mark read on %q: %w", viewerID, ErrNoLocalAccess)
	}
	n := s.convs.MarkRead(viewerID, key, viewerID)
	s.unread.Invalidate(key)
	if n > 0 {
		s.persistLocked(viewerID)
	}
	s.mu.Unlock()

	if err := s.local.SetReadMark(viewerID, otherID, s.now().UnixMilli()); err != nil {
		return n, fmt.Errorf("record read mark: %w", err)
	}
	s.notifier.MarkTopicsDirty(reactive.ConversationKeyTopic(key), reactive.ContactsTopic(viewerID))
	return n, nil
}

// ClearHistory empties viewerID's copy of the conversation. The other
// device keeps its own copy. Other clients holding viewerID's partition
// clear theirs when the event arrives.
func (s *Service) ClearHistory(ctx context.Context, viewerID, otherID string) (int, error) {
	key := domain.ConversationKey(viewerID, otherID)

	s.mu.Lock()
	if !s.hasLocalAccessLocked(viewerID) {
		s.mu.Unlock()
		return 0, fmt.Errorf("clear history on %q: %w", viewerID, ErrNoLocalAccess)
	}
	n := s.convs.Clear(viewerID, key)
	s.persistLocked(viewerID)
	s.mu.Unlock()

	s.publish(ctx, broadcast(replication.ConversationClear{DeviceID: viewerID, ContactDeviceID: otherID}))
	s.logger.Info("history cleared", zap.String("device_id", viewerID), zap.String("contact", otherID), zap.Int("messages", n))
	return n, nil
}

// DeleteMessages removes messages from both sides of a conversation.
// Only the coordinator may delete.
func (s *Service) DeleteMessages(ctx context.Context, deviceA, deviceB string, ids []string) (int, error) {
	if !s.IsCoordinator() {
		return 0, fmt.Errorf("delete messages: %w", domain.ErrUnauthorizedWrite)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	n := s.deleteLocked(deviceA, deviceB, ids)
	s.mu.Unlock()

	s.publish(ctx, broadcast(replication.MessageDeletion{DeviceIDA: deviceA, DeviceIDB: deviceB, MessageIDs: ids}))
	s.logger.Info("messages deleted",
		zap.String("device_a", deviceA), zap.String("device_b", deviceB), zap.Int("requested", len(ids)), zap.Int("removed", n))
	return n, nil
}

func (s *Service) deleteLocked(deviceA, deviceB string, ids []string) int {
	key := domain.ConversationKey(deviceA, deviceB)
	n := 0
	for _, part := range []string{deviceA, deviceB} {
		if !s.convs.HasPartition(part) {
			continue
		}
		if removed := s.convs.Delete(part, key, ids); removed > 0 {
			n += removed
			s.persistLocked(part)
		}
	}
	return n
}
