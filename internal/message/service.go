package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/autolumiku/wabot/internal/db"
)

// DBService persists and reads conversation messages.
type DBService struct {
	conn   dbpkg.Querier
	logger *slog.Logger
}

// NewService creates a message service.
func NewService(log *slog.Logger, conn dbpkg.Querier) *DBService {
	if log == nil {
		log = slog.Default()
	}
	return &DBService{
		conn:   conn,
		logger: log.With(slog.String("service", "message")),
	}
}

const messageColumns = `id, conversation_id, direction, sender, content, media_url, media_type, intent, confidence,
	sender_type, external_message_id, delivery_status, delivery_error, created_at`

// PersistInbound writes a received message, deduplicating on the provider message id.
func (s *DBService) PersistInbound(ctx context.Context, input InboundInput) (Message, bool, error) {
	pgConvID, err := dbpkg.ParseUUID(input.ConversationID)
	if err != nil {
		return Message{}, false, fmt.Errorf("invalid conversation id: %w", err)
	}
	senderType := input.SenderType
	if senderType == "" {
		senderType = SenderCustomer
	}
	externalID := strings.TrimSpace(input.ExternalMessageID)

	msg, err := scanMessage(s.conn.QueryRow(ctx, `INSERT INTO messages
		(conversation_id, direction, sender, content, media_url, media_type, sender_type, external_message_id, delivery_status)
		VALUES ($1, 'inbound', $2, $3, $4, $5, $6, $7, 'received')
		ON CONFLICT (conversation_id, external_message_id) WHERE direction = 'inbound' AND external_message_id IS NOT NULL
		DO NOTHING
		RETURNING `+messageColumns,
		pgConvID, input.Sender, input.Content, input.MediaURL, input.MediaType, senderType, dbpkg.Text(externalID),
	))
	if err == nil {
		return msg, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, fmt.Errorf("persist inbound message: %w", err)
	}
	existing, err := scanMessage(s.conn.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND external_message_id = $2 AND direction = 'inbound'`,
		pgConvID, externalID))
	if err != nil {
		return Message{}, false, fmt.Errorf("load duplicate inbound message: %w", err)
	}
	s.logger.Info("duplicate inbound delivery",
		slog.String("conversation_id", input.ConversationID),
		slog.String("message_id", externalID),
	)
	return existing, true, nil
}

// PersistOutbound writes a reply together with its delivery outcome.
func (s *DBService) PersistOutbound(ctx context.Context, input OutboundInput) (Message, error) {
	pgConvID, err := dbpkg.ParseUUID(input.ConversationID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	senderType := input.SenderType
	if senderType == "" {
		senderType = SenderAI
	}
	status := input.DeliveryStatus
	if status == "" {
		status = DeliverySent
	}
	msg, err := scanMessage(s.conn.QueryRow(ctx, `INSERT INTO messages
		(conversation_id, direction, sender, content, media_url, media_type, sender_type, external_message_id,
		 delivery_status, delivery_error)
		VALUES ($1, 'outbound', $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+messageColumns,
		pgConvID, input.Sender, input.Content, input.MediaURL, input.MediaType, senderType,
		dbpkg.Text(input.ExternalMessageID), status, input.DeliveryError,
	))
	if err != nil {
		return Message{}, fmt.Errorf("persist outbound message: %w", err)
	}
	return msg, nil
}

// BackfillIntent records the classification on an inbound row that has none yet.
func (s *DBService) BackfillIntent(ctx context.Context, messageID, intent string, confidence float64, senderType string) error {
	pgID, err := dbpkg.ParseUUID(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}
	tag, err := s.conn.Exec(ctx, `UPDATE messages
		SET intent = $2, confidence = $3, sender_type = COALESCE(NULLIF($4, ''), sender_type)
		WHERE id = $1 AND intent IS NULL`,
		pgID, intent, confidence, senderType)
	if err != nil {
		return fmt.Errorf("backfill intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("intent already recorded", slog.String("message_id", messageID))
	}
	return nil
}

// ListByConversation returns messages of a conversation ordered oldest first.
func (s *DBService) ListByConversation(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	pgConvID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	rows, err := s.conn.Query(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 ORDER BY created_at ASC LIMIT $2`, pgConvID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return collectMessages(rows)
}

// ListLatest returns the latest limit messages, oldest first.
func (s *DBService) ListLatest(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	pgConvID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.conn.Query(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2`, pgConvID, limit)
	if err != nil {
		return nil, fmt.Errorf("list latest messages: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	msgs := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m          Message
		id         pgtype.UUID
		convID     pgtype.UUID
		intent     pgtype.Text
		confidence pgtype.Float8
		externalID pgtype.Text
	)
	if err := row.Scan(&id, &convID, &m.Direction, &m.Sender, &m.Content, &m.MediaURL, &m.MediaType,
		&intent, &confidence, &m.SenderType, &externalID, &m.DeliveryStatus, &m.DeliveryError, &m.CreatedAt); err != nil {
		return Message{}, err
	}
	m.ID = dbpkg.UUIDString(id)
	m.ConversationID = dbpkg.UUIDString(convID)
	m.Intent = dbpkg.TextToString(intent)
	if confidence.Valid {
		m.Confidence = confidence.Float64
	}
	m.ExternalMessageID = dbpkg.TextToString(externalID)
	return m, nil
}
