package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/autolumiku/wabot/internal/conversation/flow"
	dbpkg "github.com/autolumiku/wabot/internal/db"
)

// DBService persists conversations and their alias links.
type DBService struct {
	conn   dbpkg.Querier
	logger *slog.Logger
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, conn dbpkg.Querier) *DBService {
	if log == nil {
		log = slog.Default()
	}
	return &DBService{
		conn:   conn,
		logger: log.With(slog.String("service", "conversation")),
	}
}

const selectConversation = `SELECT c.id, c.account_id, c.tenant_id, c.primary_identity, c.verified_phone, c.is_staff,
	c.conversation_type, c.context_data, c.last_message_at, c.last_intent, c.status, c.escalated_to, c.escalated_at,
	c.customer_name, c.created_at, c.updated_at,
	COALESCE((SELECT array_agg(a.alias ORDER BY a.created_at) FROM conversation_aliases a WHERE a.conversation_id = c.id), '{}')
	FROM conversations c`

// Get returns a conversation by id regardless of status.
func (s *DBService) Get(ctx context.Context, id string) (Conversation, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	return s.one(ctx, selectConversation+` WHERE c.id = $1`, pgID)
}

// FindActiveByIdentity matches the primary identity exactly.
func (s *DBService) FindActiveByIdentity(ctx context.Context, accountID, identity string) (Conversation, error) {
	return s.one(ctx, selectConversation+`
		WHERE c.account_id = $1 AND c.primary_identity = $2 AND c.status = 'active'`,
		accountID, identity)
}

// FindActiveStaffByAlias matches an active staff conversation whose alias set contains alias.
func (s *DBService) FindActiveStaffByAlias(ctx context.Context, accountID, alias string) (Conversation, error) {
	return s.one(ctx, selectConversation+`
		JOIN conversation_aliases l ON l.conversation_id = c.id
		WHERE c.account_id = $1 AND l.alias = $2 AND c.status = 'active' AND c.is_staff
		ORDER BY c.last_message_at DESC LIMIT 1`,
		accountID, alias)
}

// FindActiveStaffByVerifiedPhone matches an active staff conversation by verified phone.
func (s *DBService) FindActiveStaffByVerifiedPhone(ctx context.Context, accountID, phone string) (Conversation, error) {
	return s.one(ctx, selectConversation+`
		WHERE c.account_id = $1 AND c.verified_phone = $2 AND c.status = 'active' AND c.is_staff
		ORDER BY c.last_message_at DESC LIMIT 1`,
		accountID, phone)
}

// FindActiveByPhone matches an active conversation owning phone either as its
// primary identity or its verified phone. Staff conversations win ties.
func (s *DBService) FindActiveByPhone(ctx context.Context, accountID, phone string) (Conversation, error) {
	return s.one(ctx, selectConversation+`
		WHERE c.account_id = $1 AND c.status = 'active' AND (c.primary_identity = $2 OR c.verified_phone = $2)
		ORDER BY c.is_staff DESC, c.last_message_at DESC LIMIT 1`,
		accountID, phone)
}

// MostRecentStaff returns the staff conversation with the latest activity at or after since.
func (s *DBService) MostRecentStaff(ctx context.Context, accountID string, since time.Time) (Conversation, error) {
	return s.one(ctx, selectConversation+`
		WHERE c.account_id = $1 AND c.status = 'active' AND c.is_staff AND c.last_message_at >= $2
		ORDER BY c.last_message_at DESC LIMIT 1`,
		accountID, since)
}

// Create inserts an active conversation. When a concurrent writer already created
// the active conversation for the same identity, that row is returned instead.
func (s *DBService) Create(ctx context.Context, input CreateInput) (Conversation, error) {
	if strings.TrimSpace(input.AccountID) == "" || strings.TrimSpace(input.PrimaryIdentity) == "" {
		return Conversation{}, fmt.Errorf("account id and primary identity are required")
	}
	convType := TypeCustomer
	if input.IsStaff {
		convType = TypeStaff
	}
	var id pgtype.UUID
	err := s.conn.QueryRow(ctx, `INSERT INTO conversations
		(account_id, tenant_id, primary_identity, verified_phone, is_staff, conversation_type, customer_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, primary_identity) WHERE status = 'active' DO NOTHING
		RETURNING id`,
		input.AccountID, input.TenantID, input.PrimaryIdentity, dbpkg.Text(input.VerifiedPhone),
		input.IsStaff, convType, input.CustomerName,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.Debug("conversation create raced, reusing existing",
			slog.String("account_id", input.AccountID))
		return s.FindActiveByIdentity(ctx, input.AccountID, input.PrimaryIdentity)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Info("conversation created",
		slog.String("conversation_id", dbpkg.UUIDString(id)),
		slog.String("account_id", input.AccountID),
		slog.Bool("is_staff", input.IsStaff),
	)
	return s.one(ctx, selectConversation+` WHERE c.id = $1`, id)
}

// LinkAlias adds an alias edge. It reports false when the edge already existed.
func (s *DBService) LinkAlias(ctx context.Context, conversationID, alias string, method AliasMethod) (bool, error) {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return false, fmt.Errorf("invalid conversation id: %w", err)
	}
	tag, err := s.conn.Exec(ctx, `INSERT INTO conversation_aliases (conversation_id, alias, method)
		VALUES ($1, $2, $3) ON CONFLICT (conversation_id, alias) DO NOTHING`,
		pgID, alias, string(method))
	if err != nil {
		return false, fmt.Errorf("link alias: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveFlow persists the flow state and its typed context.
func (s *DBService) SaveFlow(ctx context.Context, conversationID string, state flow.Context) error {
	if state.IsIdle() {
		return s.ClearFlow(ctx, conversationID)
	}
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal flow context: %w", err)
	}
	if _, err := s.conn.Exec(ctx, `UPDATE conversations SET state = $2, context_data = $3, updated_at = now() WHERE id = $1`,
		pgID, state.State(), payload); err != nil {
		return fmt.Errorf("save flow: %w", err)
	}
	return nil
}

// ClearFlow returns the conversation to idle.
func (s *DBService) ClearFlow(ctx context.Context, conversationID string) error {
	return s.exec(ctx, "clear flow", `UPDATE conversations SET state = NULL, context_data = NULL, updated_at = now() WHERE id = $1`, conversationID)
}

// MarkStaff upgrades the conversation to a verified staff conversation.
func (s *DBService) MarkStaff(ctx context.Context, conversationID, verifiedPhone string) error {
	return s.exec(ctx, "mark staff", `UPDATE conversations
		SET is_staff = TRUE, conversation_type = 'staff', verified_phone = $2, updated_at = now() WHERE id = $1`,
		conversationID, verifiedPhone)
}

// RevokeStaff is the administrative downgrade; it is the only path that lowers is_staff.
func (s *DBService) RevokeStaff(ctx context.Context, conversationID string) error {
	return s.exec(ctx, "revoke staff", `UPDATE conversations
		SET is_staff = FALSE, conversation_type = 'customer', verified_phone = NULL, state = NULL, context_data = NULL,
		    updated_at = now() WHERE id = $1`,
		conversationID)
}

// Close soft-closes the conversation.
func (s *DBService) Close(ctx context.Context, conversationID string) error {
	return s.exec(ctx, "close conversation", `UPDATE conversations SET status = 'closed', updated_at = now() WHERE id = $1`, conversationID)
}

// Touch refreshes the summary fields. An empty customer name keeps the stored one.
func (s *DBService) Touch(ctx context.Context, conversationID string, summary Summary) error {
	at := summary.At
	if at.IsZero() {
		at = time.Now()
	}
	return s.exec(ctx, "touch conversation", `UPDATE conversations
		SET last_message_at = $2, last_intent = COALESCE(NULLIF($3, ''), last_intent),
		    customer_name = COALESCE(NULLIF($4, ''), customer_name), updated_at = now()
		WHERE id = $1`,
		conversationID, at, summary.LastIntent, strings.TrimSpace(summary.CustomerName))
}

// Escalate hands the conversation to a human operator.
func (s *DBService) Escalate(ctx context.Context, conversationID, to string) error {
	if to == "" {
		to = EscalatedToHuman
	}
	return s.exec(ctx, "escalate conversation", `UPDATE conversations
		SET escalated_to = $2, escalated_at = now(), updated_at = now() WHERE id = $1`,
		conversationID, to)
}

// ListByTenant returns the most recently active conversations of a tenant.
func (s *DBService) ListByTenant(ctx context.Context, tenantID string, limit int) ([]Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, selectConversation+`
		WHERE c.tenant_id = $1 ORDER BY c.last_message_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	items := []Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, conv)
	}
	return items, rows.Err()
}

// Aliases returns the alias edges of a conversation, oldest first.
func (s *DBService) Aliases(ctx context.Context, conversationID string) ([]AliasLink, error) {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	rows, err := s.conn.Query(ctx, `SELECT alias, method, created_at FROM conversation_aliases
		WHERE conversation_id = $1 ORDER BY created_at`, pgID)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()
	links := []AliasLink{}
	for rows.Next() {
		link := AliasLink{ConversationID: conversationID}
		var method string
		if err := rows.Scan(&link.Alias, &method, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		link.Method = AliasMethod(method)
		links = append(links, link)
	}
	return links, rows.Err()
}

func (s *DBService) one(ctx context.Context, query string, args ...any) (Conversation, error) {
	conv, err := scanConversation(s.conn.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *DBService) exec(ctx context.Context, op, query string, conversationID string, args ...any) error {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	tag, err := s.conn.Exec(ctx, query, append([]any{pgID}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c             Conversation
		id            pgtype.UUID
		verifiedPhone pgtype.Text
		contextData   []byte
		escalatedTo   pgtype.Text
		escalatedAt   pgtype.Timestamptz
	)
	if err := row.Scan(&id, &c.AccountID, &c.TenantID, &c.PrimaryIdentity, &verifiedPhone, &c.IsStaff,
		&c.ConversationType, &contextData, &c.LastMessageAt, &c.LastIntent, &c.Status, &escalatedTo, &escalatedAt,
		&c.CustomerName, &c.CreatedAt, &c.UpdatedAt, &c.LinkedAliases); err != nil {
		return Conversation{}, err
	}
	c.ID = dbpkg.UUIDString(id)
	c.VerifiedPhone = dbpkg.TextToString(verifiedPhone)
	c.EscalatedTo = dbpkg.TextToString(escalatedTo)
	c.EscalatedAt = dbpkg.TimePtr(escalatedAt)
	c.Flow = flow.Decode(contextData)
	if c.LinkedAliases == nil {
		c.LinkedAliases = []string{}
	}
	return c, nil
}
