package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/agentrun/internal/domain"
)

// sqlStore holds the queries shared by the SQLite and Postgres stores.
// Queries are written with ? placeholders and rebound per driver.
type sqlStore struct {
	db       *sql.DB
	numbered bool // $1-style placeholders
}

func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const runColumns = `run_id, tenant_id, user_id, agent_id, input, input_mode, turn_limit, timeout_seconds, status,
	conversation_id, scope, result_channel, logs_channel, turns, trigger_id, trigger_key, error,
	created_at, updated_at, started_at, ended_at`

// CreateRun creates a new run.
func (s *sqlStore) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.RunID, run.TenantID, run.UserID, run.AgentID, run.Input, string(run.InputMode), run.TurnLimit, run.Timeout,
		string(run.Status), nullString(run.ConversationID), string(run.Scope), run.ResultChannel, run.LogsChannel,
		run.Turns, nullString(run.TriggerID), nullString(run.TriggerKey), nullString(run.Error),
		run.CreatedAt, run.UpdatedAt, nullTime(run.StartedAt), nullTime(run.EndedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var (
		run                                       domain.Run
		inputMode, status, scope                  string
		conversationID, triggerID, triggerKey, em sql.NullString
		startedAt, endedAt                        sql.NullTime
	)
	err := row.Scan(&run.RunID, &run.TenantID, &run.UserID, &run.AgentID, &run.Input, &inputMode, &run.TurnLimit,
		&run.Timeout, &status, &conversationID, &scope, &run.ResultChannel, &run.LogsChannel, &run.Turns,
		&triggerID, &triggerKey, &em, &run.CreatedAt, &run.UpdatedAt, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	run.InputMode = domain.InputMode(inputMode)
	run.Status = domain.RunStatus(status)
	run.Scope = domain.Scope(scope)
	run.ConversationID = conversationID.String
	run.TriggerID = triggerID.String
	run.TriggerKey = triggerKey.String
	run.Error = em.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *sqlStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`), runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs matching filter, newest first.
func (s *sqlStore) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, filter.AgentID)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// TransitionRun updates status only when the current status is from.
func (s *sqlStore) TransitionRun(ctx context.Context, runID string, from, to domain.RunStatus, errMsg string, at time.Time) (bool, error) {
	query := `UPDATE runs SET status = ?, updated_at = ?`
	args := []any{string(to), at}
	if to == domain.RunStatusRunning {
		query += `, started_at = ?`
		args = append(args, at)
	}
	if to.IsTerminal() {
		query += `, ended_at = ?`
		args = append(args, at)
	}
	if errMsg != "" {
		query += `, error = ?`
		args = append(args, errMsg)
	}
	query += ` WHERE run_id = ? AND status = ?`
	args = append(args, runID, string(from))

	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return false, fmt.Errorf("transition run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetRunTurns records the number of turns executed so far.
func (s *sqlStore) SetRunTurns(ctx context.Context, runID string, turns int) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE runs SET turns = ?, updated_at = ? WHERE run_id = ?`),
		turns, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("set run turns: %w", err)
	}
	return nil
}

// UpdateRunFields applies the non-status PATCH fields. Nil means unchanged.
func (s *sqlStore) UpdateRunFields(ctx context.Context, runID string, conversationID *string, scope *domain.Scope) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if conversationID != nil {
		sets = append(sets, "conversation_id = ?")
		args = append(args, nullString(*conversationID))
	}
	if scope != nil {
		sets = append(sets, "scope = ?")
		args = append(args, string(*scope))
	}
	args = append(args, runID)
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE runs SET `+strings.Join(sets, ", ")+` WHERE run_id = ?`), args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ListRunLogs returns log rows of a run with id > afterID in id order.
func (s *sqlStore) ListRunLogs(ctx context.Context, runID string, afterID int64, limit int) ([]domain.RunLog, error) {
	query := `SELECT id, run_id, agent_id, user_id, tenant_id, scope, type, role, content, created_at
		FROM run_logs WHERE run_id = ? AND id > ? ORDER BY id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), runID, afterID)
	if err != nil {
		return nil, fmt.Errorf("list run logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.RunLog{}
	for rows.Next() {
		var (
			l           domain.RunLog
			scope, role string
			content     string
		)
		if err := rows.Scan(&l.ID, &l.RunID, &l.AgentID, &l.UserID, &l.TenantID, &scope, &l.Type, &role, &content, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		l.Scope = domain.Scope(scope)
		l.Role = domain.Role(role)
		l.Content = json.RawMessage(content)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

const agentColumns = `agent_id, tenant_id, user_id, name, system_prompt, model, temperature, trigger_desc, state,
	tools, memories, version, created_at, updated_at`

// UpsertAgent inserts an agent or replaces its definition, bumping version.
func (s *sqlStore) UpsertAgent(ctx context.Context, agent *domain.AgentCore) error {
	tools, _ := json.Marshal(nonNil(agent.Tools))
	memories, _ := json.Marshal(nonNil(agent.Memories))
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if agent.Version <= 0 {
		agent.Version = 1
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			user_id = excluded.user_id,
			name = excluded.name,
			system_prompt = excluded.system_prompt,
			model = excluded.model,
			temperature = excluded.temperature,
			trigger_desc = excluded.trigger_desc,
			tools = excluded.tools,
			memories = excluded.memories,
			version = agents.version + 1,
			updated_at = excluded.updated_at`),
		agent.AgentID, agent.TenantID, agent.UserID, agent.Name, agent.SystemPrompt, agent.Model, agent.Temperature,
		agent.Trigger, agent.State, string(tools), string(memories), agent.Version, agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

func scanAgent(row rowScanner) (*domain.AgentCore, error) {
	var (
		a               domain.AgentCore
		tools, memories string
	)
	err := row.Scan(&a.AgentID, &a.TenantID, &a.UserID, &a.Name, &a.SystemPrompt, &a.Model, &a.Temperature,
		&a.Trigger, &a.State, &tools, &memories, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(tools), &a.Tools)
	_ = json.Unmarshal([]byte(memories), &a.Memories)
	return &a, nil
}

// GetAgent retrieves an agent by ID.
func (s *sqlStore) GetAgent(ctx context.Context, agentID string) (*domain.AgentCore, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`), agentID)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// ListAgents lists agents of a tenant, or all agents when tenantID is empty.
func (s *sqlStore) ListAgents(ctx context.Context, tenantID string) ([]domain.AgentCore, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents := []domain.AgentCore{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// UpdateAgentState persists the agent's current prompt state.
func (s *sqlStore) UpdateAgentState(ctx context.Context, agentID, state string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE agents SET state = ?, updated_at = ? WHERE agent_id = ?`),
		state, time.Now().UTC(), agentID)
	if err != nil {
		return fmt.Errorf("update agent state: %w", err)
	}
	return nil
}

// ClaimTriggerItem inserts the claim row if absent.
func (s *sqlStore) ClaimTriggerItem(ctx context.Context, triggerID, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO trigger_items (trigger_id, item_key, claimed_at)
		VALUES (?, ?, ?) ON CONFLICT (trigger_id, item_key) DO NOTHING`),
		triggerID, key, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim trigger item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ReleaseTriggerItem deletes the claim row. Releasing an unclaimed item is
// not an error.
func (s *sqlStore) ReleaseTriggerItem(ctx context.Context, triggerID, key string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM trigger_items WHERE trigger_id = ? AND item_key = ?`),
		triggerID, key); err != nil {
		return fmt.Errorf("release trigger item: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
